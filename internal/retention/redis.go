package retention

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dueKey      = "pdfdeck:retention:due"
	entryPrefix = "pdfdeck:retention:entry:"
	jobPrefix   = "pdfdeck:retention:job:"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps entries in Redis: a sorted set of paths scored by expiry
// (unix ms), one hash per path and one set of paths per job.
type RedisStore struct {
	client *redis.Client
}

var _ EntryStore = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) PutEntry(ctx context.Context, e Entry) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, entryPrefix+e.Path, map[string]any{
			"job_id":     e.JobID,
			"created_at": e.CreatedAt.UnixMilli(),
			"expires_at": e.ExpiresAt.UnixMilli(),
			"consumed":   strconv.FormatBool(e.Consumed),
		})
		p.ZAdd(ctx, dueKey, redis.Z{Score: float64(e.ExpiresAt.UnixMilli()), Member: e.Path})
		if e.JobID != "" {
			p.SAdd(ctx, jobPrefix+e.JobID, e.Path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put entry: %w", err)
	}
	return nil
}

func (r *RedisStore) GetEntry(ctx context.Context, path string) (Entry, error) {
	fields, err := r.client.HGetAll(ctx, entryPrefix+path).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return Entry{}, ErrNoEntry
	}
	if err != nil {
		return Entry{}, fmt.Errorf("redis get entry: %w", err)
	}
	return entryFromHash(path, fields)
}

func (r *RedisStore) DueEntries(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	paths, err := r.client.ZRangeByScore(ctx, dueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis due entries: %w", err)
	}

	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		e, err := r.GetEntry(ctx, p)
		if errors.Is(err, ErrNoEntry) {
			// Hash lost; keep the set member so the file still gets removed.
			entries = append(entries, Entry{Path: p, ExpiresAt: now})
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *RedisStore) DeleteEntry(ctx context.Context, path string) error {
	jobID, err := r.client.HGet(ctx, entryPrefix+path, "job_id").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis delete entry: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, entryPrefix+path)
		p.ZRem(ctx, dueKey, path)
		if jobID != "" {
			p.SRem(ctx, jobPrefix+jobID, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete entry: %w", err)
	}
	return nil
}

func (r *RedisStore) EntriesForJob(ctx context.Context, jobID string) ([]Entry, error) {
	paths, err := r.client.SMembers(ctx, jobPrefix+jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis job entries: %w", err)
	}
	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		e, err := r.GetEntry(ctx, p)
		if errors.Is(err, ErrNoEntry) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func entryFromHash(path string, f map[string]string) (Entry, error) {
	created, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing created_at for %s: %w", path, err)
	}
	expires, err := strconv.ParseInt(f["expires_at"], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing expires_at for %s: %w", path, err)
	}
	consumed, _ := strconv.ParseBool(f["consumed"])
	return Entry{
		Path:      path,
		JobID:     f["job_id"],
		CreatedAt: time.UnixMilli(created).UTC(),
		ExpiresAt: time.UnixMilli(expires).UTC(),
		Consumed:  consumed,
	}, nil
}
