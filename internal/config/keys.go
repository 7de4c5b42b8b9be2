package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PDFDECK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_upload_mb", typ: kInt, env: "PDFDECK_SERVER_MAX_UPLOAD_MB",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxUploadMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxUploadMB },
	},
	{
		key: "server.max_conns", typ: kInt, env: "PDFDECK_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.host", typ: kString, env: "PDFDECK_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PDFDECK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "workers.convert", typ: kInt, env: "PDFDECK_WORKERS_CONVERT",
		apply:   func(cfg *Config, v any) { cfg.Workers.Convert = v.(int) },
		extract: func(cfg Config) any { return cfg.Workers.Convert },
	},
	{
		key: "workers.merge", typ: kInt, env: "PDFDECK_WORKERS_MERGE",
		apply:   func(cfg *Config, v any) { cfg.Workers.Merge = v.(int) },
		extract: func(cfg Config) any { return cfg.Workers.Merge },
	},
	{
		key: "workers.poll_interval", typ: kDuration, env: "PDFDECK_WORKERS_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Workers.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Workers.PollInterval },
	},
	{
		key: "workers.lease", typ: kDuration, env: "PDFDECK_WORKERS_LEASE",
		apply:   func(cfg *Config, v any) { cfg.Workers.Lease = v.(string) },
		extract: func(cfg Config) any { return cfg.Workers.Lease },
	},
	{
		key: "engines.order", typ: kString, env: "PDFDECK_ENGINES_ORDER",
		apply:   func(cfg *Config, v any) { cfg.Engines.Order = v.(string) },
		extract: func(cfg Config) any { return cfg.Engines.Order },
	},
	{
		key: "engines.timeout", typ: kDuration, env: "PDFDECK_ENGINES_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Engines.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Engines.Timeout },
	},
	{
		key: "engines.office_timeout", typ: kDuration, env: "PDFDECK_ENGINES_OFFICE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Engines.OfficeTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Engines.OfficeTimeout },
	},
	{
		key: "engines.raster_timeout", typ: kDuration, env: "PDFDECK_ENGINES_RASTER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Engines.RasterTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Engines.RasterTimeout },
	},
	{
		key: "engines.synth_timeout", typ: kDuration, env: "PDFDECK_ENGINES_SYNTH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Engines.SynthTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Engines.SynthTimeout },
	},
	{
		key: "engines.soffice_path", typ: kString, env: "PDFDECK_ENGINES_SOFFICE_PATH",
		apply:   func(cfg *Config, v any) { cfg.Engines.SofficePath = v.(string) },
		extract: func(cfg Config) any { return cfg.Engines.SofficePath },
	},
	{
		key: "engines.dpi", typ: kInt, env: "PDFDECK_ENGINES_DPI",
		apply:   func(cfg *Config, v any) { cfg.Engines.DPI = v.(int) },
		extract: func(cfg Config) any { return cfg.Engines.DPI },
	},
	{
		key: "retention.store", typ: kString, env: "PDFDECK_RETENTION_STORE",
		apply:   func(cfg *Config, v any) { cfg.Retention.Store = v.(string) },
		extract: func(cfg Config) any { return cfg.Retention.Store },
	},
	{
		key: "retention.output_ttl", typ: kDuration, env: "PDFDECK_RETENTION_OUTPUT_TTL",
		apply:   func(cfg *Config, v any) { cfg.Retention.OutputTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Retention.OutputTTL },
	},
	{
		key: "retention.input_ttl", typ: kDuration, env: "PDFDECK_RETENTION_INPUT_TTL",
		apply:   func(cfg *Config, v any) { cfg.Retention.InputTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Retention.InputTTL },
	},
	{
		key: "retention.grace", typ: kDuration, env: "PDFDECK_RETENTION_GRACE",
		apply:   func(cfg *Config, v any) { cfg.Retention.Grace = v.(string) },
		extract: func(cfg Config) any { return cfg.Retention.Grace },
	},
	{
		key: "retention.sweep_interval", typ: kDuration, env: "PDFDECK_RETENTION_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Retention.SweepInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Retention.SweepInterval },
	},
	{
		key: "redis.addr", typ: kString, env: "PDFDECK_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Redis.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Addr },
	},
	{
		key: "redis.password", typ: kString, env: "PDFDECK_REDIS_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Redis.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Password },
	},
	{
		key: "redis.db", typ: kInt, env: "PDFDECK_REDIS_DB",
		apply:   func(cfg *Config, v any) { cfg.Redis.DB = v.(int) },
		extract: func(cfg Config) any { return cfg.Redis.DB },
	},
	{
		key: "gcs.enabled", typ: kBool, env: "PDFDECK_GCS_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.GCS.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.GCS.Enabled },
	},
	{
		key: "gcs.credentials_file", typ: kString, env: "PDFDECK_GCS_CREDENTIALS_FILE",
		apply:   func(cfg *Config, v any) { cfg.GCS.CredentialsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.GCS.CredentialsFile },
	},
	{
		key: "log.level", typ: kString, env: "PDFDECK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "PDFDECK_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

// parse converts a raw setting into the value apply expects.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: invalid integer %q", s.key, raw)
		}
		return i, nil
	case kBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: invalid bool %q", s.key, raw)
		}
		return b, nil
	case kDuration:
		raw = strings.TrimSpace(raw)
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return nil, fmt.Errorf("%s: invalid duration %q", s.key, raw)
		}
		return raw, nil
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Lookup(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			return fmt.Errorf("stored value: %w", err)
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides applies PDFDECK_* variables. A malformed value is
// reported and skipped so the stored or default value stays in effect.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring environment override", "env", s.env, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
