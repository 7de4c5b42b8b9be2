package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/pdfdeck/internal/engine"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Workers   WorkersConfig
	Engines   EnginesConfig
	Retention RetentionConfig
	Redis     RedisConfig
	GCS       GCSConfig
	Log       LogConfig
}

type ServerConfig struct {
	// Host is the listen address; loopback by default.
	Host        string
	Port        int
	MaxUploadMB int
	MaxConns    int
}

type StorageConfig struct {
	DataDir string
}

type WorkersConfig struct {
	Convert      int
	Merge        int
	PollInterval string
	Lease        string
}

type EnginesConfig struct {
	// Order is a comma-separated engine list. The placeholder engine is
	// always appended last.
	Order         string
	Timeout       string
	OfficeTimeout string
	RasterTimeout string
	SynthTimeout  string
	SofficePath   string
	DPI           int
}

type RetentionConfig struct {
	// Store is "sqlite" or "redis".
	Store         string
	OutputTTL     string
	InputTTL      string
	Grace         string
	SweepInterval string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type GCSConfig struct {
	Enabled         bool
	CredentialsFile string
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        4100,
			MaxUploadMB: 25,
			MaxConns:    64,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Workers: WorkersConfig{
			Convert:      2,
			Merge:        4,
			PollInterval: "500ms",
			Lease:        "10m",
		},
		Engines: EnginesConfig{
			Order:         "office,raster,synth",
			Timeout:       "30s",
			OfficeTimeout: "60s",
			DPI:           150,
		},
		Retention: RetentionConfig{
			Store:         "sqlite",
			OutputTTL:     "1h",
			InputTTL:      "1h",
			Grace:         "5m",
			SweepInterval: "1m",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load layers the platform backend, then PDFDECK_* environment variables,
// over the defaults. The Redis password is read from the platform secret
// store (Keychain on darwin, $XDG_DATA_HOME/pdfdeck/secrets.json elsewhere)
// when Redis retention is selected and no environment value is set.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), platformSecrets{})
}

func loadWith(b Backend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Retention.Store == "redis" && cfg.Redis.Password == "" {
		if pw, err := secrets.Secret(redisPasswordSecret); err == nil {
			cfg.Redis.Password = pw
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb must be positive"))
	}
	if c.Server.MaxConns <= 0 {
		errs = append(errs, fmt.Errorf("server.max_conns must be positive"))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, fmt.Errorf("storage.data_dir is empty"))
	}
	if c.Workers.Convert <= 0 {
		errs = append(errs, fmt.Errorf("workers.convert must be positive"))
	}
	if c.Workers.Merge <= 0 {
		errs = append(errs, fmt.Errorf("workers.merge must be positive"))
	}
	seen := map[string]bool{}
	for _, name := range c.Engines.OrderList() {
		if !engine.ValidName(name) {
			errs = append(errs, fmt.Errorf("engines.order: unknown engine %q", name))
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("engines.order: engine %q listed twice", name))
		}
		seen[name] = true
	}
	if c.Engines.DPI <= 0 {
		errs = append(errs, fmt.Errorf("engines.dpi must be positive"))
	}
	switch c.Retention.Store {
	case "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("retention.store: unknown store %q", c.Retention.Store))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	for _, k := range specs {
		if k.typ != kDuration {
			continue
		}
		if raw := k.extract(c).(string); raw != "" {
			if _, err := k.parse(raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// OrderList splits Order into trimmed, lowercased engine names.
func (e EnginesConfig) OrderList() []string {
	var names []string
	for _, part := range strings.Split(e.Order, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			names = append(names, p)
		}
	}
	return names
}

// Timeouts returns the per-engine timeout overrides that are set.
func (e EnginesConfig) Timeouts() map[string]time.Duration {
	out := map[string]time.Duration{}
	for name, raw := range map[string]string{
		engine.Office: e.OfficeTimeout,
		engine.Raster: e.RasterTimeout,
		engine.Synth:  e.SynthTimeout,
	} {
		if d := Duration(raw); d > 0 {
			out[name] = d
		}
	}
	return out
}

// Duration parses a validated duration setting. Empty or invalid values
// yield zero so callers fall back to their own defaults.
func Duration(raw string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}
