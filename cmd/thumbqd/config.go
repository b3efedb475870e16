package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/api"
)

// serverConfig is the YAML shape of the thumbqd config file. Values can
// be overridden by THUMBQD_* environment variables, optionally loaded
// from a .env file next to the process.
type serverConfig struct {
	Listen string `yaml:"listen"`

	Log struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // text or json
	} `yaml:"log"`

	Store struct {
		Backend string `yaml:"backend"` // memory, postgres, bun
		DSN     string `yaml:"dsn"`
	} `yaml:"store"`

	Redis struct {
		Addr    string `yaml:"addr"`
		Channel string `yaml:"channel"`
	} `yaml:"redis"`

	Queue struct {
		MaxAttempts    int      `yaml:"max_attempts"`
		LeaseTimeout   duration `yaml:"lease_timeout"`
		ClaimScanLimit int      `yaml:"claim_scan_limit"`
		SweepSchedule  string   `yaml:"sweep_schedule"`
		SweepBatchSize int      `yaml:"sweep_batch_size"`
		PruneSchedule  string   `yaml:"prune_schedule"`
		Retention      duration `yaml:"retention"`
	} `yaml:"queue"`

	RateLimit struct {
		PerSecond float64 `yaml:"per_second"`
		Burst     int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	Auth struct {
		Keys []apiKey `yaml:"keys"`
	} `yaml:"auth"`
}

type apiKey struct {
	Key     string   `yaml:"key"`
	Subject string   `yaml:"subject"`
	Scopes  []string `yaml:"scopes"`
}

// duration decodes YAML strings like "5m" or "720h".
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("thumbqd: invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

func defaultServerConfig() serverConfig {
	var cfg serverConfig
	cfg.Listen = ":8080"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Store.Backend = "memory"
	cfg.RateLimit.PerSecond = 50
	cfg.RateLimit.Burst = 100
	return cfg
}

// loadConfig reads the YAML file (when path is non-empty), then applies
// environment overrides. A missing .env file is not an error.
func loadConfig(path string) (serverConfig, error) {
	cfg := defaultServerConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("thumbqd: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("thumbqd: parse config: %w", err)
		}
	}

	_ = godotenv.Load()
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *serverConfig) {
	if v := os.Getenv("THUMBQD_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("THUMBQD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("THUMBQD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("THUMBQD_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("THUMBQD_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("THUMBQD_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("THUMBQD_REDIS_CHANNEL"); v != "" {
		cfg.Redis.Channel = v
	}
}

// queueConfig maps the file's queue section onto the engine config,
// keeping defaults for anything left unset.
func (c serverConfig) queueConfig() thumbq.Config {
	qc := thumbq.DefaultConfig()
	if c.Queue.MaxAttempts > 0 {
		qc.MaxAttempts = c.Queue.MaxAttempts
	}
	if c.Queue.LeaseTimeout > 0 {
		qc.LeaseTimeout = time.Duration(c.Queue.LeaseTimeout)
	}
	if c.Queue.ClaimScanLimit > 0 {
		qc.ClaimScanLimit = c.Queue.ClaimScanLimit
	}
	if c.Queue.SweepSchedule != "" {
		qc.SweepSchedule = c.Queue.SweepSchedule
	}
	if c.Queue.SweepBatchSize > 0 {
		qc.SweepBatchSize = c.Queue.SweepBatchSize
	}
	if c.Queue.PruneSchedule != "" {
		qc.PruneSchedule = c.Queue.PruneSchedule
	}
	if c.Queue.Retention > 0 {
		qc.Retention = time.Duration(c.Queue.Retention)
	}
	return qc
}

// authenticator builds the key table. With no keys configured every
// request is accepted, which is only sensible for local development.
func (c serverConfig) authenticator(logger *slog.Logger) api.Authenticator {
	if len(c.Auth.Keys) == 0 {
		logger.Warn("no api keys configured, authentication disabled")
		return &api.NoopAuthenticator{}
	}
	keys := make(map[string]*api.Identity, len(c.Auth.Keys))
	for _, k := range c.Auth.Keys {
		keys[k.Key] = &api.Identity{Subject: k.Subject, Scopes: k.Scopes}
	}
	return api.NewAPIKeyAuthenticator(keys)
}

func (c serverConfig) slogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c serverConfig) newLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.slogLevel()}
	if strings.ToLower(c.Log.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
