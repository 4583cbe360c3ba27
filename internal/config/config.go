package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath   = "shelf.yaml"
	defaultAPIURL       = "http://localhost:5000"
	defaultHTTPAddr     = ":8080"
	defaultGRPCAddr     = ":50051"
	defaultRedisAddr    = "localhost:6379"
	defaultMirrorDSN    = "file:shelf.db?_pragma=busy_timeout(5000)"
	defaultJournalSpace = "shelf"
)

// Config is everything the shelf daemon needs to start.
type Config struct {
	API        APIConfig
	Server     ServerConfig
	Redis      RedisConfig
	Mirror     MirrorConfig
	Engine     EngineConfig
	Reconciler ReconcilerConfig
	Log        LogConfig
}

type APIConfig struct {
	URL       string
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	ConflictTimeout time.Duration
	ShutdownTimeout time.Duration
}

type RedisConfig struct {
	Addr      string
	Namespace string
	PoolSize  int
}

type MirrorConfig struct {
	DSN     string
	Workers int
	Queue   int
}

type EngineConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

type ReconcilerConfig struct {
	DebounceDelay    time.Duration
	MaxBatchSize     int
	BatchConcurrency int
	// PollInterval is how often every known game is refreshed. Zero disables polling.
	PollInterval time.Duration
}

type LogConfig struct {
	Level  slog.Level
	Format string
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		API: APIConfig{
			URL:       defaultAPIURL,
			RateLimit: 20,
			Burst:     10,
			Timeout:   15 * time.Second,
		},
		Server: ServerConfig{
			HTTPAddr:        defaultHTTPAddr,
			GRPCAddr:        defaultGRPCAddr,
			ConflictTimeout: 5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:      defaultRedisAddr,
			Namespace: defaultJournalSpace,
			PoolSize:  10,
		},
		Mirror: MirrorConfig{
			DSN:     defaultMirrorDSN,
			Workers: 4,
			Queue:   1024,
		},
		Engine: EngineConfig{
			MaxRetries: 2,
			RetryDelay: time.Second,
			Timeout:    15 * time.Second,
		},
		Reconciler: ReconcilerConfig{
			DebounceDelay:    2 * time.Second,
			MaxBatchSize:     100,
			BatchConcurrency: 2,
			PollInterval:     5 * time.Minute,
		},
		Log: LogConfig{
			Level:  slog.LevelInfo,
			Format: "text",
		},
	}
}

type rawConfig struct {
	API struct {
		URL       string  `yaml:"url"`
		RateLimit float64 `yaml:"rate_limit"`
		Burst     int     `yaml:"burst"`
		Timeout   string  `yaml:"timeout"`
	} `yaml:"api"`
	Server struct {
		HTTPAddr        string `yaml:"http_addr"`
		GRPCAddr        string `yaml:"grpc_addr"`
		ConflictTimeout string `yaml:"conflict_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Redis struct {
		Addr      string `yaml:"addr"`
		Namespace string `yaml:"namespace"`
		PoolSize  int    `yaml:"pool_size"`
	} `yaml:"redis"`
	Mirror struct {
		DSN     string `yaml:"dsn"`
		Workers int    `yaml:"workers"`
		Queue   int    `yaml:"queue"`
	} `yaml:"mirror"`
	Engine struct {
		MaxRetries *int   `yaml:"max_retries"`
		RetryDelay string `yaml:"retry_delay"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"engine"`
	Reconciler struct {
		DebounceDelay    string `yaml:"debounce_delay"`
		MaxBatchSize     int    `yaml:"max_batch_size"`
		BatchConcurrency int    `yaml:"batch_concurrency"`
		PollInterval     string `yaml:"poll_interval"`
	} `yaml:"reconciler"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads the YAML config at path, falling back to defaults when the file
// is missing. Environment overrides are applied last.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = defaultConfigPath
	}
	cfg := Default()

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(&cfg)
			return cfg, cfg.Validate()
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := merge(&cfg, raw); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func merge(cfg *Config, raw rawConfig) error {
	setString(&cfg.API.URL, raw.API.URL)
	setFloat(&cfg.API.RateLimit, raw.API.RateLimit)
	setInt(&cfg.API.Burst, raw.API.Burst)

	setString(&cfg.Server.HTTPAddr, raw.Server.HTTPAddr)
	setString(&cfg.Server.GRPCAddr, raw.Server.GRPCAddr)

	setString(&cfg.Redis.Addr, raw.Redis.Addr)
	setString(&cfg.Redis.Namespace, raw.Redis.Namespace)
	setInt(&cfg.Redis.PoolSize, raw.Redis.PoolSize)

	setString(&cfg.Mirror.DSN, raw.Mirror.DSN)
	setInt(&cfg.Mirror.Workers, raw.Mirror.Workers)
	setInt(&cfg.Mirror.Queue, raw.Mirror.Queue)

	if raw.Engine.MaxRetries != nil {
		cfg.Engine.MaxRetries = *raw.Engine.MaxRetries
	}
	setInt(&cfg.Reconciler.MaxBatchSize, raw.Reconciler.MaxBatchSize)
	setInt(&cfg.Reconciler.BatchConcurrency, raw.Reconciler.BatchConcurrency)

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"api.timeout", raw.API.Timeout, &cfg.API.Timeout},
		{"server.conflict_timeout", raw.Server.ConflictTimeout, &cfg.Server.ConflictTimeout},
		{"server.shutdown_timeout", raw.Server.ShutdownTimeout, &cfg.Server.ShutdownTimeout},
		{"engine.retry_delay", raw.Engine.RetryDelay, &cfg.Engine.RetryDelay},
		{"engine.timeout", raw.Engine.Timeout, &cfg.Engine.Timeout},
		{"reconciler.debounce_delay", raw.Reconciler.DebounceDelay, &cfg.Reconciler.DebounceDelay},
		{"reconciler.poll_interval", raw.Reconciler.PollInterval, &cfg.Reconciler.PollInterval},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.value) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}

	if lvl := strings.TrimSpace(raw.Log.Level); lvl != "" {
		if err := cfg.Log.Level.UnmarshalText([]byte(lvl)); err != nil {
			return fmt.Errorf("parse log.level: %w", err)
		}
	}
	setString(&cfg.Log.Format, raw.Log.Format)
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.API.URL, os.Getenv("SHELF_API_URL"))
	setString(&cfg.Redis.Addr, os.Getenv("SHELF_REDIS_ADDR"))
	setString(&cfg.Mirror.DSN, os.Getenv("SHELF_MIRROR_DSN"))
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	if c.API.URL == "" {
		return errors.New("config: api.url is required")
	}
	if c.Reconciler.MaxBatchSize <= 0 || c.Reconciler.MaxBatchSize > 100 {
		return fmt.Errorf("config: reconciler.max_batch_size must be between 1 and 100, got %d", c.Reconciler.MaxBatchSize)
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("config: engine.max_retries cannot be negative")
	}
	if c.Mirror.Workers <= 0 {
		return fmt.Errorf("config: mirror.workers must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Logger builds the slog logger described by the log section.
func (c Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Log.Level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}
