package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures everything a sentinel pass and the watch loop need.
type Config struct {
	Settings Settings       `yaml:"settings"`
	Fleet    FleetConfig    `yaml:"fleet"`
	Platform PlatformConfig `yaml:"platform"`
	Logs     LogsConfig     `yaml:"logs"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Audit    AuditConfig    `yaml:"audit"`
	Watch    WatchConfig    `yaml:"watch"`
}

// Settings are the per-run detection knobs.
type Settings struct {
	MinWindow     time.Duration `yaml:"minWindow"`
	MaxWindow     time.Duration `yaml:"maxWindow"`
	MinTimings    int           `yaml:"minTimings"`
	KillThreshold float64       `yaml:"killThreshold"`
	MinThreshold  float64       `yaml:"minThreshold"`
	DryRun        bool          `yaml:"dryRun"`
}

// FleetConfig controls which workers are sampled and when a run is skipped.
type FleetConfig struct {
	Role             string        `yaml:"role"`
	MinWorkers       int           `yaml:"minWorkers"`
	MinActiveRatio   float64       `yaml:"minActiveRatio"`
	MinUptime        time.Duration `yaml:"minUptime"`
	MinCoverageRatio float64       `yaml:"minCoverageRatio"`
	SettleDelay      time.Duration `yaml:"settleDelay"`
}

// PlatformConfig configures the platform API used for inventory, stops and log sessions.
type PlatformConfig struct {
	BaseURL string        `yaml:"baseURL"`
	App     string        `yaml:"app"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogsConfig selects where the live log stream comes from.
type LogsConfig struct {
	Source     string        `yaml:"source"`
	File       string        `yaml:"file"`
	Grace      time.Duration `yaml:"grace"`
	BufferSize int           `yaml:"bufferSize"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the pub/sub log source.
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	ChannelPrefix string        `yaml:"channelPrefix"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig controls Prometheus export for one-shot runs.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgatewayURL"`
	Job            string `yaml:"job"`
}

// AuditConfig controls the sqlite audit trail of run outcomes.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WatchConfig controls repeated passes and the servers exposed while watching.
type WatchConfig struct {
	Interval        time.Duration `yaml:"interval"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	HTTPAddress     string        `yaml:"httpAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// Log source kinds.
const (
	SourcePlatform = "platform"
	SourceRedis    = "redis"
	SourceFile     = "file"
)

// Load initialises Config from defaults, a YAML file and environment overrides.
// Run settings are not validated here; see Settings.Validate.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SENTINEL_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := validateDocument(data); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Settings: Settings{
			MinWindow:     60 * time.Second,
			MaxWindow:     120 * time.Second,
			MinTimings:    32,
			KillThreshold: 2,
			MinThreshold:  0.2,
		},
		Fleet: FleetConfig{
			Role:             "web",
			MinWorkers:       5,
			MinActiveRatio:   0.8,
			MinUptime:        60 * time.Second,
			MinCoverageRatio: 0.5,
			SettleDelay:      time.Second,
		},
		Platform: PlatformConfig{
			BaseURL: "https://api.heroku.com",
			Timeout: 10 * time.Second,
		},
		Logs: LogsConfig{
			Source:     SourcePlatform,
			Grace:      time.Second,
			BufferSize: 1024,
			Redis: RedisConfig{
				Addr:          "localhost:6379",
				ChannelPrefix: "logs",
				DialTimeout:   2 * time.Second,
			},
		},
		Logging: LoggingConfig{Level: "info", JSON: true},
		Metrics: MetricsConfig{Job: "mirador_sentinel"},
		Audit:   AuditConfig{Path: "sentinel-audit.db"},
		Watch: WatchConfig{
			Interval:        5 * time.Minute,
			GRPCAddress:     ":50051",
			HTTPAddress:     ":2112",
			GracefulTimeout: 10 * time.Second,
		},
	}
}

// Validate checks the run settings. All violations are reported together.
func (s Settings) Validate() error {
	var errs []error
	if s.MinWindow <= 0 {
		errs = append(errs, fmt.Errorf("min window must be positive, got %s", s.MinWindow))
	}
	if s.MaxWindow < s.MinWindow {
		errs = append(errs, fmt.Errorf("max window %s must not be shorter than min window %s", s.MaxWindow, s.MinWindow))
	}
	if s.MinTimings <= 0 {
		errs = append(errs, fmt.Errorf("min timings must be positive, got %d", s.MinTimings))
	}
	if s.KillThreshold <= 0 {
		errs = append(errs, fmt.Errorf("kill threshold must be positive, got %g", s.KillThreshold))
	}
	if s.MinThreshold <= 0 {
		errs = append(errs, fmt.Errorf("min threshold must be positive, got %g", s.MinThreshold))
	}
	return errors.Join(errs...)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HEROKU_API_KEY"); v != "" {
		cfg.Platform.APIKey = v
	}
	if v := os.Getenv("HEROKU_APP_NAME"); v != "" {
		cfg.Platform.App = v
	}
	if v := os.Getenv("SENTINEL_PLATFORM_URL"); v != "" {
		cfg.Platform.BaseURL = v
	}
	if v := os.Getenv("SENTINEL_ROLE"); v != "" {
		cfg.Fleet.Role = v
	}
	if v := os.Getenv("SENTINEL_MIN_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Settings.MinWindow = d
		}
	}
	if v := os.Getenv("SENTINEL_MAX_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Settings.MaxWindow = d
		}
	}
	if v := os.Getenv("SENTINEL_MIN_TIMINGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Settings.MinTimings = n
		}
	}
	if v := os.Getenv("SENTINEL_KILL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Settings.KillThreshold = f
		}
	}
	if v := os.Getenv("SENTINEL_MIN_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Settings.MinThreshold = f
		}
	}
	if v := os.Getenv("SENTINEL_DRY_RUN"); v != "" {
		cfg.Settings.DryRun = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SENTINEL_LOG_SOURCE"); v != "" {
		cfg.Logs.Source = v
	}
	if v := os.Getenv("SENTINEL_LOG_FILE"); v != "" {
		cfg.Logs.File = v
	}
	if v := os.Getenv("SENTINEL_REDIS_ADDR"); v != "" {
		cfg.Logs.Redis.Addr = v
	}
	if v := os.Getenv("SENTINEL_REDIS_PASSWORD"); v != "" {
		cfg.Logs.Redis.Password = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = v == "json"
	}
	if v := os.Getenv("SENTINEL_PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
	if v := os.Getenv("SENTINEL_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
		cfg.Audit.Enabled = true
	}
	if v := os.Getenv("SENTINEL_WATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watch.Interval = d
		}
	}
}
