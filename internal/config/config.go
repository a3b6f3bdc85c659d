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

	"github.com/opsforge/remedy/internal/models"
)

// Config captures the settings required to boot the remediation agent.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Monitor  MonitorConfig           `yaml:"monitor"`
	Decision DecisionConfig          `yaml:"decision"`
	Executor ExecutorConfig          `yaml:"executor"`
	Learning LearningConfig          `yaml:"learning"`
	Storage  StorageConfig           `yaml:"storage"`
	Cache    CacheConfig             `yaml:"cache"`
	Logging  LoggingConfig           `yaml:"logging"`
	Catalog  CatalogConfig           `yaml:"catalog"`
	Services []models.ServiceProfile `yaml:"services"`
}

// ServerConfig controls the HTTP API and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// MonitorConfig controls per-service check cycles and anomaly rules.
type MonitorConfig struct {
	CheckInterval    time.Duration      `yaml:"checkInterval"`
	FetchTimeout     time.Duration      `yaml:"fetchTimeout"`
	MaxFetchFailures int                `yaml:"maxFetchFailures"`
	WindowSize       int                `yaml:"windowSize"`
	WindowDuration   time.Duration      `yaml:"windowDuration"`
	ZScoreThreshold  float64            `yaml:"zscoreThreshold"`
	MinSamples       int                `yaml:"minSamples"`
	Thresholds       map[string]float64 `yaml:"thresholds"`
}

// DecisionConfig controls catalog ranking and cooldown discipline.
type DecisionConfig struct {
	ConfidenceFloor float64       `yaml:"confidenceFloor"`
	Cooldown        time.Duration `yaml:"cooldown"`
}

// ExecutorConfig controls remediation call behaviour.
type ExecutorConfig struct {
	ActionTimeout time.Duration `yaml:"actionTimeout"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	Workers       int           `yaml:"workers"`
}

// LearningConfig controls confidence score updates.
type LearningConfig struct {
	Alpha           float64 `yaml:"alpha"`
	ConfidenceFloor float64 `yaml:"confidenceFloor"`
	TrendWindow     int     `yaml:"trendWindow"`
}

// StorageConfig controls the Badger key-value store backing the catalog and
// ledger. An empty path keeps everything in memory.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls the optional Valkey backend for cooldown keys and
// health snapshots. Disabled, the agent uses its in-memory provider.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CatalogConfig points at the YAML seed file for default remediation entries.
type CatalogConfig struct {
	SeedPath string `yaml:"seedPath"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REMEDY_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalise(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Monitor: MonitorConfig{
			CheckInterval:    10 * time.Second,
			FetchTimeout:     3 * time.Second,
			MaxFetchFailures: 3,
			WindowSize:       20,
			WindowDuration:   10 * time.Minute,
			ZScoreThreshold:  3,
			MinSamples:       5,
			Thresholds: map[string]float64{
				"cpu":        90,
				"memory":     90,
				"latency":    1500,
				"error_rate": 0.3,
			},
		},
		Decision: DecisionConfig{
			ConfidenceFloor: 0.3,
			Cooldown:        60 * time.Second,
		},
		Executor: ExecutorConfig{
			ActionTimeout: 5 * time.Second,
			MaxRetries:    3,
			RetryDelay:    2 * time.Second,
			Workers:       4,
		},
		Learning: LearningConfig{
			Alpha:           0.2,
			ConfidenceFloor: 0.05,
			TrendWindow:     100,
		},
		Cache: CacheConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Catalog: CatalogConfig{SeedPath: "configs/catalog.yaml"},
	}
}

func normalise(cfg *Config) {
	if cfg.Monitor.CheckInterval <= 0 {
		cfg.Monitor.CheckInterval = 10 * time.Second
	}
	if cfg.Monitor.WindowSize <= 0 {
		cfg.Monitor.WindowSize = 20
	}
	if cfg.Monitor.MinSamples <= 0 {
		cfg.Monitor.MinSamples = 5
	}
	if cfg.Monitor.ZScoreThreshold <= 0 {
		cfg.Monitor.ZScoreThreshold = 3
	}
	if cfg.Executor.Workers <= 0 {
		cfg.Executor.Workers = 4
	}
	if cfg.Learning.Alpha <= 0 || cfg.Learning.Alpha > 1 {
		cfg.Learning.Alpha = 0.2
	}
	if cfg.Learning.ConfidenceFloor <= 0 {
		cfg.Learning.ConfidenceFloor = 0.05
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REMEDY_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("REMEDY_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("REMEDY_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.CheckInterval = d
		}
	}
	if v := os.Getenv("REMEDY_MAX_FETCH_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Monitor.MaxFetchFailures = n
		}
	}
	if v := os.Getenv("REMEDY_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Decision.Cooldown = d
		}
	}
	if v := os.Getenv("REMEDY_CONFIDENCE_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Decision.ConfidenceFloor = f
		}
	}
	if v := os.Getenv("REMEDY_ACTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Executor.ActionTimeout = d
		}
	}
	if v := os.Getenv("REMEDY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.MaxRetries = n
		}
	}
	if v := os.Getenv("REMEDY_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Executor.RetryDelay = d
		}
	}
	if v := os.Getenv("REMEDY_LEARNING_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Learning.Alpha = f
		}
	}
	if v := os.Getenv("REMEDY_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("REMEDY_CATALOG_SEED"); v != "" {
		cfg.Catalog.SeedPath = v
	}
	if v := os.Getenv("REMEDY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REMEDY_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("REMEDY_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("REMEDY_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("REMEDY_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("REMEDY_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("REMEDY_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("REMEDY_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
}
