// Package config holds the enumerated heliorand configuration.
//
// Configuration is a flat set of typed options grouped by subsystem. Values
// come from defaults, then an optional JSON file, then HELIORAND_* environment
// overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all heliorand configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Redis   RedisConfig   `json:"redis"`
	Entropy EntropyConfig `json:"entropy"`
	Ingest  IngestConfig  `json:"ingest"`
	Archive ArchiveConfig `json:"archive"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	APIPrefix          string `json:"api_prefix"`
	MaxBytesPerRequest int    `json:"max_bytes_per_request"`
}

// RedisConfig holds pool store connection settings.
type RedisConfig struct {
	Addr     string `json:"addr"`
	DB       int    `json:"db"`
	Password string `json:"password,omitempty"`
	UseTLS   bool   `json:"use_tls"`
}

// EntropyConfig holds pipeline and pool tuning.
type EntropyConfig struct {
	BlockSize      int     `json:"block_size"`
	TTLSeconds     int     `json:"ttl_seconds"`
	LowWaterMark   int64   `json:"low_water_mark_bytes"`
	MinShannon     float64 `json:"min_shannon"`
	MinQuality     float64 `json:"min_quality"`
	RefillInterval int     `json:"refill_interval_seconds"`
	CutoffRatio    float64 `json:"fft_cutoff_ratio"`
	SampleWindows  int     `json:"sample_windows"`
	// DrainSources keeps the refill loop consuming cached frames after the
	// first productive one instead of stopping early.
	DrainSources bool `json:"drain_sources"`
}

// IngestConfig holds frame acquisition settings.
type IngestConfig struct {
	SDOBaseURL      string   `json:"sdo_base_url"`
	SDOImages       []string `json:"sdo_images"`
	FetchInterval   int      `json:"fetch_interval_seconds"`
	FetchTimeout    int      `json:"fetch_timeout_seconds"`
	CacheDir        string   `json:"cache_dir"`
	MaxStoredFrames int      `json:"max_stored_frames"`
	WatchDir        string   `json:"watch_dir,omitempty"`
}

// ArchiveConfig holds the optional frame archival settings.
type ArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			APIPrefix:          "/api/v1",
			MaxBytesPerRequest: 10240,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Entropy: EntropyConfig{
			BlockSize:      4096,
			TTLSeconds:     3600,
			LowWaterMark:   1024 * 1024,
			MinShannon:     7.8,
			MinQuality:     0.75,
			RefillInterval: 30,
			CutoffRatio:    0.8,
			SampleWindows:  5,
			DrainSources:   false,
		},
		Ingest: IngestConfig{
			SDOBaseURL: "https://sdo.gsfc.nasa.gov/assets/img/latest",
			SDOImages: []string{
				"latest_1024_0193.jpg",
				"latest_1024_0304.jpg",
				"latest_1024_0171.jpg",
				"latest_1024_0211.jpg",
			},
			FetchInterval:   300,
			FetchTimeout:    30,
			CacheDir:        filepath.Join(os.TempDir(), "heliorand-frames"),
			MaxStoredFrames: 10,
		},
		Archive: ArchiveConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from file with environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) applyEnvironmentOverrides() {
	if v := os.Getenv("HELIORAND_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("HELIORAND_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("HELIORAND_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("HELIORAND_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("HELIORAND_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("HELIORAND_BLOCK_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			c.Entropy.BlockSize = size
		}
	}
	if v := os.Getenv("HELIORAND_ENTROPY_TTL"); v != "" {
		if ttl, err := strconv.Atoi(v); err == nil {
			c.Entropy.TTLSeconds = ttl
		}
	}
	if v := os.Getenv("HELIORAND_LOW_WATER_MARK"); v != "" {
		if mark, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Entropy.LowWaterMark = mark
		}
	}
	if v := os.Getenv("HELIORAND_CACHE_DIR"); v != "" {
		c.Ingest.CacheDir = v
	}
	if v := os.Getenv("HELIORAND_WATCH_DIR"); v != "" {
		c.Ingest.WatchDir = v
	}
	if v := os.Getenv("HELIORAND_ARCHIVE_DIR"); v != "" {
		c.Archive.Enabled = true
		c.Archive.Dir = v
	}
	if v := os.Getenv("HELIORAND_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HELIORAND_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Server.MaxBytesPerRequest < 1 {
		return fmt.Errorf("max_bytes_per_request must be positive, got %d", c.Server.MaxBytesPerRequest)
	}
	if c.Entropy.BlockSize < 32 {
		return fmt.Errorf("block_size must be at least 32 bytes, got %d", c.Entropy.BlockSize)
	}
	if c.Entropy.TTLSeconds < 1 {
		return fmt.Errorf("ttl_seconds must be positive, got %d", c.Entropy.TTLSeconds)
	}
	if c.Entropy.LowWaterMark < 0 {
		return fmt.Errorf("low_water_mark_bytes must be non-negative, got %d", c.Entropy.LowWaterMark)
	}
	if c.Entropy.MinShannon < 0 || c.Entropy.MinShannon > 8 {
		return fmt.Errorf("min_shannon must be in [0, 8], got %f", c.Entropy.MinShannon)
	}
	if c.Entropy.MinQuality < 0 || c.Entropy.MinQuality > 1 {
		return fmt.Errorf("min_quality must be in [0, 1], got %f", c.Entropy.MinQuality)
	}
	if c.Entropy.CutoffRatio <= 0 || c.Entropy.CutoffRatio > 1 {
		return fmt.Errorf("fft_cutoff_ratio must be in (0, 1], got %f", c.Entropy.CutoffRatio)
	}
	if c.Entropy.RefillInterval < 1 {
		return fmt.Errorf("refill_interval_seconds must be positive, got %d", c.Entropy.RefillInterval)
	}
	if c.Ingest.MaxStoredFrames < 1 {
		return fmt.Errorf("max_stored_frames must be positive, got %d", c.Ingest.MaxStoredFrames)
	}
	if c.Archive.Enabled && c.Archive.Dir == "" {
		return fmt.Errorf("archive enabled but no archive dir configured")
	}
	return nil
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
