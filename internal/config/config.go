package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Cache      CacheConfig      `yaml:"cache"`
	Grid       GridConfig       `yaml:"grid"`
	Image      ImageConfig      `yaml:"image"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
	LogFormat string `yaml:"log_format"`

	// LogMaxSize rotates the log file past this many megabytes, 0 disables rotation
	LogMaxSize int64 `yaml:"log_max_size"`

	// LogMaxBackups keeps this many rotated files, 0 keeps all
	LogMaxBackups int  `yaml:"log_max_backups"`
	LogCompress   bool `yaml:"log_compress"`
}

// CacheConfig controls disk spilling of field buffers
type CacheConfig struct {
	// Directory holds spill files. Empty disables spilling; buffers stay in memory.
	Directory string `yaml:"directory"`
	// ThresholdElements is the largest component length a field may hold before it spills.
	ThresholdElements int `yaml:"threshold_elements"`
	// Compression is one of none, gzip or zstd.
	Compression  string `yaml:"compression"`
	ClearOnClose bool   `yaml:"clear_on_close"`
}

// GridConfig controls gridded (netCDF) sources
type GridConfig struct {
	TimeDimension string `yaml:"time_dimension"`
	Workers       int    `yaml:"workers"`
	MemoryEntries int    `yaml:"memory_entries"`
	AlwaysCache   bool   `yaml:"always_cache"`
	Eager         bool   `yaml:"eager"`
}

// ImageConfig controls image sources
type ImageConfig struct {
	ScaleFactor     int                  `yaml:"scale_factor"`
	Bands           string               `yaml:"bands"`
	RefreshInterval time.Duration        `yaml:"refresh_interval"`
	RequestTimeout  time.Duration        `yaml:"request_timeout"`
	Retry           RetryConfig          `yaml:"retry"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	S3              S3Config             `yaml:"s3"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// S3Config configures s3:// image locations
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	MaxRetries      int    `yaml:"max_retries"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
}

// HealthConfig sets how many consecutive failures degrade a component
type HealthConfig struct {
	ErrorThreshold       int `yaml:"error_threshold"`
	UnavailableThreshold int `yaml:"unavailable_threshold"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Port         int               `yaml:"port"`
	Path         string            `yaml:"path"`
	Namespace    string            `yaml:"namespace"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:      "INFO",
			LogFormat:     "text",
			LogMaxBackups: 5,
			LogCompress:   true,
		},
		Cache: CacheConfig{
			Directory:         "",
			ThresholdElements: 100000,
			Compression:       "none",
		},
		Grid: GridConfig{
			TimeDimension: "time",
			Workers:       2,
			MemoryEntries: 64,
		},
		Image: ImageConfig{
			ScaleFactor:     1,
			Bands:           "gray",
			RefreshInterval: 0,
			RequestTimeout:  30 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   200 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
			S3: S3Config{
				Region:     "us-east-1",
				MaxRetries: 3,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   false,
				Port:      9090,
				Path:      "/metrics",
				Namespace: "fieldcache",
			},
			Health: HealthConfig{
				ErrorThreshold:       3,
				UnavailableThreshold: 10,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from FIELDCACHE_* environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("FIELDCACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("FIELDCACHE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("FIELDCACHE_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = strings.ToLower(val)
	}

	if val := os.Getenv("FIELDCACHE_CACHE_DIR"); val != "" {
		c.Cache.Directory = val
	}
	if val := os.Getenv("FIELDCACHE_CACHE_THRESHOLD"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid FIELDCACHE_CACHE_THRESHOLD %q: %w", val, err)
		}
		c.Cache.ThresholdElements = n
	}
	if val := os.Getenv("FIELDCACHE_CACHE_COMPRESSION"); val != "" {
		c.Cache.Compression = strings.ToLower(val)
	}

	if val := os.Getenv("FIELDCACHE_GRID_TIME_DIMENSION"); val != "" {
		c.Grid.TimeDimension = val
	}
	if val := os.Getenv("FIELDCACHE_GRID_ALWAYS_CACHE"); val != "" {
		c.Grid.AlwaysCache = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("FIELDCACHE_IMAGE_SCALE_FACTOR"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Image.ScaleFactor = n
		}
	}
	if val := os.Getenv("FIELDCACHE_IMAGE_REFRESH_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Image.RefreshInterval = d
		}
	}
	if val := os.Getenv("FIELDCACHE_S3_REGION"); val != "" {
		c.Image.S3.Region = val
	}
	if val := os.Getenv("FIELDCACHE_S3_ENDPOINT"); val != "" {
		c.Image.S3.Endpoint = val
	}

	if val := os.Getenv("FIELDCACHE_METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("FIELDCACHE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Monitoring.Metrics.Port = port
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, c.Global.LogLevel) {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json"}
	if !contains(validFormats, c.Global.LogFormat) {
		return fmt.Errorf("invalid log_format: %s (must be one of: %s)",
			c.Global.LogFormat, strings.Join(validFormats, ", "))
	}

	if c.Global.LogMaxSize < 0 || c.Global.LogMaxBackups < 0 {
		return fmt.Errorf("log_max_size and log_max_backups must not be negative")
	}

	if c.Cache.ThresholdElements < 0 {
		return fmt.Errorf("threshold_elements must not be negative")
	}

	validCompression := []string{"none", "gzip", "zstd"}
	if !contains(validCompression, c.Cache.Compression) {
		return fmt.Errorf("invalid compression: %s (must be one of: %s)",
			c.Cache.Compression, strings.Join(validCompression, ", "))
	}

	if c.Grid.Workers <= 0 {
		return fmt.Errorf("grid workers must be greater than 0")
	}
	if c.Grid.MemoryEntries <= 0 {
		return fmt.Errorf("grid memory_entries must be greater than 0")
	}

	if c.Image.ScaleFactor <= 0 {
		return fmt.Errorf("image scale_factor must be greater than 0")
	}
	validBands := []string{"gray", "rgb"}
	if !contains(validBands, c.Image.Bands) {
		return fmt.Errorf("invalid image bands: %s (must be one of: %s)",
			c.Image.Bands, strings.Join(validBands, ", "))
	}
	if c.Image.RefreshInterval < 0 {
		return fmt.Errorf("image refresh_interval must not be negative")
	}

	if c.Monitoring.Metrics.Enabled && (c.Monitoring.Metrics.Port <= 0 || c.Monitoring.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.Monitoring.Metrics.Port)
	}

	h := c.Monitoring.Health
	if h.ErrorThreshold <= 0 {
		return fmt.Errorf("health error_threshold must be greater than 0")
	}
	if h.UnavailableThreshold < h.ErrorThreshold {
		return fmt.Errorf("health unavailable_threshold must not be below error_threshold")
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
