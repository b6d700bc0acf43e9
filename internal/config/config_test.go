package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Cache.ThresholdElements != 100000 {
		t.Errorf("Expected ThresholdElements to be 100000, got %d", cfg.Cache.ThresholdElements)
	}
	if cfg.Cache.Directory != "" {
		t.Errorf("Expected spilling disabled by default, got directory %q", cfg.Cache.Directory)
	}
	if cfg.Grid.TimeDimension != "time" {
		t.Errorf("Expected TimeDimension to be time, got %s", cfg.Grid.TimeDimension)
	}
	if cfg.Image.ScaleFactor != 1 {
		t.Errorf("Expected ScaleFactor to be 1, got %d", cfg.Image.ScaleFactor)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default configuration should be valid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	content := `
global:
  log_level: DEBUG
  log_format: json
cache:
  directory: /tmp/spill
  threshold_elements: 5000
  compression: zstd
grid:
  always_cache: true
image:
  scale_factor: 4
  refresh_interval: 2m
  s3:
    region: eu-west-1
    force_path_style: true
`
	if err := os.WriteFile(configFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Cache.Directory != "/tmp/spill" {
		t.Errorf("Expected directory /tmp/spill, got %s", cfg.Cache.Directory)
	}
	if cfg.Cache.ThresholdElements != 5000 {
		t.Errorf("Expected threshold 5000, got %d", cfg.Cache.ThresholdElements)
	}
	if cfg.Cache.Compression != "zstd" {
		t.Errorf("Expected compression zstd, got %s", cfg.Cache.Compression)
	}
	if !cfg.Grid.AlwaysCache {
		t.Error("Expected AlwaysCache to be true")
	}
	if cfg.Image.RefreshInterval != 2*time.Minute {
		t.Errorf("Expected refresh interval 2m, got %v", cfg.Image.RefreshInterval)
	}
	if !cfg.Image.S3.ForcePathStyle || cfg.Image.S3.Region != "eu-west-1" {
		t.Errorf("Unexpected S3 config: %+v", cfg.Image.S3)
	}
	// Untouched sections keep their defaults.
	if cfg.Grid.TimeDimension != "time" {
		t.Errorf("Expected default TimeDimension, got %s", cfg.Grid.TimeDimension)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("cache: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := cfg.LoadFromFile(bad); err == nil {
		t.Error("Expected parse error for malformed YAML")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FIELDCACHE_LOG_LEVEL", "debug")
	t.Setenv("FIELDCACHE_CACHE_DIR", "/scratch/fields")
	t.Setenv("FIELDCACHE_CACHE_THRESHOLD", "42")
	t.Setenv("FIELDCACHE_CACHE_COMPRESSION", "GZIP")
	t.Setenv("FIELDCACHE_IMAGE_REFRESH_INTERVAL", "30s")
	t.Setenv("FIELDCACHE_METRICS_ENABLED", "true")
	t.Setenv("FIELDCACHE_METRICS_PORT", "9191")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Cache.Directory != "/scratch/fields" {
		t.Errorf("Expected directory from env, got %s", cfg.Cache.Directory)
	}
	if cfg.Cache.ThresholdElements != 42 {
		t.Errorf("Expected threshold 42, got %d", cfg.Cache.ThresholdElements)
	}
	if cfg.Cache.Compression != "gzip" {
		t.Errorf("Expected compression gzip, got %s", cfg.Cache.Compression)
	}
	if cfg.Image.RefreshInterval != 30*time.Second {
		t.Errorf("Expected refresh 30s, got %v", cfg.Image.RefreshInterval)
	}
	if !cfg.Monitoring.Metrics.Enabled || cfg.Monitoring.Metrics.Port != 9191 {
		t.Errorf("Unexpected metrics config: %+v", cfg.Monitoring.Metrics)
	}
}

func TestLoadFromEnv_InvalidThreshold(t *testing.T) {
	t.Setenv("FIELDCACHE_CACHE_THRESHOLD", "lots")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("Expected error for non-numeric threshold")
	}
}

func TestSaveToFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := NewDefault()
	cfg.Cache.Directory = "/var/cache/fieldcache"
	cfg.Cache.ThresholdElements = 777
	if err := cfg.SaveToFile(filename); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(filename); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Cache.Directory != cfg.Cache.Directory || loaded.Cache.ThresholdElements != 777 {
		t.Errorf("Saved config did not load back: %+v", loaded.Cache)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Configuration)
		wantErr bool
	}{
		{"defaults", func(*Configuration) {}, false},
		{"bad log level", func(c *Configuration) { c.Global.LogLevel = "TRACE" }, true},
		{"bad log format", func(c *Configuration) { c.Global.LogFormat = "xml" }, true},
		{"negative log backups", func(c *Configuration) { c.Global.LogMaxBackups = -1 }, true},
		{"negative threshold", func(c *Configuration) { c.Cache.ThresholdElements = -1 }, true},
		{"zero threshold", func(c *Configuration) { c.Cache.ThresholdElements = 0 }, false},
		{"bad compression", func(c *Configuration) { c.Cache.Compression = "lz4" }, true},
		{"no grid workers", func(c *Configuration) { c.Grid.Workers = 0 }, true},
		{"no grid memory", func(c *Configuration) { c.Grid.MemoryEntries = 0 }, true},
		{"zero scale factor", func(c *Configuration) { c.Image.ScaleFactor = 0 }, true},
		{"bad bands", func(c *Configuration) { c.Image.Bands = "cmyk" }, true},
		{"negative refresh", func(c *Configuration) { c.Image.RefreshInterval = -time.Second }, true},
		{"metrics bad port", func(c *Configuration) {
			c.Monitoring.Metrics.Enabled = true
			c.Monitoring.Metrics.Port = 0
		}, true},
		{"no health threshold", func(c *Configuration) { c.Monitoring.Health.ErrorThreshold = 0 }, true},
		{"unavailable below degraded", func(c *Configuration) {
			c.Monitoring.Health.ErrorThreshold = 5
			c.Monitoring.Health.UnavailableThreshold = 2
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
