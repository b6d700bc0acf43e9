package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fieldcache/fieldcache/internal/field"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/health"
	"github.com/fieldcache/fieldcache/pkg/types"
)

var _ field.Recorder = (*Collector)(nil)

// Collector records field cache events as Prometheus metrics and serves them over HTTP.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *logrus.Entry

	fetchCounter     *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	spillCounter     *prometheus.CounterVec
	spillBytes       prometheus.Histogram
	spillDuration    prometheus.Histogram
	reloadCounter    *prometheus.CounterVec
	reloadDuration   prometheus.Histogram
	missingCounter   *prometheus.CounterVec
	refreshCounter   *prometheus.CounterVec
	residentElements prometheus.Gauge
	spillFiles       prometheus.Gauge
	spillDiskBytes   prometheus.Gauge

	// Per-kind fetch summaries for /debug/fetches
	fetches   map[string]*FetchSummary
	lastReset time.Time

	health *health.Tracker
	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
}

// FetchSummary tracks source fetches of one field kind
type FetchSummary struct {
	Count         int64         `json:"count"`
	Failures      int64         `json:"failures"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastFetch     time.Time     `json:"last_fetch"`
}

// NewCollector creates a new metrics collector. A disabled collector accepts every call and
// records nothing.
func NewCollector(config *Config, logger *logrus.Entry) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "fieldcache",
			Labels:    make(map[string]string),
		}
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	c := &Collector{config: config, logger: logger.WithField("component", "metrics")}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.fetches = make(map[string]*FetchSummary)
	c.lastReset = time.Now()

	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

// Start serves the metrics endpoint until Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/fetches", c.debugFetchesHandler)

	c.mu.Lock()
	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.WithError(err).Error("metrics server failed")
		}
	}()
	c.logger.WithField("addr", server.Addr).Info("serving metrics")
	return nil
}

// Stop shuts the metrics endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	server := c.server
	c.server = nil
	c.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// SetHealthTracker makes /health report the tracker's component states.
func (c *Collector) SetHealthTracker(t *health.Tracker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = t
}

// Handler returns the Prometheus handler, or nil when disabled.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return nil
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, or nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordFetch records one source fetch.
func (c *Collector) RecordFetch(kind string, duration time.Duration, ok bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	s, exists := c.fetches[kind]
	if !exists {
		s = &FetchSummary{}
		c.fetches[kind] = s
	}
	s.Count++
	if !ok {
		s.Failures++
	}
	s.TotalDuration += duration
	s.AvgDuration = time.Duration(int64(s.TotalDuration) / s.Count)
	s.LastFetch = time.Now()
	c.mu.Unlock()

	c.fetchCounter.With(prometheus.Labels{"kind": kind, "result": result(ok)}).Inc()
	c.fetchDuration.With(prometheus.Labels{"kind": kind}).Observe(duration.Seconds())
}

// RecordSpill records one write of a field buffer to disk.
func (c *Collector) RecordSpill(bytes int64, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	c.spillCounter.With(prometheus.Labels{"result": errorResult(err)}).Inc()
	if err == nil {
		c.spillBytes.Observe(float64(bytes))
		c.spillDuration.Observe(duration.Seconds())
	}
}

// RecordReload records one read of a spill file.
func (c *Collector) RecordReload(duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	c.reloadCounter.With(prometheus.Labels{"result": errorResult(err)}).Inc()
	if err == nil {
		c.reloadDuration.Observe(duration.Seconds())
	}
}

// RecordMissing records a read answered with missing data.
func (c *Collector) RecordMissing(kind string) {
	if !c.config.Enabled {
		return
	}
	c.missingCounter.With(prometheus.Labels{"kind": kind}).Inc()
}

// RecordRefresh records a periodic refresh attempt.
func (c *Collector) RecordRefresh(kind string, err error) {
	if !c.config.Enabled {
		return
	}
	c.refreshCounter.With(prometheus.Labels{"kind": kind, "result": errorResult(err)}).Inc()
}

// AddResidentElements adjusts the count of float32 elements held in memory by all fields.
func (c *Collector) AddResidentElements(delta int64) {
	if !c.config.Enabled {
		return
	}
	c.residentElements.Add(float64(delta))
}

// UpdateSpillStats publishes the spill directory footprint.
func (c *Collector) UpdateSpillStats(stats types.SpillStats) {
	if !c.config.Enabled {
		return
	}
	c.spillFiles.Set(float64(stats.Files))
	c.spillDiskBytes.Set(float64(stats.Bytes))
}

// FetchSummaries returns a copy of the per-kind fetch summaries.
func (c *Collector) FetchSummaries() map[string]FetchSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]FetchSummary, len(c.fetches))
	for k, v := range c.fetches {
		out[k] = *v
	}
	return out
}

// ResetSummaries clears the per-kind fetch summaries. Prometheus counters are untouched.
func (c *Collector) ResetSummaries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches = make(map[string]*FetchSummary)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace
	labels := prometheus.Labels(c.config.Labels)

	c.fetchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "fetches_total", ConstLabels: labels,
		Help: "Source fetches by field kind and result",
	}, []string{"kind", "result"})

	c.fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: "fetch_duration_seconds", ConstLabels: labels,
		Help:    "Duration of source fetches in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
	}, []string{"kind"})

	c.spillCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "spills_total", ConstLabels: labels,
		Help: "Writes of field buffers to the spill directory",
	}, []string{"result"})

	c.spillBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "spill_bytes", ConstLabels: labels,
		Help:    "Size of spill files in bytes",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 12), // 1KB to ~4GB
	})

	c.spillDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "spill_duration_seconds", ConstLabels: labels,
		Help:    "Duration of spill writes in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
	})

	c.reloadCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "reloads_total", ConstLabels: labels,
		Help: "Reads of spill files back into memory",
	}, []string{"result"})

	c.reloadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "reload_duration_seconds", ConstLabels: labels,
		Help:    "Duration of spill reloads in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
	})

	c.missingCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "missing_reads_total", ConstLabels: labels,
		Help: "Reads answered with missing data",
	}, []string{"kind"})

	c.refreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "refreshes_total", ConstLabels: labels,
		Help: "Periodic refresh attempts",
	}, []string{"kind", "result"})

	c.residentElements = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "resident_elements", ConstLabels: labels,
		Help: "Float32 elements currently held in memory by field buffers",
	})

	c.spillFiles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "spill_files", ConstLabels: labels,
		Help: "Spill files in the cache directory",
	})

	c.spillDiskBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "spill_disk_bytes", ConstLabels: labels,
		Help: "Bytes used by spill files in the cache directory",
	})
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.fetchCounter,
		c.fetchDuration,
		c.spillCounter,
		c.spillBytes,
		c.spillDuration,
		c.reloadCounter,
		c.reloadDuration,
		c.missingCounter,
		c.refreshCounter,
		c.residentElements,
		c.spillFiles,
		c.spillDiskBytes,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// errorResult labels an outcome by error code so dashboards can tell a full disk from a
// corrupt file.
func errorResult(err error) string {
	if err == nil {
		return "success"
	}
	if code := errors.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}

// healthHandler answers 503 only when a component is unavailable; degraded and read-only
// caches still serve reads.
func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	tracker := c.health
	c.mu.RUnlock()

	body := map[string]interface{}{
		"status":  health.StateHealthy,
		"service": "fieldcache-metrics",
	}
	status := http.StatusOK
	if tracker != nil {
		overall := tracker.GetOverallHealth()
		body["status"] = overall
		body["components"] = tracker.GetAllComponents()
		if overall == health.StateUnavailable {
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (c *Collector) debugFetchesHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	since := c.lastReset
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"since":   since,
		"uptime":  time.Since(since).String(),
		"fetches": c.FetchSummaries(),
	})
}
