package field

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/fieldcache/fieldcache/internal/cache"
	"github.com/fieldcache/fieldcache/internal/config"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// DefaultThreshold is the largest component length a field may hold before it spills.
const DefaultThreshold = 100000

// Manager carries the settings every field reads: the spill directory, the spill threshold,
// the logger and the metrics recorder. Fields receive it at construction.
type Manager struct {
	mu           sync.RWMutex
	store        *cache.Store
	threshold    int
	compression  string
	clearOnClose bool

	logger   *logrus.Entry
	recorder Recorder
	ids      atomic.Uint64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger fields derive theirs from.
func WithLogger(logger *logrus.Entry) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithThreshold sets the spill threshold in elements.
func WithThreshold(n int) ManagerOption {
	return func(m *Manager) { m.threshold = n }
}

// WithCompression sets the codec for spill stores created by SetCacheDirectory.
func WithCompression(codec string) ManagerOption {
	return func(m *Manager) { m.compression = codec }
}

// WithClearOnClose makes Close remove the spill files in the cache directory.
func WithClearOnClose(clear bool) ManagerOption {
	return func(m *Manager) { m.clearOnClose = clear }
}

// NewManager returns a manager with spilling disabled until SetCacheDirectory is called.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		threshold: DefaultThreshold,
		logger:    logrus.NewEntry(logrus.StandardLogger()).WithField("component", "field"),
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewManagerFromConfig builds a manager from the cache section of the configuration.
func NewManagerFromConfig(cfg config.CacheConfig, logger *logrus.Entry, recorder Recorder) (*Manager, error) {
	m := NewManager(
		WithLogger(logger),
		WithRecorder(recorder),
		WithThreshold(cfg.ThresholdElements),
		WithCompression(cfg.Compression),
		WithClearOnClose(cfg.ClearOnClose),
	)
	if cfg.Directory != "" {
		if err := m.SetCacheDirectory(cfg.Directory); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SetCacheDirectory enables spilling into dir, creating it if needed. An empty dir disables
// spilling: fields that exceed the threshold keep their buffers in memory. Fields that already
// spilled keep their paths and still reload from the old directory.
func (m *Manager) SetCacheDirectory(dir string) error {
	if dir == "" {
		m.mu.Lock()
		m.store = nil
		m.mu.Unlock()
		m.logger.Info("spilling disabled")
		return nil
	}

	store, err := cache.NewStore(&cache.StoreConfig{Directory: dir, Compression: m.compression}, m.logger)
	if err != nil {
		return fmt.Errorf("failed to set cache directory: %w", err)
	}

	m.mu.Lock()
	m.store = store
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"directory": store.Directory(),
		"threshold": humanize.Comma(int64(m.CacheThreshold())),
	}).Info("spilling enabled")
	return nil
}

// CacheDirectory returns the spill directory, or "" when spilling is disabled.
func (m *Manager) CacheDirectory() string {
	if s := m.spillStore(); s != nil {
		return s.Directory()
	}
	return ""
}

// SetCacheThreshold sets the largest component length a field may hold before it spills.
// It applies to fields populated afterwards.
func (m *Manager) SetCacheThreshold(n int) {
	m.mu.Lock()
	m.threshold = n
	m.mu.Unlock()
}

// CacheThreshold returns the spill threshold in elements.
func (m *Manager) CacheThreshold() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.threshold
}

// SpillStats reports on the spill directory. ok is false when spilling is disabled.
func (m *Manager) SpillStats() (stats types.SpillStats, ok bool) {
	s := m.spillStore()
	if s == nil {
		return types.SpillStats{}, false
	}
	return s.Stats(), true
}

// Close removes the spill files when the manager was configured to.
func (m *Manager) Close() error {
	s := m.spillStore()
	if s == nil || !m.clearOnClose {
		return nil
	}
	_, err := s.Clear()
	return err
}

// Logger returns the manager's logger.
func (m *Manager) Logger() *logrus.Entry {
	return m.logger
}

func (m *Manager) spillStore() *cache.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store
}

func (m *Manager) nextID() uint64 {
	return m.ids.Add(1)
}
