package grid

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/ctessum/requestcache"
	"github.com/sirupsen/logrus"

	"github.com/fieldcache/fieldcache/internal/config"
	"github.com/fieldcache/fieldcache/internal/field"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// Kind is the field kind reported by grid-sourced fields.
const Kind = "grid"

// Source builds fields over the variables of one backend. Requests for the same variable and
// time index return the same field while it stays in the request cache.
type Source struct {
	mgr     *field.Manager
	backend Backend
	lock    *sync.Mutex
	opts    options
	cache   *requestcache.Cache
	logger  *logrus.Entry
}

type options struct {
	alwaysCache bool
	eager       bool
	workers     int
	memory      int
	locks       *Locks
	logger      *logrus.Entry
}

// Option configures a Source.
type Option func(*options)

// WithAlwaysCache marks every field for spilling, regardless of size, when the manager has a
// cache directory.
func WithAlwaysCache(always bool) Option {
	return func(o *options) { o.alwaysCache = always }
}

// WithEager reads each field as soon as it is created.
func WithEager(eager bool) Option {
	return func(o *options) { o.eager = eager }
}

// WithWorkers sets how many fields may be constructed concurrently.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithMemoryEntries bounds the number of fields kept by the request cache.
func WithMemoryEntries(n int) Option {
	return func(o *options) { o.memory = n }
}

// WithLocks replaces DefaultLocks.
func WithLocks(l *Locks) Option {
	return func(o *options) { o.locks = l }
}

// WithLogger sets the source's logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) { o.logger = logger }
}

// NewSource wraps backend. Fields are bound to mgr.
func NewSource(mgr *field.Manager, backend Backend, opts ...Option) *Source {
	o := options{
		workers: runtime.GOMAXPROCS(-1),
		memory:  64,
		locks:   DefaultLocks,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers <= 0 {
		o.workers = 1
	}
	if o.logger == nil {
		o.logger = mgr.Logger()
	}

	s := &Source{
		mgr:     mgr,
		backend: backend,
		lock:    o.locks.For(backend.Name()),
		opts:    o,
		logger:  o.logger.WithFields(logrus.Fields{"component": "grid", "backend": backend.Name()}),
	}
	s.cache = requestcache.NewCache(s.process, o.workers,
		requestcache.Deduplicate(), requestcache.Memory(o.memory))
	return s
}

// NewSourceFromConfig builds a Source with the grid section of the configuration.
func NewSourceFromConfig(mgr *field.Manager, backend Backend, cfg config.GridConfig, logger *logrus.Entry) *Source {
	return NewSource(mgr, backend,
		WithAlwaysCache(cfg.AlwaysCache),
		WithEager(cfg.Eager),
		WithWorkers(cfg.Workers),
		WithMemoryEntries(cfg.MemoryEntries),
		WithLogger(logger),
	)
}

type fieldRequest struct {
	variable  string
	timeIndex int
}

// fieldResult carries construction errors as data. A failed request must still pass through
// the request cache's deduplication, which only releases waiting duplicates on success.
type fieldResult struct {
	field *field.Field
	err   error
}

// Field returns the field for variable at timeIndex.
func (s *Source) Field(ctx context.Context, variable string, timeIndex int) (*field.Field, error) {
	key := variable + "_" + strconv.Itoa(timeIndex)
	out, err := s.cache.NewRequest(ctx, fieldRequest{variable: variable, timeIndex: timeIndex}, key).Result()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternalError, err, "field request failed").
			WithComponent("grid").
			WithContext("variable", variable).
			WithContext("time_index", strconv.Itoa(timeIndex))
	}
	res, ok := out.(fieldResult)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeInternalError, "unexpected request result %T", out).
			WithComponent("grid")
	}
	return res.field, res.err
}

func (s *Source) process(ctx context.Context, payload interface{}) (interface{}, error) {
	req := payload.(fieldRequest)
	f, err := s.newField(ctx, req.variable, req.timeIndex)
	return fieldResult{field: f, err: err}, nil
}

func (s *Source) newField(ctx context.Context, variable string, timeIndex int) (*field.Field, error) {
	layout, err := s.backend.Layout(variable)
	if err != nil {
		return nil, err
	}
	if timeIndex < 0 || timeIndex >= layout.Times() {
		return nil, errors.Newf(errors.ErrCodeIndexOutOfRange,
			"time index %d out of range [0, %d)", timeIndex, layout.Times()).
			WithComponent("grid").
			WithContext("variable", variable)
	}

	dims, lengths := layout.Spatial()
	declared := declaredLengths(lengths)
	meta := types.Metadata{
		Name:  variable,
		Shape: types.NewShape(1, declared...),
		Attributes: map[string]string{
			"backend":    s.backend.Name(),
			"dims":       strings.Join(dims, ","),
			"time_index": strconv.Itoa(timeIndex),
		},
	}
	if layout.Units != "" {
		meta.Units = []string{layout.Units}
	}
	if label, err := s.backend.Label(timeIndex); err == nil {
		meta.Attributes["time"] = label
	}

	src := &fieldSource{src: s, variable: variable, timeIndex: timeIndex, lengths: declared}
	f, err := field.New(s.mgr, meta, src, nil)
	if err != nil {
		return nil, err
	}
	if s.opts.alwaysCache && s.mgr.CacheDirectory() != "" {
		f.SetShouldCache(true)
	}

	logger := s.logger.WithFields(logrus.Fields{"field": f.ID(), "variable": variable, "time_index": timeIndex})
	if s.opts.eager {
		if f.GetBuffer(ctx, false) == nil {
			logger.WithError(f.LastError()).Warn("eager read found no data")
		}
	}
	logger.WithField("shape", meta.Shape.String()).Debug("created grid field")
	return f, nil
}

// declaredLengths drops the first unit-length axis of a volume with more than two spatial
// dimensions, so a single-level 3-D grid is declared as 2-D and sliced on read.
func declaredLengths(lengths []int) []int {
	out := append([]int(nil), lengths...)
	if len(out) <= 2 {
		return out
	}
	for i, l := range out {
		if l == 1 {
			return append(out[:i], out[i+1:]...)
		}
	}
	return out
}

// Label describes a time index.
func (s *Source) Label(timeIndex int) (string, error) {
	return s.backend.Label(timeIndex)
}

// Variables lists the backend's variables.
func (s *Source) Variables() []string {
	return s.backend.Variables()
}

// Layout describes one of the backend's variables.
func (s *Source) Layout(variable string) (Layout, error) {
	return s.backend.Layout(variable)
}

// CacheRequests returns the request counts seen by the memory cache and by field construction.
// Their ratio is the cache miss rate.
func (s *Source) CacheRequests() (lookups, misses int) {
	r := s.cache.Requests()
	return r[0], r[len(r)-1]
}

// Close closes the backend.
func (s *Source) Close() error {
	return s.backend.Close()
}

// fieldSource is the field.Source behind one (variable, time) field.
type fieldSource struct {
	src       *Source
	variable  string
	timeIndex int
	lengths   []int
}

var _ field.Source = (*fieldSource)(nil)

// Fetch reads the volume under the backend lock and fits it to the field's shape. The caller
// holds the field's mutex, so the backend lock is always the inner one.
func (fs *fieldSource) Fetch(ctx context.Context) ([][]float32, error) {
	s := fs.src
	s.lock.Lock()
	vol, err := s.backend.ReadVolume(ctx, fs.variable, fs.timeIndex)
	s.lock.Unlock()
	if err != nil {
		return nil, err
	}

	data, err := SliceToShape(vol, fs.lengths)
	if err != nil {
		return nil, fmt.Errorf("failed to fit %s[%d]: %w", fs.variable, fs.timeIndex, err)
	}
	return [][]float32{data}, nil
}

func (fs *fieldSource) Kind() string { return Kind }

// CloneWithBuffer returns a field that fetches the same variable and time.
func (fs *fieldSource) CloneWithBuffer(_ types.Shape, buffer [][]float32, meta types.Metadata) (*field.Field, error) {
	return field.New(fs.src.mgr, meta, fs, buffer)
}
