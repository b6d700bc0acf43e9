package field

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/fieldcache/fieldcache/internal/cache"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// owned is the storage of a root field. Views never carry one.
type owned struct {
	buffer  [][]float32
	path    string
	written bool // the file at path holds the current buffer
}

// Field is a numeric array that is fetched lazily from its Source, spilled to disk once it grows
// past the manager's threshold, and reloaded on demand. A Field is either a root, which owns its
// buffer and spill file, or a view, which reads through a root.
type Field struct {
	mgr    *Manager
	source Source
	meta   types.Metadata
	id     string
	logger *logrus.Entry

	// mu guards every field below. For a root it also serializes population, spilling and
	// reloading. A view takes its root's mu for data access and never holds its own at the
	// same time.
	mu           sync.Mutex
	own          *owned
	parent       *Field
	shouldCache  bool
	ranges       []types.Range
	sampleRanges []types.Range
	generation   uint64 // root: bumped on Replace; view: root generation its ranges describe
	resident     int64
	lastErr      error
	warnedNoDir  bool
	warnedWrite  bool

	clones atomic.Uint64
}

// New creates a field described by meta that fetches through source. A non-nil initial buffer
// is populated immediately, which spills it right away when it exceeds the threshold.
func New(mgr *Manager, meta types.Metadata, source Source, initial [][]float32) (*Field, error) {
	if mgr == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "field manager is required").
			WithComponent("field")
	}
	if source == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "field source is required").
			WithComponent("field")
	}
	if err := meta.Shape.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeShapeMismatch, err, "invalid field shape").
			WithComponent("field")
	}
	if initial != nil {
		if err := checkBuffer(meta.Shape, initial); err != nil {
			return nil, err
		}
	}

	f := newField(mgr, meta.Clone(), source, fmt.Sprintf("field-%d", mgr.nextID()))
	f.own = &owned{}
	if initial != nil {
		f.mu.Lock()
		f.populateLocked(initial)
		f.mu.Unlock()
	}
	return f, nil
}

// NewStatic creates a field over in-memory data with no origin to fetch from. Once its data is
// spilled, a corrupt or deleted spill file leaves the field permanently missing.
func NewStatic(mgr *Manager, meta types.Metadata, data [][]float32) (*Field, error) {
	if data == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "static field requires data").
			WithComponent("field")
	}
	return New(mgr, meta, staticSource{mgr: mgr}, data)
}

func newField(mgr *Manager, meta types.Metadata, source Source, id string) *Field {
	return &Field{
		mgr:    mgr,
		source: source,
		meta:   meta,
		id:     id,
		logger: mgr.logger.WithFields(logrus.Fields{"field": id, "kind": source.Kind()}),
	}
}

// ID returns the diagnostic identity of the field.
func (f *Field) ID() string { return f.id }

// Kind returns the kind of the field's source.
func (f *Field) Kind() string { return f.source.Kind() }

// Metadata returns a copy of the field's metadata.
func (f *Field) Metadata() types.Metadata { return f.meta.Clone() }

// Shape returns the field's shape.
func (f *Field) Shape() types.Shape { return f.meta.Clone().Shape }

// IsView reports whether the field reads through another field.
func (f *Field) IsView() bool { return f.parent != nil }

// Parent returns the root a view reads through, or nil for a root.
func (f *Field) Parent() *Field { return f.parent }

// root returns the field that owns the storage. The parent link never changes after
// construction, so no lock is needed.
func (f *Field) root() *Field {
	if f.parent != nil {
		return f.parent
	}
	return f
}

// GetElement returns the sample at index. An index outside the field's domain is an error. When
// no data can be obtained the missing sample is returned with a nil error.
func (f *Field) GetElement(ctx context.Context, index int) (types.Sample, error) {
	if n := f.meta.Shape.Samples(); index < 0 || index >= n {
		return types.Sample{}, errors.Newf(errors.ErrCodeIndexOutOfRange,
			"index %d outside [0, %d)", index, n).
			WithComponent("field").
			WithOperation("get_element").
			WithContext("field", f.id)
	}

	root := f.root()
	root.mu.Lock()
	data := root.ensureResidentLocked(ctx)
	var sample types.Sample
	if data != nil {
		sample.Values = make([]float32, len(data))
		for c := range data {
			sample.Values[c] = data[c][index]
		}
	}
	root.mu.Unlock()

	if data == nil {
		f.mgr.recorder.RecordMissing(f.Kind())
		return types.MissingSample(f.meta.Shape.Components), nil
	}
	return sample, nil
}

// GetBuffer returns the field's array, or nil when no data can be obtained. With copyData the
// result is independent of the field. Without it the component slices are the field's own
// storage and must not be modified. Either way the field may evict its buffer before returning.
func (f *Field) GetBuffer(ctx context.Context, copyData bool) [][]float32 {
	root := f.root()
	root.mu.Lock()
	defer root.mu.Unlock()

	data := root.ensureResidentLocked(ctx)
	if data == nil {
		f.mgr.recorder.RecordMissing(f.Kind())
		return nil
	}

	out := make([][]float32, len(data))
	for c, comp := range data {
		if copyData {
			out[c] = append([]float32(nil), comp...)
		} else {
			out[c] = comp
		}
	}
	root.checkCacheLocked()
	return out
}

// GetFloat64s returns a float64 copy of the field's array, or nil when no data can be obtained.
func (f *Field) GetFloat64s(ctx context.Context) [][]float64 {
	data := f.GetBuffer(ctx, false)
	if data == nil {
		return nil
	}
	out := make([][]float64, len(data))
	for c, comp := range data {
		out[c] = make([]float64, len(comp))
		for i, v := range comp {
			out[c][i] = float64(v)
		}
	}
	return out
}

// ShouldCache reports whether the field spills its buffer. Views report their root's policy.
func (f *Field) ShouldCache() bool {
	root := f.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	return root.shouldCache
}

// SetShouldCache sets the spill policy. The spill itself happens on the next population or
// GetBuffer. A view has no storage, so the policy is set on its root.
func (f *Field) SetShouldCache(shouldCache bool) {
	root := f.root()
	root.mu.Lock()
	root.shouldCache = shouldCache
	root.mu.Unlock()
}

// SetSpillPath assigns the file the field spills to. A path can only be set on a root and only
// before another path has been assigned.
func (f *Field) SetSpillPath(path string) error {
	if f.parent != nil {
		return errors.NewError(errors.ErrCodeInvalidState, "a view has no spill file of its own").
			WithComponent("field").
			WithContext("field", f.id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.own.path != "" && f.own.path != path {
		return errors.NewError(errors.ErrCodeInvalidState, "spill path already assigned").
			WithComponent("field").
			WithContext("field", f.id).
			WithContext("path", f.own.path)
	}
	if f.own.path != path {
		f.own.path = path
		f.own.written = false
	}
	return nil
}

// SpillPath returns the root's spill path, or "" if none has been assigned.
func (f *Field) SpillPath() string {
	root := f.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	return root.own.path
}

// Replace swaps in a new array. Readers see either the old or the new buffer. Ranges are
// recomputed and, when the field spills, the new data is written over the old spill file.
func (f *Field) Replace(data [][]float32) error {
	if err := checkBuffer(f.meta.Shape, data); err != nil {
		return err
	}
	if f.parent != nil {
		return errors.NewError(errors.ErrCodeInvalidState, "cannot replace the data of a view").
			WithComponent("field").
			WithContext("field", f.id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
	f.ranges = nil
	f.sampleRanges = nil
	f.populateLocked(data)
	return nil
}

// Refresh fetches fresh data from the source and replaces the field's array with it. On failure
// the field keeps its current data.
func (f *Field) Refresh(ctx context.Context) error {
	data, err := f.fetch(ctx)
	if err == nil {
		err = f.Replace(data)
	}
	f.mgr.recorder.RecordRefresh(f.Kind(), err)
	if err != nil {
		f.logger.WithError(err).Debug("refresh failed, keeping current data")
		return err
	}
	f.logger.Debug("refreshed field data")
	return nil
}

// State reports where the field's data currently lives.
func (f *Field) State() types.FieldState {
	if f.parent != nil {
		return types.StateView
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

func (f *Field) stateLocked() types.FieldState {
	switch {
	case f.own.buffer != nil:
		return types.StateResident
	case f.own.written && cache.Exists(f.own.path):
		return types.StateEvicted
	default:
		return types.StateEmpty
	}
}

// LastError returns the most recent data availability error recorded by the field's storage,
// or nil if the last fetch succeeded.
func (f *Field) LastError() error {
	root := f.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	return root.lastErr
}

// Stats returns a diagnostic snapshot of the field.
func (f *Field) Stats() types.FieldStats {
	stats := types.FieldStats{ID: f.id, Kind: f.Kind()}
	root := f.root()
	if f.parent != nil {
		stats.State = types.StateView
		stats.Parent = root.id
	}

	root.mu.Lock()
	if f.parent == nil {
		stats.State = root.stateLocked()
	}
	stats.ShouldCache = root.shouldCache
	stats.SpillPath = root.own.path
	stats.ResidentElements = root.resident
	if root.lastErr != nil {
		stats.LastError = root.lastErr.Error()
	}
	root.mu.Unlock()
	return stats
}

// checkBuffer verifies that data holds one full-length array per component of shape.
func checkBuffer(shape types.Shape, data [][]float32) error {
	if len(data) != shape.Components {
		return errors.Newf(errors.ErrCodeShapeMismatch,
			"buffer has %d components, shape %s has %d", len(data), shape, shape.Components).
			WithComponent("field")
	}
	n := shape.Samples()
	for c, comp := range data {
		if len(comp) != n {
			return errors.Newf(errors.ErrCodeShapeMismatch,
				"component %d has %d samples, shape %s has %d", c, len(comp), shape, n).
				WithComponent("field")
		}
	}
	return nil
}
