package field

import (
	"context"
	"time"

	"github.com/fieldcache/fieldcache/internal/cache"
	"github.com/fieldcache/fieldcache/pkg/errors"
)

// ensureResidentLocked returns the root's data, reloading it from the spill file or fetching it
// from the source when no buffer is held. It returns nil when neither yields data; the reason is
// kept in lastErr. A spill file that exists but cannot be read is never bypassed by a fetch.
// The caller holds f.mu and f is a root.
func (f *Field) ensureResidentLocked(ctx context.Context) [][]float32 {
	o := f.own
	if o.buffer != nil {
		return o.buffer
	}

	if o.path != "" && cache.Exists(o.path) {
		start := time.Now()
		data, err := f.readSpill(o.path)
		if err == nil {
			err = checkBuffer(f.meta.Shape, data)
			if err != nil {
				err = errors.Wrap(errors.ErrCodeCacheReadFailed, err, "spill file does not match field shape").
					WithComponent("field").
					WithContext("path", o.path)
			}
		}
		f.mgr.recorder.RecordReload(time.Since(start), err)
		if err != nil {
			f.lastErr = err
			f.logger.WithError(err).Warn("unable to reload spilled data, reporting missing")
			return nil
		}
		f.setBufferLocked(data)
		o.written = true
		f.logger.Debug("reloaded field from spill file")
		return data
	}

	data, err := f.fetch(ctx)
	if err != nil {
		f.lastErr = err
		f.logger.WithError(err).Debug("no data available from source")
		return nil
	}
	f.lastErr = nil
	f.populateLocked(data)
	return data
}

// fetch calls the source and validates what it returns. It takes no lock.
func (f *Field) fetch(ctx context.Context) ([][]float32, error) {
	start := time.Now()
	data, err := f.source.Fetch(ctx)
	f.mgr.recorder.RecordFetch(f.Kind(), time.Since(start), err == nil && data != nil)

	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetchUnavailable, err, "source fetch failed").
			WithComponent("field").
			WithOperation("fetch").
			WithContext("field", f.id)
	}
	if data == nil {
		return nil, errors.NewError(errors.ErrCodeFetchUnavailable, "source returned no data").
			WithComponent("field").
			WithOperation("fetch").
			WithContext("field", f.id)
	}
	if err := checkBuffer(f.meta.Shape, data); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetchUnavailable, err, "source returned data of the wrong shape").
			WithComponent("field").
			WithOperation("fetch").
			WithContext("field", f.id)
	}
	return data, nil
}

// populateLocked installs data as the buffer, derives ranges and the spill policy from it and
// spills if the policy says so. The caller holds f.mu and f is a root.
func (f *Field) populateLocked(data [][]float32) {
	f.setBufferLocked(data)
	f.own.written = false

	if f.ranges == nil {
		f.ranges = ComputeRanges(data)
	}
	if !f.shouldCache {
		f.shouldCache = maxLength(data) > f.mgr.CacheThreshold()
	}
	f.checkCacheLocked()
}

// checkCacheLocked spills and evicts the buffer when the policy asks for it. Without a cache
// directory, or when the write fails, the buffer stays resident and the next call tries again.
// The caller holds f.mu and f is a root.
func (f *Field) checkCacheLocked() {
	o := f.own
	if !f.shouldCache || o.buffer == nil {
		return
	}

	store := f.mgr.spillStore()
	if store == nil {
		if !f.warnedNoDir {
			f.warnedNoDir = true
			f.logger.Warn("no cache directory configured, keeping field in memory")
		}
		return
	}

	if o.path == "" {
		o.path = store.NewPath()
	}
	if !o.written || !cache.Exists(o.path) {
		start := time.Now()
		size, err := store.Write(o.path, o.buffer)
		f.mgr.recorder.RecordSpill(size, time.Since(start), err)
		if err != nil {
			f.lastErr = err
			if !f.warnedWrite {
				f.warnedWrite = true
				f.logger.WithError(err).Warn("unable to spill field, keeping it in memory")
			}
			return
		}
		o.written = true
	}
	f.clearBufferLocked()
}

func (f *Field) readSpill(path string) ([][]float32, error) {
	if store := f.mgr.spillStore(); store != nil {
		return store.Read(path)
	}
	return cache.ReadFile(path)
}

func (f *Field) setBufferLocked(data [][]float32) {
	n := elementCount(data)
	f.mgr.recorder.AddResidentElements(n - f.resident)
	f.resident = n
	f.own.buffer = data
}

func (f *Field) clearBufferLocked() {
	f.mgr.recorder.AddResidentElements(-f.resident)
	f.resident = 0
	f.own.buffer = nil
}

func maxLength(data [][]float32) int {
	n := 0
	for _, c := range data {
		if len(c) > n {
			n = len(c)
		}
	}
	return n
}

func elementCount(data [][]float32) int64 {
	var n int64
	for _, c := range data {
		n += int64(len(c))
	}
	return n
}
