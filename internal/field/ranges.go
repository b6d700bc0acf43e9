package field

import (
	"context"

	"github.com/fieldcache/fieldcache/pkg/types"
)

// ComputeRanges scans every component for its minimum and maximum. NaN compares false against
// everything, so it never becomes a bound; a component with no comparable values gets
// types.EmptyRange.
func ComputeRanges(data [][]float32) []types.Range {
	if data == nil {
		return nil
	}
	ranges := make([]types.Range, len(data))
	for c, comp := range data {
		r := types.EmptyRange()
		for _, v := range comp {
			if r.Max < v {
				r.Max = v
			}
			if v < r.Min {
				r.Min = v
			}
		}
		ranges[c] = r
	}
	return ranges
}

// GetRanges returns per-component ranges. force discards externally supplied sample ranges.
// Otherwise computed ranges win, then sample ranges, and only then is the buffer scanned.
// Returns nil when no data can be obtained.
func (f *Field) GetRanges(ctx context.Context, force bool) []types.Range {
	f.syncRanges()

	f.mu.Lock()
	if force {
		f.sampleRanges = nil
	}
	if f.ranges != nil {
		r := cloneRanges(f.ranges)
		f.mu.Unlock()
		return r
	}
	if f.sampleRanges != nil {
		r := cloneRanges(f.sampleRanges)
		f.mu.Unlock()
		return r
	}
	f.mu.Unlock()

	data := f.GetBuffer(ctx, false)
	if data == nil {
		return nil
	}
	// Populating the root computes its ranges; only scan when it did not.
	ranges, generation := f.root().rangeState()
	if ranges == nil {
		ranges = ComputeRanges(data)
	}

	f.mu.Lock()
	if f.generation == generation {
		f.ranges = ranges
		f.sampleRanges = nil
	}
	f.mu.Unlock()
	return cloneRanges(ranges)
}

// SetSampleRanges supplies approximate ranges, used only until ranges are computed.
func (f *Field) SetSampleRanges(ranges []types.Range) {
	f.syncRanges()
	f.mu.Lock()
	f.sampleRanges = cloneRanges(ranges)
	f.mu.Unlock()
}

// ClearCachedRanges forgets computed and sample ranges so the next GetRanges rescans the data.
func (f *Field) ClearCachedRanges() {
	f.mu.Lock()
	f.ranges = nil
	f.sampleRanges = nil
	f.mu.Unlock()
}

// rangeState returns a copy of the computed ranges and the data generation. f is a root.
func (f *Field) rangeState() ([]types.Range, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneRanges(f.ranges), f.generation
}

// syncRanges drops a view's ranges once its root has been given new data. The root's lock is
// released before the view's is taken.
func (f *Field) syncRanges() {
	if f.parent == nil {
		return
	}
	_, generation := f.parent.rangeState()

	f.mu.Lock()
	if f.generation != generation {
		f.ranges = nil
		f.sampleRanges = nil
		f.generation = generation
	}
	f.mu.Unlock()
}

func cloneRanges(r []types.Range) []types.Range {
	if r == nil {
		return nil
	}
	return append([]types.Range(nil), r...)
}
