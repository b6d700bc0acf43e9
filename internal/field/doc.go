/*
Package field implements cached fields: numeric arrays that populate lazily from a Source, spill
to disk once they grow past a threshold, and reload on demand.

A Field is a root or a view. A root owns its buffer and its spill file:

	            fetch                 spill
	  EMPTY ───────────► RESIDENT ──────────► EVICTED
	    ▲   (no data)       ▲                    │
	    └───────┘           └────── reload ──────┘

A view is created by CloneWithMetadata without copying. It has its own metadata and ranges but
reads every sample through its root, under the root's mutex, so the two never race to spill or
evict the same array. Views of views collapse onto the root.

Every field is bound to a Manager at construction. The manager holds the spill directory, the
threshold (the largest component length a field may hold before spilling), the logger and the
metrics Recorder. With no directory configured, fields over the threshold stay in memory.

Data availability problems never surface as errors from reads. A failed fetch or an unreadable
spill file makes GetElement return types.MissingSample and GetBuffer return nil; LastError tells
why. Bad indexes and mismatched shapes are returned as errors.
*/
package field
