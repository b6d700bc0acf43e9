/*
Package types defines the value types shared by the fieldcache packages.

A field is a numeric array laid out component-major: data[c][i] is component c of sample i.
Shape describes that layout, Metadata carries the opaque description that travels with a field
through clones, and Sample and Range are what readers get back.

	┌──────────────┐   Fetch    ┌──────────────────┐
	│ grid / image │ ─────────► │   field.Field    │ ──► Sample, Range
	│   sources    │            │ (resident/spill) │
	└──────────────┘            └────────┬─────────┘
	                                     │ spill / reload
	                             ┌───────▼────────┐
	                             │  cache.Store   │
	                             └────────────────┘

Missing data is a value, not an error: MissingSample returns the sentinel a read produces when
neither memory, disk nor the source can supply the element.
*/
package types
