package types

import (
	"fmt"
	"math"
	"time"
)

// Shape describes the index space of a field: the number of numeric components carried by each
// sample and the lengths of the domain dimensions. A 2-D grid of temperatures has one component
// and two lengths; an RGB image has three components.
type Shape struct {
	Components int   `json:"components" yaml:"components"`
	Lengths    []int `json:"lengths" yaml:"lengths"`
}

// NewShape returns a shape with the given component count and domain lengths.
func NewShape(components int, lengths ...int) Shape {
	return Shape{Components: components, Lengths: append([]int(nil), lengths...)}
}

// Samples returns the number of samples in the domain.
func (s Shape) Samples() int {
	if len(s.Lengths) == 0 {
		return 0
	}
	n := 1
	for _, l := range s.Lengths {
		n *= l
	}
	return n
}

// Validate checks that the shape describes a non-empty index space.
func (s Shape) Validate() error {
	if s.Components <= 0 {
		return fmt.Errorf("component count must be positive, got %d", s.Components)
	}
	if len(s.Lengths) == 0 {
		return fmt.Errorf("shape has no domain dimensions")
	}
	for i, l := range s.Lengths {
		if l <= 0 {
			return fmt.Errorf("dimension %d has non-positive length %d", i, l)
		}
	}
	return nil
}

// Compatible reports whether two shapes address the same data layout: equal component and
// sample counts. Domain lengths may be arranged differently.
func (s Shape) Compatible(o Shape) bool {
	return s.Components == o.Components && s.Samples() == o.Samples()
}

// String formats the shape as components x l0 x l1 ...
func (s Shape) String() string {
	str := fmt.Sprintf("%d", s.Components)
	for _, l := range s.Lengths {
		str += fmt.Sprintf("x%d", l)
	}
	return str
}

// Metadata is the opaque description attached to a field. Only Shape is interpreted by the cache.
type Metadata struct {
	Name       string            `json:"name" yaml:"name"`
	Units      []string          `json:"units,omitempty" yaml:"units,omitempty"`
	Shape      Shape             `json:"shape" yaml:"shape"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// WithName returns a copy of m renamed to name.
func (m Metadata) WithName(name string) Metadata {
	c := m.Clone()
	c.Name = name
	return c
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	c := m
	c.Units = append([]string(nil), m.Units...)
	c.Shape.Lengths = append([]int(nil), m.Shape.Lengths...)
	if m.Attributes != nil {
		c.Attributes = make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}

// Sample is one logical element of a field: the value of every component at a single index.
type Sample struct {
	Values  []float32 `json:"values"`
	Missing bool      `json:"missing"`
}

// MissingSample returns the sentinel for an element whose data could not be obtained.
func MissingSample(components int) Sample {
	v := make([]float32, components)
	nan := float32(math.NaN())
	for i := range v {
		v[i] = nan
	}
	return Sample{Values: v, Missing: true}
}

// Range is the minimum and maximum of one component.
type Range struct {
	Min float32 `json:"min"`
	Max float32 `json:"max"`
}

// EmptyRange is the range of a component with no finite values.
func EmptyRange() Range {
	return Range{Min: float32(math.Inf(1)), Max: float32(math.Inf(-1))}
}

// IsEmpty reports whether r covers no values.
func (r Range) IsEmpty() bool {
	return r.Min > r.Max
}

// FieldState is the residency state of a field.
type FieldState string

const (
	StateEmpty    FieldState = "EMPTY"
	StateResident FieldState = "RESIDENT"
	StateEvicted  FieldState = "EVICTED"
	StateView     FieldState = "VIEW"
)

// FieldStats is a diagnostic snapshot of one field.
type FieldStats struct {
	ID               string     `json:"id"`
	Kind             string     `json:"kind"`
	State            FieldState `json:"state"`
	Parent           string     `json:"parent,omitempty"`
	ShouldCache      bool       `json:"should_cache"`
	SpillPath        string     `json:"spill_path,omitempty"`
	ResidentElements int64      `json:"resident_elements"`
	LastError        string     `json:"last_error,omitempty"`
}

// SpillStats summarizes the spill directory.
type SpillStats struct {
	Directory string    `json:"directory"`
	Files     int       `json:"files"`
	Bytes     int64     `json:"bytes"`
	Writes    uint64    `json:"writes"`
	Reads     uint64    `json:"reads"`
	Failures  uint64    `json:"failures"`
	Updated   time.Time `json:"updated"`
}

// ObjectInfo describes a remote object read by a source.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag"`
	ContentType  string    `json:"content_type"`
}
