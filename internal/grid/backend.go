package grid

import (
	"context"
)

// Backend reads gridded variables from a data set. Implementations need not be safe for
// concurrent use; Source serializes every read against one backend through its lock.
type Backend interface {
	// Name identifies the underlying data set. Backends with the same name share a lock.
	Name() string

	// Variables lists the readable variables.
	Variables() []string

	// Layout describes a variable's dimensions.
	Layout(variable string) (Layout, error)

	// ReadVolume returns the variable's values at one time index with the time axis removed.
	ReadVolume(ctx context.Context, variable string, timeIndex int) (*Volume, error)

	// Label describes a time index for display, for example "6 hours since 2020-01-01".
	Label(timeIndex int) (string, error)

	Close() error
}

// Layout is the dimension structure of one variable.
type Layout struct {
	Variable string   `json:"variable"`
	Dims     []string `json:"dims"`
	Lengths  []int    `json:"lengths"`
	Units    string   `json:"units,omitempty"`
	// TimeAxis is the index of the time dimension in Dims, or -1 for a time-invariant variable.
	TimeAxis int `json:"time_axis"`
}

// Times returns the number of time steps. A time-invariant variable has one.
func (l Layout) Times() int {
	if l.TimeAxis < 0 {
		return 1
	}
	return l.Lengths[l.TimeAxis]
}

// Spatial returns the dimensions and lengths other than time.
func (l Layout) Spatial() ([]string, []int) {
	dims := make([]string, 0, len(l.Dims))
	lengths := make([]int, 0, len(l.Lengths))
	for i := range l.Dims {
		if i == l.TimeAxis {
			continue
		}
		dims = append(dims, l.Dims[i])
		lengths = append(lengths, l.Lengths[i])
	}
	return dims, lengths
}

// Volume is a row-major block of values for one time step.
type Volume struct {
	Dims    []string
	Lengths []int
	Data    []float32
}
