package grid

import (
	"github.com/fieldcache/fieldcache/pkg/errors"
)

// SliceToShape fits a volume to the spatial lengths a field declares. A volume with the same rank
// is returned as is. A volume with exactly one extra dimension is sliced at index 0 along that
// dimension: the first axis whose length is not one of the declared lengths, or the leading
// axis when every length matches.
func SliceToShape(vol *Volume, lengths []int) ([]float32, error) {
	want := 1
	for _, l := range lengths {
		want *= l
	}

	data := vol.Data
	switch len(vol.Lengths) {
	case len(lengths):
	case len(lengths) + 1:
		data = sliceAxis(vol.Data, vol.Lengths, extraAxis(vol.Lengths, lengths), 0)
	default:
		return nil, errors.Newf(errors.ErrCodeShapeMismatch,
			"volume of rank %d cannot fill a field of rank %d", len(vol.Lengths), len(lengths)).
			WithComponent("grid")
	}

	if len(data) != want {
		return nil, errors.Newf(errors.ErrCodeShapeMismatch,
			"volume %v holds %d values, field needs %d", vol.Lengths, len(data), want).
			WithComponent("grid")
	}
	return data, nil
}

func extraAxis(have, declared []int) int {
	for i, l := range have {
		found := false
		for _, d := range declared {
			if l == d {
				found = true
				break
			}
		}
		if !found {
			return i
		}
	}
	return 0
}

// sliceAxis returns the row-major values at position index along axis.
func sliceAxis(data []float32, lengths []int, axis, index int) []float32 {
	outer, inner := 1, 1
	for i, l := range lengths {
		switch {
		case i < axis:
			outer *= l
		case i > axis:
			inner *= l
		}
	}
	n := lengths[axis]
	if len(data) < outer*n*inner {
		return nil
	}

	out := make([]float32, 0, outer*inner)
	for o := 0; o < outer; o++ {
		start := (o*n + index) * inner
		out = append(out, data[start:start+inner]...)
	}
	return out
}
