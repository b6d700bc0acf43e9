package imagery

import (
	"context"
	"path"
	"strconv"

	"github.com/fieldcache/fieldcache/internal/field"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// Kind is the field kind reported by image-sourced fields.
const Kind = "image"

// Source is the field.Source behind an image field. Every fetch loads and decodes the image
// again, so a field whose spill file is lost, or which is refreshed, sees the current image.
type Source struct {
	mgr      *field.Manager
	loader   *Loader
	location string
	opts     DecodeOptions
}

var _ field.Source = (*Source)(nil)

// NewSource returns a source for the image at location.
func NewSource(mgr *field.Manager, loader *Loader, location string, opts DecodeOptions) *Source {
	if opts.Bands == "" {
		opts.Bands = Gray
	}
	return &Source{mgr: mgr, loader: loader, location: location, opts: opts}
}

// Fetch loads and decodes the image. Any failure means no data.
func (s *Source) Fetch(ctx context.Context) ([][]float32, error) {
	raw, err := s.loader.Load(ctx, s.location)
	if err != nil {
		return nil, err
	}
	_, data, err := Decode(raw, s.opts)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Kind returns "image".
func (s *Source) Kind() string { return Kind }

// CloneWithBuffer returns a field reading the same location.
func (s *Source) CloneWithBuffer(_ types.Shape, buffer [][]float32, meta types.Metadata) (*field.Field, error) {
	return field.New(s.mgr, meta, s, buffer)
}

// Location returns the image location.
func (s *Source) Location() string { return s.location }

// NewField loads the image at location once to learn its shape and returns a field holding the
// decoded data. Fields over the manager's threshold spill straight away.
func NewField(ctx context.Context, mgr *field.Manager, loader *Loader, location string, opts DecodeOptions) (*field.Field, error) {
	if opts.Bands == "" {
		opts.Bands = Gray
	}
	raw, err := loader.Load(ctx, location)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetchUnavailable, err, "failed to load image").
			WithComponent("imagery").
			WithContext("location", location)
	}
	_, format, err := Probe(raw, opts)
	if err != nil {
		return nil, err
	}
	shape, data, err := Decode(raw, opts)
	if err != nil {
		return nil, err
	}

	units := make([]string, shape.Components)
	for i := range units {
		units[i] = "intensity"
	}
	meta := types.Metadata{
		Name:  path.Base(location),
		Units: units,
		Shape: shape,
		Attributes: map[string]string{
			"location": location,
			"format":   format,
			"bands":    string(opts.Bands),
			"height":   strconv.Itoa(shape.Lengths[0]),
			"width":    strconv.Itoa(shape.Lengths[1]),
		},
	}
	return field.New(mgr, meta, NewSource(mgr, loader, location, opts), data)
}
