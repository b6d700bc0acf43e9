package grid

import (
	"context"
	stderr "errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ctessum/cdf"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/fieldcache/fieldcache/pkg/errors"
)

// NetCDFBackend reads variables from a netCDF classic file.
type NetCDFBackend struct {
	path    string
	file    *os.File
	cdf     *cdf.File
	size    int64
	timeDim string
	logger  *logrus.Entry
}

var _ Backend = (*NetCDFBackend)(nil)

// OpenNetCDF opens path for reading. timeDim names the time dimension when the file has no
// record dimension; the record dimension is always treated as time.
func OpenNetCDF(path, timeDim string, logger *logrus.Entry) (*NetCDFBackend, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	file, err := os.Open(abs)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeObjectNotFound, err, "failed to open netCDF file").
			WithComponent("grid").
			WithContext("path", abs)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", abs, err)
	}

	cf, err := cdf.Open(file)
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrap(errors.ErrCodeDecodeFailed, err, "not a netCDF classic file").
			WithComponent("grid").
			WithContext("path", abs)
	}

	b := &NetCDFBackend{
		path:    abs,
		file:    file,
		cdf:     cf,
		size:    info.Size(),
		timeDim: timeDim,
		logger:  logger.WithFields(logrus.Fields{"component": "grid", "backend": abs}),
	}
	b.logger.WithFields(logrus.Fields{
		"variables": len(cf.Header.Variables()),
		"size":      humanize.Bytes(uint64(info.Size())),
		"records":   cf.Header.NumRecs(info.Size()),
	}).Debug("opened netCDF file")
	return b, nil
}

// Name returns the file's absolute path.
func (b *NetCDFBackend) Name() string { return "netcdf:" + b.path }

// Variables lists the file's variables in header order.
func (b *NetCDFBackend) Variables() []string { return b.cdf.Header.Variables() }

// Layout describes variable. For a record variable the record count is taken from the file size.
func (b *NetCDFBackend) Layout(variable string) (Layout, error) {
	if !b.has(variable) {
		return Layout{}, errors.Newf(errors.ErrCodeInvalidArgument, "no variable %q", variable).
			WithComponent("grid").
			WithContext("path", b.path)
	}

	h := b.cdf.Header
	layout := Layout{
		Variable: variable,
		Dims:     h.Dimensions(variable),
		Lengths:  h.Lengths(variable),
		TimeAxis: -1,
	}
	if h.IsRecordVariable(variable) {
		layout.Lengths[0] = int(h.NumRecs(b.size))
		layout.TimeAxis = 0
	} else if len(layout.Dims) > 0 && b.timeDim != "" && layout.Dims[0] == b.timeDim {
		layout.TimeAxis = 0
	}
	if units, ok := h.GetAttribute(variable, "units").(string); ok {
		layout.Units = units
	}
	return layout, nil
}

// ReadVolume reads one time step of variable, unpacking scale_factor and add_offset and turning
// fill values into NaN.
func (b *NetCDFBackend) ReadVolume(ctx context.Context, variable string, timeIndex int) (*Volume, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	layout, err := b.Layout(variable)
	if err != nil {
		return nil, err
	}
	if timeIndex < 0 || timeIndex >= layout.Times() {
		return nil, errors.Newf(errors.ErrCodeIndexOutOfRange,
			"time index %d out of range [0, %d)", timeIndex, layout.Times()).
			WithComponent("grid").
			WithContext("variable", variable)
	}

	raw, err := b.read(variable, layout, timeIndex)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackendRead, err, "failed to read variable").
			WithComponent("grid").
			WithOperation("read_volume").
			WithContext("path", b.path).
			WithContext("variable", variable)
	}

	data, err := toFloat32(raw)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDecodeFailed, err, "unsupported variable type").
			WithComponent("grid").
			WithContext("variable", variable)
	}
	b.unpack(variable, data)

	dims, lengths := layout.Spatial()
	return &Volume{Dims: dims, Lengths: lengths, Data: data}, nil
}

func (b *NetCDFBackend) read(variable string, layout Layout, timeIndex int) (interface{}, error) {
	var begin, end []int
	count := 1
	if n := len(layout.Lengths); n > 0 {
		begin = make([]int, n)
		end = make([]int, n)
		for i, l := range layout.Lengths {
			if i == layout.TimeAxis {
				begin[i], end[i] = timeIndex, timeIndex
				continue
			}
			end[i] = l - 1
			count *= l
		}
	}

	r := b.cdf.Reader(variable, begin, end)
	if r == nil {
		return nil, fmt.Errorf("no reader for %q", variable)
	}
	buf := r.Zero(count)
	n, err := r.Read(buf)
	if err != nil && !(stderr.Is(err, io.EOF) && n == count) {
		return nil, err
	}
	if n != count {
		return nil, fmt.Errorf("short read: %d of %d values", n, count)
	}
	return buf, nil
}

// unpack applies the CF packing attributes in place.
func (b *NetCDFBackend) unpack(variable string, data []float32) {
	fill, hasFill := b.attrFloat(variable, "_FillValue")
	missing, hasMissing := b.attrFloat(variable, "missing_value")
	scale, hasScale := b.attrFloat(variable, "scale_factor")
	offset, hasOffset := b.attrFloat(variable, "add_offset")
	if !hasFill && !hasMissing && !hasScale && !hasOffset {
		return
	}
	if !hasScale {
		scale = 1
	}

	nan := float32(math.NaN())
	for i, v := range data {
		raw := float64(v)
		if (hasFill && raw == fill) || (hasMissing && raw == missing) {
			data[i] = nan
			continue
		}
		data[i] = float32(raw*scale + offset)
	}
}

func (b *NetCDFBackend) attrFloat(variable, name string) (float64, bool) {
	switch v := b.cdf.Header.GetAttribute(variable, name).(type) {
	case []float32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	case []int32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []int16:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []uint8:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	}
	return 0, false
}

// Label formats the time coordinate at timeIndex with its units. Without a time coordinate
// variable the label is the index itself.
func (b *NetCDFBackend) Label(timeIndex int) (string, error) {
	if b.timeDim == "" || !b.has(b.timeDim) {
		return "t=" + strconv.Itoa(timeIndex), nil
	}
	vol, err := b.ReadVolume(context.Background(), b.timeDim, timeIndex)
	if err != nil {
		return "", err
	}
	if len(vol.Data) != 1 {
		return "", errors.Newf(errors.ErrCodeShapeMismatch, "time coordinate %q is not one-dimensional", b.timeDim).
			WithComponent("grid")
	}

	label := strconv.FormatFloat(float64(vol.Data[0]), 'g', -1, 32)
	if units, ok := b.cdf.Header.GetAttribute(b.timeDim, "units").(string); ok && units != "" {
		label += " " + units
	}
	return label, nil
}

// Close releases the file.
func (b *NetCDFBackend) Close() error {
	return b.file.Close()
}

func (b *NetCDFBackend) has(variable string) bool {
	for _, v := range b.cdf.Header.Variables() {
		if v == variable {
			return true
		}
	}
	return false
}

func toFloat32(raw interface{}) ([]float32, error) {
	switch v := raw.(type) {
	case []float32:
		return v, nil
	case []float64:
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return out, nil
	case []int32:
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return out, nil
	case []int16:
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return out, nil
	case []uint8:
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to float32", raw)
	}
}
