package imagery

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// Bands selects how pixels become components.
type Bands string

const (
	// Gray yields one luminance component.
	Gray Bands = "gray"
	// RGB yields red, green and blue components.
	RGB Bands = "rgb"
)

// ParseBands parses "gray" or "rgb".
func ParseBands(s string) (Bands, error) {
	switch Bands(strings.ToLower(s)) {
	case Gray, "":
		return Gray, nil
	case RGB:
		return RGB, nil
	}
	return "", errors.Newf(errors.ErrCodeInvalidArgument, "unknown band selection %q", s).
		WithComponent("imagery")
}

// Components returns the number of components b produces.
func (b Bands) Components() int {
	if b == RGB {
		return 3
	}
	return 1
}

// DecodeOptions controls Decode.
type DecodeOptions struct {
	// ScaleFactor shrinks both axes by this factor. Values below 2 keep the original size.
	ScaleFactor int
	Bands       Bands
}

// Probe reads the image header and returns the shape Decode would produce.
func Probe(data []byte, opts DecodeOptions) (types.Shape, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return types.Shape{}, "", errors.Wrap(errors.ErrCodeDecodeFailed, err, "unrecognized image").
			WithComponent("imagery")
	}
	w, h := scaled(cfg.Width, opts.ScaleFactor), scaled(cfg.Height, opts.ScaleFactor)
	return types.NewShape(opts.Bands.Components(), h, w), format, nil
}

// Decode turns encoded image bytes into a component-major array with shape
// components x height x width. Pixel values are 8-bit intensities in [0, 255].
func Decode(data []byte, opts DecodeOptions) (types.Shape, [][]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return types.Shape{}, nil, errors.Wrap(errors.ErrCodeDecodeFailed, err, "failed to decode image").
			WithComponent("imagery")
	}

	if opts.ScaleFactor > 1 {
		img = downsample(img, opts.ScaleFactor)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return types.Shape{}, nil, errors.NewError(errors.ErrCodeDecodeFailed, "image has no pixels").
			WithComponent("imagery")
	}

	shape := types.NewShape(opts.Bands.Components(), h, w)
	out := make([][]float32, shape.Components)
	for c := range out {
		out[c] = make([]float32, w*h)
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			px := img.At(x, y)
			switch opts.Bands {
			case RGB:
				r, g, bl, _ := px.RGBA()
				out[0][i] = float32(r >> 8)
				out[1][i] = float32(g >> 8)
				out[2][i] = float32(bl >> 8)
			default:
				out[0][i] = float32(color.GrayModel.Convert(px).(color.Gray).Y)
			}
			i++
		}
	}
	return shape, out, nil
}

func downsample(img image.Image, factor int) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, scaled(b.Dx(), factor), scaled(b.Dy(), factor)))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func scaled(n, factor int) int {
	if factor <= 1 {
		return n
	}
	if n = n / factor; n < 1 {
		return 1
	}
	return n
}
