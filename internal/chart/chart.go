package chart

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"

	"github.com/paulmach/orb"
	"golang.org/x/image/tiff"
)

var ErrUnsupportedRaster = errors.New("unsupported raster layout, want 8-bit paletted or gray")

// Bounds is an extent in the chart's native projection units.
type Bounds struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

func (b Bounds) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Chart is a decoded georeferenced raster. It is immutable once built.
type Chart struct {
	ID         string
	Name       string
	Path       string
	Bounds     Bounds
	Width      int
	Height     int
	Palette    []color.NRGBA // nil for gray rasters
	Projection Projection
	// Coverage is the lon/lat bound of the raster extent.
	Coverage orb.Bound

	pix    []uint8
	stride int
}

// New builds a chart over an 8-bit single-band sample buffer.
func New(id, name string, pix []uint8, stride, width, height int, palette []color.NRGBA, bounds Bounds, proj Projection) (*Chart, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid raster dimensions %dx%d", width, height)
	}
	if stride < width || len(pix) < stride*(height-1)+width {
		return nil, fmt.Errorf("raster buffer too small for %dx%d", width, height)
	}
	if bounds.MaxX <= bounds.MinX || bounds.MaxY <= bounds.MinY {
		return nil, fmt.Errorf("empty chart bounds %+v", bounds)
	}

	c := &Chart{
		ID:         id,
		Name:       name,
		Bounds:     bounds,
		Width:      width,
		Height:     height,
		Palette:    palette,
		Projection: proj,
		pix:        pix,
		stride:     stride,
	}
	c.Coverage = c.coverage()

	return c, nil
}

// Decode reads a GeoTIFF chart from disk.
func Decode(id, name, path string) (*Chart, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tags, err := readGeoTags(f)
	if err != nil {
		return nil, err
	}

	bounds, err := tags.bounds()
	if err != nil {
		return nil, err
	}

	proj, err := tags.projection()
	if err != nil {
		return nil, err
	}

	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode raster: %w", err)
	}

	var (
		pix     []uint8
		stride  int
		palette []color.NRGBA
		rect    image.Rectangle
	)
	switch m := img.(type) {
	case *image.Paletted:
		pix, stride, rect = m.Pix, m.Stride, m.Rect
		palette = make([]color.NRGBA, len(m.Palette))
		for i, c := range m.Palette {
			palette[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
		}
	case *image.Gray:
		pix, stride, rect = m.Pix, m.Stride, m.Rect
	default:
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedRaster, img)
	}

	c, err := New(id, name, pix, stride, rect.Dx(), rect.Dy(), palette, bounds, proj)
	if err != nil {
		return nil, err
	}
	c.Path = path

	return c, nil
}

// Lookup resolves the color under a geographic coordinate. ok is false
// outside the chart extent, outside the raster, or without a palette entry.
func (c *Chart) Lookup(lon, lat float64) (color.NRGBA, bool) {
	x, y := c.Projection.Forward(lon, lat)
	if math.IsNaN(x) || math.IsNaN(y) || !c.Bounds.Contains(x, y) {
		return color.NRGBA{}, false
	}

	col := int((x - c.Bounds.MinX) / (c.Bounds.MaxX - c.Bounds.MinX) * float64(c.Width))
	row := int((c.Bounds.MaxY - y) / (c.Bounds.MaxY - c.Bounds.MinY) * float64(c.Height))
	if col < 0 || col >= c.Width || row < 0 || row >= c.Height {
		return color.NRGBA{}, false
	}

	v := c.pix[row*c.stride+col]
	if c.Palette == nil {
		return color.NRGBA{R: v, G: v, B: v, A: 0xff}, true
	}
	if int(v) >= len(c.Palette) {
		return color.NRGBA{}, false
	}
	return c.Palette[v], true
}

const coverageSamples = 64

// coverage inverse-projects the native extent edges. Extremes of a
// continuous bijection over a rectangle lie on its boundary, so sampling
// the edges bounds the whole raster.
func (c *Chart) coverage() orb.Bound {
	b := c.Bounds
	var bound orb.Bound
	first := true

	add := func(x, y float64) {
		lon, lat := c.Projection.Inverse(x, y)
		if math.IsNaN(lon) || math.IsNaN(lat) {
			return
		}
		p := orb.Point{lon, lat}
		if first {
			bound = orb.Bound{Min: p, Max: p}
			first = false
			return
		}
		bound = bound.Extend(p)
	}

	for i := 0; i <= coverageSamples; i++ {
		f := float64(i) / coverageSamples
		x := b.MinX + f*(b.MaxX-b.MinX)
		y := b.MinY + f*(b.MaxY-b.MinY)
		add(x, b.MinY)
		add(x, b.MaxY)
		add(b.MinX, y)
		add(b.MaxX, y)
	}

	// pad for the curvature between samples
	return bound.Pad(math.Max(bound.Max.Lon()-bound.Min.Lon(), bound.Max.Lat()-bound.Min.Lat()) * 0.01)
}
