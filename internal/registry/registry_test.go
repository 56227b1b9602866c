package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRegistry = `
defaultLayer: osm
layers:
  - id: osm
    url: https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png
    subdomains: [a, b, c]
  - id: vfr-terminal
    url: https://tiles.example.com/vfr-terminal/{z}/{x}/{y}{r}.png
    class: overlay
    cacheable: true
    retina: true
    maxAge: 12h
  - id: tms-overlay
    url: https://tms.example.com/{z}/{x}/{y}.png
    class: overlay
    tms: true
charts:
  - id: sectional-seattle
    name: Seattle Sectional
    path: /data/charts/seattle.tif
`

func newValidator(t *testing.T) *validator.Validate {
	t.Helper()
	v := validator.New()
	require.NoError(t, RegisterValidations(v))
	return v
}

func TestParse(t *testing.T) {
	r, err := Parse([]byte(sampleRegistry), newValidator(t))
	require.NoError(t, err)

	assert.Equal(t, "osm", r.DefaultLayer)
	require.Len(t, r.Layers, 3)
	require.Len(t, r.Charts, 1)

	osm, ok := r.Layer("osm")
	require.True(t, ok)
	assert.Equal(t, ClassBase, osm.Class, "class defaults to base")
	assert.False(t, osm.Cacheable)

	vfr, ok := r.Layer("vfr-terminal")
	require.True(t, ok)
	assert.Equal(t, ClassOverlay, vfr.Class)
	assert.True(t, vfr.Cacheable)
	assert.Equal(t, 12*time.Hour, vfr.MaxAge)

	_, ok = r.Layer("missing")
	assert.False(t, ok)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "duplicate id across layers and charts",
			yaml: `
layers:
  - id: a
    url: https://x/{z}/{x}/{y}
charts:
  - id: a
    path: /tmp/a.tif
`,
		},
		{
			name: "reserved id",
			yaml: `
charts:
  - id: cache
    path: /tmp/a.tif
`,
		},
		{
			name: "path separator in id",
			yaml: `
layers:
  - id: ../etc
    url: https://x/{z}/{x}/{y}
`,
		},
		{
			name: "unknown class",
			yaml: `
layers:
  - id: a
    url: https://x/{z}/{x}/{y}
    class: hybrid
`,
		},
		{
			name: "missing url",
			yaml: `
layers:
  - id: a
`,
		},
		{
			name: "unknown default layer",
			yaml: `
defaultLayer: nope
layers:
  - id: a
    url: https://x/{z}/{x}/{y}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), newValidator(t))
			assert.Error(t, err)
		})
	}
}

func TestTileURL(t *testing.T) {
	tests := []struct {
		name    string
		layer   Layer
		z, x, y int
		want    string
	}{
		{
			name:  "xyz",
			layer: Layer{URL: "https://t/{z}/{x}/{y}.png"},
			z:     10, x: 260, y: 380,
			want: "https://t/10/260/380.png",
		},
		{
			name:  "tms flips y",
			layer: Layer{URL: "https://t/{z}/{x}/{y}.png", TMS: true},
			z:     10, x: 260, y: 380,
			want: "https://t/10/260/643.png",
		},
		{
			name:  "explicit flipped token",
			layer: Layer{URL: "https://t/{z}/{x}/{-y}.png"},
			z:     2, x: 1, y: 0,
			want: "https://t/2/1/3.png",
		},
		{
			name:  "subdomain and retina",
			layer: Layer{URL: "https://{s}.t/{z}/{x}/{y}{r}.png", Subdomains: []string{"a", "b", "c"}, Retina: true},
			z:     3, x: 1, y: 1,
			want: "https://c.t/3/1/1@2x.png",
		},
		{
			name:  "arcgis row/column order",
			layer: Layer{URL: "https://t/tile/{z}/{y}/{x}"},
			z:     5, x: 7, y: 11,
			want: "https://t/tile/5/11/7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.layer.TileURL(tt.z, tt.x, tt.y))
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRegistry), 0o644))

	r, err := Load(path, newValidator(t))
	require.NoError(t, err)
	assert.Equal(t, "sectional-seattle", r.Charts[0].ID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), newValidator(t))
	assert.Error(t, err)
}

func TestLoadExampleRegistry(t *testing.T) {
	r, err := Load(filepath.Join("..", "..", "config", "registry.example.yaml"), newValidator(t))
	require.NoError(t, err)

	assert.Equal(t, "osm", r.DefaultLayer)
	assert.Len(t, r.Charts, 2)

	l, ok := r.Layer("ifr-low")
	require.True(t, ok)
	assert.True(t, l.TMS)
	assert.Equal(t, 12*time.Hour, l.MaxAge)
}
