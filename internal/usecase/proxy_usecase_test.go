package usecase

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/registry"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProxyConfig = ProxyConfig{
	Timeout:           500 * time.Millisecond,
	UserAgent:         "Mozilla/5.0 test",
	MaxAgeBase:        7 * 24 * time.Hour,
	MaxAgeOverlay:     24 * time.Hour,
	MaxAgePlaceholder: time.Hour,
}

func parseRegistry(t *testing.T, yaml string) *registry.Registry {
	t.Helper()
	v := validator.New()
	require.NoError(t, registry.RegisterValidations(v))
	r, err := registry.Parse([]byte(yaml), v)
	require.NoError(t, err)
	return r
}

type upstream struct {
	*httptest.Server
	hits      atomic.Int64
	lastPath  atomic.Value
	lastAgent atomic.Value
	lastRef   atomic.Value
}

var fakeTile = []byte("\x89PNG\r\n\x1a\nfake tile bytes")

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.lastPath.Store(r.URL.Path)
		u.lastAgent.Store(r.UserAgent())
		u.lastRef.Store(r.Referer())

		switch {
		case r.URL.Path == "/html/1/0/0.png":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>blocked</html>"))
		case r.URL.Path == "/missing/1/0/0.png":
			http.NotFound(w, r)
		case r.URL.Path == "/slow/1/0/0.png":
			time.Sleep(2 * time.Second)
			w.Header().Set("Content-Type", "image/png")
			w.Write(fakeTile)
		default:
			w.Header().Set("Content-Type", "image/png")
			w.Write(fakeTile)
		}
	}))
	t.Cleanup(u.Close)
	return u
}

func newTestProxy(t *testing.T, u *upstream) (*ProxyUseCase, *memCache) {
	t.Helper()

	base := "http://127.0.0.1:1"
	if u != nil {
		base = u.URL
	}

	r := parseRegistry(t, `
defaultLayer: osm
layers:
  - id: osm
    url: `+base+`/osm/{z}/{x}/{y}.png
    class: base
  - id: vfr-terminal
    url: `+base+`/vfr/{z}/{x}/{y}.png
    class: overlay
    cacheable: true
    referer: https://charts.example.com/
  - id: tms
    url: `+base+`/tms/{z}/{x}/{y}.png
    tms: true
    cacheable: true
    maxAge: 5m
  - id: html
    url: `+base+`/html/{z}/{x}/{y}.png
    cacheable: true
  - id: missing
    url: `+base+`/missing/{z}/{x}/{y}.png
    cacheable: true
  - id: slow
    url: `+base+`/slow/{z}/{x}/{y}.png
    cacheable: true
`)

	c := newMemCache()
	return NewProxyUseCase(r, c, syncPersister{cache: c}, testProxyConfig, logger.NewNoop()), c
}

func TestProxyUseCase_UnknownLayer(t *testing.T) {
	uc, _ := newTestProxy(t, nil)

	_, err := uc.GetTile(context.Background(), "unknown-layer", 5, 1, 1)
	assert.ErrorIs(t, err, ErrUnknownLayer)
}

func TestProxyUseCase_InvalidTile(t *testing.T) {
	uc, _ := newTestProxy(t, nil)

	_, err := uc.GetTile(context.Background(), "osm", 2, 4, 0)
	assert.ErrorIs(t, err, ErrInvalidTile)
}

func TestProxyUseCase_NoNetworkServesPlaceholder(t *testing.T) {
	uc, c := newTestProxy(t, nil)

	res, err := uc.GetTile(context.Background(), "vfr-terminal", 10, 260, 380)
	require.NoError(t, err)

	assert.Equal(t, SourcePlaceholder, res.Source)
	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, TransparentPNG, res.Data)
	assert.Equal(t, time.Hour, res.MaxAge)
	assert.Zero(t, c.count(), "placeholders are never cached")
}

func TestProxyUseCase_CacheableLayer(t *testing.T) {
	u := newUpstream(t)
	uc, c := newTestProxy(t, u)
	ctx := context.Background()

	first, err := uc.GetTile(ctx, "vfr-terminal", 3, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, first.Source)
	assert.Equal(t, fakeTile, first.Data)
	assert.Equal(t, "image/png", first.ContentType)
	assert.Equal(t, 24*time.Hour, first.MaxAge)

	assert.Equal(t, "/vfr/3/2/1.png", u.lastPath.Load())
	assert.Equal(t, "Mozilla/5.0 test", u.lastAgent.Load())
	assert.Equal(t, "https://charts.example.com/", u.lastRef.Load())

	k := cache.TileKey{Namespace: "vfr-terminal", Z: 3, X: 2, Y: 1}
	meta := c.metas[k]
	assert.Equal(t, u.URL+"/vfr/3/2/1.png", meta.SourceURL)

	second, err := uc.GetTile(ctx, "vfr-terminal", 3, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, int64(1), u.hits.Load())
}

func TestProxyUseCase_BaseLayerIsNotCached(t *testing.T) {
	u := newUpstream(t)
	uc, c := newTestProxy(t, u)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := uc.GetTile(ctx, "osm", 1, 1, 0)
		require.NoError(t, err)
		assert.Equal(t, SourceUpstream, res.Source)
		assert.Equal(t, 7*24*time.Hour, res.MaxAge)
	}

	assert.Equal(t, int64(2), u.hits.Load())
	assert.Zero(t, c.count())
}

func TestProxyUseCase_TMSFlipsRows(t *testing.T) {
	u := newUpstream(t)
	uc, _ := newTestProxy(t, u)

	res, err := uc.GetTile(context.Background(), "tms", 3, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, "/tms/3/2/6.png", u.lastPath.Load())
	assert.Equal(t, 5*time.Minute, res.MaxAge)
}

func TestProxyUseCase_UpstreamFailures(t *testing.T) {
	u := newUpstream(t)
	uc, c := newTestProxy(t, u)

	for _, layer := range []string{"html", "missing", "slow"} {
		t.Run(layer, func(t *testing.T) {
			start := time.Now()
			res, err := uc.GetTile(context.Background(), layer, 1, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, SourcePlaceholder, res.Source)
			assert.Equal(t, TransparentPNG, res.Data)
			assert.Less(t, time.Since(start), 2*time.Second)
		})
	}

	assert.Zero(t, c.count())
}

func TestTransparentPNG(t *testing.T) {
	img, err := png.Decode(bytes.NewReader(TransparentPNG))
	require.NoError(t, err)

	assert.Equal(t, 1, img.Bounds().Dx())
	assert.Equal(t, 1, img.Bounds().Dy())
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Zero(t, a)
}
