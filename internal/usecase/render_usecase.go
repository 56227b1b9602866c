package usecase

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/jaennil/guide_helper/backend/tilegateway/internal/chart"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/metrics"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/telemetry"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/tilemath"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

type RenderConfig struct {
	// Concurrency bounds simultaneous reprojections; 0 means NumCPU.
	Concurrency       int
	MaxAge            time.Duration
	MaxAgePlaceholder time.Duration
}

type RenderUseCase struct {
	charts    *chart.Registry
	cache     cache.TileCache
	persister Persister
	sem       *semaphore.Weighted
	cfg       RenderConfig
	logger    logger.Logger
}

func NewRenderUseCase(charts *chart.Registry, c cache.TileCache, p Persister, cfg RenderConfig, l logger.Logger) *RenderUseCase {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}

	return &RenderUseCase{
		charts:    charts,
		cache:     c,
		persister: p,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		cfg:       cfg,
		logger:    l,
	}
}

func (uc *RenderUseCase) Charts() []*chart.Chart {
	return uc.charts.List()
}

// GetTile serves a chart tile from the cache or renders it. Unknown and
// unavailable charts are errors; render failures degrade to the
// transparent placeholder and are never persisted.
func (uc *RenderUseCase) GetTile(ctx context.Context, chartID string, z, x, y int) (TileResult, error) {
	metrics.TileRequests.WithLabelValues("chart").Inc()

	c, err := uc.charts.Get(chartID)
	if err != nil {
		return TileResult{}, fmt.Errorf("%w: %s", err, chartID)
	}
	if !tilemath.Valid(z, x, y) {
		return TileResult{}, ErrInvalidTile
	}

	key := cache.TileKey{Namespace: c.ID, Z: z, X: x, Y: y}

	tile, hit, err := uc.cache.Get(key)
	if err != nil {
		uc.logger.Warn("cache lookup failed, rendering", "key", key.String(), "error", err)
	}
	if hit {
		metrics.CacheHits.WithLabelValues(c.ID).Inc()
		return TileResult{Data: tile.Data, ContentType: tile.ContentType, MaxAge: uc.cfg.MaxAge, Source: SourceCache}, nil
	}
	metrics.CacheMisses.WithLabelValues(c.ID).Inc()

	if !Intersects(c, z, x, y) {
		return TileResult{Data: emptyTilePNG, ContentType: contentTypePNG, MaxAge: uc.cfg.MaxAge, Source: SourceEmpty}, nil
	}

	if err := uc.sem.Acquire(ctx, 1); err != nil {
		metrics.Placeholders.WithLabelValues("render_cancelled").Inc()
		return placeholder(uc.cfg.MaxAgePlaceholder), nil
	}
	data, err := uc.render(ctx, c, z, x, y)
	uc.sem.Release(1)

	if err != nil {
		metrics.Placeholders.WithLabelValues("render").Inc()
		uc.logger.Error("chart render failed, serving placeholder", "chart", c.ID, "z", z, "x", x, "y", y, "error", err)
		return placeholder(uc.cfg.MaxAgePlaceholder), nil
	}

	uc.persister.Enqueue(PersistJob{
		Key:  key,
		Data: data,
		Meta: cache.Meta{ChartID: c.ID, ContentType: contentTypePNG},
	})

	return TileResult{Data: data, ContentType: contentTypePNG, MaxAge: uc.cfg.MaxAge, Source: SourceRender}, nil
}

func (uc *RenderUseCase) render(ctx context.Context, c *chart.Chart, z, x, y int) ([]byte, error) {
	_, span := telemetry.Tracer().Start(ctx, "chart.render",
		trace.WithAttributes(
			attribute.String("tile.chart", c.ID),
			attribute.Int("tile.z", z),
			attribute.Int("tile.x", x),
			attribute.Int("tile.y", y),
		),
	)
	defer span.End()

	start := time.Now()
	data, err := RenderTile(c, z, x, y)
	metrics.RenderDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("tile.size", len(data)))
	return data, nil
}

// Intersects reports whether the tile overlaps the chart coverage.
func Intersects(c *chart.Chart, z, x, y int) bool {
	return tilemath.TileBounds(x, y, z).Intersects(c.Coverage)
}

// RenderTile reprojects one 256x256 Web-Mercator tile out of the chart by
// nearest-neighbour sampling at pixel centers. The output depends only on
// the chart and the tile index.
func RenderTile(c *chart.Chart, z, x, y int) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("%w: %v", ErrRenderFailed, r)
		}
	}()

	minX, minY, maxX, maxY := tilemath.TileBoundsMeters(x, y, z)
	resX := (maxX - minX) / tilemath.TileSize
	resY := (maxY - minY) / tilemath.TileSize

	img := newTileImage()
	for py := 0; py < tilemath.TileSize; py++ {
		my := maxY - (float64(py)+0.5)*resY
		for px := 0; px < tilemath.TileSize; px++ {
			mx := minX + (float64(px)+0.5)*resX

			lon, lat := tilemath.MetersToLonLat(mx, my)
			col, ok := c.Lookup(lon, lat)
			if !ok {
				continue
			}

			i := img.PixOffset(px, py)
			img.Pix[i+0] = col.R
			img.Pix[i+1] = col.G
			img.Pix[i+2] = col.B
			img.Pix[i+3] = col.A
		}
	}

	data, err = encodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	return data, nil
}
