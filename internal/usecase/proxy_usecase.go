package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/jaennil/guide_helper/backend/tilegateway/internal/registry"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/metrics"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/telemetry"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/tilemath"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxUpstreamTileSize = 8 << 20

type ProxyConfig struct {
	Timeout           time.Duration
	UserAgent         string
	MaxAgeBase        time.Duration
	MaxAgeOverlay     time.Duration
	MaxAgePlaceholder time.Duration
}

type ProxyUseCase struct {
	layers     *registry.Registry
	cache      cache.TileCache
	persister  Persister
	httpClient *http.Client
	cfg        ProxyConfig
	logger     logger.Logger
}

func NewProxyUseCase(layers *registry.Registry, c cache.TileCache, p Persister, cfg ProxyConfig, l logger.Logger) *ProxyUseCase {
	return &ProxyUseCase{
		layers:    layers,
		cache:     c,
		persister: p,
		// the per-request deadline comes from cfg.Timeout via the context
		httpClient: &http.Client{},
		cfg:        cfg,
		logger:     l,
	}
}

func (uc *ProxyUseCase) DefaultLayer() string {
	return uc.layers.DefaultLayer
}

func (uc *ProxyUseCase) Layers() []registry.Layer {
	return uc.layers.Layers
}

// GetTile serves a proxied tile. Only an unknown layer or an invalid index
// is an error; every upstream failure degrades to the transparent
// placeholder.
func (uc *ProxyUseCase) GetTile(ctx context.Context, layerID string, z, x, y int) (TileResult, error) {
	metrics.TileRequests.WithLabelValues("proxy").Inc()

	layer, ok := uc.layers.Layer(layerID)
	if !ok {
		return TileResult{}, fmt.Errorf("%w: %s", ErrUnknownLayer, layerID)
	}
	if !tilemath.Valid(z, x, y) {
		return TileResult{}, ErrInvalidTile
	}

	maxAge := uc.maxAge(layer)
	key := cache.TileKey{Namespace: layer.ID, Z: z, X: x, Y: y}

	if layer.Cacheable {
		tile, hit, err := uc.cache.Get(key)
		if err != nil {
			uc.logger.Warn("cache lookup failed, fetching upstream", "key", key.String(), "error", err)
		}
		if hit {
			metrics.CacheHits.WithLabelValues(layer.ID).Inc()
			return TileResult{Data: tile.Data, ContentType: tile.ContentType, MaxAge: maxAge, Source: SourceCache}, nil
		}
		metrics.CacheMisses.WithLabelValues(layer.ID).Inc()
	}

	url := layer.TileURL(z, x, y)
	data, contentType, err := uc.fetch(ctx, layer, url)
	if err != nil {
		reason := "network"
		var ue *upstreamError
		if errors.As(err, &ue) {
			reason = ue.reason
		} else if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		metrics.UpstreamRequests.WithLabelValues(layer.ID, reason).Inc()
		metrics.Placeholders.WithLabelValues(reason).Inc()
		uc.logger.Warn("upstream fetch failed, serving placeholder", "layer", layer.ID, "url", url, "reason", reason, "error", err)
		return placeholder(uc.cfg.MaxAgePlaceholder), nil
	}
	metrics.UpstreamRequests.WithLabelValues(layer.ID, "ok").Inc()

	if layer.Cacheable {
		uc.persister.Enqueue(PersistJob{
			Key:  key,
			Data: data,
			Meta: cache.Meta{SourceURL: url, ContentType: contentType},
		})
	}

	uc.logger.Debug("fetched tile from upstream", "layer", layer.ID, "z", z, "x", x, "y", y, "size", len(data))

	return TileResult{Data: data, ContentType: contentType, MaxAge: maxAge, Source: SourceUpstream}, nil
}

type upstreamError struct {
	reason string
	msg    string
}

func (e *upstreamError) Error() string { return e.msg }

// fetch issues one GET bounded by the upstream timeout. The body is read
// completely before returning so a cancelled request never yields bytes.
func (uc *ProxyUseCase) fetch(ctx context.Context, layer registry.Layer, url string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.cfg.Timeout)
	defer cancel()

	ctx, span := telemetry.Tracer().Start(ctx, "upstream.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tile.layer", layer.ID),
			attribute.String("url.full", url),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	// some providers reject clients that do not look like a browser
	req.Header.Set("User-Agent", uc.cfg.UserAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if layer.Referer != "" {
		req.Header.Set("Referer", layer.Referer)
	}

	resp, err := uc.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, "", err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		span.SetStatus(codes.Error, resp.Status)
		return nil, "", &upstreamError{reason: "status", msg: fmt.Sprintf("upstream returned status %d", resp.StatusCode)}
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		span.SetStatus(codes.Error, "non-image content type")
		return nil, "", &upstreamError{reason: "content_type", msg: fmt.Sprintf("upstream returned content type %q", contentType)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamTileSize+1))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, "", fmt.Errorf("failed to read tile data: %w", err)
	}
	if len(data) == 0 || len(data) > maxUpstreamTileSize {
		return nil, "", &upstreamError{reason: "body", msg: fmt.Sprintf("upstream returned %d bytes", len(data))}
	}

	return data, contentType, nil
}

func (uc *ProxyUseCase) maxAge(l registry.Layer) time.Duration {
	switch {
	case l.MaxAge > 0:
		return l.MaxAge
	case l.Class == registry.ClassOverlay:
		return uc.cfg.MaxAgeOverlay
	default:
		return uc.cfg.MaxAgeBase
	}
}
