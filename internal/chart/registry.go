package chart

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/jaennil/guide_helper/backend/tilegateway/internal/registry"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownChart     = errors.New("unknown chart")
	ErrChartUnavailable = errors.New("chart raster is unavailable")
)

// Registry holds the charts decoded at startup. Charts whose raster is
// missing or undecodable stay configured but unavailable.
type Registry struct {
	charts     map[string]*Chart
	configured map[string]struct{}
}

func NewRegistry(charts ...*Chart) *Registry {
	r := &Registry{
		charts:     make(map[string]*Chart, len(charts)),
		configured: make(map[string]struct{}, len(charts)),
	}
	for _, c := range charts {
		r.charts[c.ID] = c
		r.configured[c.ID] = struct{}{}
	}
	return r
}

// Load decodes every configured chart, in parallel. It never fails: a
// chart that cannot be loaded is logged and left out of the active set.
func Load(ctx context.Context, entries []registry.ChartEntry, l logger.Logger) *Registry {
	r := NewRegistry()

	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, e := range entries {
		r.configured[e.ID] = struct{}{}

		g.Go(func() error {
			if _, err := os.Stat(e.Path); err != nil {
				l.Warn("chart raster missing, chart disabled", "chart", e.ID, "path", e.Path, "error", err)
				return nil
			}

			c, err := Decode(e.ID, e.Name, e.Path)
			if err != nil {
				l.Warn("failed to decode chart, chart disabled", "chart", e.ID, "path", e.Path, "error", err)
				return nil
			}

			mu.Lock()
			r.charts[e.ID] = c
			mu.Unlock()

			l.Info("chart loaded",
				"chart", c.ID,
				"width", c.Width,
				"height", c.Height,
				"palette", len(c.Palette),
				"projection", c.Projection.String(),
			)
			return nil
		})
	}

	_ = g.Wait()

	l.Info("chart registry ready", "configured", len(r.configured), "loaded", len(r.charts))

	return r
}

func (r *Registry) Get(id string) (*Chart, error) {
	if c, ok := r.charts[id]; ok {
		return c, nil
	}
	if _, ok := r.configured[id]; ok {
		return nil, ErrChartUnavailable
	}
	return nil, ErrUnknownChart
}

// List returns the loaded charts ordered by id.
func (r *Registry) List() []*Chart {
	out := make([]*Chart, 0, len(r.charts))
	for _, c := range r.charts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
