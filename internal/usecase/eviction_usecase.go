package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/reference"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/prunelog"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/metrics"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/tilemath"
)

// Ranking modes of a prune pass.
const (
	ModeNoop     = "noop"
	ModeDistance = "distance"
	ModeAge      = "age"
)

type PruneStore interface {
	Status(ctx context.Context) (cache.Status, error)
	Entries(ctx context.Context) ([]cache.Entry, error)
	Delete(cache.Entry) error
}

type PruneJournal interface {
	Record(ctx context.Context, r prunelog.Run) error
	Last(ctx context.Context) (prunelog.Run, bool, error)
}

type EvictionConfig struct {
	BudgetBytes      int64
	Interval         time.Duration
	StartupDelay     time.Duration
	ReferenceTimeout time.Duration
}

type EvictionUseCase struct {
	store     PruneStore
	reference reference.Provider
	journal   PruneJournal
	cfg       EvictionConfig
	logger    logger.Logger
	now       func() time.Time

	// one pass at a time
	mu sync.Mutex

	lastMu sync.RWMutex
	last   *prunelog.Run
}

// NewEvictionUseCase builds the scheduler. journal may be nil.
func NewEvictionUseCase(store PruneStore, ref reference.Provider, journal PruneJournal, cfg EvictionConfig, l logger.Logger) *EvictionUseCase {
	if ref == nil {
		ref = reference.Noop{}
	}
	return &EvictionUseCase{
		store:     store,
		reference: ref,
		journal:   journal,
		cfg:       cfg,
		logger:    l,
		now:       time.Now,
	}
}

func (uc *EvictionUseCase) BudgetBytes() int64 {
	return uc.cfg.BudgetBytes
}

// Run prunes once after the startup delay and then on every interval
// until ctx is cancelled.
func (uc *EvictionUseCase) Run(ctx context.Context) {
	uc.logger.Info("eviction scheduler started",
		"budget", humanize.IBytes(uint64(uc.cfg.BudgetBytes)),
		"startupDelay", uc.cfg.StartupDelay,
		"interval", uc.cfg.Interval,
	)

	timer := time.NewTimer(uc.cfg.StartupDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			uc.logger.Info("eviction scheduler stopped")
			return
		case <-timer.C:
		}

		if _, err := uc.Prune(ctx); err != nil && ctx.Err() == nil {
			uc.logger.Error("prune pass failed", "error", err)
		}

		if uc.cfg.Interval <= 0 {
			uc.logger.Info("prune interval disabled, scheduler stopping after first pass")
			return
		}
		timer.Reset(uc.cfg.Interval)
	}
}

type candidate struct {
	entry    cache.Entry
	distance float64
}

// Prune runs one pass. The reference location is fetched once, before any
// tile is ranked, and the resulting ordering is kept for the whole pass.
func (uc *EvictionUseCase) Prune(ctx context.Context) (prunelog.Run, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	start := uc.now()

	status, err := uc.store.Status(ctx)
	if err != nil {
		return prunelog.Run{}, err
	}
	metrics.CacheSizeBytes.Set(float64(status.TotalBytes))
	metrics.CacheFiles.Set(float64(status.Files))

	run := prunelog.Run{
		StartedAt:   start.UTC(),
		Mode:        ModeNoop,
		BudgetBytes: uc.cfg.BudgetBytes,
		BytesBefore: status.TotalBytes,
		BytesAfter:  status.TotalBytes,
	}

	if status.TotalBytes <= uc.cfg.BudgetBytes {
		uc.logger.Debug("cache within budget, nothing to prune",
			"size", humanize.IBytes(uint64(status.TotalBytes)),
			"budget", humanize.IBytes(uint64(uc.cfg.BudgetBytes)),
		)
		uc.finish(ctx, &run, start)
		return run, nil
	}

	loc, haveRef := uc.locate(ctx)

	entries, err := uc.store.Entries(ctx)
	if err != nil {
		return prunelog.Run{}, err
	}

	candidates := rank(entries, loc, haveRef)
	if haveRef {
		run.Mode = ModeDistance
		run.ReferenceLat, run.ReferenceLon = &loc.Lat, &loc.Lon
	} else {
		run.Mode = ModeAge
	}

	total := status.TotalBytes
	for _, c := range candidates {
		if total <= uc.cfg.BudgetBytes {
			break
		}
		if ctx.Err() != nil {
			break
		}

		if err := uc.store.Delete(c.entry); err != nil {
			run.Failures++
			uc.logger.Warn("failed to evict tile", "key", c.entry.Key.String(), "error", err)
			continue
		}

		total -= c.entry.Size
		run.FilesDeleted++
		run.BytesDeleted += c.entry.Size
	}
	run.BytesAfter = total

	metrics.EvictedFiles.Add(float64(run.FilesDeleted))
	metrics.EvictedBytes.Add(float64(run.BytesDeleted))
	metrics.CacheSizeBytes.Set(float64(total))

	uc.logger.Info("prune pass finished",
		"mode", run.Mode,
		"before", humanize.IBytes(uint64(run.BytesBefore)),
		"after", humanize.IBytes(uint64(run.BytesAfter)),
		"budget", humanize.IBytes(uint64(run.BudgetBytes)),
		"deleted", run.FilesDeleted,
		"failures", run.Failures,
	)
	if run.BytesAfter > run.BudgetBytes {
		uc.logger.Warn("cache still over budget after prune",
			"after", humanize.IBytes(uint64(run.BytesAfter)),
			"budget", humanize.IBytes(uint64(run.BudgetBytes)),
		)
	}

	uc.finish(ctx, &run, start)
	return run, nil
}

func (uc *EvictionUseCase) locate(ctx context.Context) (reference.Location, bool) {
	rctx, cancel := context.WithTimeout(ctx, uc.cfg.ReferenceTimeout)
	defer cancel()

	loc, err := uc.reference.Locate(rctx)
	if err != nil {
		uc.logger.Info("no reference location, pruning oldest first", "reason", err)
		return reference.Location{}, false
	}
	return loc, true
}

// rank orders eviction candidates: farthest from the reference first, or
// oldest first without one. Ties fall back to age and then to the key so
// the order is total.
func rank(entries []cache.Entry, loc reference.Location, haveRef bool) []candidate {
	out := make([]candidate, len(entries))
	for i, e := range entries {
		out[i] = candidate{entry: e}
		if haveRef {
			lon, lat := tilemath.TileCenter(e.Key.X, e.Key.Y, e.Key.Z)
			out[i].distance = tilemath.Distance(loc.Lon, loc.Lat, lon, lat)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if haveRef && a.distance != b.distance {
			return a.distance > b.distance
		}
		if !a.entry.ModTime.Equal(b.entry.ModTime) {
			return a.entry.ModTime.Before(b.entry.ModTime)
		}
		return a.entry.Key.String() < b.entry.Key.String()
	})

	return out
}

func (uc *EvictionUseCase) finish(ctx context.Context, run *prunelog.Run, start time.Time) {
	run.Duration = uc.now().Sub(start)
	metrics.PruneRuns.WithLabelValues(run.Mode).Inc()

	r := *run
	uc.lastMu.Lock()
	uc.last = &r
	uc.lastMu.Unlock()

	if uc.journal != nil {
		if err := uc.journal.Record(context.WithoutCancel(ctx), r); err != nil {
			uc.logger.Warn("failed to record prune run", "error", err)
		}
	}
}

// LastRun returns the latest pass of this process, falling back to the
// journal after a restart.
func (uc *EvictionUseCase) LastRun(ctx context.Context) (prunelog.Run, bool) {
	uc.lastMu.RLock()
	last := uc.last
	uc.lastMu.RUnlock()

	if last != nil {
		return *last, true
	}
	if uc.journal == nil {
		return prunelog.Run{}, false
	}

	r, ok, err := uc.journal.Last(ctx)
	if err != nil {
		uc.logger.Warn("failed to read prune journal", "error", err)
		return prunelog.Run{}, false
	}
	return r, ok
}
