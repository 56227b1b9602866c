package usecase

import (
	"context"

	"github.com/jaennil/guide_helper/backend/tilegateway/internal/chart"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/prunelog"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/metrics"
)

type CacheStatus struct {
	TotalBytes  int64
	Files       int
	Namespaces  map[string]cache.NamespaceStatus
	Charts      []string
	BudgetBytes int64
	LastPrune   *prunelog.Run
	// backups sit outside the eviction budget; only Clear creates them
	BackupBytes int64
	BackupFiles int
}

type CacheUseCase struct {
	store    cache.Store
	charts   *chart.Registry
	eviction *EvictionUseCase
	logger   logger.Logger
}

func NewCacheUseCase(store cache.Store, charts *chart.Registry, eviction *EvictionUseCase, l logger.Logger) *CacheUseCase {
	return &CacheUseCase{
		store:    store,
		charts:   charts,
		eviction: eviction,
		logger:   l,
	}
}

// Status walks the cache tree on every call.
func (uc *CacheUseCase) Status(ctx context.Context) (CacheStatus, error) {
	s, err := uc.store.Status(ctx)
	if err != nil {
		uc.logger.Error("failed to compute cache status", "error", err)
		return CacheStatus{}, err
	}
	metrics.CacheSizeBytes.Set(float64(s.TotalBytes))
	metrics.CacheFiles.Set(float64(s.Files))

	out := CacheStatus{
		TotalBytes:  s.TotalBytes,
		Files:       s.Files,
		Namespaces:  s.Namespaces,
		Charts:      []string{},
		BudgetBytes: uc.eviction.BudgetBytes(),
		BackupBytes: s.BackupBytes,
		BackupFiles: s.BackupFiles,
	}
	for _, c := range uc.charts.List() {
		out.Charts = append(out.Charts, c.ID)
	}
	if run, ok := uc.eviction.LastRun(ctx); ok {
		out.LastPrune = &run
	}

	return out, nil
}

// Clear empties one namespace or the whole cache. With backup the tiles
// are moved aside and the backup directory is returned.
func (uc *CacheUseCase) Clear(namespace string, backup bool) (string, error) {
	dir, err := uc.store.Clear(namespace, backup)
	if err != nil {
		uc.logger.Error("failed to clear cache", "namespace", namespace, "backup", backup, "error", err)
		return "", err
	}
	return dir, nil
}
