package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/jaennil/guide_helper/backend/tilegateway/internal/chart"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheUseCase_StatusAndClear(t *testing.T) {
	dc, err := cache.NewDiskCache(t.TempDir(), logger.NewNoop())
	require.NoError(t, err)

	png := cache.Meta{ContentType: "image/png"}
	require.NoError(t, dc.Put(cache.TileKey{Namespace: "sectional", Z: 1, X: 0, Y: 0}, []byte("a"), png))
	require.NoError(t, dc.Put(cache.TileKey{Namespace: "vfr-terminal", Z: 1, X: 1, Y: 0}, []byte("bb"), png))

	charts := chart.NewRegistry(newTestChart(t, "sectional"))
	eviction := NewEvictionUseCase(dc, nil, nil, EvictionConfig{BudgetBytes: 1 << 30, ReferenceTimeout: time.Second}, logger.NewNoop())
	uc := NewCacheUseCase(dc, charts, eviction, logger.NewNoop())
	ctx := context.Background()

	s, err := uc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Files)
	assert.Equal(t, []string{"sectional"}, s.Charts)
	assert.Equal(t, int64(1<<30), s.BudgetBytes)
	assert.Nil(t, s.LastPrune)
	assert.Zero(t, s.BackupFiles)
	assert.Equal(t, 1, s.Namespaces["vfr-terminal"].Files)

	_, err = eviction.Prune(ctx)
	require.NoError(t, err)
	s, err = uc.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, s.LastPrune)
	assert.Equal(t, ModeNoop, s.LastPrune.Mode)

	dir, err := uc.Clear("vfr-terminal", true)
	require.NoError(t, err)
	assert.NotEmpty(t, dir)

	s, err = uc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Files)
	assert.NotContains(t, s.Namespaces, "vfr-terminal")
	assert.Equal(t, 2, s.BackupFiles)
	assert.Greater(t, s.BackupBytes, int64(2))

	_, err = uc.Clear("../outside", false)
	assert.ErrorIs(t, err, cache.ErrInvalidKey)
}
