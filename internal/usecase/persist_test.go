package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedCache blocks every Put until release is closed.
type gatedCache struct {
	*memCache
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCache) Put(k cache.TileKey, data []byte, m cache.Meta) error {
	g.entered <- struct{}{}
	<-g.release
	return g.memCache.Put(k, data, m)
}

func job(x int) PersistJob {
	return PersistJob{
		Key:  cache.TileKey{Namespace: "sectional", Z: 8, X: x, Y: 0},
		Data: []byte{byte(x)},
		Meta: cache.Meta{ContentType: "image/png"},
	}
}

func TestPersistQueue_CloseDrains(t *testing.T) {
	c := newMemCache()
	q := NewPersistQueue(c, 64, 3, logger.NewNoop())

	for i := 0; i < 50; i++ {
		require.True(t, q.Enqueue(job(i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))

	assert.Equal(t, 50, c.count())

	// closed queues refuse work and closing twice is harmless
	assert.False(t, q.Enqueue(job(99)))
	require.NoError(t, q.Close(ctx))
}

func TestPersistQueue_DropsWhenFull(t *testing.T) {
	g := &gatedCache{
		memCache: newMemCache(),
		entered:  make(chan struct{}, 8),
		release:  make(chan struct{}),
	}
	q := NewPersistQueue(g, 1, 1, logger.NewNoop())

	require.True(t, q.Enqueue(job(0)))
	<-g.entered // the worker holds job 0

	require.True(t, q.Enqueue(job(1)), "buffered")
	assert.False(t, q.Enqueue(job(2)), "queue is full, write is dropped")

	close(g.release)
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, 2, g.count())
}

func TestPersistQueue_CloseHonorsDeadline(t *testing.T) {
	g := &gatedCache{
		memCache: newMemCache(),
		entered:  make(chan struct{}, 8),
		release:  make(chan struct{}),
	}
	q := NewPersistQueue(g, 4, 1, logger.NewNoop())

	require.True(t, q.Enqueue(job(0)))
	<-g.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)

	close(g.release)
}

func TestPersistQueue_WriteErrorsAreLogged(t *testing.T) {
	dc, err := cache.NewDiskCache(t.TempDir(), logger.NewNoop())
	require.NoError(t, err)
	q := NewPersistQueue(dc, 4, 1, logger.NewNoop())

	bad := job(1)
	bad.Meta.ContentType = "text/html"
	require.True(t, q.Enqueue(bad))
	require.True(t, q.Enqueue(job(2)))
	require.NoError(t, q.Close(context.Background()))

	_, ok, err := dc.Get(bad.Key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = dc.Get(job(2).Key)
	require.NoError(t, err)
	assert.True(t, ok)
}
