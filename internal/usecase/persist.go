package usecase

import (
	"context"
	"sync"

	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/metrics"
)

type PersistJob struct {
	Key  cache.TileKey
	Data []byte
	Meta cache.Meta
}

type Persister interface {
	Enqueue(PersistJob) bool
}

// PersistQueue writes tiles to the cache off the response path. Enqueue
// never blocks; Close stops intake and waits for pending writes.
type PersistQueue struct {
	cache  cache.TileCache
	jobs   chan PersistJob
	logger logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ Persister = (*PersistQueue)(nil)

func NewPersistQueue(c cache.TileCache, size, workers int, l logger.Logger) *PersistQueue {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}

	q := &PersistQueue{
		cache:  c,
		jobs:   make(chan PersistJob, size),
		logger: l,
	}

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}

	return q
}

func (q *PersistQueue) Enqueue(job PersistJob) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("persist queue closed, dropping tile write", "key", job.Key.String())
		metrics.PersistDropped.Inc()
		return false
	}

	select {
	case q.jobs <- job:
		metrics.PersistQueueDepth.Inc()
		return true
	default:
		q.logger.Warn("persist queue full, dropping tile write", "key", job.Key.String())
		metrics.PersistDropped.Inc()
		return false
	}
}

func (q *PersistQueue) worker() {
	defer q.wg.Done()

	for job := range q.jobs {
		metrics.PersistQueueDepth.Dec()

		if err := q.cache.Put(job.Key, job.Data, job.Meta); err != nil {
			metrics.CacheStoreErrors.Inc()
			q.logger.Error("failed to persist tile", "key", job.Key.String(), "error", err)
			continue
		}
		metrics.CacheStores.Inc()
	}
}

// Close drains the queue. It returns ctx.Err() if the deadline passes
// before every pending write has finished.
func (q *PersistQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("persist queue drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
