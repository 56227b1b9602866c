package usecase

import (
	"context"
	"image/color"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jaennil/guide_helper/backend/tilegateway/internal/chart"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/reference"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/prunelog"
	"github.com/stretchr/testify/require"
)

// memCache is an in-memory cache.TileCache.
type memCache struct {
	mu    sync.Mutex
	tiles map[cache.TileKey]cache.Tile
	metas map[cache.TileKey]cache.Meta
	puts  int
}

func newMemCache() *memCache {
	return &memCache{
		tiles: make(map[cache.TileKey]cache.Tile),
		metas: make(map[cache.TileKey]cache.Meta),
	}
}

func (m *memCache) Get(k cache.TileKey) (cache.Tile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tiles[k]
	return t, ok, nil
}

func (m *memCache) Put(k cache.TileKey, data []byte, meta cache.Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[k] = cache.Tile{Data: append([]byte(nil), data...), ContentType: meta.ContentType}
	m.metas[k] = meta
	m.puts++
	return nil
}

func (m *memCache) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tiles)
}

// syncPersister writes through immediately so tests observe the cache
// right after a request.
type syncPersister struct {
	cache cache.TileCache
}

func (p syncPersister) Enqueue(job PersistJob) bool {
	return p.cache.Put(job.Key, job.Data, job.Meta) == nil
}

var (
	red   = color.NRGBA{R: 0xff, A: 0xff}
	green = color.NRGBA{G: 0xff, A: 0xff}
	blue  = color.NRGBA{B: 0xff, A: 0xff}
)

// newTestChart builds a geographic chart covering lon [-123, -121] and
// lat [46, 48] with a 200x200 raster of 10x10 pixel color blocks.
func newTestChart(t *testing.T, id string) *chart.Chart {
	t.Helper()
	return newTestChartWithProjection(t, id, chart.Geographic{})
}

func newTestChartWithProjection(t *testing.T, id string, proj chart.Projection) *chart.Chart {
	t.Helper()

	const size = 200
	pix := make([]uint8, size*size)
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			pix[row*size+col] = uint8((col/10+row/10)%3 + 1)
		}
	}

	c, err := chart.New(id, id, pix, size, size, size,
		[]color.NRGBA{{}, red, green, blue},
		chart.Bounds{MinX: -123, MinY: 46, MaxX: -121, MaxY: 48},
		proj,
	)
	require.NoError(t, err)
	return c
}

// fakeStore is an in-memory PruneStore.
type fakeStore struct {
	mu      sync.Mutex
	entries map[cache.TileKey]cache.Entry
	failing map[cache.TileKey]bool
	deleted []cache.TileKey
}

func newFakeStore(entries ...cache.Entry) *fakeStore {
	s := &fakeStore{
		entries: make(map[cache.TileKey]cache.Entry),
		failing: make(map[cache.TileKey]bool),
	}
	for _, e := range entries {
		s.entries[e.Key] = e
	}
	return s
}

func (s *fakeStore) Status(context.Context) (cache.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := cache.Status{Namespaces: make(map[string]cache.NamespaceStatus)}
	for _, e := range s.entries {
		ns := st.Namespaces[e.Key.Namespace]
		ns.Bytes += e.Size
		ns.Files++
		st.Namespaces[e.Key.Namespace] = ns
		st.TotalBytes += e.Size
		st.Files++
	}
	return st, nil
}

func (s *fakeStore) Entries(context.Context) ([]cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]cache.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	// map order must not leak into the ranking
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() > out[j].Key.String() })
	return out, nil
}

func (s *fakeStore) Delete(e cache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing[e.Key] {
		return errDeleteFailed
	}
	delete(s.entries, e.Key)
	s.deleted = append(s.deleted, e.Key)
	return nil
}

func (s *fakeStore) has(k cache.TileKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[k]
	return ok
}

type staticReference struct {
	loc reference.Location
	err error
}

func (r staticReference) Locate(context.Context) (reference.Location, error) {
	return r.loc, r.err
}

type memJournal struct {
	mu   sync.Mutex
	runs []prunelog.Run
}

func (j *memJournal) Record(_ context.Context, r prunelog.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, r)
	return nil
}

func (j *memJournal) Last(context.Context) (prunelog.Run, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.runs) == 0 {
		return prunelog.Run{}, false, nil
	}
	return j.runs[len(j.runs)-1], true, nil
}

var baseTime = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func runWithMode(mode string) prunelog.Run {
	return prunelog.Run{Mode: mode, StartedAt: baseTime}
}
