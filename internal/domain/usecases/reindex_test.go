package usecases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safebites/menuquery/internal/domain/entities"
	"github.com/safebites/menuquery/internal/domain/ports"
)

type stubCatalog struct {
	items []entities.CatalogItem
	err   error
}

func (s *stubCatalog) Load(context.Context) ([]entities.CatalogItem, error) {
	return s.items, s.err
}

// recordingIndex counts builds and optionally fails them. The watch
// loop builds from its own goroutine, so access is guarded.
type recordingIndex struct {
	stubIndex
	mu       sync.Mutex
	builds   int
	buildErr error
	got      []entities.CatalogItem
}

func (r *recordingIndex) Build(_ context.Context, items []entities.CatalogItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builds++
	r.got = items
	return r.buildErr
}

func (r *recordingIndex) buildCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.builds
}

type stubWatcher struct {
	events chan ports.FileEvent
}

func (s *stubWatcher) Watch(context.Context, string) (<-chan ports.FileEvent, error) {
	return s.events, nil
}
func (s *stubWatcher) Stop() error { return nil }

func TestRebuildLoadsCatalogIntoIndex(t *testing.T) {
	items := []entities.CatalogItem{{ID: "d1"}, {ID: "d2"}}
	idx := &recordingIndex{}
	uc := NewReindexUseCase(&stubCatalog{items: items}, idx, nil, nil)

	require.NoError(t, uc.Rebuild(context.Background()))
	assert.Equal(t, 1, idx.buildCount())
	assert.Equal(t, items, idx.got)
}

func TestRebuildPropagatesCatalogError(t *testing.T) {
	wantErr := errors.New("file missing")
	idx := &recordingIndex{}
	uc := NewReindexUseCase(&stubCatalog{err: wantErr}, idx, nil, nil)

	err := uc.Rebuild(context.Background())
	assert.ErrorIs(t, err, wantErr)
	assert.Zero(t, idx.buildCount())
}

func TestWatchCatalogRebuildsOnChange(t *testing.T) {
	idx := &recordingIndex{}
	watcher := &stubWatcher{events: make(chan ports.FileEvent, 4)}
	uc := NewReindexUseCase(&stubCatalog{}, idx, watcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- uc.WatchCatalog(ctx, "/data", "dishes_refined.json") }()

	// A change to an unrelated file is ignored, a delete is ignored, a
	// matching write triggers a rebuild.
	watcher.events <- ports.FileEvent{Path: "/data/other.json", Operation: ports.FileModified}
	watcher.events <- ports.FileEvent{Path: "/data/dishes_refined.json", Operation: ports.FileDeleted}
	watcher.events <- ports.FileEvent{Path: "/data/dishes_refined.json", Operation: ports.FileModified}

	assert.Eventually(t, func() bool { return idx.buildCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watch loop did not stop on cancel")
	}
}

func TestWatchCatalogNilWatcherReturns(t *testing.T) {
	uc := NewReindexUseCase(&stubCatalog{}, &recordingIndex{}, nil, nil)
	assert.NoError(t, uc.WatchCatalog(context.Background(), "/data", "x.json"))
}
