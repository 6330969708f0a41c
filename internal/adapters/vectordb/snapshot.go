package vectordb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/safebites/menuquery/internal/domain/entities"
	"github.com/safebites/menuquery/internal/domain/ports"
)

// entry is one indexed item. Vector ids are assigned in insertion order
// and stay stable across incremental inserts; only a full rebuild may
// renumber.
type entry struct {
	vectorID  int
	embedding []float32
	item      entities.CatalogItem
}

// snapshot is an immutable view of the whole index. Searches hold a
// pointer to one snapshot for their entire run, so a concurrent rebuild
// can never show them a half-updated index.
type snapshot struct {
	entries []entry
}

// SnapshotIndex implements ports.VectorIndex. Reads are lock-free
// against the current snapshot; Build and Insert serialize on a writer
// mutex and publish a fresh snapshot atomically.
type SnapshotIndex struct {
	embedder ports.EmbeddingService
	store    *SQLiteStore // nil disables persistence
	logger   *zap.Logger

	writeMu sync.Mutex
	snap    atomic.Pointer[snapshot]
}

// NewSnapshotIndex creates an index. Pass a nil store for a purely
// in-memory index (tests).
func NewSnapshotIndex(embedder ports.EmbeddingService, store *SQLiteStore, logger *zap.Logger) *SnapshotIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotIndex{embedder: embedder, store: store, logger: logger}
}

// LoadPersisted restores the last saved snapshot from disk, if any.
func (x *SnapshotIndex) LoadPersisted(ctx context.Context) error {
	if x.store == nil {
		return nil
	}
	entries, err := x.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", entities.ErrIndexUnavailable, err)
	}
	if entries == nil {
		return nil
	}
	x.snap.Store(&snapshot{entries: entries})
	x.logger.Info("index loaded from disk", zap.Int("entries", len(entries)))
	return nil
}

// Empty reports whether no snapshot has been built or loaded yet.
func (x *SnapshotIndex) Empty() bool {
	return x.snap.Load() == nil
}

// Build embeds every item and swaps in a fresh index. The new snapshot
// becomes visible only after it is fully constructed and persisted.
func (x *SnapshotIndex) Build(ctx context.Context, items []entities.CatalogItem) error {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	entries, err := x.embedEntries(ctx, items, 0)
	if err != nil {
		return err
	}
	if err := x.persist(ctx, entries); err != nil {
		return err
	}

	x.snap.Store(&snapshot{entries: entries})
	x.logger.Info("index built", zap.Int("entries", len(entries)))
	return nil
}

// Insert appends new items without perturbing existing vector ids.
func (x *SnapshotIndex) Insert(ctx context.Context, items []entities.CatalogItem) error {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	var existing []entry
	if cur := x.snap.Load(); cur != nil {
		existing = cur.entries
	}

	added, err := x.embedEntries(ctx, items, len(existing))
	if err != nil {
		return err
	}

	merged := make([]entry, 0, len(existing)+len(added))
	merged = append(merged, existing...)
	merged = append(merged, added...)

	if err := x.persist(ctx, merged); err != nil {
		return err
	}

	x.snap.Store(&snapshot{entries: merged})
	x.logger.Info("index extended", zap.Int("added", len(added)), zap.Int("total", len(merged)))
	return nil
}

func (x *SnapshotIndex) embedEntries(ctx context.Context, items []entities.CatalogItem, firstID int) ([]entry, error) {
	if len(items) == 0 {
		return nil, nil
	}
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.CanonicalText()
	}
	vecs, err := x.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding catalog items: %w", err)
	}
	entries := make([]entry, len(items))
	for i := range items {
		entries[i] = entry{vectorID: firstID + i, embedding: vecs[i], item: items[i]}
	}
	return entries, nil
}

func (x *SnapshotIndex) persist(ctx context.Context, entries []entry) error {
	if x.store == nil {
		return nil
	}
	if err := x.store.Save(ctx, entries); err != nil {
		return fmt.Errorf("persisting index: %w", err)
	}
	return nil
}

// Search scans the current snapshot for items with similarity >=
// threshold, optionally restricted to one scope, ranked by similarity,
// capped at topK. An empty catalog for the scope yields empty results,
// not an error.
func (x *SnapshotIndex) Search(ctx context.Context, queryVec []float32, scopeID string, topK int, threshold float64) ([]entities.Hit, error) {
	cur := x.snap.Load()
	if cur == nil {
		return nil, entities.ErrIndexUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hits []entities.Hit
	for _, e := range cur.entries {
		if scopeID != "" && e.item.ScopeID != scopeID {
			continue
		}
		score := cosine(queryVec, e.embedding)
		if score >= threshold {
			hits = append(hits, entities.Hit{Item: e.item, Score: score, Embedding: e.embedding})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// cosine calculates cosine similarity between two vectors.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
