package vectordb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safebites/menuquery/internal/domain/entities"
)

func TestSQLiteStoreLoadMissingFile(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)

	entries, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)

	want := []entry{
		{
			vectorID:  0,
			embedding: []float32{1, 0, 0.5},
			item: entities.CatalogItem{
				ID: "d1", ScopeID: "r1", Name: "Penne Arrabbiata",
				Price: 12.5, Ingredients: []string{"penne", "tomato", "chili"},
				Available: true, Allergens: []string{"gluten"},
				Nutrition: map[string]string{"calories": "540"},
			},
		},
		{
			vectorID:  1,
			embedding: []float32{0, 1, 0},
			item:      entities.CatalogItem{ID: "d2", ScopeID: "r2", Name: "Garden Salad", Available: true},
		},
	}
	require.NoError(t, store.Save(context.Background(), want))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, want[0].vectorID, got[0].vectorID)
	assert.Equal(t, want[0].embedding, got[0].embedding)
	assert.Equal(t, want[0].item, got[0].item)
	assert.Equal(t, want[1].item.ID, got[1].item.ID)
}

func TestSQLiteStoreSaveReplacesPrevious(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)

	first := []entry{{vectorID: 0, embedding: []float32{1}, item: entities.CatalogItem{ID: "old"}}}
	second := []entry{
		{vectorID: 0, embedding: []float32{1}, item: entities.CatalogItem{ID: "new-a"}},
		{vectorID: 1, embedding: []float32{2}, item: entities.CatalogItem{ID: "new-b"}},
	}
	require.NoError(t, store.Save(context.Background(), first))
	require.NoError(t, store.Save(context.Background(), second))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new-a", got[0].item.ID)
	assert.Equal(t, "new-b", got[1].item.ID)
}

func TestSnapshotIndexPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSQLiteStore(dir)
	require.NoError(t, err)

	first := NewSnapshotIndex(testEmbedder(), store, nil)
	require.NoError(t, first.Build(context.Background(), []entities.CatalogItem{
		item("1", "r1", "penne"),
		item("2", "r1", "salad"),
	}))

	// A fresh process restores the snapshot without re-embedding.
	store2, err := NewSQLiteStore(dir)
	require.NoError(t, err)
	second := NewSnapshotIndex(testEmbedder(), store2, nil)
	require.NoError(t, second.LoadPersisted(context.Background()))
	require.False(t, second.Empty())

	hits, err := second.Search(context.Background(), []float32{1, 0}, "r1", 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "1", hits[0].Item.ID)
}
