package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safebites/menuquery/internal/backoff"
	"github.com/safebites/menuquery/internal/domain/entities"
)

func fastRetry() backoff.Config {
	return backoff.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestOllamaEmbed(t *testing.T) {
	var gotReq ollamaEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2}})
	}))
	defer srv.Close()

	a := NewOllamaAdapter(srv.URL, "nomic-embed-text", nil)
	got, err := a.Embed(context.Background(), "penne arrabbiata")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, got)
	assert.Equal(t, "nomic-embed-text", gotReq.Model)
	assert.Equal(t, "penne arrabbiata", gotReq.Prompt)
}

func TestOllamaEmbedRetriesTransientFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{1}})
	}))
	defer srv.Close()

	a := NewOllamaAdapter(srv.URL, "", nil)
	a.retry = fastRetry()

	got, err := a.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, got)
	assert.Equal(t, 2, calls)
}

func TestOllamaEmbedExhaustedRetriesWrapExternalService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewOllamaAdapter(srv.URL, "", nil)
	a.retry = fastRetry()

	_, err := a.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, entities.ErrExternalService)
}

func TestOllamaEmbedBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		vec := []float32{float32(len(req.Prompt))}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: vec})
	}))
	defer srv.Close()

	a := NewOllamaAdapter(srv.URL, "", nil)
	got, err := a.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []float32{1}, got[0])
	assert.Equal(t, []float32{2}, got[1])
	assert.Equal(t, []float32{3}, got[2])
}

func TestOllamaEmbedCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewOllamaAdapter(srv.URL, "", nil)
	a.retry = fastRetry()

	_, err := a.Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
