// Package ports defines interfaces for external dependencies.
// Clean Architecture: These are the boundaries - usecases depend on these abstractions,
// not concrete implementations. Adapters implement these interfaces.
package ports

import (
	"context"

	"github.com/safebites/menuquery/internal/domain/entities"
)

// EmbeddingService generates vector embeddings for text.
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// LanguageModel produces a text completion for a prompt. All query
// understanding (intent extraction, classification, rewriting,
// synthesis) goes through this single capability so the algorithms stay
// testable with canned outputs.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// IntentExtractor decomposes one clause into inclusion and exclusion
// terms. Implementations must never fail: on malformed output the
// fallback is {positive: {clause}, negative: {}}.
type IntentExtractor interface {
	Extract(ctx context.Context, clause string) (entities.IntentSet, error)
}

// Classifier splits a query into clauses and assigns each to a
// category. On unparseable model output the whole query is routed to
// the irrelevant bucket, never an error.
type Classifier interface {
	Classify(ctx context.Context, query string, turns []entities.Turn) (entities.QueryParts, error)
}

// ContextResolver rewrites a referential query into a self-contained
// one using prior turns, and summarizes the context relevant to it.
// Self-preference queries must pass through unmodified.
type ContextResolver interface {
	Resolve(ctx context.Context, query string, turns []entities.Turn, facts entities.SessionFacts) (resolved string, summary string, err error)
}

// VectorIndex stores item vectors and answers nearest-neighbor queries.
//
// Search calls from concurrent pipeline invocations run against one
// immutable snapshot; Build and Insert swap a new snapshot in atomically
// so readers never observe a half-updated index.
type VectorIndex interface {
	// Build embeds every item and constructs a fresh index. Atomic: a
	// partially built index is never visible to Search.
	Build(ctx context.Context, items []entities.CatalogItem) error

	// Insert appends new items without perturbing existing vector ids.
	Insert(ctx context.Context, items []entities.CatalogItem) error

	// Search returns items with similarity >= threshold, optionally
	// restricted to one scope, ranked by similarity, capped at topK.
	Search(ctx context.Context, queryVec []float32, scopeID string, topK int, threshold float64) ([]entities.Hit, error)
}

// CatalogSource supplies the items the index is built from.
type CatalogSource interface {
	Load(ctx context.Context) ([]entities.CatalogItem, error)
}

// SessionStore owns per-session conversation history. Appends for one
// session are serialized by the store; the pipeline never takes a
// process-wide lock.
type SessionStore interface {
	// GetOrCreate returns the active session for (userID, scopeID),
	// creating one if needed.
	GetOrCreate(ctx context.Context, userID, scopeID string) (sessionID string, err error)

	// Ensure creates an empty session under a caller-provided id if it
	// does not exist yet.
	Ensure(ctx context.Context, sessionID string) error

	// History returns the last n turns plus the session's facts.
	History(ctx context.Context, sessionID string, n int) ([]entities.Turn, entities.SessionFacts, error)

	// Append records a completed turn.
	Append(ctx context.Context, sessionID string, turn entities.Turn) error

	// SetFacts replaces the session's out-of-band facts.
	SetFacts(ctx context.Context, sessionID string, facts entities.SessionFacts) error
}

// FileWatcher monitors a directory for changes.
type FileWatcher interface {
	// Watch starts monitoring the directory and emits events.
	Watch(ctx context.Context, dir string) (<-chan FileEvent, error)

	// Stop stops the watcher.
	Stop() error
}

// FileEvent represents a file system change.
type FileEvent struct {
	Path      string
	Operation FileOperation
}

// FileOperation is the type of file change.
type FileOperation int

const (
	FileCreated FileOperation = iota
	FileModified
	FileDeleted
)
