// Package vectordb provides the vector index adapter.
// Clean Architecture: Adapter implementing ports.VectorIndex.
package vectordb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore persists index snapshots to disk. The layout is one
// vectors table (the blob) plus one metadata table, loaded as a unit.
// A rebuild writes a complete temp database and renames it over the old
// one so a crash mid-write never leaves a torn index behind.
type SQLiteStore struct {
	path string
}

// NewSQLiteStore creates a store rooted at dataPath.
func NewSQLiteStore(dataPath string) (*SQLiteStore, error) {
	if dataPath == "" {
		dataPath = "./data"
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &SQLiteStore{path: filepath.Join(dataPath, "index.db")}, nil
}

const indexSchema = `
CREATE TABLE vectors (
	vector_id INTEGER PRIMARY KEY,
	embedding BLOB NOT NULL
);
CREATE TABLE metadata (
	vector_id INTEGER PRIMARY KEY,
	item_id TEXT NOT NULL,
	scope_id TEXT NOT NULL,
	item_json BLOB NOT NULL
);
CREATE INDEX idx_scope ON metadata(scope_id);
`

// Save writes the entries to a temp database and swaps it in.
func (s *SQLiteStore) Save(ctx context.Context, entries []entry) error {
	tmp := s.path + ".tmp"
	os.Remove(tmp)

	db, err := sql.Open("sqlite3", tmp)
	if err != nil {
		return fmt.Errorf("opening temp index: %w", err)
	}

	if err := s.writeAll(ctx, db, entries); err != nil {
		db.Close()
		os.Remove(tmp)
		return err
	}
	if err := db.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp index: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("swapping index file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) writeAll(ctx context.Context, db *sql.DB, entries []entry) error {
	if _, err := db.ExecContext(ctx, indexSchema); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	vecStmt, err := tx.PrepareContext(ctx, "INSERT INTO vectors (vector_id, embedding) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("preparing vector statement: %w", err)
	}
	defer vecStmt.Close()

	metaStmt, err := tx.PrepareContext(ctx, "INSERT INTO metadata (vector_id, item_id, scope_id, item_json) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing metadata statement: %w", err)
	}
	defer metaStmt.Close()

	for _, e := range entries {
		embJSON, err := json.Marshal(e.embedding)
		if err != nil {
			return fmt.Errorf("encoding embedding: %w", err)
		}
		itemJSON, err := json.Marshal(e.item)
		if err != nil {
			return fmt.Errorf("encoding item: %w", err)
		}
		if _, err := vecStmt.ExecContext(ctx, e.vectorID, embJSON); err != nil {
			return fmt.Errorf("inserting vector %d: %w", e.vectorID, err)
		}
		if _, err := metaStmt.ExecContext(ctx, e.vectorID, e.item.ID, e.item.ScopeID, itemJSON); err != nil {
			return fmt.Errorf("inserting metadata %d: %w", e.vectorID, err)
		}
	}

	return tx.Commit()
}

// Load reads all entries back, ordered by vector id. A missing file is
// not an error: the index simply has not been built yet.
func (s *SQLiteStore) Load(ctx context.Context) ([]entry, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil, nil
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT v.vector_id, v.embedding, m.item_json
		FROM vectors v JOIN metadata m ON v.vector_id = m.vector_id
		ORDER BY v.vector_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	defer rows.Close()

	var entries []entry
	for rows.Next() {
		var e entry
		var embJSON, itemJSON []byte
		if err := rows.Scan(&e.vectorID, &embJSON, &itemJSON); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if err := json.Unmarshal(embJSON, &e.embedding); err != nil {
			return nil, fmt.Errorf("decoding embedding %d: %w", e.vectorID, err)
		}
		if err := json.Unmarshal(itemJSON, &e.item); err != nil {
			return nil, fmt.Errorf("decoding item %d: %w", e.vectorID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
