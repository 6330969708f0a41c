// Package session provides conversation history adapters.
// Clean Architecture: Adapter implementing ports.SessionStore.
package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/safebites/menuquery/internal/domain/entities"
)

// record is one session's state. Its mutex serializes appends for that
// session only; different sessions never contend.
type record struct {
	mu    sync.Mutex
	turns []entities.Turn
	facts entities.SessionFacts
}

// MemoryStore keeps sessions in process memory. One active session per
// (user, scope) pair; turn history is bounded by a retention window.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*record
	active   map[string]string // userID|scopeID -> sessionID
	maxTurns int
}

// NewMemoryStore creates a store retaining at most maxTurns turns per
// session.
func NewMemoryStore(maxTurns int) *MemoryStore {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &MemoryStore{
		sessions: make(map[string]*record),
		active:   make(map[string]string),
		maxTurns: maxTurns,
	}
}

// GetOrCreate returns the active session for (userID, scopeID),
// creating one if needed.
func (s *MemoryStore) GetOrCreate(ctx context.Context, userID, scopeID string) (string, error) {
	key := userID + "|" + scopeID

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.active[key]; ok {
		return id, nil
	}

	u := uuid.New()
	id := "sess_" + hex.EncodeToString(u[:])[:10]
	s.sessions[id] = &record{}
	s.active[key] = id
	return id, nil
}

// Ensure creates an empty session under a caller-provided id if it
// does not exist yet. Lets the API accept client-minted session ids.
func (s *MemoryStore) Ensure(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("empty session id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = &record{}
	}
	return nil
}

// History returns the last n turns plus the session's facts.
func (s *MemoryStore) History(ctx context.Context, sessionID string, n int) ([]entities.Turn, entities.SessionFacts, error) {
	rec, err := s.get(sessionID)
	if err != nil {
		return nil, entities.SessionFacts{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	turns := rec.turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]entities.Turn, len(turns))
	copy(out, turns)
	return out, rec.facts, nil
}

// Append records a completed turn, trimming history beyond the
// retention window. Appends for one session are serialized by the
// session's own lock.
func (s *MemoryStore) Append(ctx context.Context, sessionID string, turn entities.Turn) error {
	rec, err := s.get(sessionID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.turns = append(rec.turns, turn)
	if len(rec.turns) > s.maxTurns {
		rec.turns = rec.turns[len(rec.turns)-s.maxTurns:]
	}
	return nil
}

// SetFacts replaces the session's out-of-band facts.
func (s *MemoryStore) SetFacts(ctx context.Context, sessionID string, facts entities.SessionFacts) error {
	rec, err := s.get(sessionID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.facts = facts
	return nil
}

func (s *MemoryStore) get(sessionID string) (*record, error) {
	s.mu.RLock()
	rec, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	return rec, nil
}
