package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/corewave-ai/voicegateway/schema"
)

// CheckpointStore persists TurnState keyed by sessionId (spec §3: "TurnState
// is exclusively owned by C7 and checkpointed to durable storage keyed by
// sessionId"), grounded on the teacher's voice backend PersistenceStore
// (SaveSession/LoadSession/DeleteSession shape).
type CheckpointStore interface {
	Save(ctx context.Context, sessionID string, state *schema.TurnState) error
	Load(ctx context.Context, sessionID string) (*schema.TurnState, error)
	Delete(ctx context.Context, sessionID string) error
}

// InMemoryCheckpointStore is a process-local CheckpointStore suitable for a
// single-replica deployment or tests; a multi-replica deployment would back
// this with Redis or Postgres using the same interface.
type InMemoryCheckpointStore struct {
	mu    sync.RWMutex
	turns map[string]*schema.TurnState
}

// NewInMemoryCheckpointStore creates an empty store.
func NewInMemoryCheckpointStore() *InMemoryCheckpointStore {
	return &InMemoryCheckpointStore{turns: make(map[string]*schema.TurnState)}
}

func (s *InMemoryCheckpointStore) Save(_ context.Context, sessionID string, state *schema.TurnState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.turns[sessionID] = &cp
	return nil
}

func (s *InMemoryCheckpointStore) Load(_ context.Context, sessionID string) (*schema.TurnState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.turns[sessionID]
	if !ok {
		return nil, fmt.Errorf("orchestrator: no checkpoint for session %q", sessionID)
	}
	cp := *state
	return &cp, nil
}

func (s *InMemoryCheckpointStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, sessionID)
	return nil
}

var _ CheckpointStore = (*InMemoryCheckpointStore)(nil)
