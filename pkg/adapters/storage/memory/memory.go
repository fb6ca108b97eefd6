package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aescanero/dagflow/pkg/domain"
)

// InMemoryRunStorage implements RunStorage using an in-memory map.
// States do not expire.
type InMemoryRunStorage struct {
	runs map[string]*domain.RunState
	mu   sync.RWMutex
}

// NewInMemoryRunStorage creates a new in-memory run storage
func NewInMemoryRunStorage() *InMemoryRunStorage {
	return &InMemoryRunStorage{
		runs: make(map[string]*domain.RunState),
	}
}

// SaveRun stores a copy of state
func (s *InMemoryRunStorage) SaveRun(ctx context.Context, state *domain.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stateCopy := *state
	s.runs[state.RunID] = &stateCopy
	return nil
}

// GetRun returns a copy of the stored state
func (s *InMemoryRunStorage) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	stateCopy := *state
	return &stateCopy, nil
}

// DeleteRun removes a run
func (s *InMemoryRunStorage) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, runID)
	return nil
}

// ListRuns returns every stored run, most recently submitted first
func (s *InMemoryRunStorage) ListRuns(ctx context.Context) ([]*domain.RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*domain.RunState, 0, len(s.runs))
	for _, state := range s.runs {
		stateCopy := *state
		states = append(states, &stateCopy)
	}
	sortRuns(states)
	return states, nil
}

func sortRuns(states []*domain.RunState) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].SubmittedAt.Equal(states[j].SubmittedAt) {
			return states[i].RunID < states[j].RunID
		}
		return states[i].SubmittedAt.After(states[j].SubmittedAt)
	})
}
