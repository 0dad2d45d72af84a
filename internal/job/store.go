package job

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/okuzmin/vectorize-api/internal/domain"
)

// Store persists job snapshots, queryable by id and by input reference.
type Store interface {
	// Save writes the current snapshot of a job, replacing any previous one.
	Save(ctx context.Context, job *domain.Job) error

	// Get returns the stored snapshot for an id, or domain.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// ListByInput returns all jobs referencing an input, newest first.
	ListByInput(ctx context.Context, inputRef string) ([]*domain.Job, error)
}

// MemoryStore is the in-process Store used in the single-process deployment.
// It keeps defensive snapshots so callers can never mutate stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*domain.Job
	byInput map[string][]uuid.UUID
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[uuid.UUID]*domain.Job),
		byInput: make(map[string][]uuid.UUID),
	}
}

// Save writes the current snapshot of a job.
func (s *MemoryStore) Save(ctx context.Context, job *domain.Job) error {
	snap := job.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[snap.ID]; !exists {
		s.byInput[snap.InputRef] = append(s.byInput[snap.InputRef], snap.ID)
	}
	s.jobs[snap.ID] = snap
	return nil
}

// Get returns a snapshot for an id.
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return j.Snapshot(), nil
}

// ListByInput returns all jobs referencing an input, newest first.
func (s *MemoryStore) ListByInput(ctx context.Context, inputRef string) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byInput[inputRef]
	out := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		if j, ok := s.jobs[id]; ok {
			out = append(out, j.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Len reports the number of stored jobs, for stats.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
