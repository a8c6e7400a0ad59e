package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/batchscribe/batchscribe/internal/types"
)

// ErrNotFound is returned when a job id is unknown to the store.
var ErrNotFound = errors.New("job not found")

// Store holds the authoritative in-memory record for every job in a
// session. All reads return copies, so callers never alias internal
// state.
type Store struct {
	mu    sync.RWMutex
	order []string
	jobs  map[string]*types.Job
}

// New creates an empty job store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*types.Job),
	}
}

// Create registers a new pending job and returns its snapshot.
// Creation order is preserved for List and pipeline processing.
func (s *Store) Create(sourcePath, name, language string) types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &types.Job{
		ID:         uuid.New().String(),
		SourcePath: sourcePath,
		Name:       name,
		Language:   language,
		Status:     types.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	s.order = append(s.order, job.ID)
	s.jobs[job.ID] = job
	return *job
}

// Get returns a snapshot of the job with the given id.
func (s *Store) Get(id string) (types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return types.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *job, nil
}

// Update applies mutate atomically and returns the resulting
// snapshot. Status may only move along forward edges and progress
// never decreases; a violating mutation is rolled back.
func (s *Store) Update(id string, mutate func(*types.Job)) (types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return types.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	prev := *job
	mutate(job)

	if job.Status != prev.Status && !validTransition(prev.Status, job.Status) {
		*job = prev
		return types.Job{}, fmt.Errorf("invalid transition: %s -> %s", prev.Status, job.Status)
	}
	if job.Progress < prev.Progress {
		job.Progress = prev.Progress
	}
	return *job, nil
}

// List returns snapshots of all jobs in creation order.
func (s *Store) List() []types.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.jobs[id])
	}
	return out
}

// validTransition enforces the forward-only job state machine.
// pending -> done exists for jobs replayed from the history store;
// pending -> failed for session-wide aborts. transcribing -> done is
// taken only when the output mode has no export stage.
func validTransition(from, to types.JobStatus) bool {
	switch from {
	case types.StatusPending:
		return to == types.StatusTranscribing || to == types.StatusDone || to == types.StatusFailed
	case types.StatusTranscribing:
		return to == types.StatusExporting || to == types.StatusDone || to == types.StatusFailed
	case types.StatusExporting:
		return to == types.StatusDone || to == types.StatusFailed
	default:
		return false
	}
}
