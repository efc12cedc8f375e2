package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dermaglow/resolve/internal/models"
)

// MemoryStore is an in-process TaskStore for single-node deployments and
// tests. Tasks are stored by value; readers always receive copies so a
// poller can never observe a half-written update.
type MemoryStore struct {
	mu        sync.RWMutex
	tasks     map[uuid.UUID]models.ProcessingTask
	expiresAt map[uuid.UUID]time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:     make(map[uuid.UUID]models.ProcessingTask),
		expiresAt: make(map[uuid.UUID]time.Time),
	}
}

func (s *MemoryStore) Create(_ context.Context, task *models.ProcessingTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.TaskID] = *task
	return nil
}

func (s *MemoryStore) Get(_ context.Context, taskID uuid.UUID) (*models.ProcessingTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	copied := task
	return &copied, nil
}

func (s *MemoryStore) Update(_ context.Context, task *models.ProcessingTask, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.TaskID]; !ok {
		return ErrTaskNotFound
	}
	s.tasks[task.TaskID] = *task
	if task.Status.IsTerminal() && retention > 0 {
		s.expiresAt[task.TaskID] = time.Now().Add(retention)
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for taskID, expiry := range s.expiresAt {
		if now.After(expiry) {
			delete(s.tasks, taskID)
			delete(s.expiresAt, taskID)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Len returns the number of stored tasks
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
