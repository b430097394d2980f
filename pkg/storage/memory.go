package storage

import (
	"sort"
	"sync"

	"audio-transcriber/pkg/models"
)

// MemoryStore holds the jobs of the running process. Getters return copies
// so callers never observe a job mid-update.
type MemoryStore interface {
	StoreJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	ListJobs() ([]*models.Job, error)
	UpdateJob(id string, update func(job *models.Job)) error
}

type memoryStore struct {
	jobs map[string]*models.Job
	mu   sync.RWMutex
}

func NewMemoryStore() MemoryStore {
	return &memoryStore{
		jobs: make(map[string]*models.Job),
	}
}

func (s *memoryStore) StoreJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *job
	s.jobs[job.ID] = &stored
	return nil
}

func (s *memoryStore) GetJob(id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, ErrJobNotFound
	}

	out := *job
	return &out, nil
}

// ListJobs returns jobs newest first.
func (s *memoryStore) ListJobs() ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out := *job
		jobs = append(jobs, &out)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	return jobs, nil
}

func (s *memoryStore) UpdateJob(id string, update func(job *models.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return ErrJobNotFound
	}

	update(job)
	return nil
}
