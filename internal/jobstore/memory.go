package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/book-expert/voice-render/internal/core"
)

// MemoryStore keeps encoded records in a map. Revisions come from a single
// counter, so they increase across all keys.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string][]byte
	revision uint64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu:       sync.RWMutex{},
		records:  make(map[string][]byte),
		revision: 0,
	}
}

// Get implements core.JobStore.
func (m *MemoryStore) Get(_ context.Context, id string) (core.RenderJob, uint64, error) {
	m.mu.RLock()
	data, found := m.records[id]
	m.mu.RUnlock()

	if !found {
		return core.RenderJob{}, 0, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}

	stored, err := decodeRecord(data)
	if err != nil {
		return core.RenderJob{}, 0, err
	}

	return stored.Job, stored.Revision, nil
}

// Put implements core.JobStore.
func (m *MemoryStore) Put(_ context.Context, job core.RenderJob) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.writeLocked(job)
}

// CompareAndSet implements core.JobStore.
func (m *MemoryStore) CompareAndSet(_ context.Context, job core.RenderJob, expected uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, found := m.records[job.ID]
	if !found {
		return 0, fmt.Errorf("%w: %s", core.ErrNotFound, job.ID)
	}

	stored, err := decodeRecord(data)
	if err != nil {
		return 0, err
	}

	if stored.Revision != expected {
		return 0, fmt.Errorf("%w: job %s is at revision %d, expected %d",
			core.ErrRevisionConflict, job.ID, stored.Revision, expected)
	}

	return m.writeLocked(job)
}

// List implements core.JobStore. Jobs are ordered by creation time.
func (m *MemoryStore) List(_ context.Context) ([]core.RenderJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]core.RenderJob, 0, len(m.records))

	for _, data := range m.records {
		stored, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, stored.Job)
	}

	sortJobs(jobs)

	return jobs, nil
}

func (m *MemoryStore) writeLocked(job core.RenderJob) (uint64, error) {
	next := m.revision + 1

	data, err := encodeRecord(job, next)
	if err != nil {
		return 0, err
	}

	m.records[job.ID] = data
	m.revision = next

	return next, nil
}

func sortJobs(jobs []core.RenderJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}

		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
