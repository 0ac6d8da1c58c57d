package task

import (
	"container/heap"

	"github.com/google/uuid"
	"github.com/lin-1259/ai-xiutu/internal/domain"
)

// readyQueue is the ready set ordered by domain.Before. It is owned by the
// coordinator goroutine and is not safe for concurrent use.
type readyQueue struct {
	items jobHeap
	index map[uuid.UUID]int
}

func newReadyQueue() *readyQueue {
	q := &readyQueue{index: make(map[uuid.UUID]int)}
	q.items.index = q.index
	return q
}

// Len returns the number of ready jobs.
func (q *readyQueue) Len() int { return len(q.items.jobs) }

// Push adds job unless a job with the same id is already queued.
func (q *readyQueue) Push(job *domain.Job) bool {
	if _, ok := q.index[job.ID]; ok {
		return false
	}
	heap.Push(&q.items, job)
	return true
}

// Pop removes and returns the next job to start.
func (q *readyQueue) Pop() *domain.Job {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*domain.Job)
}

// Remove drops the job with id and reports whether it was queued.
func (q *readyQueue) Remove(id uuid.UUID) (*domain.Job, bool) {
	i, ok := q.index[id]
	if !ok {
		return nil, false
	}
	return heap.Remove(&q.items, i).(*domain.Job), true
}

// Contains reports whether id is queued.
func (q *readyQueue) Contains(id uuid.UUID) bool {
	_, ok := q.index[id]
	return ok
}

// jobHeap implements heap.Interface and keeps index current.
type jobHeap struct {
	jobs  []*domain.Job
	index map[uuid.UUID]int
}

func (h jobHeap) Len() int           { return len(h.jobs) }
func (h jobHeap) Less(i, j int) bool { return domain.Before(h.jobs[i], h.jobs[j]) }

func (h jobHeap) Swap(i, j int) {
	h.jobs[i], h.jobs[j] = h.jobs[j], h.jobs[i]
	h.index[h.jobs[i].ID] = i
	h.index[h.jobs[j].ID] = j
}

func (h *jobHeap) Push(x any) {
	job := x.(*domain.Job)
	h.index[job.ID] = len(h.jobs)
	h.jobs = append(h.jobs, job)
}

func (h *jobHeap) Pop() any {
	n := len(h.jobs)
	job := h.jobs[n-1]
	h.jobs[n-1] = nil
	h.jobs = h.jobs[:n-1]
	delete(h.index, job.ID)
	return job
}
