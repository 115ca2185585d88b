package pipeline

import (
	"container/heap"
	"sync"

	"github.com/enclavecode/swarm/coordinator/api"
)

// readyQueue orders dispatchable subtasks by priority, FIFO within the
// same priority.
type readyQueue struct {
	mu    sync.Mutex
	items readyHeap
	seq   uint64
	byID  map[string]bool
}

type readyItem struct {
	subtask *api.Subtask
	seq     uint64
}

type readyHeap []*readyItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].subtask.Priority != h[j].subtask.Priority {
		return h[i].subtask.Priority > h[j].subtask.Priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x interface{}) { *h = append(*h, x.(*readyItem)) }
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func newReadyQueue() *readyQueue {
	return &readyQueue{byID: make(map[string]bool)}
}

// Enqueue adds a subtask unless it is already queued.
func (q *readyQueue) Enqueue(subtask *api.Subtask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.byID[subtask.ID] {
		return
	}
	q.byID[subtask.ID] = true
	q.seq++
	heap.Push(&q.items, &readyItem{subtask: subtask, seq: q.seq})
}

// Pop removes and returns the highest-priority subtask, nil when empty.
func (q *readyQueue) Pop() *api.Subtask {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.items).(*readyItem)
	delete(q.byID, item.subtask.ID)
	return item.subtask
}

// Remove drops a queued subtask, returning whether it was present.
func (q *readyQueue) Remove(subtaskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.byID[subtaskID] {
		return false
	}
	for i, item := range q.items {
		if item.subtask.ID == subtaskID {
			heap.Remove(&q.items, i)
			break
		}
	}
	delete(q.byID, subtaskID)
	return true
}

// Len reports queued subtasks.
func (q *readyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
