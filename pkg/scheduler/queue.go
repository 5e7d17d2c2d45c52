package scheduler

import (
	"container/heap"

	"github.com/hivemesh/hivemind/pkg/types"
)

// readyQueue orders ready tasks by (priority rank desc, created_at asc).
// It is not safe for concurrent use; the scheduler serializes access.
type readyQueue struct {
	items []*types.Task
}

func newReadyQueue() *readyQueue {
	q := &readyQueue{}
	heap.Init(q)
	return q
}

func (q *readyQueue) Len() int { return len(q.items) }

func (q *readyQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (q *readyQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *readyQueue) Push(x interface{}) {
	q.items = append(q.items, x.(*types.Task))
}

func (q *readyQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

func (q *readyQueue) push(t *types.Task) { heap.Push(q, t) }

func (q *readyQueue) pop() *types.Task {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*types.Task)
}

// remove deletes a task by id, returning whether it was present
func (q *readyQueue) remove(taskID string) bool {
	for i, t := range q.items {
		if t.ID == taskID {
			heap.Remove(q, i)
			return true
		}
	}
	return false
}

// drain pops every task, leaving the queue empty
func (q *readyQueue) drain() []*types.Task {
	out := make([]*types.Task, 0, q.Len())
	for q.Len() > 0 {
		out = append(out, q.pop())
	}
	return out
}
