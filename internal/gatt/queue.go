package gatt

import (
	list "github.com/bahlo/generic-list-go"
)

// OperationQueue is a FIFO of operations waiting to be dispatched.
// It is not safe for concurrent use; Manager guards it with its own lock.
type OperationQueue struct {
	items *list.List[Operation]
}

// NewOperationQueue creates an empty queue.
func NewOperationQueue() *OperationQueue {
	return &OperationQueue{items: list.New[Operation]()}
}

// Push appends op to the tail.
func (q *OperationQueue) Push(op Operation) {
	q.items.PushBack(op)
}

// Pop removes and returns the head, or nil when empty.
func (q *OperationQueue) Pop() Operation {
	front := q.items.Front()
	if front == nil {
		return nil
	}
	return q.items.Remove(front)
}

// Len returns the number of queued operations.
func (q *OperationQueue) Len() int {
	return q.items.Len()
}

// Snapshot returns the queued operations in dispatch order.
func (q *OperationQueue) Snapshot() []Operation {
	out := make([]Operation, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value)
	}
	return out
}

// Clear empties the queue and returns how many operations were discarded.
func (q *OperationQueue) Clear() int {
	n := q.items.Len()
	q.items.Init()
	return n
}
