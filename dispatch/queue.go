package dispatch

import "sync"

// Queue is an unbounded FIFO of requests. Push never blocks.
type Queue struct {
	mu    sync.Mutex
	items []Request
	ready chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends req and wakes a waiting consumer.
func (q *Queue) Push(req Request) {
	q.mu.Lock()
	q.items = append(q.items, req)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop removes the oldest request. ok is false when the queue is empty.
func (q *Queue) Pop() (req Request, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Request{}, false
	}
	req = q.items[0]
	q.items[0] = Request{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return req, true
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready is signalled after a Push. A signal may be stale; always Pop to check.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
