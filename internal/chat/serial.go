package chat

import "sync"

// keyedQueue runs jobs sharing a key one at a time, in submission order.
// Jobs with different keys run concurrently.
type keyedQueue struct {
	mu     sync.Mutex
	queues map[string][]func()
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{queues: make(map[string][]func())}
}

func (q *keyedQueue) Do(key string, job func()) {
	q.mu.Lock()
	pending, running := q.queues[key]
	q.queues[key] = append(pending, job)
	q.mu.Unlock()

	if !running {
		go q.drain(key)
	}
}

func (q *keyedQueue) drain(key string) {
	for {
		q.mu.Lock()
		pending := q.queues[key]
		if len(pending) == 0 {
			delete(q.queues, key)
			q.mu.Unlock()
			return
		}
		job := pending[0]
		q.queues[key] = pending[1:]
		q.mu.Unlock()

		job()
	}
}
