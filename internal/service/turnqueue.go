package service

import "sync"

// turnQueue serializes turns per session in the order they were enqueued.
type turnQueue struct {
	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

func newTurnQueue() *turnQueue {
	return &turnQueue{waiters: make(map[string][]chan struct{})}
}

// ticket is a place in a session's queue.
type ticket struct {
	ready <-chan struct{}
	done  func()
}

// enqueue reserves the next slot for key. The ticket's ready channel is
// closed when every earlier ticket for key has called done.
func (q *turnQueue) enqueue(key string) *ticket {
	ch := make(chan struct{})

	q.mu.Lock()
	if len(q.waiters[key]) == 0 {
		close(ch)
	}
	q.waiters[key] = append(q.waiters[key], ch)
	q.mu.Unlock()

	var once sync.Once
	return &ticket{
		ready: ch,
		done:  func() { once.Do(func() { q.release(key) }) },
	}
}

func (q *turnQueue) release(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rest := q.waiters[key][1:]
	if len(rest) == 0 {
		delete(q.waiters, key)
		return
	}
	q.waiters[key] = rest
	close(rest[0])
}

// pending reports how many turns hold or wait for key.
func (q *turnQueue) pending(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters[key])
}
