package playback

import "sync"

// commandQueue is a bounded ring of commands with a single consumer. Producers
// never block: tryPush fails when the ring is full.
type commandQueue struct {
	mu   sync.Mutex
	cond *sync.Cond
	ring []command
	head int // next read
	n    int
}

func newCommandQueue(depth int) *commandQueue {
	q := &commandQueue{ring: make([]command, depth)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// tryPush appends c and wakes the consumer. It reports false when full.
func (q *commandQueue) tryPush(c command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == len(q.ring) {
		return false
	}
	q.ring[(q.head+q.n)%len(q.ring)] = c
	q.n++
	q.cond.Signal()
	return true
}

// pop removes the oldest command. With wait set it blocks until one is
// available; otherwise it reports false on an empty queue.
func (q *commandQueue) pop(wait bool) (command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for wait && q.n == 0 {
		q.cond.Wait()
	}
	if q.n == 0 {
		return command{}, false
	}
	return q.takeLocked(), true
}

// drain removes and returns every queued command.
func (q *commandQueue) drain() []command {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []command
	for q.n > 0 {
		out = append(out, q.takeLocked())
	}
	return out
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// takeLocked removes the head command. Caller must hold q.mu.
func (q *commandQueue) takeLocked() command {
	c := q.ring[q.head]
	q.ring[q.head] = command{}
	q.head = (q.head + 1) % len(q.ring)
	q.n--
	return c
}
