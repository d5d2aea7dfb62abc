package writer

import "sync"

// queue is a FIFO ring buffer that doubles its capacity until it reaches
// maxCap. Once full at maxCap, Push overwrites the oldest item.
type queue[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int
	count  int
	maxCap int
	closed bool

	// ready receives a signal once count reaches threshold
	ready     chan struct{}
	threshold int

	// Stats
	pushed  int64
	dropped int64
	resizes int
}

// queueStats contains queue statistics.
type queueStats struct {
	Len     int
	Cap     int
	Pushed  int64
	Dropped int64
	Resizes int
}

func newQueue[T any](initialCap, maxCap, threshold int) *queue[T] {
	if initialCap < 1 {
		initialCap = 1
	}
	if maxCap < initialCap {
		maxCap = initialCap
	}
	if threshold < 1 {
		threshold = 1
	}
	return &queue[T]{
		buf:       make([]T, initialCap),
		maxCap:    maxCap,
		ready:     make(chan struct{}, 1),
		threshold: threshold,
	}
}

// Push appends item. Returns false if the queue is closed.
func (q *queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if q.count == len(q.buf) {
		if len(q.buf) < q.maxCap {
			q.grow()
		} else {
			var zero T
			q.buf[q.head] = zero
			q.head = (q.head + 1) % len(q.buf)
			q.count--
			q.dropped++
		}
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.pushed++

	if q.count >= q.threshold {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return true
}

// Drain removes up to max items (all if max <= 0) in FIFO order.
func (q *queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}

	n := q.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i] = q.buf[q.head]
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
	}
	q.count -= n

	return out
}

// Ready is signalled when the queue holds at least threshold items.
func (q *queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Close rejects further pushes. Queued items can still be drained.
func (q *queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *queue[T]) Stats() queueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queueStats{
		Len:     q.count,
		Cap:     len(q.buf),
		Pushed:  q.pushed,
		Dropped: q.dropped,
		Resizes: q.resizes,
	}
}

// grow doubles capacity up to maxCap. Must be called with lock held.
func (q *queue[T]) grow() {
	newCap := len(q.buf) * 2
	if newCap > q.maxCap {
		newCap = q.maxCap
	}

	newBuf := make([]T, newCap)
	n := copy(newBuf, q.buf[q.head:])
	copy(newBuf[n:], q.buf[:q.head])

	q.buf = newBuf
	q.head = 0
	q.resizes++
}
