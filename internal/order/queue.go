package order

import "context"

// Queue buffers signals before execution. It never blocks producers.
type Queue struct {
	ch chan Signal
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{ch: make(chan Signal, size)}
}

// TryEnqueue adds s unless the queue is full.
func (q *Queue) TryEnqueue(s Signal) bool {
	select {
	case q.ch <- s:
		return true
	default:
		return false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Close() {
	close(q.ch)
}

// Drain consumes signals with a handler until context is canceled or the
// queue is closed.
func (q *Queue) Drain(ctx context.Context, handler func(Signal)) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-q.ch:
			if !ok {
				return
			}
			handler(s)
		}
	}
}
