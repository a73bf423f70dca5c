package eventloop

import "sync"

// Queue is an unbounded FIFO safe for concurrent producers and consumers.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

// Pop removes and returns the oldest item.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.head == len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	q.compact()
	return v, true
}

// Peek returns the oldest item without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.items) {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *Queue[T]) Empty() bool { return q.Len() == 0 }

// compact reclaims the consumed prefix once it dominates the backing array.
func (q *Queue[T]) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > 32 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
}

// PriorityQueue is a fixed set of FIFO levels. Level 0 drains first.
type PriorityQueue[T any] struct {
	levels []*Queue[T]
}

func NewPriorityQueue[T any](levels int) *PriorityQueue[T] {
	if levels < 1 {
		levels = 1
	}
	q := &PriorityQueue[T]{levels: make([]*Queue[T], levels)}
	for i := range q.levels {
		q.levels[i] = NewQueue[T]()
	}
	return q
}

func (q *PriorityQueue[T]) Levels() int { return len(q.levels) }

// PushAt enqueues v at level, clamped into range.
func (q *PriorityQueue[T]) PushAt(level int, v T) {
	switch {
	case level < 0:
		level = 0
	case level >= len(q.levels):
		level = len(q.levels) - 1
	}
	q.levels[level].Push(v)
}

// Push enqueues at the lowest priority.
func (q *PriorityQueue[T]) Push(v T) {
	q.levels[len(q.levels)-1].Push(v)
}

func (q *PriorityQueue[T]) Pop() (T, bool) {
	for _, l := range q.levels {
		if v, ok := l.Pop(); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func (q *PriorityQueue[T]) Len() int {
	n := 0
	for _, l := range q.levels {
		n += l.Len()
	}
	return n
}

func (q *PriorityQueue[T]) Empty() bool { return q.Len() == 0 }
