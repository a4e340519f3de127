package gc

import (
	"sync"
	"sync/atomic"
)

const segmentCapacity = 64

type segment[T any] struct {
	items [segmentCapacity]T
	n     int
	next  *segment[T]
}

func (s *segment[T]) isFull() bool  { return s.n == segmentCapacity }
func (s *segment[T]) isEmpty() bool { return s.n == 0 }

// Worklist is a shared pool of full segments. Markers work on a Local view
// and exchange whole segments with the pool, so the lock is taken once per
// segmentCapacity items rather than per item.
type Worklist[T any] struct {
	mu       sync.Mutex
	head     *segment[T]
	segments atomic.Int64
}

// NewWorklist returns an empty worklist.
func NewWorklist[T any]() *Worklist[T] {
	return &Worklist[T]{}
}

func (w *Worklist[T]) push(s *segment[T]) {
	w.mu.Lock()
	s.next = w.head
	w.head = s
	w.segments.Add(1)
	w.mu.Unlock()
}

func (w *Worklist[T]) pop() *segment[T] {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.head
	if s != nil {
		w.head = s.next
		s.next = nil
		w.segments.Add(-1)
	}
	return s
}

// IsEmpty reports whether no published segments remain.
func (w *Worklist[T]) IsEmpty() bool { return w.segments.Load() == 0 }

// Size returns the number of published items.
func (w *Worklist[T]) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for s := w.head; s != nil; s = s.next {
		n += s.n
	}
	return n
}

// Clear drops all published segments.
func (w *Worklist[T]) Clear() {
	w.mu.Lock()
	w.head = nil
	w.segments.Store(0)
	w.mu.Unlock()
}

// Local is one marker's view of a Worklist. It keeps a push segment and a
// pop segment; full push segments are published, and an empty pop side
// steals a published segment. Not safe for concurrent use.
type Local[T any] struct {
	global  *Worklist[T]
	pushSeg *segment[T]
	popSeg  *segment[T]
}

// NewLocal returns a local view of w.
func NewLocal[T any](w *Worklist[T]) *Local[T] {
	return &Local[T]{global: w, pushSeg: new(segment[T]), popSeg: new(segment[T])}
}

// Push adds an item.
func (l *Local[T]) Push(item T) {
	if l.pushSeg.isFull() {
		l.global.push(l.pushSeg)
		l.pushSeg = new(segment[T])
	}
	l.pushSeg.items[l.pushSeg.n] = item
	l.pushSeg.n++
}

// Pop removes an item, taking work from the global pool when the local
// segments are exhausted.
func (l *Local[T]) Pop() (T, bool) {
	if l.popSeg.isEmpty() {
		if !l.pushSeg.isEmpty() {
			l.popSeg, l.pushSeg = l.pushSeg, l.popSeg
		} else if s := l.global.pop(); s != nil {
			l.popSeg = s
		} else {
			var zero T
			return zero, false
		}
	}
	l.popSeg.n--
	item := l.popSeg.items[l.popSeg.n]
	var zero T
	l.popSeg.items[l.popSeg.n] = zero
	return item, true
}

// Publish hands all locally buffered items to the global pool.
func (l *Local[T]) Publish() {
	if !l.pushSeg.isEmpty() {
		l.global.push(l.pushSeg)
		l.pushSeg = new(segment[T])
	}
	if !l.popSeg.isEmpty() {
		l.global.push(l.popSeg)
		l.popSeg = new(segment[T])
	}
}

// IsLocalEmpty reports whether the local segments hold no items.
func (l *Local[T]) IsLocalEmpty() bool {
	return l.pushSeg.isEmpty() && l.popSeg.isEmpty()
}

// IsEmpty reports whether both the local view and the pool are empty.
func (l *Local[T]) IsEmpty() bool {
	return l.IsLocalEmpty() && l.global.IsEmpty()
}

// Clear drops local items.
func (l *Local[T]) Clear() {
	l.pushSeg = new(segment[T])
	l.popSeg = new(segment[T])
}
