package gc

import (
	"sync/atomic"
	"unsafe"
)

type deferredTrace struct {
	object unsafe.Pointer
	cb     TraceCallback
}

type deferredNode struct {
	item deferredTrace
	next *deferredNode
}

// DeferredQueue collects objects that concurrent markers refused to trace.
// Any number of markers push; only the mutator drains. Pushing is a single
// CAS onto a lock-free stack and draining detaches the whole stack at once.
type DeferredQueue struct {
	head atomic.Pointer[deferredNode]
	size atomic.Int64
}

// Push adds an object to the queue. Safe for concurrent use.
func (q *DeferredQueue) Push(object unsafe.Pointer, cb TraceCallback) {
	n := &deferredNode{item: deferredTrace{object: object, cb: cb}}
	for {
		old := q.head.Load()
		n.next = old
		if q.head.CompareAndSwap(old, n) {
			q.size.Add(1)
			return
		}
	}
}

// Drain removes all queued objects and calls fn on them in push order.
// Only one goroutine may drain at a time.
func (q *DeferredQueue) Drain(fn func(object unsafe.Pointer, cb TraceCallback)) int {
	list := q.head.Swap(nil)
	var rev *deferredNode
	n := 0
	for list != nil {
		next := list.next
		list.next = rev
		rev = list
		list = next
		n++
	}
	q.size.Add(int64(-n))
	for ; rev != nil; rev = rev.next {
		fn(rev.item.object, rev.item.cb)
	}
	return n
}

// Len returns the approximate number of queued objects.
func (q *DeferredQueue) Len() int { return int(q.size.Load()) }
