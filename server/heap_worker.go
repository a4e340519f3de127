package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/tracegc/gc"
)

var (
	// ErrWorkerStopped is returned by Do once the worker has been stopped.
	ErrWorkerStopped = errors.New("heap worker stopped")
	// ErrHeapBroken is returned by Do once a request panicked in the middle
	// of a collection cycle. The heap is not touched again.
	ErrHeapBroken = errors.New("heap broken by a panic inside a collection")
)

// heapRequest is a unit of work to be executed on the mutator goroutine.
type heapRequest struct {
	fn   func(*gc.Heap) any
	done chan heapResult
}

type heapResult struct {
	value any
	err   error
}

// HeapWorker owns a heap and serializes all access to it through a single
// goroutine. A heap is bound to the goroutine that created it, so the
// worker builds the heap itself and every handler must go through Do.
type HeapWorker struct {
	requests  chan heapRequest
	quit      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	safepoint time.Duration

	// broken is only touched by the worker goroutine.
	broken error
}

// NewHeapWorker starts the worker goroutine, creates the heap on it with
// newHeap and returns once the heap exists. When safepoint is positive the
// worker polls gc.Heap.Safepoint at that interval between requests, which
// lets a Scheduler drive collections on an otherwise idle heap.
func NewHeapWorker(newHeap func() *gc.Heap, safepoint time.Duration) *HeapWorker {
	w := &HeapWorker{
		requests:  make(chan heapRequest, 64),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		safepoint: safepoint,
	}
	ready := make(chan struct{})
	go w.loop(newHeap, ready)
	<-ready
	return w
}

func (w *HeapWorker) loop(newHeap func() *gc.Heap, ready chan struct{}) {
	defer close(w.done)

	h := newHeap()
	close(ready)

	var tick <-chan time.Time
	if w.safepoint > 0 {
		ticker := time.NewTicker(w.safepoint)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case req := <-w.requests:
			if w.broken != nil {
				req.done <- heapResult{err: w.broken}
				continue
			}
			req.done <- w.execute(h, req.fn)
		case <-tick:
			if w.broken != nil {
				continue
			}
			w.execute(h, func(h *gc.Heap) any {
				if stats := h.Safepoint(); stats != nil {
					log.Debugf("safepoint collection %s", stats)
				}
				return nil
			})
		case <-w.quit:
			if w.broken != nil {
				log.Warningf("not closing broken heap %s", h.ID())
				return
			}
			w.execute(h, func(h *gc.Heap) any {
				h.Close()
				return nil
			})
			return
		}
	}
}

// execute runs fn on the heap, recovering from panics. Running out of
// persistent nodes is not recovered. A panic that leaves the heap mid-cycle
// breaks the worker for good.
func (w *HeapWorker) execute(h *gc.Heap, fn func(*gc.Heap) any) heapResult {
	var result heapResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				if isFatal(r) {
					log.Criticalf("heap request panicked: %v", r)
					panic(r)
				}
				if err, ok := r.(error); ok {
					result.err = err
				} else {
					result.err = fmt.Errorf("%v", r)
				}
				log.Errorf("heap request panicked: %s", result.err)
				if h.Broken() {
					w.broken = fmt.Errorf("%w: %v", ErrHeapBroken, result.err)
					result.err = w.broken
				}
			}
		}()
		result.value = fn(h)
	}()
	return result
}

func isFatal(r any) bool {
	err, ok := r.(error)
	return ok && errors.Is(err, gc.ErrPersistentNodeExhausted)
}

// Do submits fn for execution on the mutator goroutine and blocks until it
// completes. A panic inside fn is returned as an error.
func (w *HeapWorker) Do(fn func(*gc.Heap) any) (any, error) {
	return w.DoContext(context.Background(), fn)
}

// DoContext is Do with cancellation. A request that was already handed to
// the worker still runs to completion; only the wait is abandoned.
func (w *HeapWorker) DoContext(ctx context.Context, fn func(*gc.Heap) any) (any, error) {
	req := heapRequest{
		fn:   fn,
		done: make(chan heapResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.done:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop closes the heap and shuts down the worker goroutine. It is safe to
// call more than once.
func (w *HeapWorker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.done
}
