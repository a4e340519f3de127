package gc

import (
	"sync"
	"testing"
	"unsafe"
)

func TestLocalPushPop(t *testing.T) {
	w := NewWorklist[int]()
	l := NewLocal(w)
	if _, ok := l.Pop(); ok {
		t.Fatalf("pop from empty worklist succeeded")
	}
	const n = 3*segmentCapacity + 5
	for i := 0; i < n; i++ {
		l.Push(i)
	}
	if w.IsEmpty() {
		t.Errorf("full segments were not published")
	}
	seen := make(map[int]bool)
	for {
		v, ok := l.Pop()
		if !ok {
			break
		}
		if seen[v] {
			t.Fatalf("item %d popped twice", v)
		}
		seen[v] = true
	}
	if len(seen) != n || !l.IsEmpty() {
		t.Errorf("popped %d of %d items", len(seen), n)
	}
}

func TestLocalPublishAndSteal(t *testing.T) {
	w := NewWorklist[int]()
	a := NewLocal(w)
	b := NewLocal(w)
	a.Push(1)
	a.Push(2)
	if _, ok := b.Pop(); ok {
		t.Fatalf("unpublished work visible to another local")
	}
	a.Publish()
	if !a.IsLocalEmpty() || w.Size() != 2 {
		t.Errorf("after Publish: localEmpty=%v size=%d", a.IsLocalEmpty(), w.Size())
	}
	got := 0
	for {
		if _, ok := b.Pop(); !ok {
			break
		}
		got++
	}
	if got != 2 {
		t.Errorf("stole %d items, want 2", got)
	}
	w.Clear()
	if !w.IsEmpty() {
		t.Errorf("Clear left work behind")
	}
}

func TestWorklistConcurrentLocals(t *testing.T) {
	w := NewWorklist[int]()
	const workers, per = 4, 1000
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := NewLocal(w)
			for j := 0; j < per; j++ {
				l.Push(j)
			}
			l.Publish()
		}()
	}
	wg.Wait()
	if w.Size() != workers*per {
		t.Errorf("Size = %d, want %d", w.Size(), workers*per)
	}
}

func TestDeferredQueueOrder(t *testing.T) {
	var q DeferredQueue
	objs := make([]int, 5)
	for i := range objs {
		q.Push(unsafe.Pointer(&objs[i]), nil)
	}
	if q.Len() != 5 {
		t.Fatalf("Len = %d", q.Len())
	}
	i := 0
	n := q.Drain(func(object unsafe.Pointer, _ TraceCallback) {
		if object != unsafe.Pointer(&objs[i]) {
			t.Errorf("item %d out of order", i)
		}
		i++
	})
	if n != 5 || q.Len() != 0 {
		t.Errorf("Drain = %d, Len = %d", n, q.Len())
	}
}

func TestDeferredQueueConcurrentPush(t *testing.T) {
	var q DeferredQueue
	var x int
	const producers, per = 8, 500
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < per; j++ {
				q.Push(unsafe.Pointer(&x), nil)
			}
		}()
	}
	drained := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		drained += q.Drain(func(unsafe.Pointer, TraceCallback) {})
	}
	if drained != producers*per {
		t.Errorf("drained %d, want %d", drained, producers*per)
	}
}
