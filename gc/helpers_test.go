package gc

import (
	"errors"
	"fmt"
	"testing"
)

// ---------------------------------------------------------------------------
// Managed types shared by the tests
// ---------------------------------------------------------------------------

type node struct {
	Managed
	Name  string
	Next  Member[node]
	Other UncompressedMember[node]
	Weak  WeakMember[node]
	Items HeapVector[node]
}

func (n *node) Trace(v *Visitor) {
	v.Trace(&n.Next)
	v.Trace(&n.Other)
	v.TraceWeak(&n.Weak)
	n.Items.Trace(v)
}

func newNode(h *Heap, name string) *node {
	return MakeGarbageCollected(h, &node{Name: name})
}

type finalized struct {
	Managed
	Ref   Member[node]
	count *int
}

func (f *finalized) Trace(v *Visitor) { v.Trace(&f.Ref) }

func (f *finalized) PreFinalize() { *f.count++ }

type table struct {
	Managed
	Set WeakSet[node]
	Map EphemeronMap[node, node]
}

func (t *table) Trace(v *Visitor) {
	t.Set.Trace(v)
	t.Map.Trace(v)
}

type pairHolder struct {
	Managed
	Pair EphemeronPair[node, node]
}

func (p *pairHolder) Trace(v *Visitor) { v.TraceEphemeronPair(&p.Pair) }

// rootFunc adapts a function to Traceable for Heap.AddRoot.
type rootFunc func(v *Visitor)

func (f rootFunc) Trace(v *Visitor) { f(v) }

func newTestHeap(t *testing.T, opts Options) *Heap {
	t.Helper()
	if opts.Name == "" {
		opts.Name = t.Name()
	}
	h := NewHeap(opts)
	t.Cleanup(h.Close)
	return h
}

func collect(h *Heap) *CycleStats {
	return h.CollectGarbage(CollectionConfig{Collection: MajorCollection, Marking: AtomicMarking})
}

func collectMinor(h *Heap) *CycleStats {
	return h.CollectGarbage(CollectionConfig{Collection: MinorCollection})
}

func alive(h *Heap, objs ...GarbageCollected) bool {
	for _, o := range objs {
		hdr := o.gcHeader()
		if hdr == nil || hdr.IsFree() || !h.IsAlive(hdr.Address()) {
			return false
		}
	}
	return true
}

func dead(h *Heap, objs ...GarbageCollected) bool {
	for _, o := range objs {
		if hdr := o.gcHeader(); hdr != nil && !hdr.IsFree() {
			return false
		}
	}
	return true
}

// expectPanic runs fn and returns the recovered panic value, failing the
// test if fn did not panic.
func expectPanic(t *testing.T, fn func()) (v any) {
	t.Helper()
	defer func() {
		v = recover()
		if v == nil {
			t.Errorf("expected panic")
		}
	}()
	fn()
	return nil
}

func panicErr(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return errors.New(fmt.Sprint(v))
}
