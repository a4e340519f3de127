package gc

import (
	"fmt"
	"testing"
)

// buildList builds a rooted singly linked list of n nodes, each also
// holding a vector with two children.
func buildList(t *testing.T, h *Heap, n int) (*Persistent[node], []*node) {
	t.Helper()
	var all []*node
	head := newNode(h, "head")
	all = append(all, head)
	cur := head
	for i := 0; i < n; i++ {
		next := newNode(h, fmt.Sprintf("n%d", i))
		Assign(cur, &cur.Next, next)
		for j := 0; j < 2; j++ {
			child := newNode(h, "child")
			cur.Items.Append(cur, child)
			all = append(all, child)
		}
		all = append(all, next)
		cur = next
	}
	return NewPersistent(h.Persistents(), head), all
}

func TestIncrementalMarking(t *testing.T) {
	h := newTestHeap(t, Options{StepBudget: 4})
	root, all := buildList(t, h, 50)
	defer root.Clear()
	garbage := newNode(h, "garbage")

	h.StartIncrementalMarking(CollectionConfig{Marking: IncrementalMarking})
	if !h.IsMarking() {
		t.Fatalf("incremental marking not started")
	}

	var stats *CycleStats
	for i := 0; stats == nil; i++ {
		if i > 10000 {
			t.Fatalf("incremental marking did not finish")
		}
		stats = h.Safepoint()
	}
	if h.IsMarking() {
		t.Errorf("still marking after the cycle finished")
	}
	if stats.IncrementalSteps < 2 {
		t.Errorf("IncrementalSteps = %d, want several", stats.IncrementalSteps)
	}
	for _, n := range all {
		if !alive(h, n) {
			t.Fatalf("reachable %s collected", n.Name)
		}
	}
	if !dead(h, garbage) {
		t.Errorf("garbage survived")
	}
}

// TestIncrementalWriteBarrier attaches a fresh subgraph to an object that
// has already been traced. The insertion barrier must keep it alive.
func TestIncrementalWriteBarrier(t *testing.T) {
	h := newTestHeap(t, Options{StepBudget: 1})
	root := newNode(h, "root")
	mid := newNode(h, "mid")
	orphan := newNode(h, "orphan")
	Assign(root, &root.Next, mid)
	p := NewPersistent(h.Persistents(), root)
	defer p.Clear()

	h.StartIncrementalMarking(CollectionConfig{Marking: IncrementalMarking})
	h.Safepoint() // traces root
	if !root.gcHeader().IsMarked() {
		t.Fatalf("root not marked after the first step")
	}

	// orphan was allocated before marking started and is unreachable so
	// far; root has already been scanned.
	Assign(root, &root.Other, orphan)
	young := newNode(h, "allocated-while-marking")
	Assign(orphan, &orphan.Next, young)

	stats := h.FinalizeIncrementalGC()
	if stats == nil {
		t.Fatalf("FinalizeIncrementalGC returned nil")
	}
	if !alive(h, root, mid, orphan, young) {
		t.Errorf("objects stored during marking were collected")
	}
	if stats.BarrierHits == 0 {
		t.Errorf("write barrier never fired")
	}
	if h.FinalizeIncrementalGC() != nil {
		t.Errorf("finalize without a running cycle must return nil")
	}
}

func TestCollectGarbageFinishesRunningCycle(t *testing.T) {
	h := newTestHeap(t, Options{})
	newNode(h, "garbage")
	h.StartIncrementalMarking(CollectionConfig{})
	stats := h.CollectGarbage(CollectionConfig{})
	if stats == nil || stats.Marking != IncrementalMarking {
		t.Errorf("CollectGarbage did not finish the incremental cycle: %+v", stats)
	}
	if h.ObjectCount() != 0 {
		t.Errorf("ObjectCount = %d", h.ObjectCount())
	}
}

func TestConcurrentMarking(t *testing.T) {
	h := newTestHeap(t, Options{ConcurrentMarkers: 4})
	root, all := buildList(t, h, 300)
	defer root.Clear()
	var garbage []*node
	for i := 0; i < 100; i++ {
		garbage = append(garbage, newNode(h, "garbage"))
	}

	stats := h.CollectGarbage(CollectionConfig{Marking: ConcurrentMarking})
	for _, n := range all {
		if !alive(h, n) {
			t.Fatalf("reachable %s collected", n.Name)
		}
	}
	for _, g := range garbage {
		if !dead(h, g) {
			t.Fatalf("garbage survived")
		}
	}
	if want := len(all); stats.MarkedObjects < want {
		t.Errorf("MarkedObjects = %d, want >= %d", stats.MarkedObjects, want)
	}
}

// TestConcurrentMarkingWithMutation mutates the graph while background
// markers run. Vector backings are deferred to the mutator.
func TestConcurrentMarkingWithMutation(t *testing.T) {
	h := newTestHeap(t, Options{ConcurrentMarkers: 2, StepBudget: 8})
	root, all := buildList(t, h, 200)
	defer root.Clear()

	h.StartIncrementalMarking(CollectionConfig{Marking: ConcurrentMarking})
	head := root.Get()
	var added []*node
	for i := 0; i < 50; i++ {
		n := newNode(h, "added")
		head.Items.Append(head, n)
		added = append(added, n)
		h.Safepoint()
	}
	stats := h.FinalizeIncrementalGC()
	if stats == nil {
		// The cycle already finished at a safepoint.
		stats = h.LastStats()
	}
	if stats.Marking != ConcurrentMarking {
		t.Errorf("Marking = %v", stats.Marking)
	}
	for _, n := range append(all, added...) {
		if !alive(h, n) {
			t.Fatalf("reachable %s collected", n.Name)
		}
	}
	if head.Items.Len() != 2+len(added) {
		t.Errorf("vector len = %d", head.Items.Len())
	}
}

func TestMarkerPhaseChecks(t *testing.T) {
	h := newTestHeap(t, Options{})
	m := newMarker(h, CollectionConfig{}, newCycleStats(h, 1, CollectionConfig{}))
	expectPanic(t, func() { m.ProcessWeakness() })
	expectPanic(t, func() { m.AdvanceMarking(1) })
	m.StartMarking()
	expectPanic(t, func() { m.StartMarking() })
	expectPanic(t, func() { m.ProcessWorklistsToFixpoint() })
	m.EnterAtomicPause()
	m.ProcessWorklistsToFixpoint()
	m.ProcessWeakness()
	m.LeaveAtomicPause()
	if m.phase != phaseDone {
		t.Errorf("phase = %v", m.phase)
	}
	// The heap never saw this marker; clear marks it left behind.
	h.ForEachObject(func(hdr *HeapObjectHeader) bool {
		hdr.Unmark()
		return true
	})
}

func TestYoungGenerationVisitorNeedsYoungState(t *testing.T) {
	expectPanic(t, func() { NewYoungGenerationMarkingVisitor(newMarkingState(newMarkingWorklists(), false)) })
}
