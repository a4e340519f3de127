package gc

import (
	"testing"
	"unsafe"
)

// recordingHooks records every hook call without marking anything.
type recordingHooks struct {
	BaseVisitorHooks
	visited    []Address
	weak       []Address
	ephemerons []Address
	containers []Address
	callbacks  int
	movable    []*RawSlot
}

func (r *recordingHooks) Visit(desc TraceDescriptor) {
	r.visited = append(r.visited, desc.BaseObjectPayload)
}

func (r *recordingHooks) VisitWeak(desc TraceDescriptor, _ WeakCallback, _ any) {
	r.weak = append(r.weak, desc.BaseObjectPayload)
}

func (r *recordingHooks) VisitEphemeron(key Address, _ unsafe.Pointer, _ TraceDescriptor) {
	r.ephemerons = append(r.ephemerons, key)
}

func (r *recordingHooks) VisitWeakContainer(object Address, _, _ TraceDescriptor, _ WeakCallback, _ any) {
	r.containers = append(r.containers, object)
}

func (r *recordingHooks) RegisterWeakCallback(WeakCallback, any) { r.callbacks++ }

func (r *recordingHooks) HandleMovableReference(slot *RawSlot) {
	r.movable = append(r.movable, slot)
}

func TestVisitorSkipsNullAndSentinel(t *testing.T) {
	hooks := &recordingHooks{}
	v := NewVisitor(hooks)

	var m Member[node]
	v.Trace(&m)
	m.StoreRaw(SentinelAddress)
	v.Trace(&m)
	var w WeakMember[node]
	v.TraceWeak(&w)
	w.StoreRaw(SentinelAddress)
	v.TraceWeak(&w)
	v.TraceStrongContainer(NullAddress)
	v.TraceWeakContainer(SentinelAddress, TraceDescriptor{}, nil, nil)

	if len(hooks.visited)+len(hooks.weak)+len(hooks.containers) != 0 {
		t.Errorf("null/sentinel reached hooks: %+v", hooks)
	}
}

func TestVisitorDispatch(t *testing.T) {
	h := newTestHeap(t, Options{})
	a := newNode(h, "a")
	b := newNode(h, "b")
	c := newNode(h, "c")
	Assign(a, &a.Next, b)
	Assign(a, &a.Weak, c)

	hooks := &recordingHooks{}
	v := NewVisitor(hooks)
	a.Trace(v)

	if len(hooks.visited) != 1 || hooks.visited[0] != b.HeapAddress() {
		t.Errorf("visited = %v, want [b]", hooks.visited)
	}
	if len(hooks.weak) != 1 || hooks.weak[0] != c.HeapAddress() {
		t.Errorf("weak = %v, want [c]", hooks.weak)
	}
}

func TestVisitorTraceInlineDoesNotVisitHolder(t *testing.T) {
	h := newTestHeap(t, Options{})
	b := newNode(h, "b")
	inline := &node{}
	inline.Next.Store(b)

	hooks := &recordingHooks{}
	NewVisitor(hooks).TraceInline(inline)
	if len(hooks.visited) != 1 || hooks.visited[0] != b.HeapAddress() {
		t.Errorf("visited = %v, want only the inline object's edge", hooks.visited)
	}
	desc := TraceDescriptorFor(inline)
	if !desc.IsInline() {
		t.Errorf("descriptor of an unallocated object must be inline")
	}
	if d := TraceDescriptorFor(b); d.IsInline() || d.BaseObjectPayload != b.HeapAddress() {
		t.Errorf("descriptor of b = %+v", d)
	}
}

func TestVisitorEphemeron(t *testing.T) {
	h := newTestHeap(t, Options{})
	k := newNode(h, "k")
	val := newNode(h, "v")
	p := MakeGarbageCollected(h, &pairHolder{})

	hooks := &recordingHooks{}
	v := NewVisitor(hooks)

	// Null key: nothing at all.
	p.Trace(v)
	if hooks.callbacks != 0 || len(hooks.ephemerons) != 0 {
		t.Fatalf("null key registered work: %+v", hooks)
	}

	// Key without value: only the backstop.
	Assign(p, &p.Pair.Key, k)
	p.Trace(v)
	if hooks.callbacks != 1 || len(hooks.ephemerons) != 0 {
		t.Fatalf("key only: callbacks=%d ephemerons=%d", hooks.callbacks, len(hooks.ephemerons))
	}

	Assign(p, &p.Pair.Value, val)
	p.Trace(v)
	if hooks.callbacks != 2 || len(hooks.ephemerons) != 1 || hooks.ephemerons[0] != k.HeapAddress() {
		t.Errorf("full pair: callbacks=%d ephemerons=%v", hooks.callbacks, hooks.ephemerons)
	}
	if len(hooks.visited) != 0 {
		t.Errorf("ephemeron value must not be traced strongly")
	}
}

func TestVisitorMovableReference(t *testing.T) {
	hooks := &recordingHooks{}
	v := NewVisitor(hooks)
	var slot RawSlot
	v.RegisterMovableReference(&slot)
	if len(hooks.movable) != 0 {
		t.Errorf("null slot registered")
	}
	slot.Store(cellAddress(firstUsableCell))
	v.RegisterMovableReference(&slot)
	if len(hooks.movable) != 1 {
		t.Errorf("valid slot not registered")
	}
}

func TestVisitorDefaultNeverDefers(t *testing.T) {
	v := NewVisitor(&recordingHooks{})
	if v.DeferTraceToMutatorThreadIfConcurrent(nil, nil) {
		t.Errorf("default hooks must not defer")
	}
}
