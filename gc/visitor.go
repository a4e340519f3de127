package gc

import "unsafe"

// WeakCallback runs during weak processing. The broker is only valid for
// the duration of the call and must not be retained.
type WeakCallback func(b *LivenessBroker, data any)

// VisitorHooks is implemented by concrete collectors. Visitor does the
// protocol work (null checks, descriptor lookup, weak bookkeeping) and
// calls these for every edge it discovers.
type VisitorHooks interface {
	// Visit is called for every strong edge to a heap object.
	Visit(desc TraceDescriptor)
	// VisitWeak is called for every weak edge; cb must be invoked during
	// weak processing unless the target is already known to be alive.
	VisitWeak(desc TraceDescriptor, cb WeakCallback, data any)
	// VisitEphemeron is called for an ephemeron whose key is non-null.
	// value is the payload to trace with valueDesc once key is alive.
	VisitEphemeron(key Address, value unsafe.Pointer, valueDesc TraceDescriptor)
	// VisitWeakContainer is called for a backing store whose entries are
	// held weakly. weakDesc traces its strong parts, if any.
	VisitWeakContainer(object Address, strongDesc, weakDesc TraceDescriptor, cb WeakCallback, data any)
	// RegisterWeakCallback queues cb for weak processing.
	RegisterWeakCallback(cb WeakCallback, data any)
	// HandleMovableReference records a slot the compactor must rewrite.
	HandleMovableReference(slot *RawSlot)
	// DeferTraceToMutatorThread reports whether tracing object was
	// deferred to the mutator.
	DeferTraceToMutatorThread(object unsafe.Pointer, cb TraceCallback) bool
}

// BaseVisitorHooks supplies the defaults for the optional hooks: no
// ephemeron or weak container support, no compaction, never defer.
// Concrete hooks embed it and implement Visit and VisitWeak.
type BaseVisitorHooks struct{}

func (BaseVisitorHooks) VisitEphemeron(Address, unsafe.Pointer, TraceDescriptor) {}

func (BaseVisitorHooks) VisitWeakContainer(Address, TraceDescriptor, TraceDescriptor, WeakCallback, any) {
}

func (BaseVisitorHooks) RegisterWeakCallback(WeakCallback, any) {}

func (BaseVisitorHooks) HandleMovableReference(*RawSlot) {}

func (BaseVisitorHooks) DeferTraceToMutatorThread(unsafe.Pointer, TraceCallback) bool { return false }

// Visitor walks the outgoing references of managed objects. It holds no
// tracing state of its own, so one Visitor may be shared by all objects a
// marker traces; each marking goroutine owns its own Visitor.
type Visitor struct {
	hooks VisitorHooks
}

// NewVisitor returns a Visitor dispatching to hooks.
func NewVisitor(hooks VisitorHooks) *Visitor {
	return &Visitor{hooks: hooks}
}

// Hooks returns the backend of v.
func (v *Visitor) Hooks() VisitorHooks { return v.hooks }

// Trace traces a strong reference.
func (v *Visitor) Trace(m StrongSlot) {
	a := m.GetRaw()
	if !a.IsValid() {
		return
	}
	desc, _ := descriptorOf(a)
	v.hooks.Visit(desc)
}

// TraceWeak traces a weak reference. The referent is not marked; the slot
// is cleared during weak processing if the referent turns out dead.
func (v *Visitor) TraceWeak(m WeakSlot) {
	a := m.GetRaw()
	if !a.IsValid() {
		return
	}
	desc, _ := descriptorOf(a)
	v.hooks.VisitWeak(desc, handleWeak, m)
}

func handleWeak(b *LivenessBroker, data any) {
	slot := data.(WeakSlot)
	if a := slot.GetRaw(); a.IsValid() && !b.IsHeapObjectAlive(a) {
		slot.ClearFromGC()
	}
}

// TraceEphemeron traces a weak key and a value that is alive only while the
// key is. A backstop callback clears both slots if the key dies.
func (v *Visitor) TraceEphemeron(key WeakSlot, value StrongSlot) {
	k := key.GetRaw()
	if !k.IsValid() {
		return
	}
	v.hooks.RegisterWeakCallback(clearValueIfKeyIsDead, &ephemeronSlots{key: key, value: value})
	va := value.GetRaw()
	if !va.IsValid() {
		return
	}
	desc, payload := descriptorOf(va)
	v.hooks.VisitEphemeron(k, payload, desc)
}

// TraceEphemeronRaw traces an ephemeron whose value is an arbitrary
// payload described by valueDesc. An inline value (valueDesc with a null
// base) is traced in place once the key is alive. If the key dies the key
// slot is cleared, and onKeyDead, if non-nil, is called with data first so
// the owner can clear the references held by the value.
func (v *Visitor) TraceEphemeronRaw(key WeakSlot, value unsafe.Pointer, valueDesc TraceDescriptor, onKeyDead WeakCallback, data any) {
	k := key.GetRaw()
	if !k.IsValid() {
		return
	}
	v.hooks.RegisterWeakCallback(clearRawEphemeronIfKeyIsDead, &rawEphemeron{key: key, onKeyDead: onKeyDead, data: data})
	if value == nil {
		return
	}
	v.hooks.VisitEphemeron(k, value, valueDesc)
}

// TraceEphemeronPair traces an EphemeronPair.
func (v *Visitor) TraceEphemeronPair(p ephemeron) {
	v.TraceEphemeron(p.keySlot(), p.valueSlot())
}

// TraceInline traces an embedded object in place. The object is not marked.
func (v *Visitor) TraceInline(t Traceable) {
	if t == nil {
		return
	}
	t.Trace(v)
}

// TraceStrongContainer traces a backing store referenced by a raw address.
func (v *Visitor) TraceStrongContainer(object Address) {
	if !object.IsValid() {
		return
	}
	desc, _ := descriptorOf(object)
	v.hooks.Visit(desc)
}

// TraceWeakContainer traces a backing store whose entries are weak. The
// store itself is kept alive; cb prunes dead entries during weak processing
// and weakDesc, if it has a callback, traces the parts that stay strong.
func (v *Visitor) TraceWeakContainer(object Address, weakDesc TraceDescriptor, cb WeakCallback, data any) {
	if !object.IsValid() {
		return
	}
	strongDesc, _ := descriptorOf(object)
	v.hooks.VisitWeakContainer(object, strongDesc, weakDesc, cb, data)
}

// RegisterWeakCallback queues cb to run during weak processing.
func (v *Visitor) RegisterWeakCallback(cb WeakCallback, data any) {
	v.hooks.RegisterWeakCallback(cb, data)
}

// RegisterMovableReference records slot so it is rewritten if the object it
// references is relocated.
func (v *Visitor) RegisterMovableReference(slot *RawSlot) {
	if !slot.Load().IsValid() {
		return
	}
	v.hooks.HandleMovableReference(slot)
}

// DeferTraceToMutatorThreadIfConcurrent asks a concurrent marker to hand
// object to the mutator instead of tracing it now. Returns true if it did;
// the caller must then return without tracing.
func (v *Visitor) DeferTraceToMutatorThreadIfConcurrent(object unsafe.Pointer, cb TraceCallback) bool {
	return v.hooks.DeferTraceToMutatorThread(object, cb)
}
