package gc

import "unsafe"

type markingVisitorBase struct {
	BaseVisitorHooks
	state   *MarkingState
	visitor *Visitor
}

func (m *markingVisitorBase) Visit(desc TraceDescriptor) {
	m.state.MarkAndPush(desc)
}

func (m *markingVisitorBase) VisitWeak(desc TraceDescriptor, cb WeakCallback, data any) {
	m.state.RegisterWeakReferenceIfNeeded(desc, cb, data)
}

func (m *markingVisitorBase) VisitEphemeron(key Address, value unsafe.Pointer, desc TraceDescriptor) {
	m.state.ProcessEphemeron(key, value, desc, m.visitor)
}

func (m *markingVisitorBase) VisitWeakContainer(object Address, _, weakDesc TraceDescriptor, cb WeakCallback, data any) {
	m.state.ProcessWeakContainer(object, weakDesc, cb, data, m.visitor)
}

func (m *markingVisitorBase) RegisterWeakCallback(cb WeakCallback, data any) {
	m.state.RegisterWeakCallback(cb, data)
}

func (m *markingVisitorBase) HandleMovableReference(slot *RawSlot) {
	m.state.worklists.recordMovable(slot)
}

// MutatorMarkingVisitor marks on the mutator goroutine: atomic pauses and
// incremental steps. It never defers.
type MutatorMarkingVisitor struct {
	markingVisitorBase
}

// NewMutatorMarkingVisitor returns a Visitor that marks into state.
func NewMutatorMarkingVisitor(state *MarkingState) *Visitor {
	hooks := &MutatorMarkingVisitor{markingVisitorBase{state: state}}
	v := NewVisitor(hooks)
	hooks.visitor = v
	return v
}

// ConcurrentMarkingVisitor marks on a background goroutine. Objects that
// ask to be traced on the mutator are handed to the deferred queue.
type ConcurrentMarkingVisitor struct {
	markingVisitorBase
}

// NewConcurrentMarkingVisitor returns a Visitor for a background marker.
func NewConcurrentMarkingVisitor(state *MarkingState) *Visitor {
	hooks := &ConcurrentMarkingVisitor{markingVisitorBase{state: state}}
	v := NewVisitor(hooks)
	hooks.visitor = v
	return v
}

func (m *ConcurrentMarkingVisitor) DeferTraceToMutatorThread(object unsafe.Pointer, cb TraceCallback) bool {
	m.state.worklists.deferred.Push(object, cb)
	m.state.deferred++
	return true
}

// YoungGenerationMarkingVisitor marks for a minor collection. Old objects
// are filtered out: they are live by definition, and their edges into the
// young generation reach the marker through the remembered set.
type YoungGenerationMarkingVisitor struct {
	markingVisitorBase
}

// NewYoungGenerationMarkingVisitor returns a Visitor for a minor cycle.
// state must have been created with youngOnly set.
func NewYoungGenerationMarkingVisitor(state *MarkingState) *Visitor {
	if !state.youngOnly {
		panic("gc: young generation visitor needs a young-only marking state")
	}
	hooks := &YoungGenerationMarkingVisitor{markingVisitorBase{state: state}}
	v := NewVisitor(hooks)
	hooks.visitor = v
	return v
}

// Compaction only runs in major cycles.
func (m *YoungGenerationMarkingVisitor) HandleMovableReference(*RawSlot) {}

// ---------------------------------------------------------------------------
// Root visitors
// ---------------------------------------------------------------------------

// rootMarkingVisitor marks strong roots. Weak roots are left for weak
// processing, which runs after the strong closure is complete.
type rootMarkingVisitor struct {
	state *MarkingState
	roots int
}

func (r *rootMarkingVisitor) VisitRoot(desc TraceDescriptor, _ SourceLocation) {
	r.roots++
	r.state.MarkAndPush(desc)
}

func (r *rootMarkingVisitor) VisitWeakRoot(TraceDescriptor, WeakCallback, any, SourceLocation) {}

// weakRootProcessor runs weak root callbacks immediately; it is only used
// during weak processing, when liveness is final.
type weakRootProcessor struct {
	broker  *LivenessBroker
	cleared int
}

func (w *weakRootProcessor) VisitRoot(TraceDescriptor, SourceLocation) {}

func (w *weakRootProcessor) VisitWeakRoot(desc TraceDescriptor, cb WeakCallback, data any, _ SourceLocation) {
	if w.broker.IsHeapObjectAlive(desc.BaseObjectPayload) {
		return
	}
	cb(w.broker, data)
	w.cleared++
}
