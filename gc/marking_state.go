package gc

import (
	"sync"
	"unsafe"
)

type markingItem struct {
	hdr *HeapObjectHeader
	cb  TraceCallback
}

type weakCallbackItem struct {
	cb   WeakCallback
	data any
}

type ephemeronItem struct {
	key   Address
	value unsafe.Pointer
	desc  TraceDescriptor
}

// MarkingWorklists are the work lists shared by every marker of one cycle.
type MarkingWorklists struct {
	marking       *Worklist[markingItem]
	weakCallbacks *Worklist[weakCallbackItem]
	ephemerons    *Worklist[ephemeronItem]
	deferred      DeferredQueue

	movableMu sync.Mutex
	movable   map[*RawSlot]struct{}
}

func newMarkingWorklists() *MarkingWorklists {
	return &MarkingWorklists{
		marking:       NewWorklist[markingItem](),
		weakCallbacks: NewWorklist[weakCallbackItem](),
		ephemerons:    NewWorklist[ephemeronItem](),
		movable:       make(map[*RawSlot]struct{}),
	}
}

func (w *MarkingWorklists) recordMovable(slot *RawSlot) {
	w.movableMu.Lock()
	w.movable[slot] = struct{}{}
	w.movableMu.Unlock()
}

func (w *MarkingWorklists) movableSlots() []*RawSlot {
	w.movableMu.Lock()
	defer w.movableMu.Unlock()
	slots := make([]*RawSlot, 0, len(w.movable))
	for s := range w.movable {
		slots = append(slots, s)
	}
	return slots
}

// MarkingState is one marker's private view of the shared worklists plus
// its accounting. The mutator and every concurrent marker each own one.
type MarkingState struct {
	worklists     *MarkingWorklists
	marking       *Local[markingItem]
	weakCallbacks *Local[weakCallbackItem]
	ephemerons    *Local[ephemeronItem]

	// youngOnly restricts marking to young objects; old objects are
	// considered live without being marked.
	youngOnly bool

	markedObjects int
	markedBytes   uint64
	deferred      int
}

func newMarkingState(w *MarkingWorklists, youngOnly bool) *MarkingState {
	return &MarkingState{
		worklists:     w,
		marking:       NewLocal(w.marking),
		weakCallbacks: NewLocal(w.weakCallbacks),
		ephemerons:    NewLocal(w.ephemerons),
		youngOnly:     youngOnly,
	}
}

func (s *MarkingState) filtered(h *HeapObjectHeader) bool {
	return s.youngOnly && !h.IsYoung()
}

func (s *MarkingState) isConsideredLive(h *HeapObjectHeader) bool {
	return s.filtered(h) || h.IsMarked()
}

// MarkAndPush marks the object described by desc and queues it for tracing.
func (s *MarkingState) MarkAndPush(desc TraceDescriptor) {
	h := headerAt(desc.BaseObjectPayload)
	s.markAndPush(h, desc.Callback)
}

func (s *MarkingState) markAndPush(h *HeapObjectHeader, cb TraceCallback) {
	if s.filtered(h) || !h.TryMarkAtomic() {
		return
	}
	s.account(h)
	s.marking.Push(markingItem{hdr: h, cb: cb})
}

func (s *MarkingState) account(h *HeapObjectHeader) {
	s.markedObjects++
	s.markedBytes += uint64(h.Size())
}

// RegisterWeakReferenceIfNeeded queues cb unless the target is already
// known to survive. Marking is monotonic, so a marked target stays alive.
func (s *MarkingState) RegisterWeakReferenceIfNeeded(desc TraceDescriptor, cb WeakCallback, data any) {
	if s.isConsideredLive(headerAt(desc.BaseObjectPayload)) {
		return
	}
	s.RegisterWeakCallback(cb, data)
}

// RegisterWeakCallback queues cb for weak processing.
func (s *MarkingState) RegisterWeakCallback(cb WeakCallback, data any) {
	s.weakCallbacks.Push(weakCallbackItem{cb: cb, data: data})
}

// ProcessEphemeron traces value if key is already live and otherwise parks
// the pair until the key's fate is known. Reports whether value was traced.
func (s *MarkingState) ProcessEphemeron(key Address, value unsafe.Pointer, desc TraceDescriptor, v *Visitor) bool {
	if !s.isConsideredLive(headerAt(key)) {
		s.ephemerons.Push(ephemeronItem{key: key, value: value, desc: desc})
		return false
	}
	if desc.IsInline() {
		desc.Callback(v, value)
	} else {
		s.MarkAndPush(desc)
	}
	return true
}

// ProcessWeakContainer marks a weak backing store without tracing its
// entries, registers cb to prune it, and queues its strong parts.
func (s *MarkingState) ProcessWeakContainer(object Address, weakDesc TraceDescriptor, cb WeakCallback, data any, v *Visitor) {
	h := headerAt(object)
	if s.filtered(h) {
		// Old store in a minor cycle: it survives anyway, but its young
		// entries still need weak processing.
		s.RegisterWeakCallback(cb, data)
		if weakDesc.Callback != nil {
			weakDesc.Callback(v, h.payload)
		}
		return
	}
	if !h.TryMarkAtomic() {
		return
	}
	s.account(h)
	s.RegisterWeakCallback(cb, data)
	if weakDesc.Callback != nil {
		s.marking.Push(markingItem{hdr: h, cb: weakDesc.Callback})
	}
}

// Drain traces queued objects until the worklist is empty or budget items
// have been processed. A budget <= 0 means no limit. Returns the number of
// objects traced.
func (s *MarkingState) Drain(v *Visitor, budget int) int {
	n := 0
	for budget <= 0 || n < budget {
		item, ok := s.marking.Pop()
		if !ok {
			break
		}
		item.cb(v, item.hdr.payload)
		n++
	}
	return n
}

// Publish makes all locally buffered work visible to other markers.
func (s *MarkingState) Publish() {
	s.marking.Publish()
	s.weakCallbacks.Publish()
	s.ephemerons.Publish()
}
