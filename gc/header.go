package gc

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// HeapObjectHeader is the collector's bookkeeping for one managed object.
// The payload is the Go value handed to MakeGarbageCollected.
type HeapObjectHeader struct {
	addr    Address
	info    GCInfoIndex
	heap    *Heap
	payload unsafe.Pointer

	marked atomic.Bool
	old    atomic.Bool
	freed  bool
}

// Address returns the cage address of the object.
func (h *HeapObjectHeader) Address() Address { return h.addr }

// GCInfoIndex returns the index of the object's type in the GCInfo table.
func (h *HeapObjectHeader) GCInfoIndex() GCInfoIndex { return h.info }

// GCInfo returns the object's registered type information.
func (h *HeapObjectHeader) GCInfo() *GCInfo { return gcInfoAt(h.info) }

// Name returns the Go type name of the payload.
func (h *HeapObjectHeader) Name() string { return h.GCInfo().Name }

// Size returns the allocation size accounted for the object.
func (h *HeapObjectHeader) Size() uintptr { return h.GCInfo().Size }

// Payload returns the untyped Go pointer to the object.
func (h *HeapObjectHeader) Payload() unsafe.Pointer { return h.payload }

// Heap returns the heap the object was allocated on.
func (h *HeapObjectHeader) Heap() *Heap { return h.heap }

// IsMarked reports whether the object has been marked in the current cycle.
func (h *HeapObjectHeader) IsMarked() bool { return h.marked.Load() }

// TryMarkAtomic marks the object and reports whether this call did so.
func (h *HeapObjectHeader) TryMarkAtomic() bool { return h.marked.CompareAndSwap(false, true) }

// Unmark clears the mark bit.
func (h *HeapObjectHeader) Unmark() { h.marked.Store(false) }

// IsYoung reports whether the object was allocated after the last
// collection it survived.
func (h *HeapObjectHeader) IsYoung() bool { return !h.old.Load() }

// IsFree reports whether the object has been swept.
func (h *HeapObjectHeader) IsFree() bool { return h.freed }

// TraceDescriptor returns the descriptor used to trace this object.
func (h *HeapObjectHeader) TraceDescriptor() TraceDescriptor {
	return TraceDescriptor{BaseObjectPayload: h.addr, Callback: h.GCInfo().Trace}
}

// Trace invokes the object's registered trace callback.
func (h *HeapObjectHeader) Trace(v *Visitor) {
	h.GCInfo().Trace(v, h.payload)
}

func (h *HeapObjectHeader) String() string {
	return fmt.Sprintf("%s@%v", h.Name(), h.addr)
}

// headerAt resolves a valid address to its header. Panics on a dangling
// reference.
func headerAt(a Address) *HeapObjectHeader {
	h := theCage.lookup(a)
	if h == nil {
		panic(fmt.Sprintf("gc: dangling reference %v", a))
	}
	return h
}

// HeaderOf returns the header for a valid address, or nil if nothing lives
// there.
func HeaderOf(a Address) *HeapObjectHeader {
	if !a.IsValid() {
		return nil
	}
	return theCage.lookup(a)
}
