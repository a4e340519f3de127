package gc

import (
	"fmt"
	"reflect"
	"unsafe"
)

// Traceable is anything that can enumerate its outgoing references.
// Managed types implement it on their pointer receiver; inline sub-objects
// (EphemeronPair, HeapVector, ...) implement it too and are traced with
// Visitor.TraceInline.
type Traceable interface {
	Trace(v *Visitor)
}

// GarbageCollected is implemented by pointers to types that embed Managed.
type GarbageCollected interface {
	Traceable
	gcHeader() *HeapObjectHeader
	bindHeader(h *HeapObjectHeader)
}

// PreFinalizer is implemented by managed types that must run code while the
// rest of the heap is still intact, after marking and before sweeping.
// PreFinalize must not allocate or resurrect objects.
type PreFinalizer interface {
	PreFinalize()
}

// Managed must be embedded in every type allocated with
// MakeGarbageCollected.
type Managed struct {
	hdr *HeapObjectHeader
}

func (m *Managed) gcHeader() *HeapObjectHeader { return m.hdr }

func (m *Managed) bindHeader(h *HeapObjectHeader) {
	if m.hdr != nil {
		panic("gc: object already allocated")
	}
	m.hdr = h
}

// HeapAddress returns the object's cage address, or NullAddress if it was
// never allocated on a heap.
func (m *Managed) HeapAddress() Address {
	if m == nil || m.hdr == nil {
		return NullAddress
	}
	return m.hdr.addr
}

// IsSwept reports whether the object has been reclaimed. A swept object's
// address may already belong to a newer object.
func (m *Managed) IsSwept() bool { return m != nil && m.hdr != nil && m.hdr.freed }

type ptrTo[T any] interface {
	*T
	GarbageCollected
}

// TraceCallback is the type-erased trace function stored per type.
type TraceCallback func(v *Visitor, object unsafe.Pointer)

// TraceDescriptor says where an object starts and how to trace it.
// BaseObjectPayload is NullAddress for inline objects, which are traced in
// place and never marked on their own.
type TraceDescriptor struct {
	BaseObjectPayload Address
	Callback          TraceCallback
}

// IsInline reports whether the descriptor describes an embedded object.
func (d TraceDescriptor) IsInline() bool { return d.BaseObjectPayload == NullAddress }

// TraceDescriptorFor is the statically typed path to a descriptor.
func TraceDescriptorFor[T any, P ptrTo[T]](object P) TraceDescriptor {
	if object == nil {
		return TraceDescriptor{}
	}
	h := object.gcHeader()
	if h == nil {
		// Not heap allocated: trace in place.
		return TraceDescriptor{Callback: traceCallbackFor[T, P]()}
	}
	return TraceDescriptor{BaseObjectPayload: h.addr, Callback: gcInfoAt(gcInfoIndexFor[T, P]()).Trace}
}

// descriptorOf is the dynamic path: the type comes from the header.
func descriptorOf(a Address) (TraceDescriptor, unsafe.Pointer) {
	h := headerAt(a)
	return h.TraceDescriptor(), h.payload
}

// AddressOf returns the cage address of a managed object.
func AddressOf[T any](p *T) Address {
	if p == nil {
		return NullAddress
	}
	gco, ok := any(p).(GarbageCollected)
	if !ok {
		panic(fmt.Sprintf("gc: %T is not a managed type", p))
	}
	h := gco.gcHeader()
	if h == nil {
		panic(fmt.Sprintf("gc: %T was not allocated with MakeGarbageCollected", p))
	}
	if h.freed {
		panic(fmt.Sprintf("gc: use of swept object %v", h))
	}
	return h.addr
}

// payloadAs resolves a to a typed Go pointer. Null and the sentinel both
// resolve to nil.
func payloadAs[T any](a Address) *T {
	if !a.IsValid() {
		return nil
	}
	h := headerAt(a)
	if info := h.GCInfo(); info.rtype != reflect.TypeFor[T]() {
		panic(fmt.Sprintf("gc: reference to %s read as %s", info.Name, reflect.TypeFor[T]()))
	}
	return (*T)(h.payload)
}

type compactableStore interface {
	compactable()
}

// compactableBacking is embedded by container backing stores. The compactor
// may relocate such objects, so they must only be referenced through
// RawSlots registered with Visitor.RegisterMovableReference.
type compactableBacking struct{}

func (compactableBacking) compactable() {}
