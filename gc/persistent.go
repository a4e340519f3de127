package gc

import (
	"fmt"
	"runtime"
)

// SourceLocation records where a persistent was created.
type SourceLocation struct {
	Function string
	File     string
	Line     int
}

func (l SourceLocation) IsKnown() bool { return l.File != "" }

func (l SourceLocation) String() string {
	if !l.IsKnown() {
		return "<unknown>"
	}
	return fmt.Sprintf("%s (%s:%d)", l.Function, l.File, l.Line)
}

func callerLocation(skip int) SourceLocation {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return SourceLocation{}
	}
	loc := SourceLocation{File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		loc.Function = fn.Name()
	}
	return loc
}

// ---------------------------------------------------------------------------
// Persistent
// ---------------------------------------------------------------------------

// Persistent is a strong reference from off-heap code into a heap. While it
// holds a real object it owns a node in its region and is treated as a
// root. A node is taken only when the persistent goes from empty to set and
// given back when it goes from set to empty; rebinding keeps the node.
//
// A Persistent must be created, assigned and cleared on the goroutine that
// owns its region, and must not be copied. Go has no destructors, so owners
// call Clear when done.
type Persistent[T any] struct {
	raw    Address
	node   *PersistentNode
	region *PersistentRegion
	loc    SourceLocation
}

// NewPersistent creates a persistent in region r holding p (may be nil).
func NewPersistent[T any](r *PersistentRegion, p *T) *Persistent[T] {
	if r.weak {
		panic("gc: strong persistent in weak region")
	}
	ps := &Persistent[T]{region: r}
	if r.trackLocations {
		ps.loc = callerLocation(1)
	}
	ps.Assign(p)
	return ps
}

// Get returns the referent, or nil if empty or the sentinel.
func (p *Persistent[T]) Get() *T { return payloadAs[T](p.raw) }

// GetRaw returns the referent address.
func (p *Persistent[T]) GetRaw() Address { return p.raw }

// Assign replaces the referent.
func (p *Persistent[T]) Assign(v *T) { p.AssignRaw(AddressOf(v)) }

// AssignRaw replaces the referent with an address. SentinelAddress makes
// the persistent set without taking a node.
func (p *Persistent[T]) AssignRaw(a Address) {
	p.raw = a
	switch {
	case a.IsValid() && p.node == nil:
		p.node = p.region.allocateNode(p.trace, p.Clear)
	case !a.IsValid() && p.node != nil:
		p.region.freeNode(p.node)
		p.node = nil
	}
}

// Clear empties the persistent and releases its node.
func (p *Persistent[T]) Clear() { p.AssignRaw(NullAddress) }

// Release returns the referent and clears the persistent.
func (p *Persistent[T]) Release() *T {
	v := p.Get()
	p.Clear()
	return v
}

// IsSet reports whether the persistent is non-empty. The sentinel counts.
func (p *Persistent[T]) IsSet() bool { return p.raw != NullAddress }

// HasNode reports whether the persistent currently owns a region node.
func (p *Persistent[T]) HasNode() bool { return p.node != nil }

// Equal reports whether both persistents refer to the same object.
func (p *Persistent[T]) Equal(other *Persistent[T]) bool { return p.raw == other.raw }

// Location returns where the persistent was created, if tracked.
func (p *Persistent[T]) Location() SourceLocation { return p.loc }

func (p *Persistent[T]) trace(rv *RootVisitor) { rv.Trace(p) }

func (p *Persistent[T]) persistentSlot() {}

// ---------------------------------------------------------------------------
// WeakPersistent
// ---------------------------------------------------------------------------

// WeakPersistent is a weak reference from off-heap code. It follows the
// same node discipline as Persistent and is cleared, releasing its node,
// when its referent dies.
type WeakPersistent[T any] struct {
	raw    Address
	node   *PersistentNode
	region *PersistentRegion
	loc    SourceLocation
}

// NewWeakPersistent creates a weak persistent in region r.
func NewWeakPersistent[T any](r *PersistentRegion, p *T) *WeakPersistent[T] {
	if !r.weak {
		panic("gc: weak persistent in strong region")
	}
	wp := &WeakPersistent[T]{region: r}
	if r.trackLocations {
		wp.loc = callerLocation(1)
	}
	wp.Assign(p)
	return wp
}

func (p *WeakPersistent[T]) Get() *T         { return payloadAs[T](p.raw) }
func (p *WeakPersistent[T]) GetRaw() Address { return p.raw }
func (p *WeakPersistent[T]) Assign(v *T)     { p.AssignRaw(AddressOf(v)) }

func (p *WeakPersistent[T]) AssignRaw(a Address) {
	p.raw = a
	switch {
	case a.IsValid() && p.node == nil:
		p.node = p.region.allocateNode(p.trace, p.Clear)
	case !a.IsValid() && p.node != nil:
		p.region.freeNode(p.node)
		p.node = nil
	}
}

func (p *WeakPersistent[T]) Clear() { p.AssignRaw(NullAddress) }

func (p *WeakPersistent[T]) Release() *T {
	v := p.Get()
	p.Clear()
	return v
}

func (p *WeakPersistent[T]) IsSet() bool                         { return p.raw != NullAddress }
func (p *WeakPersistent[T]) HasNode() bool                       { return p.node != nil }
func (p *WeakPersistent[T]) Equal(other *WeakPersistent[T]) bool { return p.raw == other.raw }
func (p *WeakPersistent[T]) Location() SourceLocation            { return p.loc }

// ClearFromGC empties the persistent during weak processing.
func (p *WeakPersistent[T]) ClearFromGC() { p.Clear() }

func (p *WeakPersistent[T]) trace(rv *RootVisitor) { rv.TraceWeak(p) }

func (p *WeakPersistent[T]) weakPersistentSlot() {}
