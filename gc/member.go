package gc

import "sync/atomic"

// StrongSlot is a reference location that keeps its referent alive.
type StrongSlot interface {
	GetRaw() Address
	Clear()
	strongSlot()
}

// WeakSlot is a reference location that is cleared by the collector once
// its referent dies.
type WeakSlot interface {
	GetRaw() Address
	ClearFromGC()
	weakSlot()
}

// ---------------------------------------------------------------------------
// Member: compressed strong reference
// ---------------------------------------------------------------------------

// Member is a strong, compressed reference embedded in a managed object.
// Store does not run a write barrier; use Assign from mutator code that may
// run while marking is in progress or with generational collection enabled.
type Member[T any] struct {
	raw atomic.Uint32
}

// Get returns the referent, or nil for null and the sentinel.
func (m *Member[T]) Get() *T { return payloadAs[T](m.GetRaw()) }

// GetRaw returns the current referent address without side effects.
func (m *Member[T]) GetRaw() Address { return CompressedPointer(m.raw.Load()).Decompress() }

// Store replaces the referent.
func (m *Member[T]) Store(p *T) { m.StoreRaw(AddressOf(p)) }

// StoreRaw replaces the referent with an address.
func (m *Member[T]) StoreRaw(a Address) { m.raw.Store(uint32(Compress(a))) }

// Clear sets the member to null.
func (m *Member[T]) Clear() { m.raw.Store(uint32(compressedNull)) }

// IsSet reports whether the member is non-null. The sentinel counts as set.
func (m *Member[T]) IsSet() bool { return m.raw.Load() != uint32(compressedNull) }

// IsSentinel reports whether the member holds the sentinel.
func (m *Member[T]) IsSentinel() bool { return m.raw.Load() == uint32(compressedSentinel) }

func (m *Member[T]) strongSlot() {}

// ---------------------------------------------------------------------------
// UncompressedMember: full-width strong reference
// ---------------------------------------------------------------------------

// UncompressedMember is a strong reference stored at full width.
type UncompressedMember[T any] struct {
	raw atomic.Uint64
}

func (m *UncompressedMember[T]) Get() *T            { return payloadAs[T](m.GetRaw()) }
func (m *UncompressedMember[T]) GetRaw() Address    { return Address(m.raw.Load()) }
func (m *UncompressedMember[T]) Store(p *T)         { m.StoreRaw(AddressOf(p)) }
func (m *UncompressedMember[T]) StoreRaw(a Address) { m.raw.Store(uint64(a)) }
func (m *UncompressedMember[T]) Clear()             { m.raw.Store(uint64(NullAddress)) }
func (m *UncompressedMember[T]) IsSet() bool        { return m.GetRaw() != NullAddress }
func (m *UncompressedMember[T]) IsSentinel() bool   { return m.GetRaw() == SentinelAddress }
func (m *UncompressedMember[T]) strongSlot()        {}

// ---------------------------------------------------------------------------
// WeakMember: compressed weak reference
// ---------------------------------------------------------------------------

// WeakMember does not keep its referent alive. After a collection in which
// the referent died, the member reads as null.
type WeakMember[T any] struct {
	raw atomic.Uint32
}

func (m *WeakMember[T]) Get() *T            { return payloadAs[T](m.GetRaw()) }
func (m *WeakMember[T]) GetRaw() Address    { return CompressedPointer(m.raw.Load()).Decompress() }
func (m *WeakMember[T]) Store(p *T)         { m.StoreRaw(AddressOf(p)) }
func (m *WeakMember[T]) StoreRaw(a Address) { m.raw.Store(uint32(Compress(a))) }
func (m *WeakMember[T]) Clear()             { m.raw.Store(uint32(compressedNull)) }
func (m *WeakMember[T]) IsSet() bool        { return m.raw.Load() != uint32(compressedNull) }
func (m *WeakMember[T]) IsSentinel() bool   { return m.raw.Load() == uint32(compressedSentinel) }

// ClearFromGC nulls the member. Only the collector calls this, during weak
// processing; calling it on a null member is a no-op.
func (m *WeakMember[T]) ClearFromGC() { m.raw.Store(uint32(compressedNull)) }

func (m *WeakMember[T]) weakSlot() {}

// ---------------------------------------------------------------------------
// UncompressedWeakMember: full-width weak reference
// ---------------------------------------------------------------------------

// UncompressedWeakMember is a weak reference stored at full width.
type UncompressedWeakMember[T any] struct {
	raw atomic.Uint64
}

func (m *UncompressedWeakMember[T]) Get() *T            { return payloadAs[T](m.GetRaw()) }
func (m *UncompressedWeakMember[T]) GetRaw() Address    { return Address(m.raw.Load()) }
func (m *UncompressedWeakMember[T]) Store(p *T)         { m.StoreRaw(AddressOf(p)) }
func (m *UncompressedWeakMember[T]) StoreRaw(a Address) { m.raw.Store(uint64(a)) }
func (m *UncompressedWeakMember[T]) Clear()             { m.raw.Store(uint64(NullAddress)) }
func (m *UncompressedWeakMember[T]) IsSet() bool        { return m.GetRaw() != NullAddress }
func (m *UncompressedWeakMember[T]) IsSentinel() bool   { return m.GetRaw() == SentinelAddress }
func (m *UncompressedWeakMember[T]) ClearFromGC()       { m.raw.Store(uint64(NullAddress)) }
func (m *UncompressedWeakMember[T]) weakSlot()          {}

// ---------------------------------------------------------------------------
// UntracedMember
// ---------------------------------------------------------------------------

// UntracedMember is never traced; it is neither a StrongSlot nor a
// WeakSlot. Use it for back-pointers whose referent is kept alive by
// something else.
type UntracedMember[T any] struct {
	raw atomic.Uint32
}

func (m *UntracedMember[T]) Get() *T            { return payloadAs[T](m.GetRaw()) }
func (m *UntracedMember[T]) GetRaw() Address    { return CompressedPointer(m.raw.Load()).Decompress() }
func (m *UntracedMember[T]) Store(p *T)         { m.StoreRaw(AddressOf(p)) }
func (m *UntracedMember[T]) StoreRaw(a Address) { m.raw.Store(uint32(Compress(a))) }
func (m *UntracedMember[T]) Clear()             { m.raw.Store(uint32(compressedNull)) }
func (m *UntracedMember[T]) IsSet() bool        { return m.raw.Load() != uint32(compressedNull) }

// ---------------------------------------------------------------------------
// RawSlot
// ---------------------------------------------------------------------------

// RawSlot is an untyped full-width reference. Containers use it for their
// backing stores so the compactor can rewrite it after relocation.
type RawSlot struct {
	raw atomic.Uint64
}

func (s *RawSlot) Load() Address   { return Address(s.raw.Load()) }
func (s *RawSlot) Store(a Address) { s.raw.Store(uint64(a)) }

// ---------------------------------------------------------------------------
// Assign: store with write barrier
// ---------------------------------------------------------------------------

type memberSlot[T any] interface {
	*Member[T] | *UncompressedMember[T] | *WeakMember[T] | *UncompressedWeakMember[T]
	StoreRaw(a Address)
}

// Assign stores value into a slot embedded in owner and runs the write
// barrier for that edge.
func Assign[T any, S memberSlot[T]](owner GarbageCollected, slot S, value *T) {
	a := AddressOf(value)
	slot.StoreRaw(a)
	writeBarrier(owner.gcHeader(), a)
}
