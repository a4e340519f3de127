package gc

import "unsafe"

// Container backing stores are separate managed objects referenced from
// their holder through a RawSlot, so the compactor can move them. The
// holder (HeapVector, WeakSet, EphemeronMap) is embedded inline in a
// managed object and traced with Visitor.TraceInline or by calling its
// Trace method.
//
// Backing stores are mutated without synchronisation by the mutator, so
// concurrent markers hand them back to the mutator instead of tracing
// them.

func heapOf(owner GarbageCollected) *Heap {
	hdr := owner.gcHeader()
	if hdr == nil {
		panic("gc: container owner is not heap allocated")
	}
	return hdr.heap
}

func growCapacity(n int) int {
	if n < 4 {
		return 4
	}
	return 2 * n
}

// ---------------------------------------------------------------------------
// HeapVector
// ---------------------------------------------------------------------------

type vectorBacking[T any] struct {
	Managed
	compactableBacking
	items []Member[T]
	n     int
}

func traceVectorBacking[T any](v *Visitor, object unsafe.Pointer) {
	(*vectorBacking[T])(object).Trace(v)
}

func (b *vectorBacking[T]) Trace(v *Visitor) {
	if v.DeferTraceToMutatorThreadIfConcurrent(unsafe.Pointer(b), traceVectorBacking[T]) {
		return
	}
	for i := 0; i < b.n; i++ {
		v.Trace(&b.items[i])
	}
}

// HeapVector is a growable list of strong references.
type HeapVector[T any] struct {
	backing RawSlot
}

// Trace traces the backing store and all elements.
func (vec *HeapVector[T]) Trace(v *Visitor) {
	v.RegisterMovableReference(&vec.backing)
	v.TraceStrongContainer(vec.backing.Load())
}

func (vec *HeapVector[T]) store() *vectorBacking[T] {
	return payloadAs[vectorBacking[T]](vec.backing.Load())
}

// Len returns the number of elements.
func (vec *HeapVector[T]) Len() int {
	if b := vec.store(); b != nil {
		return b.n
	}
	return 0
}

// At returns element i.
func (vec *HeapVector[T]) At(i int) *T {
	b := vec.store()
	if b == nil || i < 0 || i >= b.n {
		panic("gc: HeapVector index out of range")
	}
	return b.items[i].Get()
}

// Append adds value. owner is the managed object embedding vec.
func (vec *HeapVector[T]) Append(owner GarbageCollected, value *T) {
	b := vec.store()
	if b == nil || b.n == len(b.items) {
		old := b
		b = &vectorBacking[T]{}
		if old != nil {
			b.items = make([]Member[T], growCapacity(old.n))
			for i := 0; i < old.n; i++ {
				b.items[i].StoreRaw(old.items[i].GetRaw())
			}
			b.n = old.n
		} else {
			b.items = make([]Member[T], growCapacity(0))
		}
		MakeGarbageCollected(heapOf(owner), b)
		vec.backing.Store(b.hdr.addr)
		writeBarrier(owner.gcHeader(), b.hdr.addr)
	}
	a := AddressOf(value)
	b.items[b.n].StoreRaw(a)
	b.n++
	writeBarrier(b.hdr, a)
}

// Set replaces element i.
func (vec *HeapVector[T]) Set(i int, value *T) {
	b := vec.store()
	if b == nil || i < 0 || i >= b.n {
		panic("gc: HeapVector index out of range")
	}
	a := AddressOf(value)
	b.items[i].StoreRaw(a)
	writeBarrier(b.hdr, a)
}

// Clear drops all elements. The old backing store becomes garbage.
func (vec *HeapVector[T]) Clear() {
	vec.backing.Store(NullAddress)
}

// ---------------------------------------------------------------------------
// WeakSet
// ---------------------------------------------------------------------------

type weakSetBacking[T any] struct {
	Managed
	compactableBacking
	items []WeakMember[T]
	n     int
}

func traceWeakSetBacking[T any](v *Visitor, object unsafe.Pointer) {
	(*weakSetBacking[T])(object).Trace(v)
}

func (b *weakSetBacking[T]) Trace(v *Visitor) {
	if v.DeferTraceToMutatorThreadIfConcurrent(unsafe.Pointer(b), traceWeakSetBacking[T]) {
		return
	}
	for i := 0; i < b.n; i++ {
		v.TraceWeak(&b.items[i])
	}
}

func (b *weakSetBacking[T]) indexOf(a Address) int {
	for i := 0; i < b.n; i++ {
		if b.items[i].GetRaw() == a {
			return i
		}
	}
	return -1
}

// WeakSet holds references that do not keep their targets alive. Dead
// entries are removed during weak processing.
type WeakSet[T any] struct {
	backing RawSlot
}

// Trace keeps the backing store alive and registers it for pruning.
func (s *WeakSet[T]) Trace(v *Visitor) {
	v.RegisterMovableReference(&s.backing)
	v.TraceWeakContainer(s.backing.Load(), TraceDescriptor{}, pruneWeakSet[T], s)
}

func pruneWeakSet[T any](b *LivenessBroker, data any) {
	st := data.(*WeakSet[T]).store()
	if st == nil {
		return
	}
	j := 0
	for i := 0; i < st.n; i++ {
		a := st.items[i].GetRaw()
		if a.IsValid() && b.IsHeapObjectAlive(a) {
			st.items[j].StoreRaw(a)
			j++
		}
	}
	for k := j; k < st.n; k++ {
		st.items[k].ClearFromGC()
	}
	st.n = j
}

func (s *WeakSet[T]) store() *weakSetBacking[T] {
	return payloadAs[weakSetBacking[T]](s.backing.Load())
}

// Add inserts value if not present. owner is the managed object embedding
// s. Reports whether value was added.
func (s *WeakSet[T]) Add(owner GarbageCollected, value *T) bool {
	a := AddressOf(value)
	if !a.IsValid() {
		return false
	}
	b := s.store()
	if b != nil && b.indexOf(a) >= 0 {
		return false
	}
	if b == nil || b.n == len(b.items) {
		old := b
		b = &weakSetBacking[T]{}
		n := 0
		if old != nil {
			n = old.n
		}
		b.items = make([]WeakMember[T], growCapacity(n))
		for i := 0; i < n; i++ {
			b.items[i].StoreRaw(old.items[i].GetRaw())
		}
		b.n = n
		MakeGarbageCollected(heapOf(owner), b)
		s.backing.Store(b.hdr.addr)
		writeBarrier(owner.gcHeader(), b.hdr.addr)
	}
	b.items[b.n].StoreRaw(a)
	b.n++
	// Remember the holder rather than the store: a minor cycle must trace
	// the holder to register the pruning callback.
	writeBarrier(owner.gcHeader(), a)
	return true
}

// Contains reports whether value is in the set.
func (s *WeakSet[T]) Contains(value *T) bool {
	b := s.store()
	return b != nil && value != nil && b.indexOf(AddressOf(value)) >= 0
}

// Remove deletes value. Reports whether it was present.
func (s *WeakSet[T]) Remove(value *T) bool {
	b := s.store()
	if b == nil || value == nil {
		return false
	}
	i := b.indexOf(AddressOf(value))
	if i < 0 {
		return false
	}
	b.n--
	b.items[i].StoreRaw(b.items[b.n].GetRaw())
	b.items[b.n].Clear()
	return true
}

// Len returns the number of entries, including entries cleared since the
// last prune.
func (s *WeakSet[T]) Len() int {
	if b := s.store(); b != nil {
		return b.n
	}
	return 0
}

// ForEach calls fn for every live entry until fn returns false.
func (s *WeakSet[T]) ForEach(fn func(*T) bool) {
	b := s.store()
	if b == nil {
		return
	}
	for i := 0; i < b.n; i++ {
		if p := b.items[i].Get(); p != nil && !fn(p) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// EphemeronMap
// ---------------------------------------------------------------------------

type ephemeronMapBacking[K, V any] struct {
	Managed
	compactableBacking
	entries []EphemeronPair[K, V]
	n       int
}

func traceEphemeronMapBacking[K, V any](v *Visitor, object unsafe.Pointer) {
	(*ephemeronMapBacking[K, V])(object).Trace(v)
}

func (b *ephemeronMapBacking[K, V]) Trace(v *Visitor) {
	if v.DeferTraceToMutatorThreadIfConcurrent(unsafe.Pointer(b), traceEphemeronMapBacking[K, V]) {
		return
	}
	for i := 0; i < b.n; i++ {
		v.TraceEphemeronPair(&b.entries[i])
	}
}

func (b *ephemeronMapBacking[K, V]) indexOf(key Address) int {
	for i := 0; i < b.n; i++ {
		if b.entries[i].Key.GetRaw() == key {
			return i
		}
	}
	return -1
}

// EphemeronMap maps weakly held keys to values that stay alive only as
// long as their key does. An entry is dropped once its key dies, even if
// the value references the key.
type EphemeronMap[K, V any] struct {
	backing RawSlot
}

// Trace keeps the backing store alive and traces its entries as
// ephemerons.
func (m *EphemeronMap[K, V]) Trace(v *Visitor) {
	v.RegisterMovableReference(&m.backing)
	a := m.backing.Load()
	v.TraceWeakContainer(a, TraceDescriptor{BaseObjectPayload: a, Callback: traceEphemeronMapBacking[K, V]}, pruneEphemeronMap[K, V], m)
}

func pruneEphemeronMap[K, V any](b *LivenessBroker, data any) {
	st := data.(*EphemeronMap[K, V]).store()
	if st == nil {
		return
	}
	j := 0
	for i := 0; i < st.n; i++ {
		k := st.entries[i].Key.GetRaw()
		if k.IsValid() && b.IsHeapObjectAlive(k) {
			v := st.entries[i].Value.GetRaw()
			st.entries[j].Key.StoreRaw(k)
			st.entries[j].Value.StoreRaw(v)
			j++
		}
	}
	for k := j; k < st.n; k++ {
		st.entries[k].Key.ClearFromGC()
		st.entries[k].Value.Clear()
	}
	st.n = j
}

func (m *EphemeronMap[K, V]) store() *ephemeronMapBacking[K, V] {
	return payloadAs[ephemeronMapBacking[K, V]](m.backing.Load())
}

// Set maps key to value. owner is the managed object embedding m.
func (m *EphemeronMap[K, V]) Set(owner GarbageCollected, key *K, value *V) {
	k := AddressOf(key)
	if !k.IsValid() {
		panic("gc: EphemeronMap key must be a heap object")
	}
	va := AddressOf(value)
	b := m.store()
	if b != nil {
		if i := b.indexOf(k); i >= 0 {
			b.entries[i].Value.StoreRaw(va)
			writeBarrier(owner.gcHeader(), va)
			return
		}
	}
	if b == nil || b.n == len(b.entries) {
		old := b
		b = &ephemeronMapBacking[K, V]{}
		n := 0
		if old != nil {
			n = old.n
		}
		b.entries = make([]EphemeronPair[K, V], growCapacity(n))
		for i := 0; i < n; i++ {
			b.entries[i].Key.StoreRaw(old.entries[i].Key.GetRaw())
			b.entries[i].Value.StoreRaw(old.entries[i].Value.GetRaw())
		}
		b.n = n
		MakeGarbageCollected(heapOf(owner), b)
		m.backing.Store(b.hdr.addr)
		writeBarrier(owner.gcHeader(), b.hdr.addr)
	}
	b.entries[b.n].Key.StoreRaw(k)
	b.entries[b.n].Value.StoreRaw(va)
	b.n++
	writeBarrier(owner.gcHeader(), k)
	writeBarrier(owner.gcHeader(), va)
}

// Get returns the value for key, or nil.
func (m *EphemeronMap[K, V]) Get(key *K) *V {
	b := m.store()
	if b == nil || key == nil {
		return nil
	}
	if i := b.indexOf(AddressOf(key)); i >= 0 {
		return b.entries[i].Value.Get()
	}
	return nil
}

// Has reports whether key is mapped.
func (m *EphemeronMap[K, V]) Has(key *K) bool {
	b := m.store()
	return b != nil && key != nil && b.indexOf(AddressOf(key)) >= 0
}

// Delete removes key. Reports whether it was present.
func (m *EphemeronMap[K, V]) Delete(key *K) bool {
	b := m.store()
	if b == nil || key == nil {
		return false
	}
	i := b.indexOf(AddressOf(key))
	if i < 0 {
		return false
	}
	b.n--
	b.entries[i].Key.StoreRaw(b.entries[b.n].Key.GetRaw())
	b.entries[i].Value.StoreRaw(b.entries[b.n].Value.GetRaw())
	b.entries[b.n].Key.Clear()
	b.entries[b.n].Value.Clear()
	return true
}

// Len returns the number of entries.
func (m *EphemeronMap[K, V]) Len() int {
	if b := m.store(); b != nil {
		return b.n
	}
	return 0
}
