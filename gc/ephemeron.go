package gc

// EphemeronPair couples a weak key with a value that is kept alive only
// while the key is alive. It must be traced with Visitor.TraceEphemeronPair
// (or its own Trace method); tracing Value as an ordinary Member would make
// it unconditionally strong.
type EphemeronPair[K, V any] struct {
	Key   WeakMember[K]
	Value Member[V]
}

// Trace traces the pair with ephemeron semantics.
func (p *EphemeronPair[K, V]) Trace(v *Visitor) {
	v.TraceEphemeronPair(p)
}

func (p *EphemeronPair[K, V]) keySlot() WeakSlot     { return &p.Key }
func (p *EphemeronPair[K, V]) valueSlot() StrongSlot { return &p.Value }

type ephemeron interface {
	keySlot() WeakSlot
	valueSlot() StrongSlot
}

// ephemeronSlots is the data of the backstop weak callback that clears the
// pair once the key is found dead, even if the value was retained through
// some other path.
type ephemeronSlots struct {
	key   WeakSlot
	value StrongSlot
}

func clearValueIfKeyIsDead(b *LivenessBroker, data any) {
	s := data.(*ephemeronSlots)
	k := s.key.GetRaw()
	if k.IsNull() || !b.IsHeapObjectAlive(k) {
		s.key.ClearFromGC()
		s.value.Clear()
	}
}

type rawEphemeron struct {
	key       WeakSlot
	onKeyDead WeakCallback
	data      any
}

func clearRawEphemeronIfKeyIsDead(b *LivenessBroker, data any) {
	s := data.(*rawEphemeron)
	k := s.key.GetRaw()
	if k.IsNull() || !b.IsHeapObjectAlive(k) {
		if s.onKeyDead != nil {
			s.onKeyDead(b, s.data)
		}
		s.key.ClearFromGC()
	}
}
