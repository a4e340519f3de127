package gc

import "sync/atomic"

// LivenessBroker answers liveness queries during weak processing. A broker
// is created by the marker for one weak-processing pass and is invalid
// afterwards; weak callbacks receive it as an argument and must not keep
// it.
type LivenessBroker struct {
	valid atomic.Bool
	minor bool
}

func newLivenessBroker(minor bool) *LivenessBroker {
	b := &LivenessBroker{minor: minor}
	b.valid.Store(true)
	return b
}

func (b *LivenessBroker) invalidate() { b.valid.Store(false) }

// IsHeapObjectAlive reports whether the object at a survives the current
// collection. Null and the sentinel are reported alive. Panics if the
// broker is used outside its weak-processing pass.
func (b *LivenessBroker) IsHeapObjectAlive(a Address) bool {
	if b == nil || !b.valid.Load() {
		panic("gc: LivenessBroker used outside weak processing")
	}
	if !a.IsValid() {
		return true
	}
	h := theCage.lookup(a)
	if h == nil {
		return false
	}
	if b.minor && !h.IsYoung() {
		return true
	}
	return h.IsMarked()
}

// IsAlive is the typed form of IsHeapObjectAlive.
func IsAlive[T any](b *LivenessBroker, p *T) bool {
	if p == nil {
		return b.IsHeapObjectAlive(NullAddress)
	}
	return b.IsHeapObjectAlive(AddressOf(p))
}
