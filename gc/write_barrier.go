package gc

import "fmt"

// writeBarrier runs after a reference to value has been stored into an
// object owned by owner.
//
// While marking it shades value (Dijkstra insertion barrier), so a marker
// that already traced owner cannot miss the new edge. With generational
// collection it records an old owner that now references a young object,
// so minor cycles find the edge without tracing the old generation.
//
// Weak stores go through the same barrier: a weak target stored while
// marking survives the running cycle.
func writeBarrier(owner *HeapObjectHeader, value Address) {
	if owner == nil || !value.IsValid() {
		return
	}
	owner.heap.writeBarrier(owner, value)
}

func (h *Heap) writeBarrier(owner *HeapObjectHeader, value Address) {
	target := theCage.lookup(value)
	if target == nil {
		return
	}
	if target.heap != h {
		panic(fmt.Sprintf("gc: cross-heap reference from %v to %v", owner, target))
	}
	if m := h.marker; m != nil {
		m.writeBarrier(value)
	}
	if h.opts.Generational && !owner.IsYoung() && target.IsYoung() {
		h.remembered[owner] = struct{}{}
	}
}

// WriteBarrier must be called after storing value into a slot of owner
// with a plain Store. Assign does this automatically.
func (h *Heap) WriteBarrier(owner GarbageCollected, value Address) {
	hdr := owner.gcHeader()
	if hdr == nil {
		return
	}
	if hdr.heap != h {
		panic(fmt.Sprintf("gc: %v does not belong to heap %s", hdr, h.opts.Name))
	}
	writeBarrier(hdr, value)
}
