package gc

// sweep reclaims every object that did not survive marking. PreFinalizers
// of all dead objects run first, while the whole heap is still intact.
// Survivors are unmarked and promoted to the old generation.
func (h *Heap) sweep(minor bool, stats *CycleStats) {
	var dead []*HeapObjectHeader
	live := make([]*HeapObjectHeader, 0, len(h.objects))
	for _, hdr := range h.objects {
		switch {
		case minor && !hdr.IsYoung():
			live = append(live, hdr)
		case hdr.IsMarked():
			hdr.Unmark()
			if hdr.IsYoung() {
				hdr.old.Store(true)
				stats.Promoted++
			}
			live = append(live, hdr)
		default:
			dead = append(dead, hdr)
		}
	}

	for _, hdr := range dead {
		if info := hdr.GCInfo(); info.Has(GCInfoPreFinalizer) {
			info.PreFinalize(hdr.payload)
			stats.PreFinalizers++
		}
	}
	for _, hdr := range dead {
		stats.SweptObjects++
		stats.SweptBytes += uint64(hdr.Size())
		h.release(hdr)
	}

	h.objects = live
	stats.LiveObjects = len(live)
	for _, hdr := range live {
		stats.LiveBytes += uint64(hdr.Size())
	}
	log.Debugf("heap %s: swept %d objects, %d live", h.opts.Name, len(dead), len(live))
}

// release frees hdr's cell. The payload is dropped so the Go runtime can
// reclaim it; any remaining reference to the object is dangling.
func (h *Heap) release(hdr *HeapObjectHeader) {
	if hdr.freed {
		return
	}
	theCage.release(hdr.addr)
	delete(h.remembered, hdr)
	hdr.freed = true
	hdr.payload = nil
	h.liveObjects.Add(-1)
}
