package gc

import "sort"

// compact relocates live compactable backing stores into the lowest free
// cells and rewrites the movable slots that reference them. Only objects
// with at least one registered slot are moved: a backing store reached
// some other way cannot be safely relocated. Returns the number of moved
// objects.
func (h *Heap) compact(slots []*RawSlot) int {
	byTarget := make(map[Address][]*RawSlot, len(slots))
	for _, s := range slots {
		if a := s.Load(); a.IsValid() {
			byTarget[a] = append(byTarget[a], s)
		}
	}

	var candidates []*HeapObjectHeader
	for _, hdr := range h.objects {
		if hdr.GCInfo().Has(GCInfoCompactable) && len(byTarget[hdr.addr]) > 0 {
			candidates = append(candidates, hdr)
		}
	}
	// Highest first, so each move fills the lowest hole.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].addr > candidates[j].addr })

	moved := 0
	for _, hdr := range candidates {
		from := hdr.addr
		if !theCage.reserveBelow(hdr) {
			continue
		}
		for _, s := range byTarget[from] {
			if s.Load() == from {
				s.Store(hdr.addr)
			}
		}
		moved++
	}
	if moved > 0 {
		log.Debugf("heap %s: compacted %d backing stores", h.opts.Name, moved)
	}
	return moved
}
