package snapshot

// Path is a chain of objects from a target back to a root, target first.
type Path struct {
	Addrs []uint64 `cbor:"1,keyasint"`
	Roots []string `cbor:"2,keyasint"` // names of the roots holding the last object
}

func (s *Snapshot) reverseEdges() map[uint64][]uint64 {
	reverse := make(map[uint64][]uint64)
	for _, o := range s.Objects {
		for _, e := range o.Edges {
			switch {
			case e.Kind.Retains():
				reverse[e.To] = append(reverse[e.To], o.Addr)
			case e.Kind == EdgeEphemeron:
				// The value is held by the table and by its key.
				reverse[e.To] = append(reverse[e.To], o.Addr)
			}
		}
	}
	return reverse
}

func (s *Snapshot) strongRoots() map[uint64][]string {
	roots := make(map[uint64][]string)
	for _, r := range s.Roots {
		if !r.Weak {
			roots[r.Addr] = append(roots[r.Addr], r.Name)
		}
	}
	return roots
}

// RetainingPaths finds up to maxPaths shortest paths from the object at
// addr to a strong root. Weak edges never retain and are not followed.
func (s *Snapshot) RetainingPaths(addr uint64, maxPaths int) ([]Path, error) {
	if _, err := s.Object(addr); err != nil {
		return nil, err
	}
	if maxPaths <= 0 {
		return nil, nil
	}
	reverse := s.reverseEdges()
	roots := s.strongRoots()

	if names, ok := roots[addr]; ok {
		return []Path{{Addrs: []uint64{addr}, Roots: names}}, nil
	}

	type searchNode struct {
		addr uint64
		path []uint64
	}
	var result []Path
	queue := []searchNode{{addr: addr, path: []uint64{addr}}}
	for len(queue) > 0 && len(result) < maxPaths {
		n := queue[0]
		queue = queue[1:]
		for _, ref := range reverse[n.addr] {
			if contains(n.path, ref) {
				continue
			}
			p := make([]uint64, len(n.path)+1)
			copy(p, n.path)
			p[len(n.path)] = ref
			if names, ok := roots[ref]; ok {
				result = append(result, Path{Addrs: p, Roots: names})
				if len(result) >= maxPaths {
					break
				}
				continue
			}
			queue = append(queue, searchNode{addr: ref, path: p})
		}
	}
	return result, nil
}

func contains(path []uint64, addr uint64) bool {
	for _, a := range path {
		if a == addr {
			return true
		}
	}
	return false
}

// Reachable returns the addresses reachable from strong roots through
// retaining edges, with ephemeron values included only when their key is
// reachable. This is the set a full collection would keep.
func (s *Snapshot) Reachable() map[uint64]bool {
	seen := make(map[uint64]bool)
	var stack []uint64
	for addr := range s.strongRoots() {
		if !seen[addr] {
			seen[addr] = true
			stack = append(stack, addr)
		}
	}
	var pending []Edge
	for {
		for len(stack) > 0 {
			addr := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			o, err := s.Object(addr)
			if err != nil {
				continue
			}
			for _, e := range o.Edges {
				switch {
				case e.Kind.Retains():
					if !seen[e.To] {
						seen[e.To] = true
						stack = append(stack, e.To)
					}
				case e.Kind == EdgeEphemeron:
					pending = append(pending, e)
				}
			}
		}
		var rest []Edge
		for _, e := range pending {
			switch {
			case !seen[e.Key]:
				rest = append(rest, e)
			case !seen[e.To]:
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
		pending = rest
		if len(stack) == 0 {
			return seen
		}
	}
}
