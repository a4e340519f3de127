// Package snapshot captures the object graph of a gc.Heap for offline
// inspection: per-object edges, roots, type summaries and retaining paths.
package snapshot

import (
	"errors"
	"time"

	"github.com/chazu/tracegc/gc"
)

// ErrUnknownObject is returned for addresses not present in a snapshot.
var ErrUnknownObject = errors.New("snapshot: unknown object")

// EdgeKind classifies a reference between two objects.
type EdgeKind uint8

const (
	EdgeStrong EdgeKind = iota
	EdgeWeak
	EdgeEphemeron
	EdgeWeakContainer
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeStrong:
		return "strong"
	case EdgeWeak:
		return "weak"
	case EdgeEphemeron:
		return "ephemeron"
	case EdgeWeakContainer:
		return "weak-container"
	}
	return "unknown"
}

// Retains reports whether an edge of this kind keeps its target alive on
// its own. Ephemeron values are retained only through their key.
func (k EdgeKind) Retains() bool {
	return k == EdgeStrong || k == EdgeWeakContainer
}

// Edge is one outgoing reference.
type Edge struct {
	To   uint64   `cbor:"1,keyasint"`
	Kind EdgeKind `cbor:"2,keyasint"`
	Key  uint64   `cbor:"3,keyasint,omitempty"` // ephemeron key
}

// Object is one heap object.
type Object struct {
	Addr  uint64 `cbor:"1,keyasint"`
	Type  string `cbor:"2,keyasint"`
	Size  uint64 `cbor:"3,keyasint"`
	Old   bool   `cbor:"4,keyasint,omitempty"`
	Edges []Edge `cbor:"5,keyasint,omitempty"`
}

// Root is one reference from outside the heap.
type Root struct {
	Name     string `cbor:"1,keyasint"`
	Addr     uint64 `cbor:"2,keyasint"`
	Weak     bool   `cbor:"3,keyasint,omitempty"`
	Location string `cbor:"4,keyasint,omitempty"`
}

// Snapshot is a point-in-time copy of a heap's object graph.
type Snapshot struct {
	HeapID   string   `cbor:"1,keyasint"`
	HeapName string   `cbor:"2,keyasint"`
	TakenAt  int64    `cbor:"3,keyasint"` // unix nanoseconds
	Cycles   uint64   `cbor:"4,keyasint"`
	Objects  []Object `cbor:"5,keyasint"`
	Roots    []Root   `cbor:"6,keyasint"`

	index map[uint64]int
}

// Take records every object and root of h. It must run on h's mutator
// goroutine; it does not disturb a running marking cycle.
func Take(h *gc.Heap) *Snapshot {
	s := &Snapshot{
		HeapID:   h.ID().String(),
		HeapName: h.Options().Name,
		TakenAt:  time.Now().UnixNano(),
		Cycles:   h.Cycles(),
	}

	rec := &recorder{}
	v := gc.NewVisitor(rec)
	h.ForEachObject(func(hdr *gc.HeapObjectHeader) bool {
		rec.edges = nil
		hdr.Trace(v)
		s.Objects = append(s.Objects, Object{
			Addr:  uint64(hdr.Address()),
			Type:  hdr.Name(),
			Size:  uint64(hdr.Size()),
			Old:   !hdr.IsYoung(),
			Edges: rec.edges,
		})
		return true
	})

	roots := &rootRecorder{name: "persistent"}
	h.Persistents().Iterate(gc.NewRootVisitor(roots))
	roots.name = "weak-persistent"
	h.WeakPersistents().Iterate(gc.NewRootVisitor(roots))
	s.Roots = roots.roots

	h.ForEachRoot(func(name string, root gc.Traceable) {
		rec.edges = nil
		root.Trace(v)
		for _, e := range rec.edges {
			s.Roots = append(s.Roots, Root{Name: name, Addr: e.To, Weak: !e.Kind.Retains()})
		}
	})
	return s
}

// Object returns the object at addr.
func (s *Snapshot) Object(addr uint64) (*Object, error) {
	if s.index == nil {
		s.index = make(map[uint64]int, len(s.Objects))
		for i := range s.Objects {
			s.index[s.Objects[i].Addr] = i
		}
	}
	i, ok := s.index[addr]
	if !ok {
		return nil, ErrUnknownObject
	}
	return &s.Objects[i], nil
}

// TotalBytes returns the summed size of all objects.
func (s *Snapshot) TotalBytes() uint64 {
	var n uint64
	for _, o := range s.Objects {
		n += o.Size
	}
	return n
}
