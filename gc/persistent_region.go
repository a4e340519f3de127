package gc

import (
	"errors"
	"fmt"

	"github.com/petermattis/goid"
)

// ErrPersistentNodeExhausted is the panic value raised when a region cannot
// allocate another node. The root set cannot be left half-updated, so this
// is never returned as an error.
var ErrPersistentNodeExhausted = errors.New("gc: persistent node limit reached")

const persistentNodeSlabSize = 256

// PersistentNode links one Persistent into its region's root set. A free
// node has a nil trace and sits on the region's free list.
type PersistentNode struct {
	trace    func(rv *RootVisitor)
	clear    func()
	nextFree *PersistentNode
}

// IsUsed reports whether the node currently backs a persistent.
func (n *PersistentNode) IsUsed() bool { return n.trace != nil }

type persistentNodeSlab [persistentNodeSlabSize]PersistentNode

// PersistentRegion owns the nodes of all persistents created by one
// goroutine. Nodes are carved out of fixed-size slabs and recycled through
// an intrusive free list. A region is not safe for concurrent use.
type PersistentRegion struct {
	slabs    []*persistentNodeSlab
	freeHead *PersistentNode
	inUse    int
	allocs   uint64
	maxNodes int

	weak           bool
	owner          int64
	checkAffinity  bool
	trackLocations bool
}

// RegionOptions configures a PersistentRegion.
type RegionOptions struct {
	// MaxNodes bounds the number of live nodes; zero means unbounded.
	MaxNodes int
	// CheckThreadAffinity panics when the region is used from a goroutine
	// other than the one that created it.
	CheckThreadAffinity bool
	// TrackLocations records the creation site of every persistent.
	TrackLocations bool
}

// NewPersistentRegion creates a region owned by the calling goroutine.
func NewPersistentRegion(weak bool, opts RegionOptions) *PersistentRegion {
	return &PersistentRegion{
		weak:           weak,
		maxNodes:       opts.MaxNodes,
		owner:          goid.Get(),
		checkAffinity:  opts.CheckThreadAffinity,
		trackLocations: opts.TrackLocations,
	}
}

// IsWeak reports whether the region holds weak persistents.
func (r *PersistentRegion) IsWeak() bool { return r.weak }

// NodesInUse returns the number of nodes currently backing a persistent.
func (r *PersistentRegion) NodesInUse() int { return r.inUse }

// NodeAllocations returns how many times a node has been handed out.
func (r *PersistentRegion) NodeAllocations() uint64 { return r.allocs }

// Slabs returns the number of node slabs the region has grown to.
func (r *PersistentRegion) Slabs() int { return len(r.slabs) }

func (r *PersistentRegion) checkOwner() {
	if !r.checkAffinity {
		return
	}
	if id := goid.Get(); id != r.owner {
		panic(fmt.Sprintf("gc: persistent region owned by goroutine %d used from goroutine %d", r.owner, id))
	}
}

func (r *PersistentRegion) allocateNode(trace func(*RootVisitor), clear func()) *PersistentNode {
	r.checkOwner()
	if r.maxNodes > 0 && r.inUse >= r.maxNodes {
		panic(ErrPersistentNodeExhausted)
	}
	if r.freeHead == nil {
		r.grow()
	}
	n := r.freeHead
	r.freeHead = n.nextFree
	n.nextFree = nil
	n.trace = trace
	n.clear = clear
	r.inUse++
	r.allocs++
	return n
}

// grow adds a slab and threads its nodes onto the free list, lowest first.
func (r *PersistentRegion) grow() {
	slab := new(persistentNodeSlab)
	for i := persistentNodeSlabSize - 1; i >= 0; i-- {
		slab[i].nextFree = r.freeHead
		r.freeHead = &slab[i]
	}
	r.slabs = append(r.slabs, slab)
}

func (r *PersistentRegion) freeNode(n *PersistentNode) {
	r.checkOwner()
	if !n.IsUsed() {
		panic("gc: double free of persistent node")
	}
	n.trace = nil
	n.clear = nil
	n.nextFree = r.freeHead
	r.freeHead = n
	r.inUse--
}

// Iterate traces every live persistent in the region.
func (r *PersistentRegion) Iterate(rv *RootVisitor) {
	for _, slab := range r.slabs {
		for i := range slab {
			// A weak callback may free nodes while we iterate.
			if trace := slab[i].trace; trace != nil {
				trace(rv)
			}
		}
	}
}

// ClearAllUsedNodes empties every persistent in the region, releasing all
// nodes. Used when the owning heap shuts down.
func (r *PersistentRegion) ClearAllUsedNodes() {
	for _, slab := range r.slabs {
		for i := range slab {
			if clear := slab[i].clear; clear != nil {
				clear()
			}
		}
	}
}
