package gc

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/uuid"
	"github.com/petermattis/goid"
)

// ---------------------------------------------------------------------------
// Heap: allocation, roots and collection cycles
// ---------------------------------------------------------------------------

type namedRoot struct {
	id   uint64
	name string
	root Traceable
}

// Heap owns a set of managed objects and collects them. A heap is
// thread-affine: allocation, root mutation and collection all happen on the
// goroutine that created it (the mutator). Marking may additionally run on
// background goroutines during concurrent cycles.
type Heap struct {
	id    uuid.UUID
	opts  Options
	owner int64

	objects         []*HeapObjectHeader
	persistents     *PersistentRegion
	weakPersistents *PersistentRegion
	roots           []*namedRoot
	nextRootID      uint64
	remembered      map[*HeapObjectHeader]struct{}

	marker        *Marker
	inCollector   bool
	inAtomicPause bool
	closed        bool

	allocatedBytes   uint64
	allocatedSinceGC uint64

	gcRequested atomic.Bool
	cycles      atomic.Uint64
	lastStats   atomic.Pointer[CycleStats]
	liveObjects atomic.Int64
}

// NewHeap creates a heap owned by the calling goroutine.
func NewHeap(opts Options) *Heap {
	opts = opts.withDefaults()
	ro := RegionOptions{
		MaxNodes:            opts.MaxPersistentNodes,
		CheckThreadAffinity: opts.CheckThreadAffinity,
		TrackLocations:      opts.TrackRootLocations,
	}
	h := &Heap{
		id:              uuid.New(),
		opts:            opts,
		owner:           goid.Get(),
		persistents:     NewPersistentRegion(false, ro),
		weakPersistents: NewPersistentRegion(true, ro),
		remembered:      make(map[*HeapObjectHeader]struct{}),
	}
	log.Infof("heap %s (%s) created", opts.Name, h.id)
	return h
}

// ID returns the heap's unique ID.
func (h *Heap) ID() uuid.UUID { return h.id }

// Options returns the heap's effective options.
func (h *Heap) Options() Options { return h.opts }

// Persistents returns the region for strong persistents of this heap.
func (h *Heap) Persistents() *PersistentRegion { return h.persistents }

// WeakPersistents returns the region for weak persistents of this heap.
func (h *Heap) WeakPersistents() *PersistentRegion { return h.weakPersistents }

func (h *Heap) checkMutator() {
	if h.closed {
		panic("gc: use of closed heap")
	}
	if h.Broken() {
		panic(fmt.Sprintf("gc: heap %s used after a panic inside a collection", h.opts.Name))
	}
	if h.opts.CheckThreadAffinity && goid.Get() != h.owner {
		panic(fmt.Sprintf("gc: heap %s used off its mutator goroutine", h.opts.Name))
	}
}

// MakeGarbageCollected allocates obj on h and returns it. obj must embed
// Managed and must not have been allocated before. Objects allocated while
// marking are marked and queued so they survive the cycle.
func MakeGarbageCollected[T any, P ptrTo[T]](h *Heap, obj P) P {
	if obj == nil {
		panic("gc: MakeGarbageCollected of nil")
	}
	h.checkMutator()
	if h.inAtomicPause {
		panic("gc: allocation during the atomic pause")
	}
	hdr := &HeapObjectHeader{
		info:    gcInfoIndexFor[T, P](),
		heap:    h,
		payload: unsafe.Pointer((*T)(obj)),
	}
	obj.bindHeader(hdr)
	theCage.reserve(hdr)
	h.objects = append(h.objects, hdr)
	h.liveObjects.Add(1)

	size := uint64(hdr.Size())
	h.allocatedBytes += size
	h.allocatedSinceGC += size
	if h.opts.AllocationLimit > 0 && h.allocatedSinceGC >= h.opts.AllocationLimit {
		h.RequestGC()
	}

	if m := h.marker; m != nil && !m.mutator.filtered(hdr) && hdr.TryMarkAtomic() {
		m.mutator.account(hdr)
		m.mutator.marking.Push(markingItem{hdr: hdr, cb: hdr.GCInfo().Trace})
	}
	return obj
}

// AddRoot registers a named root traced at the start and at the end of
// every marking cycle. It returns a function that removes the root.
func (h *Heap) AddRoot(name string, root Traceable) (remove func()) {
	h.checkMutator()
	h.nextRootID++
	r := &namedRoot{id: h.nextRootID, name: name, root: root}
	h.roots = append(h.roots, r)
	return func() {
		for i, other := range h.roots {
			if other == r {
				h.roots = append(h.roots[:i], h.roots[i+1:]...)
				return
			}
		}
	}
}

// ForEachRoot calls fn for every named root.
func (h *Heap) ForEachRoot(fn func(name string, root Traceable)) {
	for _, r := range h.roots {
		fn(r.name, r.root)
	}
}

// ForEachObject calls fn for every allocated object in allocation order
// until fn returns false.
func (h *Heap) ForEachObject(fn func(hdr *HeapObjectHeader) bool) {
	for _, hdr := range h.objects {
		if !fn(hdr) {
			return
		}
	}
}

// ObjectCount returns the number of live (unswept) objects. Safe for
// concurrent use.
func (h *Heap) ObjectCount() int { return int(h.liveObjects.Load()) }

// AllocatedBytes returns the total number of bytes ever allocated.
func (h *Heap) AllocatedBytes() uint64 { return h.allocatedBytes }

// IsAlive reports whether a refers to an object currently allocated on h.
func (h *Heap) IsAlive(a Address) bool {
	hdr := HeaderOf(a)
	return hdr != nil && hdr.heap == h && !hdr.freed
}

// RememberedSetSize returns the number of old objects recorded as holding
// young references.
func (h *Heap) RememberedSetSize() int { return len(h.remembered) }

// IsMarking reports whether an incremental or concurrent cycle is running.
func (h *Heap) IsMarking() bool { return h.marker != nil }

// Cycles returns the number of completed collections. Safe for concurrent
// use.
func (h *Heap) Cycles() uint64 { return h.cycles.Load() }

// LastStats returns the stats of the most recent cycle, or nil. Safe for
// concurrent use.
func (h *Heap) LastStats() *CycleStats { return h.lastStats.Load() }

// RequestGC asks the mutator to collect at its next Safepoint. Safe for
// concurrent use.
func (h *Heap) RequestGC() { h.gcRequested.Store(true) }

// GCRequested reports whether a collection has been requested.
func (h *Heap) GCRequested() bool { return h.gcRequested.Load() }

// DefaultConfig returns the configuration used for requested collections.
func (h *Heap) DefaultConfig(reason string) CollectionConfig {
	return CollectionConfig{Collection: MajorCollection, Marking: h.opts.Marking, Reason: reason}
}

func (h *Heap) normalize(cfg CollectionConfig) CollectionConfig {
	if cfg.Collection == MinorCollection {
		if !h.opts.Generational {
			cfg.Collection = MajorCollection
		} else {
			// Young-generation cycles are short; they always run in one pause.
			cfg.Marking = AtomicMarking
		}
	}
	if cfg.Reason == "" {
		cfg.Reason = "explicit"
	}
	return cfg
}

// CollectGarbage runs a complete collection cycle and returns its stats.
// If an incremental cycle is in progress, that cycle is finished instead.
func (h *Heap) CollectGarbage(cfg CollectionConfig) *CycleStats {
	h.checkMutator()
	if h.marker != nil {
		return h.FinalizeIncrementalGC()
	}
	cfg = h.normalize(cfg)
	h.startCycle(cfg)
	if cfg.Marking != AtomicMarking {
		for !h.advance() {
		}
	}
	return h.finishCycle()
}

// StartIncrementalMarking begins an incremental or concurrent cycle. The
// mutator keeps running; marking advances at every Safepoint.
func (h *Heap) StartIncrementalMarking(cfg CollectionConfig) {
	h.checkMutator()
	if h.marker != nil {
		return
	}
	cfg = h.normalize(cfg)
	if cfg.Marking == AtomicMarking {
		cfg.Marking = IncrementalMarking
	}
	h.startCycle(cfg)
}

// Safepoint is called by the mutator at points where no unrooted
// references are held on its stack. It advances a running cycle by one
// step, finishing it once marking is done, or starts a requested one.
// Returns the stats of a cycle completed here, or nil.
func (h *Heap) Safepoint() *CycleStats {
	h.checkMutator()
	if h.marker != nil {
		if h.advance() {
			return h.finishCycle()
		}
		return nil
	}
	if !h.gcRequested.Load() {
		return nil
	}
	cfg := h.DefaultConfig("requested")
	if cfg.Marking == AtomicMarking {
		return h.CollectGarbage(cfg)
	}
	h.StartIncrementalMarking(cfg)
	return nil
}

// FinalizeIncrementalGC finishes the running cycle in one pause. Returns
// nil if no cycle is running.
func (h *Heap) FinalizeIncrementalGC() *CycleStats {
	h.checkMutator()
	if h.marker == nil {
		return nil
	}
	return h.finishCycle()
}

// Broken reports whether a panic escaped the collector in the middle of a
// cycle, for example from a Trace method or a PreFinalizer. Marking state
// is then inconsistent and every further use of the heap panics.
func (h *Heap) Broken() bool { return h.inCollector || h.inAtomicPause }

func (h *Heap) startCycle(cfg CollectionConfig) {
	h.inCollector = true
	h.gcRequested.Store(false)
	stats := newCycleStats(h, h.cycles.Load()+1, cfg)
	h.marker = newMarker(h, cfg, stats)
	h.marker.StartMarking()
	h.inCollector = false
}

func (h *Heap) advance() bool {
	h.inCollector = true
	done := h.marker.AdvanceMarking(h.opts.StepBudget)
	h.inCollector = false
	return done
}

func (h *Heap) finishCycle() *CycleStats {
	m := h.marker
	stats := m.stats
	minor := m.config.Collection == MinorCollection

	pauseStart := time.Now()
	h.inAtomicPause = true
	m.EnterAtomicPause()
	m.ProcessWorklistsToFixpoint()
	m.ProcessWeakness()
	m.LeaveAtomicPause()
	h.marker = nil

	h.sweep(minor, stats)
	if h.opts.Compaction && !minor {
		stats.CompactedObjects = h.compact(m.MovableSlots())
	}
	stats.RememberedSet = len(h.remembered)
	clear(h.remembered)
	h.inAtomicPause = false

	now := time.Now()
	stats.AtomicPause = now.Sub(pauseStart)
	stats.Duration = now.Sub(stats.StartedAt)
	h.allocatedSinceGC = 0
	h.cycles.Add(1)
	h.lastStats.Store(stats)
	log.Infof("heap %s: %s", h.opts.Name, stats)
	return stats
}

// Close releases every persistent and root and reclaims all objects.
// PreFinalizers of the remaining objects run. The heap is unusable
// afterwards.
func (h *Heap) Close() {
	if h.closed {
		return
	}
	h.checkMutator()
	if h.marker != nil {
		h.finishCycle()
	}
	h.persistents.ClearAllUsedNodes()
	h.weakPersistents.ClearAllUsedNodes()
	h.roots = nil
	h.CollectGarbage(CollectionConfig{Collection: MajorCollection, Marking: AtomicMarking, Reason: "close"})
	// Nothing is rooted any more, so every object is gone; a leftover
	// means a cross-heap reference kept it marked.
	for _, hdr := range h.objects {
		h.release(hdr)
	}
	h.objects = nil
	h.closed = true
	log.Infof("heap %s (%s) closed", h.opts.Name, h.id)
}
