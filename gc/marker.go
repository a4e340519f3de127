package gc

import (
	"fmt"
	"unsafe"
)

type markerPhase uint8

const (
	phaseIdle markerPhase = iota
	phaseMarking
	phaseAtomicPause
	phaseDone
)

func (p markerPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseMarking:
		return "marking"
	case phaseAtomicPause:
		return "atomic-pause"
	case phaseDone:
		return "done"
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// Marker drives one marking cycle: root scan, transitive closure with the
// ephemeron fixpoint, and weak processing. All methods run on the mutator
// goroutine; concurrent workers only ever touch their own MarkingState.
type Marker struct {
	heap   *Heap
	config CollectionConfig
	stats  *CycleStats
	phase  markerPhase

	worklists  *MarkingWorklists
	mutator    *MarkingState
	visitor    *Visitor
	concurrent *concurrentMarker
}

func newMarker(h *Heap, cfg CollectionConfig, stats *CycleStats) *Marker {
	m := &Marker{
		heap:      h,
		config:    cfg,
		stats:     stats,
		worklists: newMarkingWorklists(),
	}
	minor := cfg.Collection == MinorCollection
	m.mutator = newMarkingState(m.worklists, minor)
	if minor {
		m.visitor = NewYoungGenerationMarkingVisitor(m.mutator)
	} else {
		m.visitor = NewMutatorMarkingVisitor(m.mutator)
	}
	return m
}

// Visitor returns the mutator's marking visitor.
func (m *Marker) Visitor() *Visitor { return m.visitor }

// StartMarking scans the roots and, for concurrent marking, starts the
// background markers.
func (m *Marker) StartMarking() {
	if m.phase != phaseIdle {
		panic("gc: marking already started")
	}
	m.phase = phaseMarking
	m.stats.RootsVisited = m.visitRoots()
	if m.config.Marking == ConcurrentMarking {
		m.mutator.Publish()
		m.concurrent = startConcurrentMarker(m, m.heap.opts.ConcurrentMarkers)
	}
	log.Debugf("cycle %s: marking started (%s, %s)", m.stats.ID, m.config.Collection, m.config.Marking)
}

// visitRoots scans every root and returns how many it visited. The
// rescan in the atomic pause visits the same roots again, so only the
// first scan is counted.
func (m *Marker) visitRoots() int {
	rv := &rootMarkingVisitor{state: m.mutator}
	m.heap.persistents.Iterate(NewRootVisitor(rv))
	for _, r := range m.heap.roots {
		r.root.Trace(m.visitor)
	}
	if m.config.Collection == MinorCollection {
		for hdr := range m.heap.remembered {
			if !hdr.freed {
				hdr.Trace(m.visitor)
			}
		}
	}
	return rv.roots + len(m.heap.roots)
}

// AdvanceMarking performs up to budget units of marking work on the
// mutator and reports whether the mutator has run out of work. A budget
// <= 0 drains everything.
func (m *Marker) AdvanceMarking(budget int) bool {
	if m.phase != phaseMarking {
		panic(fmt.Sprintf("gc: AdvanceMarking in phase %v", m.phase))
	}
	m.drainDeferred()
	m.stats.IncrementalSteps++
	m.mutator.Drain(m.visitor, budget)
	if m.concurrent != nil {
		m.mutator.Publish()
	}
	return m.mutator.marking.IsEmpty() && m.worklists.deferred.Len() == 0
}

func (m *Marker) drainDeferred() {
	m.stats.DeferredTraces += m.worklists.deferred.Drain(func(object unsafe.Pointer, cb TraceCallback) {
		cb(m.visitor, object)
	})
}

// writeBarrier shades value so it cannot be missed by a marker that has
// already traced its new holder.
func (m *Marker) writeBarrier(value Address) {
	h := theCage.lookup(value)
	if h == nil {
		return
	}
	if m.mutator.filtered(h) {
		return
	}
	if h.TryMarkAtomic() {
		m.mutator.account(h)
		m.mutator.marking.Push(markingItem{hdr: h, cb: h.GCInfo().Trace})
		m.stats.BarrierHits++
	}
}

// EnterAtomicPause stops the background markers and rescans the roots.
func (m *Marker) EnterAtomicPause() {
	if m.phase != phaseMarking {
		panic(fmt.Sprintf("gc: EnterAtomicPause in phase %v", m.phase))
	}
	if m.concurrent != nil {
		m.concurrent.stop()
		m.stats.ConcurrentTraces += m.concurrent.traced()
		m.concurrent = nil
	}
	m.phase = phaseAtomicPause
	m.visitRoots()
}

// ProcessWorklistsToFixpoint drains the marking worklist, then retries the
// discovered ephemerons, until neither yields new work.
func (m *Marker) ProcessWorklistsToFixpoint() {
	if m.phase != phaseAtomicPause {
		panic(fmt.Sprintf("gc: fixpoint outside the atomic pause (phase %v)", m.phase))
	}
	for {
		m.drainDeferred()
		m.mutator.Drain(m.visitor, 0)
		if m.processEphemerons() {
			continue
		}
		if m.mutator.marking.IsEmpty() && m.worklists.deferred.Len() == 0 {
			return
		}
	}
}

// processEphemerons retries every parked ephemeron once and reports
// whether any value was traced.
func (m *Marker) processEphemerons() bool {
	var parked []ephemeronItem
	for {
		it, ok := m.mutator.ephemerons.Pop()
		if !ok {
			break
		}
		parked = append(parked, it)
	}
	if len(parked) == 0 {
		return false
	}
	m.stats.EphemeronIterations++
	progress := false
	for _, it := range parked {
		if m.mutator.ProcessEphemeron(it.key, it.value, it.desc, m.visitor) {
			progress = true
		}
	}
	return progress
}

// ProcessWeakness clears weak roots to dead objects and runs every
// registered weak callback. The broker is invalid once this returns.
func (m *Marker) ProcessWeakness() {
	if m.phase != phaseAtomicPause {
		panic(fmt.Sprintf("gc: ProcessWeakness outside the atomic pause (phase %v)", m.phase))
	}
	b := newLivenessBroker(m.config.Collection == MinorCollection)
	defer b.invalidate()

	wr := &weakRootProcessor{broker: b}
	m.heap.weakPersistents.Iterate(NewRootVisitor(wr))
	m.stats.WeakRootsCleared += wr.cleared

	for {
		it, ok := m.mutator.weakCallbacks.Pop()
		if !ok {
			break
		}
		it.cb(b, it.data)
		m.stats.WeakCallbacks++
	}
	// Ephemerons whose key never became live; their backstop callbacks
	// have cleared them.
	for {
		if _, ok := m.mutator.ephemerons.Pop(); !ok {
			break
		}
	}
}

// LeaveAtomicPause finishes the cycle and folds marking counters into the
// stats.
func (m *Marker) LeaveAtomicPause() {
	if m.phase != phaseAtomicPause {
		panic(fmt.Sprintf("gc: LeaveAtomicPause in phase %v", m.phase))
	}
	m.phase = phaseDone
	m.stats.MarkedObjects += m.mutator.markedObjects
	m.stats.MarkedBytes += m.mutator.markedBytes
}

// MovableSlots returns the slots registered for relocation this cycle.
func (m *Marker) MovableSlots() []*RawSlot { return m.worklists.movableSlots() }
