package gc

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CycleStats describes one completed collection.
type CycleStats struct {
	ID         uuid.UUID
	Heap       string
	Sequence   uint64
	Collection CollectionType
	Marking    MarkingType
	Reason     string

	StartedAt   time.Time
	Duration    time.Duration
	AtomicPause time.Duration

	// Marking
	RootsVisited        int
	MarkedObjects       int
	MarkedBytes         uint64
	IncrementalSteps    int
	ConcurrentTraces    int
	DeferredByWorkers   int
	DeferredTraces      int
	BarrierHits         int
	EphemeronIterations int

	// Weakness
	WeakCallbacks    int
	WeakRootsCleared int

	// Sweeping and compaction
	PreFinalizers    int
	SweptObjects     int
	SweptBytes       uint64
	LiveObjects      int
	LiveBytes        uint64
	Promoted         int
	CompactedObjects int
	RememberedSet    int
}

func newCycleStats(h *Heap, seq uint64, cfg CollectionConfig) *CycleStats {
	return &CycleStats{
		ID:         uuid.New(),
		Heap:       h.opts.Name,
		Sequence:   seq,
		Collection: cfg.Collection,
		Marking:    cfg.Marking,
		Reason:     cfg.Reason,
		StartedAt:  time.Now(),
	}
}

func (s *CycleStats) String() string {
	return fmt.Sprintf("#%d %s/%s: marked %d (%d B), swept %d (%d B), live %d, %s (pause %s)",
		s.Sequence, s.Collection, s.Marking,
		s.MarkedObjects, s.MarkedBytes,
		s.SweptObjects, s.SweptBytes,
		s.LiveObjects, s.Duration, s.AtomicPause)
}
