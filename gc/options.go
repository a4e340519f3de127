package gc

import (
	"fmt"
	"strings"
)

// CollectionType selects which generations a cycle collects.
type CollectionType uint8

const (
	// MajorCollection marks and sweeps the whole heap.
	MajorCollection CollectionType = iota
	// MinorCollection marks and sweeps only young objects. Old objects are
	// treated as live; the remembered set supplies their young edges.
	MinorCollection
)

func (c CollectionType) String() string {
	switch c {
	case MajorCollection:
		return "major"
	case MinorCollection:
		return "minor"
	}
	return fmt.Sprintf("collection(%d)", uint8(c))
}

// ParseCollectionType parses "major" or "minor".
func ParseCollectionType(s string) (CollectionType, error) {
	switch strings.ToLower(s) {
	case "", "major":
		return MajorCollection, nil
	case "minor":
		return MinorCollection, nil
	}
	return 0, fmt.Errorf("unknown collection type %q", s)
}

// MarkingType selects how marking is scheduled.
type MarkingType uint8

const (
	// AtomicMarking marks the whole heap in a single pause.
	AtomicMarking MarkingType = iota
	// IncrementalMarking interleaves bounded marking steps with the
	// mutator at safepoints.
	IncrementalMarking
	// ConcurrentMarking runs markers on background goroutines while the
	// mutator keeps going, and finishes in a short atomic pause.
	ConcurrentMarking
)

func (m MarkingType) String() string {
	switch m {
	case AtomicMarking:
		return "atomic"
	case IncrementalMarking:
		return "incremental"
	case ConcurrentMarking:
		return "concurrent"
	}
	return fmt.Sprintf("marking(%d)", uint8(m))
}

// ParseMarkingType parses "atomic", "incremental" or "concurrent".
func ParseMarkingType(s string) (MarkingType, error) {
	switch strings.ToLower(s) {
	case "", "atomic":
		return AtomicMarking, nil
	case "incremental":
		return IncrementalMarking, nil
	case "concurrent":
		return ConcurrentMarking, nil
	}
	return 0, fmt.Errorf("unknown marking type %q", s)
}

// CollectionConfig describes one collection cycle.
type CollectionConfig struct {
	Collection CollectionType
	Marking    MarkingType
	Reason     string
}

const (
	DefaultStepBudget        = 256
	DefaultConcurrentMarkers = 2
)

// Options configures a Heap.
type Options struct {
	// Name identifies the heap in logs and stats.
	Name string
	// Marking is the marking type used for requested collections.
	Marking MarkingType
	// ConcurrentMarkers is the number of background marking goroutines.
	ConcurrentMarkers int
	// StepBudget is the number of objects traced per incremental step.
	StepBudget int
	// Compaction enables relocation of container backing stores after
	// major collections.
	Compaction bool
	// Generational enables minor collections and the remembered set.
	// Without it, minor collection requests are upgraded to major ones.
	Generational bool
	// AllocationLimit requests a collection once this many bytes were
	// allocated since the last one. Zero disables the trigger.
	AllocationLimit uint64
	// MaxPersistentNodes bounds each persistent region. Zero means
	// unbounded.
	MaxPersistentNodes int
	// CheckThreadAffinity panics when the heap or its persistent regions
	// are used from a goroutine other than the one that created them.
	CheckThreadAffinity bool
	// TrackRootLocations records the creation site of every persistent.
	TrackRootLocations bool
}

// DefaultOptions returns the options used by NewHeap for zero fields.
func DefaultOptions() Options {
	return Options{
		Name:              "heap",
		Marking:           AtomicMarking,
		ConcurrentMarkers: DefaultConcurrentMarkers,
		StepBudget:        DefaultStepBudget,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Name == "" {
		o.Name = d.Name
	}
	if o.ConcurrentMarkers <= 0 {
		o.ConcurrentMarkers = d.ConcurrentMarkers
	}
	if o.StepBudget <= 0 {
		o.StepBudget = d.StepBudget
	}
	return o
}
