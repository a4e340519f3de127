package server

import (
	"github.com/chazu/tracegc/gc"
	"github.com/chazu/tracegc/gc/snapshot"
)

// CycleInfo is the wire form of gc.CycleStats.
type CycleInfo struct {
	ID                  string `cbor:"1,keyasint"`
	Sequence            uint64 `cbor:"2,keyasint"`
	Collection          string `cbor:"3,keyasint"`
	Marking             string `cbor:"4,keyasint"`
	Reason              string `cbor:"5,keyasint"`
	StartedAt           int64  `cbor:"6,keyasint"` // unix nanoseconds
	DurationNanos       int64  `cbor:"7,keyasint"`
	AtomicPauseNanos    int64  `cbor:"8,keyasint"`
	RootsVisited        int    `cbor:"9,keyasint"`
	MarkedObjects       int    `cbor:"10,keyasint"`
	MarkedBytes         uint64 `cbor:"11,keyasint"`
	IncrementalSteps    int    `cbor:"12,keyasint"`
	ConcurrentTraces    int    `cbor:"13,keyasint"`
	EphemeronIterations int    `cbor:"14,keyasint"`
	WeakCallbacks       int    `cbor:"15,keyasint"`
	WeakRootsCleared    int    `cbor:"16,keyasint"`
	PreFinalizers       int    `cbor:"17,keyasint"`
	SweptObjects        int    `cbor:"18,keyasint"`
	SweptBytes          uint64 `cbor:"19,keyasint"`
	LiveObjects         int    `cbor:"20,keyasint"`
	LiveBytes           uint64 `cbor:"21,keyasint"`
	Promoted            int    `cbor:"22,keyasint"`
	CompactedObjects    int    `cbor:"23,keyasint"`
}

func cycleInfo(s *gc.CycleStats) *CycleInfo {
	if s == nil {
		return nil
	}
	return &CycleInfo{
		ID:                  s.ID.String(),
		Sequence:            s.Sequence,
		Collection:          s.Collection.String(),
		Marking:             s.Marking.String(),
		Reason:              s.Reason,
		StartedAt:           s.StartedAt.UnixNano(),
		DurationNanos:       int64(s.Duration),
		AtomicPauseNanos:    int64(s.AtomicPause),
		RootsVisited:        s.RootsVisited,
		MarkedObjects:       s.MarkedObjects,
		MarkedBytes:         s.MarkedBytes,
		IncrementalSteps:    s.IncrementalSteps,
		ConcurrentTraces:    s.ConcurrentTraces,
		EphemeronIterations: s.EphemeronIterations,
		WeakCallbacks:       s.WeakCallbacks,
		WeakRootsCleared:    s.WeakRootsCleared,
		PreFinalizers:       s.PreFinalizers,
		SweptObjects:        s.SweptObjects,
		SweptBytes:          s.SweptBytes,
		LiveObjects:         s.LiveObjects,
		LiveBytes:           s.LiveBytes,
		Promoted:            s.Promoted,
		CompactedObjects:    s.CompactedObjects,
	}
}

type StatsRequest struct{}

type StatsResponse struct {
	HeapID          string     `cbor:"1,keyasint"`
	HeapName        string     `cbor:"2,keyasint"`
	Objects         int        `cbor:"3,keyasint"`
	AllocatedBytes  uint64     `cbor:"4,keyasint"`
	Persistents     int        `cbor:"5,keyasint"`
	WeakPersistents int        `cbor:"6,keyasint"`
	Marking         bool       `cbor:"7,keyasint"`
	GCRequested     bool       `cbor:"8,keyasint"`
	Cycles          uint64     `cbor:"9,keyasint"`
	LastCycle       *CycleInfo `cbor:"10,keyasint,omitempty"`
}

// CollectRequest asks for a collection. Empty fields take the heap's
// defaults: a major cycle with the configured marking type.
type CollectRequest struct {
	Collection string `cbor:"1,keyasint,omitempty"`
	Marking    string `cbor:"2,keyasint,omitempty"`
	Reason     string `cbor:"3,keyasint,omitempty"`
}

type CollectResponse struct {
	Cycle *CycleInfo `cbor:"1,keyasint"`
}

type SnapshotRequest struct {
	// SummaryOnly omits the encoded snapshot from the response.
	SummaryOnly bool `cbor:"1,keyasint,omitempty"`
}

type SnapshotResponse struct {
	Objects    int                 `cbor:"1,keyasint"`
	TotalBytes uint64              `cbor:"2,keyasint"`
	Summary    []snapshot.TypeStat `cbor:"3,keyasint"`
	Snapshot   []byte              `cbor:"4,keyasint,omitempty"` // see snapshot.Unmarshal
}

type PathsRequest struct {
	Addr     uint64 `cbor:"1,keyasint"`
	MaxPaths int    `cbor:"2,keyasint,omitempty"`
}

type PathsResponse struct {
	Paths []snapshot.Path `cbor:"1,keyasint"`
}
