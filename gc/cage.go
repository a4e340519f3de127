package gc

import (
	"container/heap"
	"fmt"
	"sync"
	"sync/atomic"
)

// Address is a full-width reference to a managed object. Managed objects
// are identified by the address of the cage cell they occupy, not by their
// Go pointer, so that references can be compressed and objects relocated.
type Address uint64

// CompressedPointer is the 32-bit form of an Address inside the cage.
type CompressedPointer uint32

const (
	// NullAddress is the empty reference.
	NullAddress Address = 0

	// SentinelAddress marks a reference that intentionally points at a
	// well-known, non-collectible marker. It is set but never traced.
	SentinelAddress Address = 0b10
)

const (
	compressedNull     CompressedPointer = 0
	compressedSentinel CompressedPointer = 1
)

// Cage geometry. Every managed object occupies exactly one cell; the cell
// index doubles as the compressed pointer.
const (
	cageBase Address = 0x0000_1000_0000_0000

	allocationGranularityLog2 = 4
	AllocationGranularity     = 1 << allocationGranularityLog2

	cellsPerPageLog2 = 16
	cellsPerPage     = 1 << cellsPerPageLog2
	maxCagePages     = 1 << (32 - cellsPerPageLog2)

	// Cells 0 and 1 alias null and the sentinel.
	firstUsableCell = 2
)

// IsNull reports whether a is the empty reference.
func (a Address) IsNull() bool { return a == NullAddress }

// IsSentinel reports whether a is the sentinel reference.
func (a Address) IsSentinel() bool { return a == SentinelAddress }

// IsValid reports whether a refers to a real managed object, i.e. it is
// neither null nor the sentinel.
func (a Address) IsValid() bool { return a != NullAddress && a != SentinelAddress }

func (a Address) String() string {
	switch a {
	case NullAddress:
		return "null"
	case SentinelAddress:
		return "sentinel"
	}
	return fmt.Sprintf("%#x", uint64(a))
}

func (a Address) cell() uint32 {
	return uint32((a - cageBase) >> allocationGranularityLog2)
}

func cellAddress(cell uint32) Address {
	return cageBase + Address(cell)<<allocationGranularityLog2
}

func inCage(a Address) bool {
	if a < cageBase+firstUsableCell<<allocationGranularityLog2 {
		return false
	}
	off := a - cageBase
	return off&(AllocationGranularity-1) == 0 && off>>allocationGranularityLog2 <= 0xFFFFFFFF
}

// Compress converts a full-width address into its compressed form.
// Panics if a is neither null, the sentinel, nor a cage address.
func Compress(a Address) CompressedPointer {
	switch a {
	case NullAddress:
		return compressedNull
	case SentinelAddress:
		return compressedSentinel
	}
	if !inCage(a) {
		panic(fmt.Sprintf("gc: cannot compress %v: outside cage", a))
	}
	return CompressedPointer(a.cell())
}

// Decompress converts a compressed pointer back into a full-width address.
func (c CompressedPointer) Decompress() Address {
	switch c {
	case compressedNull:
		return NullAddress
	case compressedSentinel:
		return SentinelAddress
	}
	return cellAddress(uint32(c))
}

// ---------------------------------------------------------------------------
// Cell table
// ---------------------------------------------------------------------------

type cagePage [cellsPerPage]atomic.Pointer[HeapObjectHeader]

// cage is the process-wide table of managed objects. Lookups are lock-free
// so concurrent markers can resolve slots while the mutator allocates;
// reservation and release are serialized by mu.
type cage struct {
	pages [maxCagePages]atomic.Pointer[cagePage]

	mu   sync.Mutex
	free cellHeap // lowest cell first
	next uint32
	live atomic.Int64
}

var theCage = &cage{next: firstUsableCell}

// reserve assigns the lowest free cell to h and publishes it.
func (c *cage) reserve(h *HeapObjectHeader) Address {
	c.mu.Lock()
	var cell uint32
	if c.free.Len() > 0 {
		cell = heap.Pop(&c.free).(uint32)
	} else {
		if c.next == 0 {
			c.mu.Unlock()
			panic("gc: cage exhausted")
		}
		cell = c.next
		c.next++
	}
	page := c.pageFor(cell)
	c.mu.Unlock()

	h.addr = cellAddress(cell)
	page[cell&(cellsPerPage-1)].Store(h)
	c.live.Add(1)
	return h.addr
}

// reserveBelow moves h into the lowest free cell if that cell is below its
// current one. Returns false when no lower cell exists.
func (c *cage) reserveBelow(h *HeapObjectHeader) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := h.addr.cell()
	if c.free.Len() == 0 || c.free[0] >= cur {
		return false
	}
	cell := heap.Pop(&c.free).(uint32)
	c.pageFor(cell)[cell&(cellsPerPage-1)].Store(h)
	c.pageFor(cur)[cur&(cellsPerPage-1)].Store(nil)
	heap.Push(&c.free, cur)
	h.addr = cellAddress(cell)
	return true
}

// pageFor returns the page holding cell, allocating it if needed.
// Caller holds c.mu.
func (c *cage) pageFor(cell uint32) *cagePage {
	idx := cell >> cellsPerPageLog2
	if p := c.pages[idx].Load(); p != nil {
		return p
	}
	p := new(cagePage)
	c.pages[idx].Store(p)
	return p
}

// lookup returns the header stored at a, or nil if the cell is empty.
func (c *cage) lookup(a Address) *HeapObjectHeader {
	if !inCage(a) {
		return nil
	}
	cell := a.cell()
	p := c.pages[cell>>cellsPerPageLog2].Load()
	if p == nil {
		return nil
	}
	return p[cell&(cellsPerPage-1)].Load()
}

// release empties the cell at a and makes it available again.
func (c *cage) release(a Address) {
	cell := a.cell()
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pages[cell>>cellsPerPageLog2].Load()
	if p == nil || p[cell&(cellsPerPage-1)].Swap(nil) == nil {
		panic(fmt.Sprintf("gc: double release of %v", a))
	}
	heap.Push(&c.free, cell)
	c.live.Add(-1)
}

// LiveCells returns the number of occupied cells across all heaps.
func LiveCells() int64 {
	return theCage.live.Load()
}

// cellHeap is a min-heap of free cell indices.
type cellHeap []uint32

func (h cellHeap) Len() int           { return len(h) }
func (h cellHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h cellHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *cellHeap) Push(x any)        { *h = append(*h, x.(uint32)) }
func (h *cellHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
