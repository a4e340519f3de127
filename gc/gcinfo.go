package gc

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"unsafe"
)

// GCInfoIndex identifies a registered managed type.
type GCInfoIndex uint16

// GCInfoFlags describe optional per-type behaviour.
type GCInfoFlags uint8

const (
	// GCInfoPreFinalizer marks types whose PreFinalize runs before sweeping.
	GCInfoPreFinalizer GCInfoFlags = 1 << iota
	// GCInfoCompactable marks backing stores the compactor may relocate.
	GCInfoCompactable
)

// GCInfo is one entry of the type-erased dispatch table: everything the
// collector needs to handle an object whose concrete type it does not know.
type GCInfo struct {
	Name        string
	Size        uintptr
	Trace       TraceCallback
	PreFinalize func(object unsafe.Pointer)
	Flags       GCInfoFlags

	rtype reflect.Type
}

// Has reports whether all of f are set.
func (i *GCInfo) Has(f GCInfoFlags) bool { return i.Flags&f == f }

type gcInfoTable struct {
	mu     sync.Mutex
	byType map[reflect.Type]GCInfoIndex
	infos  atomic.Pointer[[]*GCInfo] // copy-on-write; readers never lock
}

// Index 0 is reserved so a zero header is recognisably unregistered.
var globalGCInfoTable = func() *gcInfoTable {
	t := &gcInfoTable{byType: make(map[reflect.Type]GCInfoIndex)}
	infos := []*GCInfo{nil}
	t.infos.Store(&infos)
	return t
}()

func gcInfoAt(idx GCInfoIndex) *GCInfo {
	infos := *globalGCInfoTable.infos.Load()
	if int(idx) >= len(infos) || infos[idx] == nil {
		panic(fmt.Sprintf("gc: unknown GCInfo index %d", idx))
	}
	return infos[idx]
}

// GCInfos returns a copy of all registered type entries.
func GCInfos() []*GCInfo {
	infos := *globalGCInfoTable.infos.Load()
	return append([]*GCInfo(nil), infos[1:]...)
}

// gcInfoIndexFor returns the GCInfo index of T, registering it on first use.
func gcInfoIndexFor[T any, P ptrTo[T]]() GCInfoIndex {
	rt := reflect.TypeFor[T]()

	t := globalGCInfoTable
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx, ok := t.byType[rt]; ok {
		return idx
	}

	info := &GCInfo{
		Name:  rt.String(),
		Size:  rt.Size(),
		Trace: traceCallbackFor[T, P](),
		rtype: rt,
	}
	var zero P
	if _, ok := any(zero).(PreFinalizer); ok {
		info.Flags |= GCInfoPreFinalizer
		info.PreFinalize = func(object unsafe.Pointer) {
			any(P((*T)(object))).(PreFinalizer).PreFinalize()
		}
	}
	if _, ok := any(zero).(compactableStore); ok {
		info.Flags |= GCInfoCompactable
	}

	old := *t.infos.Load()
	if len(old) > int(^GCInfoIndex(0)) {
		panic("gc: GCInfo table full")
	}
	infos := make([]*GCInfo, len(old), len(old)+1)
	copy(infos, old)
	infos = append(infos, info)
	idx := GCInfoIndex(len(infos) - 1)
	t.infos.Store(&infos)
	t.byType[rt] = idx
	return idx
}

func traceCallbackFor[T any, P ptrTo[T]]() TraceCallback {
	return func(v *Visitor, object unsafe.Pointer) {
		P((*T)(object)).Trace(v)
	}
}
