package snapshot

import (
	"unsafe"

	"github.com/chazu/tracegc/gc"
)

// recorder is a VisitorHooks that writes down edges instead of marking.
type recorder struct {
	gc.BaseVisitorHooks
	edges []Edge
}

func (r *recorder) Visit(desc gc.TraceDescriptor) {
	r.edges = append(r.edges, Edge{To: uint64(desc.BaseObjectPayload), Kind: EdgeStrong})
}

func (r *recorder) VisitWeak(desc gc.TraceDescriptor, _ gc.WeakCallback, _ any) {
	r.edges = append(r.edges, Edge{To: uint64(desc.BaseObjectPayload), Kind: EdgeWeak})
}

func (r *recorder) VisitEphemeron(key gc.Address, _ unsafe.Pointer, desc gc.TraceDescriptor) {
	// Inline values have no address of their own.
	if desc.IsInline() {
		return
	}
	r.edges = append(r.edges, Edge{To: uint64(desc.BaseObjectPayload), Kind: EdgeEphemeron, Key: uint64(key)})
}

func (r *recorder) VisitWeakContainer(object gc.Address, _, _ gc.TraceDescriptor, _ gc.WeakCallback, _ any) {
	r.edges = append(r.edges, Edge{To: uint64(object), Kind: EdgeWeakContainer})
}

type rootRecorder struct {
	name  string
	roots []Root
}

func (r *rootRecorder) VisitRoot(desc gc.TraceDescriptor, loc gc.SourceLocation) {
	r.roots = append(r.roots, r.root(desc, loc, false))
}

func (r *rootRecorder) VisitWeakRoot(desc gc.TraceDescriptor, _ gc.WeakCallback, _ any, loc gc.SourceLocation) {
	r.roots = append(r.roots, r.root(desc, loc, true))
}

func (r *rootRecorder) root(desc gc.TraceDescriptor, loc gc.SourceLocation, weak bool) Root {
	root := Root{Name: r.name, Addr: uint64(desc.BaseObjectPayload), Weak: weak}
	if loc.IsKnown() {
		root.Location = loc.String()
	}
	return root
}
