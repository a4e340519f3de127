// Package gc is a tracing garbage collector core for a simulated managed
// heap.
//
// Managed types embed Managed and implement Trace, reporting every
// outgoing reference to a Visitor:
//
//	type Node struct {
//		gc.Managed
//		Next  gc.Member[Node]
//		Cache gc.WeakMember[Node]
//	}
//
//	func (n *Node) Trace(v *gc.Visitor) {
//		v.Trace(&n.Next)
//		v.TraceWeak(&n.Cache)
//	}
//
// Objects are allocated with MakeGarbageCollected and kept alive by
// Persistent handles, named roots and strong members. A collection marks
// from the roots, resolves ephemerons to a fixpoint, runs weak callbacks
// with a LivenessBroker, sweeps and optionally compacts container backing
// stores. Marking can be atomic, incremental (advanced at Safepoint) or
// concurrent.
//
// References are stored as cage addresses rather than Go pointers. Stores
// into members of a heap object must be followed by the write barrier;
// Assign does both.
package gc
