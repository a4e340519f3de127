package scenario

import (
	"github.com/chazu/tracegc/gc"
)

// Node is the managed object type scenarios build graphs from. Every edge
// kind the collector understands has a field: a strong member, a weak
// member, a vector of strong references, a weak set and an ephemeron map.
type Node struct {
	gc.Managed
	Name  string
	Next  gc.Member[Node]
	Weak  gc.WeakMember[Node]
	Items gc.HeapVector[Node]
	Set   gc.WeakSet[Node]
	Map   gc.EphemeronMap[Node, Node]

	finalized func(name string)
}

func (n *Node) Trace(v *gc.Visitor) {
	v.Trace(&n.Next)
	v.TraceWeak(&n.Weak)
	n.Items.Trace(v)
	n.Set.Trace(v)
	n.Map.Trace(v)
}

func (n *Node) PreFinalize() {
	if n.finalized != nil {
		n.finalized(n.Name)
	}
}
