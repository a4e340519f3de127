package gc

// PersistentSlot is a strong off-heap root.
type PersistentSlot interface {
	GetRaw() Address
	Location() SourceLocation
	persistentSlot()
}

// WeakPersistentSlot is a weak off-heap root.
type WeakPersistentSlot interface {
	GetRaw() Address
	ClearFromGC()
	Location() SourceLocation
	weakPersistentSlot()
}

// RootVisitorHooks is implemented by collectors walking the root set.
type RootVisitorHooks interface {
	VisitRoot(desc TraceDescriptor, loc SourceLocation)
	VisitWeakRoot(desc TraceDescriptor, cb WeakCallback, data any, loc SourceLocation)
}

// RootVisitor traces persistent handles. Roots are always individually
// addressable, so there are no inline, ephemeron or container variants.
type RootVisitor struct {
	hooks RootVisitorHooks
}

// NewRootVisitor returns a RootVisitor dispatching to hooks.
func NewRootVisitor(hooks RootVisitorHooks) *RootVisitor {
	return &RootVisitor{hooks: hooks}
}

// Trace visits a strong root.
func (rv *RootVisitor) Trace(p PersistentSlot) {
	a := p.GetRaw()
	if !a.IsValid() {
		return
	}
	desc, _ := descriptorOf(a)
	rv.hooks.VisitRoot(desc, p.Location())
}

// TraceWeak visits a weak root; cb clears it if its referent is dead.
func (rv *RootVisitor) TraceWeak(p WeakPersistentSlot) {
	a := p.GetRaw()
	if !a.IsValid() {
		return
	}
	desc, _ := descriptorOf(a)
	rv.hooks.VisitWeakRoot(desc, handleWeakPersistent, p, p.Location())
}

func handleWeakPersistent(b *LivenessBroker, data any) {
	p := data.(WeakPersistentSlot)
	if a := p.GetRaw(); a.IsValid() && !b.IsHeapObjectAlive(a) {
		p.ClearFromGC()
	}
}
