package scenario

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/chazu/tracegc/gc"
)

// Result collects what happened during a run.
type Result struct {
	Scenario  string
	Cycles    []*gc.CycleStats
	Finalized []string // object names, in prefinalization order
	Failures  []string // unmet expectations
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

type root interface {
	Get() *Node
	Release() *Node
}

// Runner executes a scenario against a heap. It must be used on the heap's
// mutator goroutine.
type Runner struct {
	heap     *gc.Heap
	scenario *Scenario
	specs    map[string]*ObjectSpec
	objects  map[string]*Node
	roots    map[string]root
	result   *Result
}

// NewRunner prepares s to run on h.
func NewRunner(h *gc.Heap, s *Scenario) *Runner {
	r := &Runner{
		heap:     h,
		scenario: s,
		specs:    make(map[string]*ObjectSpec, len(s.Objects)),
		objects:  make(map[string]*Node, len(s.Objects)),
		roots:    make(map[string]root),
		result:   &Result{Scenario: s.Name},
	}
	for i := range s.Objects {
		r.specs[s.Objects[i].Name] = &s.Objects[i]
	}
	return r
}

// Object returns the named node, or nil if it was never allocated or has
// been swept.
func (r *Runner) Object(name string) *Node {
	n := r.objects[name]
	if n == nil || n.IsSwept() {
		return nil
	}
	return n
}

// Result returns the result so far.
func (r *Runner) Result() *Result { return r.result }

// Run builds the initial graph and executes every step. Unmet expectations
// are recorded in the result; an error means a step could not be
// executed, for example because it used a swept object.
func (r *Runner) Run() (*Result, error) {
	s := r.scenario
	log.Infof("running scenario %s", s.Name)

	for i := range s.Objects {
		if !s.Objects[i].Late {
			r.allocate(&s.Objects[i])
		}
	}
	for i := range s.Objects {
		if s.Objects[i].Late {
			continue
		}
		if err := r.wire(&s.Objects[i]); err != nil {
			return r.result, err
		}
	}
	for _, spec := range s.Roots {
		if err := r.addRoot(spec.Name, spec.Object, spec.Weak); err != nil {
			return r.result, err
		}
	}

	for i := range s.Steps {
		st := &s.Steps[i]
		log.Debugf("step %d: %s", i+1, st.Action)
		if err := r.step(i, st); err != nil {
			return r.result, fmt.Errorf("step %d (%s): %w", i+1, st.Action, err)
		}
	}
	return r.result, nil
}

// Release drops every root the scenario still holds and runs a major
// collection, so that a later scenario on the same heap starts without
// this one's objects. The runner's objects are gone afterwards.
func (r *Runner) Release() *gc.CycleStats {
	for name, p := range r.roots {
		p.Release()
		delete(r.roots, name)
	}
	stats := r.heap.CollectGarbage(gc.CollectionConfig{
		Collection: gc.MajorCollection,
		Marking:    gc.AtomicMarking,
		Reason:     "scenario " + r.scenario.Name + " released",
	})
	log.Debugf("released scenario %s: %s", r.scenario.Name, stats)
	return stats
}

func (r *Runner) allocate(spec *ObjectSpec) *Node {
	n := gc.MakeGarbageCollected(r.heap, &Node{Name: spec.Name})
	n.finalized = func(name string) {
		r.result.Finalized = append(r.result.Finalized, name)
	}
	r.objects[spec.Name] = n
	return n
}

// live resolves a name to an allocated, unswept node.
func (r *Runner) live(name string) (*Node, error) {
	n := r.objects[name]
	switch {
	case n == nil:
		return nil, fmt.Errorf("object %q is not allocated", name)
	case n.IsSwept():
		return nil, fmt.Errorf("object %q was reclaimed", name)
	}
	return n, nil
}

func (r *Runner) wire(spec *ObjectSpec) error {
	n, err := r.live(spec.Name)
	if err != nil {
		return err
	}
	if spec.Next != "" {
		if err := r.assign(n, FieldNext, spec.Next, ""); err != nil {
			return err
		}
	}
	if spec.Weak != "" {
		if err := r.assign(n, FieldWeak, spec.Weak, ""); err != nil {
			return err
		}
	}
	for _, item := range spec.Items {
		if err := r.assign(n, FieldItems, item, ""); err != nil {
			return err
		}
	}
	for _, member := range spec.Set {
		if err := r.assign(n, FieldSet, member, ""); err != nil {
			return err
		}
	}
	keys := make([]string, 0, len(spec.Map))
	for k := range spec.Map {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := r.assign(n, FieldMap, spec.Map[k], k); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) assign(n *Node, field, target, key string) error {
	t, err := r.live(target)
	if err != nil {
		return err
	}
	switch field {
	case FieldNext:
		gc.Assign(n, &n.Next, t)
	case FieldWeak:
		gc.Assign(n, &n.Weak, t)
	case FieldItems:
		n.Items.Append(n, t)
	case FieldSet:
		n.Set.Add(n, t)
	case FieldMap:
		k, err := r.live(key)
		if err != nil {
			return err
		}
		n.Map.Set(n, k, t)
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}

func (r *Runner) clear(n *Node, field, target, key string) error {
	switch field {
	case FieldNext:
		n.Next.Clear()
	case FieldWeak:
		n.Weak.Clear()
	case FieldItems:
		n.Items.Clear()
	case FieldSet:
		t, err := r.live(target)
		if err != nil {
			return err
		}
		n.Set.Remove(t)
	case FieldMap:
		k, err := r.live(key)
		if err != nil {
			return err
		}
		n.Map.Delete(k)
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}

func (r *Runner) addRoot(name, object string, weak bool) error {
	if _, ok := r.roots[name]; ok {
		return fmt.Errorf("root %q already exists", name)
	}
	n, err := r.live(object)
	if err != nil {
		return err
	}
	if weak {
		r.roots[name] = gc.NewWeakPersistent(r.heap.WeakPersistents(), n)
	} else {
		r.roots[name] = gc.NewPersistent(r.heap.Persistents(), n)
	}
	return nil
}

func (r *Runner) record(stats *gc.CycleStats) {
	if stats != nil {
		r.result.Cycles = append(r.result.Cycles, stats)
	}
}

func (r *Runner) step(i int, st *Step) error {
	h := r.heap
	switch st.Action {
	case ActionCollect:
		cfg, err := st.config()
		if err != nil {
			return err
		}
		r.record(h.CollectGarbage(cfg))
	case ActionStart:
		cfg, err := st.config()
		if err != nil {
			return err
		}
		h.StartIncrementalMarking(cfg)
	case ActionSafepoint:
		count := max(st.Count, 1)
		for range count {
			r.record(h.Safepoint())
		}
	case ActionFinalize:
		r.record(h.FinalizeIncrementalGC())
	case ActionRequest:
		h.RequestGC()
	case ActionAlloc:
		if r.objects[st.Object] != nil {
			return fmt.Errorf("object %q is already allocated", st.Object)
		}
		spec := r.specs[st.Object]
		r.allocate(spec)
		return r.wire(spec)
	case ActionAssign:
		n, err := r.live(st.Object)
		if err != nil {
			return err
		}
		return r.assign(n, st.Field, st.Target, st.Key)
	case ActionClear:
		n, err := r.live(st.Object)
		if err != nil {
			return err
		}
		return r.clear(n, st.Field, st.Target, st.Key)
	case ActionRoot:
		return r.addRoot(st.Root, st.Object, st.Weak)
	case ActionUnroot:
		p, ok := r.roots[st.Root]
		if !ok {
			return fmt.Errorf("unknown root %q", st.Root)
		}
		p.Release()
		delete(r.roots, st.Root)
	case ActionExpect:
		r.expect(i, st)
	default:
		return errors.New("unknown action")
	}
	return nil
}

func (r *Runner) expect(i int, st *Step) {
	fail := func(format string, args ...any) {
		msg := fmt.Sprintf("step %d: ", i+1) + fmt.Sprintf(format, args...)
		log.Warningf("%s: %s", r.scenario.Name, msg)
		r.result.Failures = append(r.result.Failures, msg)
	}

	for _, name := range st.Alive {
		if r.Object(name) == nil {
			fail("%q is dead, want alive", name)
		}
	}
	for _, name := range st.Dead {
		if r.Object(name) != nil {
			fail("%q is alive, want dead", name)
		}
	}
	for _, name := range st.Cleared {
		n := r.Object(name)
		switch {
		case n == nil:
			fail("%q is dead, cannot check its weak member", name)
		case n.Weak.IsSet():
			fail("weak member of %q is set, want cleared", name)
		}
	}
	for _, name := range st.Finalized {
		if !slices.Contains(r.result.Finalized, name) {
			fail("%q was not prefinalized", name)
		}
	}
	if st.Live != nil {
		if got := r.heap.ObjectCount(); got != *st.Live {
			fail("%d live objects, want %d", got, *st.Live)
		}
	}
}
