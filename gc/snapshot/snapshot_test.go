package snapshot

import (
	"errors"
	"reflect"
	"testing"

	"github.com/chazu/tracegc/gc"
)

type item struct {
	gc.Managed
	Name string
	Next gc.Member[item]
	Weak gc.WeakMember[item]
	Tags gc.EphemeronMap[item, item]
}

func (i *item) Trace(v *gc.Visitor) {
	v.Trace(&i.Next)
	v.TraceWeak(&i.Weak)
	i.Tags.Trace(v)
}

func newItem(h *gc.Heap, name string) *item {
	return gc.MakeGarbageCollected(h, &item{Name: name})
}

func addr(i *item) uint64 { return uint64(i.HeapAddress()) }

func newHeap(t *testing.T) *gc.Heap {
	t.Helper()
	h := gc.NewHeap(gc.Options{Name: t.Name(), TrackRootLocations: true})
	t.Cleanup(h.Close)
	return h
}

func TestTakeRecordsEdgesAndRoots(t *testing.T) {
	h := newHeap(t)
	a := newItem(h, "A")
	b := newItem(h, "B")
	c := newItem(h, "C")
	gc.Assign(a, &a.Weak, b)
	gc.Assign(b, &b.Next, c)
	p := gc.NewPersistent(h.Persistents(), a)
	defer p.Clear()
	w := gc.NewWeakPersistent(h.WeakPersistents(), c)
	defer w.Clear()

	s := Take(h)
	if len(s.Objects) != 3 || s.HeapName != t.Name() || s.HeapID != h.ID().String() {
		t.Fatalf("snapshot header wrong: %d objects, %q %q", len(s.Objects), s.HeapName, s.HeapID)
	}
	oa, err := s.Object(addr(a))
	if err != nil {
		t.Fatalf("Object(A): %v", err)
	}
	if want := []Edge{{To: addr(b), Kind: EdgeWeak}}; !reflect.DeepEqual(oa.Edges, want) {
		t.Errorf("A edges = %v, want %v", oa.Edges, want)
	}
	ob, _ := s.Object(addr(b))
	if want := []Edge{{To: addr(c), Kind: EdgeStrong}}; !reflect.DeepEqual(ob.Edges, want) {
		t.Errorf("B edges = %v, want %v", ob.Edges, want)
	}
	if len(s.Roots) != 2 {
		t.Fatalf("roots = %v", s.Roots)
	}
	if r := s.Roots[0]; r.Name != "persistent" || r.Addr != addr(a) || r.Weak || r.Location == "" {
		t.Errorf("strong root = %+v", r)
	}
	if r := s.Roots[1]; r.Name != "weak-persistent" || r.Addr != addr(c) || !r.Weak {
		t.Errorf("weak root = %+v", r)
	}
	if _, err := s.Object(1); !errors.Is(err, ErrUnknownObject) {
		t.Errorf("Object(1) err = %v", err)
	}
}

func TestNamedRootsInSnapshot(t *testing.T) {
	h := newHeap(t)
	a := newItem(h, "A")
	var slot gc.Member[item]
	slot.Store(a)
	h.AddRoot("globals", rootFunc(func(v *gc.Visitor) { v.Trace(&slot) }))

	s := Take(h)
	if len(s.Roots) != 1 || s.Roots[0].Name != "globals" || s.Roots[0].Addr != addr(a) {
		t.Errorf("roots = %+v", s.Roots)
	}
}

type rootFunc func(v *gc.Visitor)

func (f rootFunc) Trace(v *gc.Visitor) { f(v) }

func TestRetainingPaths(t *testing.T) {
	h := newHeap(t)
	a := newItem(h, "A")
	b := newItem(h, "B")
	c := newItem(h, "C")
	d := newItem(h, "D")
	gc.Assign(a, &a.Next, b)
	gc.Assign(b, &b.Next, c)
	gc.Assign(a, &a.Weak, d)
	p := gc.NewPersistent(h.Persistents(), a)
	defer p.Clear()

	s := Take(h)
	paths, err := s.RetainingPaths(addr(c), 5)
	if err != nil {
		t.Fatalf("RetainingPaths: %v", err)
	}
	want := []uint64{addr(c), addr(b), addr(a)}
	if len(paths) != 1 || !reflect.DeepEqual(paths[0].Addrs, want) {
		t.Fatalf("paths = %+v, want %v", paths, want)
	}
	if len(paths[0].Roots) != 1 || paths[0].Roots[0] != "persistent" {
		t.Errorf("roots = %v", paths[0].Roots)
	}

	if paths, _ := s.RetainingPaths(addr(d), 5); len(paths) != 0 {
		t.Errorf("weakly held D has retaining paths %v", paths)
	}
	if paths, _ := s.RetainingPaths(addr(a), 5); len(paths) != 1 || len(paths[0].Addrs) != 1 {
		t.Errorf("root A paths = %v", paths)
	}
	if _, err := s.RetainingPaths(42, 1); !errors.Is(err, ErrUnknownObject) {
		t.Errorf("unknown address err = %v", err)
	}
}

// TestReachableMatchesCollector checks that the snapshot's own reachability
// agrees with what a collection keeps, ephemerons included.
func TestReachableMatchesCollector(t *testing.T) {
	h := newHeap(t)
	owner := newItem(h, "owner")
	k1, v1 := newItem(h, "k1"), newItem(h, "v1")
	k2, v2 := newItem(h, "k2"), newItem(h, "v2")
	loose := newItem(h, "loose")
	owner.Tags.Set(owner, k1, v1)
	owner.Tags.Set(owner, k2, v2)
	gc.Assign(v1, &v1.Next, k2) // k1 alive => v1 => k2 => v2
	gc.Assign(owner, &owner.Weak, loose)
	po := gc.NewPersistent(h.Persistents(), owner)
	pk := gc.NewPersistent(h.Persistents(), k1)
	defer po.Clear()
	defer pk.Clear()

	s := Take(h)
	reachable := s.Reachable()
	h.CollectGarbage(gc.CollectionConfig{})
	for _, o := range s.Objects {
		if got := h.IsAlive(gc.Address(o.Addr)); got != reachable[o.Addr] {
			t.Errorf("%s: alive=%v reachable=%v", o.Type, got, reachable[o.Addr])
		}
	}
	for _, it := range []*item{owner, k1, v1, k2, v2} {
		if !reachable[addr(it)] {
			t.Errorf("%s not reachable", it.Name)
		}
	}
	if reachable[addr(loose)] {
		t.Errorf("weakly held object reachable")
	}
}

func TestWireRoundTrip(t *testing.T) {
	h := newHeap(t)
	a := newItem(h, "A")
	gc.Assign(a, &a.Next, newItem(h, "B"))
	p := gc.NewPersistent(h.Persistents(), a)
	defer p.Clear()

	s := Take(h)
	data, err := Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got.Objects, s.Objects) || !reflect.DeepEqual(got.Roots, s.Roots) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, s)
	}
	if got.HeapID != s.HeapID || got.TakenAt != s.TakenAt {
		t.Errorf("header mismatch")
	}
	if _, err := Unmarshal([]byte{0xff}); err == nil {
		t.Errorf("garbage input decoded")
	}
}

func TestSummary(t *testing.T) {
	h := newHeap(t)
	owner := newItem(h, "owner")
	newItem(h, "x")
	owner.Tags.Set(owner, newItem(h, "k"), newItem(h, "v"))

	s := Take(h)
	sum := s.Summary()
	if len(sum) != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	total := 0
	for _, st := range sum {
		total += st.Count
		if st.Type == reflect.TypeFor[item]().String() && st.Count != 4 {
			t.Errorf("item count = %d", st.Count)
		}
	}
	if total != len(s.Objects) {
		t.Errorf("summary covers %d of %d objects", total, len(s.Objects))
	}
	if sum[0].Bytes < sum[1].Bytes {
		t.Errorf("summary not sorted by size")
	}
	if s.TotalBytes() != sum[0].Bytes+sum[1].Bytes {
		t.Errorf("TotalBytes = %d", s.TotalBytes())
	}
}
