package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/tracegc/gc"
)

// item is a minimal managed type for building test graphs.
type item struct {
	gc.Managed
	Name string
	Next gc.Member[item]
	Weak gc.WeakMember[item]
}

func (i *item) Trace(v *gc.Visitor) {
	v.Trace(&i.Next)
	v.TraceWeak(&i.Weak)
}

func newTestWorker(t *testing.T) *HeapWorker {
	t.Helper()
	w := NewHeapWorker(func() *gc.Heap {
		return gc.NewHeap(gc.Options{Name: t.Name(), CheckThreadAffinity: true, TrackRootLocations: true})
	}, 0)
	t.Cleanup(w.Stop)
	return w
}

// newTestServer serves the worker's inspector on a loopback port and
// returns its address. The server is stopped, and the worker with it, when
// the test ends.
func newTestServer(t *testing.T, w *HeapWorker) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srv := New(w, WithCallLogging())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

// newTestClient serves the inspector and returns a Connect client for it.
func newTestClient(t *testing.T, w *HeapWorker, opts ...connect.ClientOption) *InspectorClient {
	t.Helper()
	return NewInspectorClient(http.DefaultClient, "http://"+newTestServer(t, w), opts...)
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// chain builds root -> a -> (weak) b and one unreachable object, with root
// held by a persistent. Returns the addresses of root, a and b.
func chain(t *testing.T, w *HeapWorker) (root, a, b gc.Address) {
	t.Helper()
	v, err := w.Do(func(h *gc.Heap) any {
		r := gc.MakeGarbageCollected(h, &item{Name: "root"})
		x := gc.MakeGarbageCollected(h, &item{Name: "a"})
		y := gc.MakeGarbageCollected(h, &item{Name: "b"})
		gc.MakeGarbageCollected(h, &item{Name: "garbage"})
		gc.Assign(r, &r.Next, x)
		gc.Assign(x, &x.Weak, y)
		gc.NewPersistent(h.Persistents(), r)
		return [3]gc.Address{gc.AddressOf(r), gc.AddressOf(x), gc.AddressOf(y)}
	})
	if err != nil {
		t.Fatalf("build chain: %v", err)
	}
	addrs := v.([3]gc.Address)
	return addrs[0], addrs[1], addrs[2]
}
