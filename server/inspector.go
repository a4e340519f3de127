package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/chazu/tracegc/gc"
	"github.com/chazu/tracegc/gc/snapshot"
)

const (
	// InspectorServiceName is the fully-qualified name of the inspector.
	InspectorServiceName = "tracegc.v1.Inspector"

	InspectorStatsProcedure          = "/tracegc.v1.Inspector/Stats"
	InspectorCollectProcedure        = "/tracegc.v1.Inspector/Collect"
	InspectorSnapshotProcedure       = "/tracegc.v1.Inspector/Snapshot"
	InspectorRetainingPathsProcedure = "/tracegc.v1.Inspector/RetainingPaths"

	defaultMaxPaths = 8
)

// InspectorHandler is the server API of the heap inspector service.
type InspectorHandler interface {
	Stats(context.Context, *connect.Request[StatsRequest]) (*connect.Response[StatsResponse], error)
	Collect(context.Context, *connect.Request[CollectRequest]) (*connect.Response[CollectResponse], error)
	Snapshot(context.Context, *connect.Request[SnapshotRequest]) (*connect.Response[SnapshotResponse], error)
	RetainingPaths(context.Context, *connect.Request[PathsRequest]) (*connect.Response[PathsResponse], error)
}

// NewInspectorHandler builds an HTTP handler serving svc over the Connect,
// gRPC and gRPC-Web protocols with the CBOR codec. It returns the path to
// mount the handler on.
func NewInspectorHandler(svc InspectorHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(cborCodec{})}, opts...)
	stats := connect.NewUnaryHandler(InspectorStatsProcedure, svc.Stats, opts...)
	collect := connect.NewUnaryHandler(InspectorCollectProcedure, svc.Collect, opts...)
	snap := connect.NewUnaryHandler(InspectorSnapshotProcedure, svc.Snapshot, opts...)
	paths := connect.NewUnaryHandler(InspectorRetainingPathsProcedure, svc.RetainingPaths, opts...)
	return "/" + InspectorServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case InspectorStatsProcedure:
			stats.ServeHTTP(w, r)
		case InspectorCollectProcedure:
			collect.ServeHTTP(w, r)
		case InspectorSnapshotProcedure:
			snap.ServeHTTP(w, r)
		case InspectorRetainingPathsProcedure:
			paths.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// Inspector implements InspectorHandler against a heap owned by a
// HeapWorker.
type Inspector struct {
	worker *HeapWorker
}

// NewInspector creates an Inspector for the worker's heap.
func NewInspector(worker *HeapWorker) *Inspector {
	return &Inspector{worker: worker}
}

// do runs fn on the mutator goroutine and maps worker failures to Connect
// error codes. Errors returned by fn are passed through.
func do[T any](ctx context.Context, w *HeapWorker, fn func(*gc.Heap) (*T, error)) (*connect.Response[T], error) {
	var callErr error
	v, err := w.DoContext(ctx, func(h *gc.Heap) any {
		out, err := fn(h)
		callErr = err
		return out
	})
	switch {
	case errors.Is(err, context.Canceled):
		return nil, connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return nil, connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, ErrWorkerStopped):
		return nil, connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, ErrHeapBroken):
		return nil, connect.NewError(connect.CodeFailedPrecondition, err)
	case err != nil:
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("heap request failed: %w", err))
	case callErr != nil:
		return nil, callErr
	}
	return connect.NewResponse(v.(*T)), nil
}

func (i *Inspector) Stats(ctx context.Context, _ *connect.Request[StatsRequest]) (*connect.Response[StatsResponse], error) {
	return do(ctx, i.worker, func(h *gc.Heap) (*StatsResponse, error) {
		return &StatsResponse{
			HeapID:          h.ID().String(),
			HeapName:        h.Options().Name,
			Objects:         h.ObjectCount(),
			AllocatedBytes:  h.AllocatedBytes(),
			Persistents:     h.Persistents().NodesInUse(),
			WeakPersistents: h.WeakPersistents().NodesInUse(),
			Marking:         h.IsMarking(),
			GCRequested:     h.GCRequested(),
			Cycles:          h.Cycles(),
			LastCycle:       cycleInfo(h.LastStats()),
		}, nil
	})
}

func (i *Inspector) Collect(ctx context.Context, req *connect.Request[CollectRequest]) (*connect.Response[CollectResponse], error) {
	msg := req.Msg
	return do(ctx, i.worker, func(h *gc.Heap) (*CollectResponse, error) {
		cfg := h.DefaultConfig(msg.Reason)
		if msg.Reason == "" {
			cfg.Reason = "inspector"
		}
		if msg.Collection != "" {
			c, err := gc.ParseCollectionType(msg.Collection)
			if err != nil {
				return nil, connect.NewError(connect.CodeInvalidArgument, err)
			}
			cfg.Collection = c
		}
		if msg.Marking != "" {
			m, err := gc.ParseMarkingType(msg.Marking)
			if err != nil {
				return nil, connect.NewError(connect.CodeInvalidArgument, err)
			}
			cfg.Marking = m
		}
		stats := h.CollectGarbage(cfg)
		log.Infof("collection via inspector: %s", stats)
		return &CollectResponse{Cycle: cycleInfo(stats)}, nil
	})
}

func (i *Inspector) Snapshot(ctx context.Context, req *connect.Request[SnapshotRequest]) (*connect.Response[SnapshotResponse], error) {
	summaryOnly := req.Msg.SummaryOnly
	return do(ctx, i.worker, func(h *gc.Heap) (*SnapshotResponse, error) {
		snap := snapshot.Take(h)
		resp := &SnapshotResponse{
			Objects:    len(snap.Objects),
			TotalBytes: snap.TotalBytes(),
			Summary:    snap.Summary(),
		}
		if !summaryOnly {
			data, err := snapshot.Marshal(snap)
			if err != nil {
				return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("encode snapshot: %w", err))
			}
			resp.Snapshot = data
		}
		return resp, nil
	})
}

func (i *Inspector) RetainingPaths(ctx context.Context, req *connect.Request[PathsRequest]) (*connect.Response[PathsResponse], error) {
	addr := req.Msg.Addr
	maxPaths := req.Msg.MaxPaths
	if maxPaths <= 0 {
		maxPaths = defaultMaxPaths
	}
	return do(ctx, i.worker, func(h *gc.Heap) (*PathsResponse, error) {
		paths, err := snapshot.Take(h).RetainingPaths(addr, maxPaths)
		if errors.Is(err, snapshot.ErrUnknownObject) {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("no object at %#x", addr))
		} else if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		return &PathsResponse{Paths: paths}, nil
	})
}

// InspectorClient calls the inspector service over the Connect protocol.
// Pass connect.WithGRPCWeb() to use gRPC-Web, or connect.WithGRPC() with an
// HTTP/2 client to use gRPC.
type InspectorClient struct {
	stats   *connect.Client[StatsRequest, StatsResponse]
	collect *connect.Client[CollectRequest, CollectResponse]
	snap    *connect.Client[SnapshotRequest, SnapshotResponse]
	paths   *connect.Client[PathsRequest, PathsResponse]
}

// NewInspectorClient creates a client for the inspector at baseURL, for
// example http://localhost:7420.
func NewInspectorClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *InspectorClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(cborCodec{})}, opts...)
	return &InspectorClient{
		stats:   connect.NewClient[StatsRequest, StatsResponse](httpClient, baseURL+InspectorStatsProcedure, opts...),
		collect: connect.NewClient[CollectRequest, CollectResponse](httpClient, baseURL+InspectorCollectProcedure, opts...),
		snap:    connect.NewClient[SnapshotRequest, SnapshotResponse](httpClient, baseURL+InspectorSnapshotProcedure, opts...),
		paths:   connect.NewClient[PathsRequest, PathsResponse](httpClient, baseURL+InspectorRetainingPathsProcedure, opts...),
	}
}

func (c *InspectorClient) Stats(ctx context.Context, req *connect.Request[StatsRequest]) (*connect.Response[StatsResponse], error) {
	return c.stats.CallUnary(ctx, req)
}

func (c *InspectorClient) Collect(ctx context.Context, req *connect.Request[CollectRequest]) (*connect.Response[CollectResponse], error) {
	return c.collect.CallUnary(ctx, req)
}

func (c *InspectorClient) Snapshot(ctx context.Context, req *connect.Request[SnapshotRequest]) (*connect.Response[SnapshotResponse], error) {
	return c.snap.CallUnary(ctx, req)
}

func (c *InspectorClient) RetainingPaths(ctx context.Context, req *connect.Request[PathsRequest]) (*connect.Response[PathsResponse], error) {
	return c.paths.CallUnary(ctx, req)
}
