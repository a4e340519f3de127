package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
)

// shutdownTimeout bounds how long Stop waits for in-flight calls.
const shutdownTimeout = 5 * time.Second

// Server exposes a heap's inspector service. Connect, gRPC and gRPC-Web
// clients are served on the same port; HTTP/2 is accepted without TLS so
// that plain gRPC clients can connect.
type Server struct {
	worker *HeapWorker
	mux    *http.ServeMux
	http   *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	handlerOptions []connect.HandlerOption
	logCalls       bool
}

// WithHandlerOptions passes extra options to the inspector's Connect
// handlers.
func WithHandlerOptions(opts ...connect.HandlerOption) ServerOption {
	return func(c *serverConfig) { c.handlerOptions = append(c.handlerOptions, opts...) }
}

// WithCallLogging logs every inspector call with its protocol, code and
// duration.
func WithCallLogging() ServerOption {
	return func(c *serverConfig) { c.logCalls = true }
}

// New creates a Server for the heap owned by worker. The server takes
// ownership of the worker and stops it in Stop.
func New(worker *HeapWorker, opts ...ServerOption) *Server {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := cfg.handlerOptions
	if cfg.logCalls {
		handlerOpts = append(handlerOpts, connect.WithInterceptors(logCalls()))
	}

	s := &Server{
		worker: worker,
		mux:    http.NewServeMux(),
	}
	path, handler := NewInspectorHandler(NewInspector(worker), handlerOpts...)
	s.mux.Handle(path, handler)

	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	s.http = &http.Server{
		Handler:           s.mux,
		Protocols:         protocols,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func logCalls() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			code := "ok"
			if err != nil {
				code = connect.CodeOf(err).String()
			}
			log.Infof("%s %s %s (%s)", req.Peer().Protocol, req.Spec().Procedure, code, time.Since(start))
			return resp, err
		}
	}
}

// Serve accepts connections on lis until Stop is called. It returns
// http.ErrServerClosed after Stop.
func (s *Server) Serve(lis net.Listener) error {
	log.Noticef("inspector listening on %s", lis.Addr())
	return s.http.Serve(lis)
}

// ListenAndServe listens on the TCP address addr, "host:port" or ":port",
// and serves on it.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Stop waits for in-flight calls, then closes the heap.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warningf("inspector shutdown: %s", err)
		s.http.Close()
	}
	s.worker.Stop()
}
