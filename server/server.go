package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/tliron/commonlog"
)

var errWorkerStopped = errors.New("vm worker stopped")

// Server exposes the evaluation service over HTTP. Connect (JSON or CBOR)
// and gRPC clients are served on the same port.
type Server struct {
	worker *VMWorker
	eval   *EvalService
	mux    *http.ServeMux
	log    commonlog.Logger

	mu   sync.Mutex
	http *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	compile  CompileFunc
	maxSteps int
}

// WithCompileFunc sets the function used to compile request sources, for
// example a cache lookup. Defaults to compiler.CompileString.
func WithCompileFunc(fn CompileFunc) ServerOption {
	return func(c *serverConfig) { c.compile = fn }
}

// WithMaxSteps caps the number of instructions a single run may execute.
func WithMaxSteps(n int) ServerOption {
	return func(c *serverConfig) { c.maxSteps = n }
}

// New creates a Server.
func New(opts ...ServerOption) *Server {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewVMWorker()
	s := &Server{
		worker: worker,
		eval:   NewEvalService(worker, cfg.compile, cfg.maxSteps),
		mux:    http.NewServeMux(),
		log:    commonlog.GetLogger("ivm.server"),
	}
	s.eval.Register(s.mux)
	return s
}

// Handler returns the HTTP handler serving all procedures.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address. Cleartext
// HTTP/2 is enabled so gRPC clients work without TLS.
func (s *Server) ListenAndServe(addr string) error {
	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	srv := &http.Server{
		Addr:      addr,
		Handler:   s.mux,
		Protocols: protocols,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	fmt.Printf("ivm server listening on %s\n", addr)
	fmt.Printf("  Connect (HTTP/JSON): http://%s%s\n", addr, RunProcedure)
	fmt.Printf("  Connect (HTTP/CBOR): Content-Type application/cbor\n")
	fmt.Printf("  gRPC:                grpc://%s\n", addr)
	s.log.Infof("listening on %s", addr)

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts down the HTTP server and the worker.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.worker.Stop()
	return err
}
