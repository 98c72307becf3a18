package server

import (
	"context"
	"net/http/httptest"
	"os"
	"testing"

	"connectrpc.com/connect"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// One worker and one HTTP test server are shared by every test through
// TestMain. Services are cheap, so tests that need other limits build
// their own EvalService on the shared worker.
// ---------------------------------------------------------------------------

var (
	testWorker *VMWorker
	testServer *Server
	testHTTP   *httptest.Server
)

// TestMain starts the shared worker and HTTP server for all server tests.
func TestMain(m *testing.M) {
	testWorker = NewVMWorker()
	testServer = New(WithMaxSteps(100_000))
	testHTTP = httptest.NewServer(testServer.Handler())

	code := m.Run()

	testHTTP.Close()
	testServer.Stop(context.Background())
	testWorker.Stop()
	os.Exit(code)
}

// newTestEvalService creates an EvalService backed by the shared worker.
func newTestEvalService() *EvalService {
	return NewEvalService(testWorker, nil, 100_000)
}

// ---------------------------------------------------------------------------
// Request builder helpers
// ---------------------------------------------------------------------------

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}

const squareSource = `// square 7 = 49
square(x)
 return = *(x, x)

main()
 print(square(3))
 return = square(4)
`
