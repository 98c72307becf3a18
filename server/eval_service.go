package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/tom-mohr/compiler/compiler"
	"github.com/tom-mohr/compiler/vm"
	"github.com/tom-mohr/compiler/vm/dist"
)

// EvalServiceName is the fully-qualified name of the evaluation service.
const EvalServiceName = "ivm.v1.EvalService"

// Procedure paths of the evaluation service.
const (
	RunProcedure     = "/" + EvalServiceName + "/Run"
	CompileProcedure = "/" + EvalServiceName + "/Compile"
	CheckProcedure   = "/" + EvalServiceName + "/Check"
)

// RunIDHeader carries the run identifier on Run responses.
const RunIDHeader = "Ivm-Run-Id"

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// RunRequest asks the server to compile source and call one function.
type RunRequest struct {
	Source   string  `json:"source" cbor:"1,keyasint"`
	Function string  `json:"function,omitempty" cbor:"2,keyasint,omitempty"`
	Args     []int64 `json:"args,omitempty" cbor:"3,keyasint,omitempty"`
	MaxSteps int     `json:"maxSteps,omitempty" cbor:"4,keyasint,omitempty"`
}

// RunResponse is the outcome of a run. Compile and runtime failures are
// reported with Success false rather than as RPC errors.
type RunResponse struct {
	RunID        string `json:"runId" cbor:"1,keyasint"`
	Success      bool   `json:"success" cbor:"2,keyasint"`
	Result       int64  `json:"result" cbor:"3,keyasint"`
	Output       string `json:"output,omitempty" cbor:"4,keyasint,omitempty"`
	Steps        int    `json:"steps" cbor:"5,keyasint"`
	ErrorMessage string `json:"errorMessage,omitempty" cbor:"6,keyasint,omitempty"`
	Line         int    `json:"line,omitempty" cbor:"7,keyasint,omitempty"`
}

// CompileRequest asks for the compiled form of source.
type CompileRequest struct {
	Source string `json:"source" cbor:"1,keyasint"`
}

// CompileResponse carries the binary in CBOR wire form and as a listing.
type CompileResponse struct {
	Success      bool           `json:"success" cbor:"1,keyasint"`
	Functions    map[string]int `json:"functions,omitempty" cbor:"2,keyasint,omitempty"`
	Instructions int            `json:"instructions" cbor:"3,keyasint"`
	Disassembly  string         `json:"disassembly,omitempty" cbor:"4,keyasint,omitempty"`
	Binary       []byte         `json:"binary,omitempty" cbor:"5,keyasint,omitempty"`
	BinaryHash   string         `json:"binaryHash,omitempty" cbor:"6,keyasint,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty" cbor:"7,keyasint,omitempty"`
	Line         int            `json:"line,omitempty" cbor:"8,keyasint,omitempty"`
}

// CheckRequest asks whether source compiles.
type CheckRequest struct {
	Source string `json:"source" cbor:"1,keyasint"`
}

// Diagnostic is one compile problem. Line is 1-based.
type Diagnostic struct {
	Line    int    `json:"line" cbor:"1,keyasint"`
	Message string `json:"message" cbor:"2,keyasint"`
}

// CheckResponse lists the diagnostics for a source text.
type CheckResponse struct {
	Valid       bool         `json:"valid" cbor:"1,keyasint"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty" cbor:"2,keyasint,omitempty"`
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// CompileFunc turns source into a binary.
type CompileFunc func(source string) (*vm.Binary, error)

// EvalService compiles and runs programs on behalf of remote clients.
type EvalService struct {
	worker   *VMWorker
	compile  CompileFunc
	maxSteps int
	log      commonlog.Logger
}

// NewEvalService creates an EvalService. maxSteps caps every run; zero
// leaves runs unbounded unless the request sets a limit.
func NewEvalService(worker *VMWorker, compile CompileFunc, maxSteps int) *EvalService {
	if compile == nil {
		compile = compiler.CompileString
	}
	return &EvalService{
		worker:   worker,
		compile:  compile,
		maxSteps: maxSteps,
		log:      commonlog.GetLogger("ivm.server"),
	}
}

// Register mounts the service's procedures on mux.
func (s *EvalService) Register(mux *http.ServeMux) {
	opts := codecOptions()
	mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, s.Run, opts...))
	mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, s.Compile, opts...))
	mux.Handle(CheckProcedure, connect.NewUnaryHandler(CheckProcedure, s.Check, opts...))
}

// runOutcome is what a worker job hands back to Run.
type runOutcome struct {
	result int64
	output string
	steps  int
	err    error
}

// Run compiles the source and calls the requested function, "main" by
// default.
func (s *EvalService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	msg := req.Msg
	if msg.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	if msg.MaxSteps < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("maxSteps must not be negative"))
	}
	function := msg.Function
	if function == "" {
		function = "main"
	}

	runID := uuid.NewString()
	res := connect.NewResponse(&RunResponse{RunID: runID})
	res.Header().Set(RunIDHeader, runID)

	bin, err := s.compile(msg.Source)
	if err != nil {
		res.Msg.ErrorMessage = "Compile error: " + err.Error()
		res.Msg.Line = errorLine(err)
		s.log.Infof("run %s: %v", runID, err)
		return res, nil
	}
	entry, err := bin.Entry(function)
	if err != nil {
		res.Msg.ErrorMessage = err.Error()
		return res, nil
	}

	limit := s.limit(msg.MaxSteps)
	value, err := s.worker.Do(func(out *bytes.Buffer) interface{} {
		machine := vm.New(vm.Options{Out: out, MaxSteps: limit})
		result, runErr := machine.Run(ctx, bin, entry, msg.Args)
		return runOutcome{result: result, output: out.String(), steps: machine.Steps(), err: runErr}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	outcome := value.(runOutcome)
	res.Msg.Output = outcome.output
	res.Msg.Steps = outcome.steps
	if outcome.err != nil {
		if errors.Is(outcome.err, context.Canceled) || errors.Is(outcome.err, context.DeadlineExceeded) {
			return nil, connect.NewError(connect.CodeDeadlineExceeded, outcome.err)
		}
		res.Msg.ErrorMessage = outcome.err.Error()
		s.log.Infof("run %s: %s failed after %d steps: %v", runID, function, outcome.steps, outcome.err)
		return res, nil
	}

	res.Msg.Success = true
	res.Msg.Result = outcome.result
	s.log.Debugf("run %s: %s%v = %d in %d steps", runID, function, msg.Args, outcome.result, outcome.steps)
	return res, nil
}

// Compile returns the binary for source.
func (s *EvalService) Compile(
	ctx context.Context,
	req *connect.Request[CompileRequest],
) (*connect.Response[CompileResponse], error) {
	if req.Msg.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	bin, err := s.compile(req.Msg.Source)
	if err != nil {
		return connect.NewResponse(&CompileResponse{
			ErrorMessage: err.Error(),
			Line:         errorLine(err),
		}), nil
	}

	data, err := dist.MarshalBinary(bin)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	hash, err := dist.HashBinary(bin)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(&CompileResponse{
		Success:      true,
		Functions:    bin.Functions,
		Instructions: len(bin.Code),
		Disassembly:  bin.Disassemble(),
		Binary:       data,
		BinaryHash:   hex.EncodeToString(hash[:]),
	}), nil
}

// Check validates source code without executing it.
func (s *EvalService) Check(
	ctx context.Context,
	req *connect.Request[CheckRequest],
) (*connect.Response[CheckResponse], error) {
	if req.Msg.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	diags := Diagnose(req.Msg.Source)
	return connect.NewResponse(&CheckResponse{
		Valid:       len(diags) == 0,
		Diagnostics: diags,
	}), nil
}

// limit combines the server cap with the requested step limit.
func (s *EvalService) limit(requested int) int {
	if s.maxSteps > 0 && (requested == 0 || requested > s.maxSteps) {
		return s.maxSteps
	}
	return requested
}

// Diagnose compiles source and converts a failure into diagnostics.
func Diagnose(source string) []Diagnostic {
	if _, err := compiler.CompileString(source); err != nil {
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			return []Diagnostic{{Line: ce.Line, Message: ce.Msg}}
		}
		return []Diagnostic{{Message: err.Error()}}
	}
	return nil
}

// errorLine returns the source line of a compile error, or 0.
func errorLine(err error) int {
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		return ce.Line
	}
	return 0
}
