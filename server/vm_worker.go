package server

import (
	"bytes"
	"fmt"
)

// vmRequest represents a unit of work to be executed on the worker goroutine.
type vmRequest struct {
	fn   func(out *bytes.Buffer) interface{}
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value interface{}
	err   error
}

// VMWorker serializes all program executions through a single goroutine.
// Every run writes its print output into the worker's buffer, which is
// reset before each request, so output of concurrent requests never mixes.
type VMWorker struct {
	out      bytes.Buffer
	requests chan vmRequest
	quit     chan struct{}
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
func NewVMWorker() *VMWorker {
	w := &VMWorker{
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			result := w.execute(req.fn)
			req.done <- result
		case <-w.quit:
			return
		}
	}
}

// execute runs a function with a fresh output buffer, recovering from panics.
func (w *VMWorker) execute(fn func(out *bytes.Buffer) interface{}) vmResult {
	var result vmResult
	w.out.Reset()
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(&w.out)
	}()
	return result
}

// Do submits a function for execution on the worker goroutine and blocks
// until it completes. The buffer passed to fn is only valid during the call.
func (w *VMWorker) Do(fn func(out *bytes.Buffer) interface{}) (interface{}, error) {
	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, errWorkerStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, errWorkerStopped
	}
}

// Stop shuts down the worker goroutine.
func (w *VMWorker) Stop() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
}
