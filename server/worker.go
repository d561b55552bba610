package server

import (
	"fmt"
)

// analysisRequest is a unit of work for the analysis goroutine.
type analysisRequest struct {
	fn   func() any
	done chan analysisResult
}

// analysisResult holds the return value of an analysis.
type analysisResult struct {
	value any
	err   error
}

// Worker runs document analyses one at a time on a dedicated goroutine, so
// a burst of edits never compiles the same document concurrently.
type Worker struct {
	requests chan analysisRequest
	quit     chan struct{}
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker() *Worker {
	w := &Worker{
		requests: make(chan analysisRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function, recovering from panics.
func (w *Worker) execute(fn func() any) analysisResult {
	var result analysisResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn()
	}()
	return result
}

// Do submits a function for execution on the worker goroutine and blocks
// until it completes. Returns the result and any error (including panics).
func (w *Worker) Do(fn func() any) (any, error) {
	req := analysisRequest{
		fn:   fn,
		done: make(chan analysisResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, fmt.Errorf("server: worker stopped")
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, fmt.Errorf("server: worker stopped")
	}
}

// Stop shuts down the worker goroutine.
func (w *Worker) Stop() {
	close(w.quit)
}
