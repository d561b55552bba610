// Package pipeline runs per-class work on a bounded worker pool and drives
// the disassemble and deoptimize runs built on it.
package pipeline

import (
	"context"
	"fmt"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

var log = commonlog.GetLogger("dexasm.pipeline")

// Unit is one independent piece of work, usually one class. Run returns
// false for an expected, already reported failure. A returned error or a
// panic is fatal to the whole run.
type Unit struct {
	Name string
	Run  func(ctx context.Context) (bool, error)
}

// Result is the outcome of one unit.
type Result struct {
	Name string
	Done bool // the unit ran to completion
	OK   bool
}

// Report collects the results of a run in unit order.
type Report struct {
	Results []Result
}

// OK reports whether every unit ran and succeeded.
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if !res.Done || !res.OK {
			return false
		}
	}
	return true
}

// Failed returns the names of the units that did not succeed.
func (r *Report) Failed() []string {
	var names []string
	for _, res := range r.Results {
		if !res.Done || !res.OK {
			names = append(names, res.Name)
		}
	}
	return names
}

// Succeeded returns the number of units that succeeded.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Done && res.OK {
			n++
		}
	}
	return n
}

// RunAll runs units on at most jobs concurrent workers. Units returning
// false mark the report failed and the run continues. The first fatal error
// cancels the run: no further units start, and RunAll returns once every
// started unit has finished.
func RunAll(ctx context.Context, units []Unit, jobs int) (*Report, error) {
	if jobs < 1 {
		jobs = 1
	}
	report := &Report{Results: make([]Result, len(units))}
	for i, u := range units {
		report.Results[i].Name = u.Name
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, u := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ok, err := execute(gctx, u)
			if err != nil {
				return fmt.Errorf("pipeline: %s: %w", u.Name, err)
			}
			report.Results[i] = Result{Name: u.Name, Done: true, OK: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	log.Infof("%d of %d units succeeded", report.Succeeded(), len(units))
	return report, nil
}

// execute runs a unit, turning a panic into an error.
func execute(ctx context.Context, u Unit) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("panic: %v", r)
		}
	}()
	return u.Run(ctx)
}
