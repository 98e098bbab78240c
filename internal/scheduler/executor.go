package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/sheetagent/internal/events"
	"github.com/aristath/sheetagent/internal/tools"
)

// Directive is the feedback a completion hook returns to the executor.
type Directive int

const (
	// DirectiveContinue keeps the run going.
	DirectiveContinue Directive = iota
	// DirectiveSkipDependents marks the step's transitive dependents skipped.
	DirectiveSkipDependents
	// DirectiveAbort stops admitting new steps; in-flight steps finish.
	DirectiveAbort
)

// CompletionHook runs after every step settles (completed or failed). The
// verification/decision loop lives behind this hook; its directive feeds
// back into scheduling.
type CompletionHook func(ctx context.Context, step *Step, result tools.Result) Directive

// Options configures an execution.
type Options struct {
	MaxConcurrency    int  // Steps allowed to run simultaneously (default 4)
	ContinueOnFailure bool // If false, a failure skips its downstream closure
	OnStepComplete    CompletionHook
}

// Summary is the outcome of one execution.
type Summary struct {
	Success       bool
	TotalSteps    int
	SuccessCount  int
	FailedCount   int
	SkippedCount  int
	MaxConcurrent int
	Aborted       bool
}

// Executor runs a DAG's steps with bounded concurrency, resolving each
// step's action through the tool registry and publishing lifecycle events.
type Executor struct {
	dag      *DAG
	registry *tools.Registry
	bus      *events.EventBus
	opts     Options

	running int64 // currently running steps
	peak    int64 // max observed running steps
	aborted atomic.Bool
}

// NewExecutor creates an executor over a built graph.
func NewExecutor(dag *DAG, registry *tools.Registry, bus *events.EventBus, opts Options) *Executor {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	return &Executor{dag: dag, registry: registry, bus: bus, opts: opts}
}

// Execute runs all steps to completion honoring dependency order, the
// concurrency bound and the failure policy. A cyclic graph aborts before any
// step starts; every other error is absorbed into step statuses.
func (e *Executor) Execute(ctx context.Context) (*Summary, error) {
	if cycle := e.dag.DetectCycle(); cycle != nil {
		return nil, fmt.Errorf("dependency cycle: %v", cycle)
	}

	total, _, _, _, _, _ := e.dag.Counts()
	e.publish(events.TopicBatch, events.BatchStartedEvent{TotalSteps: total, Timestamp: time.Now()})

	for {
		if err := ctx.Err(); err != nil {
			e.skipRemaining("context cancelled")
			return e.summary(), err
		}
		if e.aborted.Load() {
			e.skipRemaining("run aborted")
			break
		}

		ready := e.dag.Ready(e.opts.ContinueOnFailure)
		_, _, running, _, _, pending := e.dag.Counts()
		if len(ready) == 0 && running == 0 {
			if pending > 0 {
				// Blocked forever: dependents of failures under the strict
				// policy. Their closure is already skipped by executeStep,
				// so pending here means an upstream skip raced us; resolve
				// them as skipped.
				e.skipRemaining("dependency not satisfied")
			}
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.MaxConcurrency)

		for _, step := range ready {
			s := step
			g.Go(func() error {
				e.executeStep(gctx, s)
				return nil
			})
		}

		if err := g.Wait(); err != nil && ctx.Err() != nil {
			e.skipRemaining("context cancelled")
			return e.summary(), ctx.Err()
		}
	}

	sum := e.summary()
	e.publish(events.TopicBatch, events.BatchCompletedEvent{
		Success:      sum.Success,
		TotalSteps:   sum.TotalSteps,
		SuccessCount: sum.SuccessCount,
		FailedCount:  sum.FailedCount,
		SkippedCount: sum.SkippedCount,
		Timestamp:    time.Now(),
	})
	return sum, nil
}

// executeStep runs a single step through its tool and applies the completion
// hook's directive. Tool errors are recorded, never propagated.
func (e *Executor) executeStep(ctx context.Context, step *Step) {
	if e.aborted.Load() {
		_ = e.dag.SetStatus(step.ID, StepSkipped, "", nil)
		e.publish(events.TopicStep, events.StepSkippedEvent{ID: step.ID, Reason: "run aborted", Timestamp: time.Now()})
		e.progress()
		return
	}

	if err := e.dag.SetStatus(step.ID, StepRunning, "", nil); err != nil {
		log.Printf("ERROR: failed to mark step %q running: %v", step.ID, err)
		return
	}

	n := atomic.AddInt64(&e.running, 1)
	for {
		peak := atomic.LoadInt64(&e.peak)
		if n <= peak || atomic.CompareAndSwapInt64(&e.peak, peak, n) {
			break
		}
	}
	defer atomic.AddInt64(&e.running, -1)

	e.publish(events.TopicStep, events.StepStartedEvent{ID: step.ID, Action: step.Action, Timestamp: time.Now()})
	e.progress()

	started := time.Now()
	result, err := e.invoke(ctx, step)
	duration := time.Since(started)

	if err == nil && !result.Success {
		err = result.Err
		if err == nil {
			err = fmt.Errorf("tool %q reported failure", step.Action)
		}
	}

	if err != nil {
		_ = e.dag.SetStatus(step.ID, StepFailed, "", err)
		e.publish(events.TopicStep, events.StepFailedEvent{ID: step.ID, Err: err, Duration: duration, Timestamp: time.Now()})

		if !e.opts.ContinueOnFailure {
			e.skipClosure(step.ID, fmt.Sprintf("dependency %q failed", step.ID))
		}
	} else {
		_ = e.dag.SetStatus(step.ID, StepCompleted, result.Output, nil)
		e.publish(events.TopicStep, events.StepCompletedEvent{ID: step.ID, Output: result.Output, Duration: duration, Timestamp: time.Now()})
	}
	e.progress()

	if e.opts.OnStepComplete != nil {
		settled, _ := e.dag.Get(step.ID)
		switch e.opts.OnStepComplete(ctx, settled, result) {
		case DirectiveAbort:
			e.aborted.Store(true)
		case DirectiveSkipDependents:
			e.skipClosure(step.ID, fmt.Sprintf("dependents of %q skipped by decision", step.ID))
		}
	}
}

// invoke resolves and calls the step's tool, converting panics into errors
// so a misbehaving tool cannot take down the scheduler loop.
func (e *Executor) invoke(ctx context.Context, step *Step) (result tools.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %q panicked: %v", step.Action, r)
		}
	}()

	tool, err := e.registry.Resolve(step.Action)
	if err != nil {
		return tools.Result{}, err
	}
	return tool.Invoke(ctx, step.Params)
}

// skipClosure marks the transitive dependents of id skipped, without invocation.
func (e *Executor) skipClosure(id, reason string) {
	for _, depID := range e.dag.DownstreamClosure(id) {
		step, ok := e.dag.Get(depID)
		if !ok || step.Status != StepPending && step.Status != StepReady {
			continue
		}
		_ = e.dag.SetStatus(depID, StepSkipped, "", nil)
		e.publish(events.TopicStep, events.StepSkippedEvent{ID: depID, Reason: reason, Timestamp: time.Now()})
	}
	e.progress()
}

// skipRemaining marks every not-yet-started step skipped.
func (e *Executor) skipRemaining(reason string) {
	for _, step := range e.dag.Steps() {
		if step.Status == StepPending || step.Status == StepReady {
			_ = e.dag.SetStatus(step.ID, StepSkipped, "", nil)
			e.publish(events.TopicStep, events.StepSkippedEvent{ID: step.ID, Reason: reason, Timestamp: time.Now()})
		}
	}
	e.progress()
}

func (e *Executor) summary() *Summary {
	total, completed, _, failed, skipped, _ := e.dag.Counts()
	return &Summary{
		Success:       failed == 0 && !e.aborted.Load(),
		TotalSteps:    total,
		SuccessCount:  completed,
		FailedCount:   failed,
		SkippedCount:  skipped,
		MaxConcurrent: int(atomic.LoadInt64(&e.peak)),
		Aborted:       e.aborted.Load(),
	}
}

func (e *Executor) progress() {
	total, completed, running, failed, skipped, pending := e.dag.Counts()
	e.publish(events.TopicBatch, events.ProgressEvent{
		Total:     total,
		Completed: completed,
		Running:   running,
		Failed:    failed,
		Skipped:   skipped,
		Pending:   pending,
		Timestamp: time.Now(),
	})
}

func (e *Executor) publish(topic string, event events.Event) {
	if e.bus != nil {
		e.bus.Publish(topic, event)
	}
}

// Abort requests a cooperative stop: no new steps are admitted, in-flight
// steps finish. Used by callers outside the completion hook (e.g. the
// reflection controller deciding mid-run).
func (e *Executor) Abort() {
	e.aborted.Store(true)
}
