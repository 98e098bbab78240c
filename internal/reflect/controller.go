package reflect

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aristath/sheetagent/internal/events"
	"github.com/aristath/sheetagent/internal/judge"
	"github.com/aristath/sheetagent/internal/tools"
)

// highConfidence is the grade assigned to fallback decisions: a reflection
// failure must read as "carry on" with conviction, not as doubt.
const highConfidence = 0.9

// StepOutcome summarizes one step for the evaluation prompt.
type StepOutcome struct {
	ID      string
	Action  string
	Params  map[string]any
	Output  string
	Err     string
	Success bool
}

// Input is everything the controller needs to judge one completed step.
type Input struct {
	Request   string        // the user's original request
	Completed []StepOutcome // steps finished so far, with pass/fail
	Current   StepOutcome   // the step that just completed
	Remaining []StepOutcome // ids and actions of steps not yet run
}

// Controller evaluates completed steps against the original request.
type Controller struct {
	judge     judge.Judge
	timeout   time.Duration
	threshold float64
	everyN    int
	bus       *events.EventBus
	logger    *log.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithTimeout sets the evaluation call budget. Defaults to 15s.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithConfidenceThreshold sets the level below which a continue decision is
// escalated to ask_user. Defaults to 0.5.
func WithConfidenceThreshold(t float64) Option {
	return func(c *Controller) { c.threshold = t }
}

// WithFrequency makes reflection run only every nth step. The final step is
// always reflected upon regardless.
func WithFrequency(n int) Option {
	return func(c *Controller) { c.everyN = n }
}

// WithEventBus publishes a ReflectionEvent per evaluation.
func WithEventBus(bus *events.EventBus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a reflection controller. j may be nil, in which case
// every evaluation uses the deterministic quick reflection.
func NewController(j judge.Judge, opts ...Option) *Controller {
	c := &Controller{
		judge:     j,
		timeout:   15 * time.Second,
		threshold: 0.5,
		everyN:    1,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShouldReflect reports whether the step at index (0-based) of total steps
// warrants reflection under the configured frequency. The final step always
// does.
func (c *Controller) ShouldReflect(index, total int) bool {
	if index == total-1 {
		return true
	}
	if c.everyN <= 1 {
		return true
	}
	return (index+1)%c.everyN == 0
}

// Evaluate judges the just-completed step. The judge call races a fixed
// deadline; whichever finishes first wins and the loser is abandoned. Any
// failure path - no judge, timeout, call error, unparsable output - resolves
// to a decision rather than an error, because reflection is never allowed to
// block the pipeline.
func (c *Controller) Evaluate(ctx context.Context, in Input) *ReflectionResult {
	result := c.evaluate(ctx, in)

	if result.Action == ActionContinue && result.Confidence < c.threshold {
		result.Action = ActionAskUser
		result.Question = c.synthesizeQuestion(in, result)
	}

	if c.bus != nil {
		c.bus.Publish(events.TopicStep, events.ReflectionEvent{
			ID:         in.Current.ID,
			Action:     string(result.Action),
			Confidence: result.Confidence,
			Analysis:   result.Analysis,
			Timestamp:  time.Now(),
		})
	}
	return result
}

func (c *Controller) evaluate(ctx context.Context, in Input) *ReflectionResult {
	if c.judge == nil {
		return QuickReflect(in)
	}

	type outcome struct {
		raw string
		err error
	}
	ch := make(chan outcome, 1)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	go func() {
		defer cancel()
		raw, err := c.judge.CompleteJSON(callCtx, c.buildPrompt(in))
		ch <- outcome{raw: raw, err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			c.logger.Printf("[reflect] evaluation of step %s failed: %v", in.Current.ID, out.err)
			return fallbackResult(fmt.Sprintf("reflection call failed (%v); continuing", out.err))
		}
		result, err := parseResult(out.raw)
		if err != nil {
			c.logger.Printf("[reflect] step %s: %v", in.Current.ID, err)
			return fallbackResult(fmt.Sprintf("reflection output unparsable (%v); continuing", err))
		}
		return result
	case <-timer.C:
		// The in-flight call is abandoned; cancel stops it eventually.
		c.logger.Printf("[reflect] evaluation of step %s timed out after %s", in.Current.ID, c.timeout)
		return fallbackResult(fmt.Sprintf("reflection timed out after %s; continuing", c.timeout))
	}
}

func fallbackResult(analysis string) *ReflectionResult {
	return &ReflectionResult{
		Action:     ActionContinue,
		Confidence: highConfidence,
		Analysis:   analysis,
	}
}

// QuickReflect is the deterministic no-judge fallback: a failed step or a
// write that produced nothing warrants a question, an exhausted plan ends
// the task, anything else continues.
func QuickReflect(in Input) *ReflectionResult {
	switch {
	case !in.Current.Success:
		return &ReflectionResult{
			Action:     ActionAskUser,
			Confidence: 0.7,
			Analysis:   fmt.Sprintf("step %s (%s) failed: %s", in.Current.ID, in.Current.Action, in.Current.Err),
			Question:   fmt.Sprintf("Step %q failed (%s). Should I continue with the remaining steps?", in.Current.ID, in.Current.Err),
		}
	case tools.WriteAction(in.Current.Action) && strings.TrimSpace(in.Current.Output) == "":
		return &ReflectionResult{
			Action:     ActionAskUser,
			Confidence: 0.6,
			Analysis:   fmt.Sprintf("write step %s (%s) reported success but produced no output", in.Current.ID, in.Current.Action),
			Question:   fmt.Sprintf("Step %q wrote nothing. Did it do what you expected?", in.Current.ID),
		}
	case len(in.Remaining) == 0:
		return &ReflectionResult{
			Action:     ActionSkipRemaining,
			Confidence: highConfidence,
			Analysis:   "no steps remain",
		}
	default:
		return &ReflectionResult{
			Action:     ActionContinue,
			Confidence: 0.8,
			Analysis:   "step completed, plan on track",
		}
	}
}

func (c *Controller) synthesizeQuestion(in Input, r *ReflectionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I'm not confident the plan is still on track after step %q (%s).", in.Current.ID, in.Current.Action)
	if len(r.Issues) > 0 {
		b.WriteString(" Concerns: ")
		b.WriteString(strings.Join(r.Issues, "; "))
		b.WriteString(".")
	}
	b.WriteString(" Should I continue?")
	return b.String()
}

func (c *Controller) buildPrompt(in Input) string {
	var b strings.Builder

	b.WriteString("You are reviewing an automated spreadsheet task for semantic drift.\n\n")
	fmt.Fprintf(&b, "Original request:\n%s\n\n", in.Request)

	b.WriteString("Completed steps:\n")
	if len(in.Completed) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, s := range in.Completed {
		mark := "ok"
		if !s.Success {
			mark = "FAILED"
		}
		fmt.Fprintf(&b, "  - %s (%s) [%s]\n", s.ID, s.Action, mark)
	}

	fmt.Fprintf(&b, "\nJust completed: %s (%s)\n", in.Current.ID, in.Current.Action)
	if len(in.Current.Params) > 0 {
		fmt.Fprintf(&b, "  parameters: %v\n", in.Current.Params)
	}
	if in.Current.Success {
		fmt.Fprintf(&b, "  result: success, output: %s\n", truncate(in.Current.Output, 500))
	} else {
		fmt.Fprintf(&b, "  result: failed, error: %s\n", in.Current.Err)
	}

	b.WriteString("\nRemaining steps:\n")
	if len(in.Remaining) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, s := range in.Remaining {
		fmt.Fprintf(&b, "  - %s (%s)\n", s.ID, s.Action)
	}

	b.WriteString(`
Judge whether the plan still serves the original request. Respond with JSON:
{
  "action": "continue" | "adjust_plan" | "ask_user" | "abort" | "skip_remaining",
  "confidence": 0.0-1.0,
  "analysis": "one or two sentences",
  "issues": ["..."],
  "opportunities": ["..."],
  "adjustments": [{"kind": "add_step"|"remove_step"|"modify_step", "step_id": "...", "action": "...", "params": {}, "depends_on": [], "reason": "..."}],
  "question": "only when action is ask_user"
}
Lists may hold at most five entries each.`)

	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
