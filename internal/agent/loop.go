// Package agent composes the scheduler, verification engine, signal layer
// and reflection controller into one adaptive execution loop: execute a step,
// verify its effect, decide what to do about problems, reflect on whether the
// plan still makes sense, feed the outcome back into scheduling.
package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/sheetagent/internal/config"
	"github.com/aristath/sheetagent/internal/events"
	"github.com/aristath/sheetagent/internal/judge"
	"github.com/aristath/sheetagent/internal/persistence"
	"github.com/aristath/sheetagent/internal/plan"
	"github.com/aristath/sheetagent/internal/reflect"
	"github.com/aristath/sheetagent/internal/scheduler"
	"github.com/aristath/sheetagent/internal/sheet"
	"github.com/aristath/sheetagent/internal/signal"
	"github.com/aristath/sheetagent/internal/tools"
	"github.com/aristath/sheetagent/internal/verify"
)

// Loop runs one plan through the full execute-verify-decide-reflect cycle.
type Loop struct {
	cfg      *config.AgentConfig
	registry *tools.Registry
	bus      *events.EventBus

	engine    *verify.Engine
	signals   *signal.Manager
	reflector *reflect.Controller
	store     persistence.Store
	prompter  *Prompter
	judge     judge.Judge
	logger    *log.Logger

	runID     string
	request   string
	completed atomic.Int64
}

// Option customizes a Loop.
type Option func(*Loop)

// WithStore enables audit persistence. Write failures are logged, never fatal.
func WithStore(s persistence.Store) Option {
	return func(l *Loop) { l.store = s }
}

// WithPrompter enables mid-run user confirmation. The caller owns the
// prompter's lifecycle (Start/Stop).
func WithPrompter(p *Prompter) Option {
	return func(l *Loop) { l.prompter = p }
}

// WithJudge installs an external judgment call for both the signal decision
// layer and the reflection controller.
func WithJudge(j judge.Judge) Option {
	return func(l *Loop) { l.judge = j }
}

// WithLogger replaces the default logger.
func WithLogger(lg *log.Logger) Option {
	return func(l *Loop) { l.logger = lg }
}

// New wires a loop from configuration. sampler reads the document being
// worked on; registry resolves step actions.
func New(cfg *config.AgentConfig, sampler sheet.Sampler, registry *tools.Registry, bus *events.EventBus, opts ...Option) *Loop {
	l := &Loop{
		cfg:      cfg,
		registry: registry,
		bus:      bus,
		logger:   log.Default(),
		runID:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.engine = verify.NewEngine(sampler,
		verify.WithStrategy(verify.Strategy{
			HeadRows:   cfg.Verification.HeadRows,
			TailRows:   cfg.Verification.TailRows,
			RandomRows: cfg.Verification.RandomRows,
		}),
		verify.WithRulesConfig(rulesConfig(cfg.Verification)),
		verify.WithEventBus(bus),
		verify.WithLogger(l.logger),
	)

	signalOpts := []signal.ManagerOption{
		signal.WithPendingThreshold(cfg.Decision.PendingThreshold),
		signal.WithEventBus(bus),
		signal.WithLogger(l.logger),
	}
	if l.judge != nil {
		signalOpts = append(signalOpts, signal.WithAdviser(
			NewJudgeAdviser(l.judge),
			time.Duration(cfg.Decision.AdviseTimeoutSecs)*time.Second,
		))
	}
	l.signals = signal.NewManager(signalOpts...)
	for _, rule := range cfg.Decision.IgnoredRules {
		l.signals.IgnoreRule(rule)
	}

	l.reflector = reflect.NewController(l.judge,
		reflect.WithTimeout(time.Duration(cfg.Reflection.TimeoutSecs)*time.Second),
		reflect.WithConfidenceThreshold(cfg.Reflection.ConfidenceThreshold),
		reflect.WithFrequency(cfg.Reflection.Frequency),
		reflect.WithEventBus(bus),
		reflect.WithLogger(l.logger),
	)

	return l
}

func rulesConfig(v config.VerificationConfig) verify.RulesConfig {
	rc := verify.DefaultRulesConfig()
	if v.LookupTolerance > 0 {
		rc.LookupTolerance = v.LookupTolerance
	}
	if v.IQRMultiplier > 0 {
		rc.IQRMultiplier = v.IQRMultiplier
	}
	if v.OutlierMinFraction > 0 {
		rc.OutlierMinFraction = v.OutlierMinFraction
	}
	if v.MinNumericSamples > 0 {
		rc.MinNumericSamples = v.MinNumericSamples
	}
	if len(v.RequiredRoles) > 0 {
		roles := make([]verify.Role, 0, len(v.RequiredRoles))
		for _, r := range v.RequiredRoles {
			roles = append(roles, verify.Role(r))
		}
		rc.RequiredRoles = roles
	}
	return rc
}

// Signals exposes the signal manager, e.g. for resolving pending signals
// after the run.
func (l *Loop) Signals() *signal.Manager { return l.signals }

// RunID identifies this loop's audit records.
func (l *Loop) RunID() string { return l.runID }

// Run executes the plan to completion. Only a structurally invalid plan
// (duplicate ids, unknown or cyclic dependencies) fails before work begins;
// everything else is absorbed into the summary.
func (l *Loop) Run(ctx context.Context, p *plan.Plan) (*scheduler.Summary, error) {
	dag, err := scheduler.BuildGraph(p.SchedulerSteps())
	if err != nil {
		return nil, fmt.Errorf("building step graph: %w", err)
	}

	l.request = p.Request
	l.signals.SetTaskContext(p.Request)
	l.completed.Store(0)

	executor := scheduler.NewExecutor(dag, l.registry, l.bus, scheduler.Options{
		MaxConcurrency:    l.cfg.Scheduler.MaxConcurrency,
		ContinueOnFailure: l.cfg.Scheduler.ContinueOnFailure,
		OnStepComplete:    l.afterStep(dag),
	})

	summary, err := executor.Execute(ctx)
	if summary != nil {
		l.auditSkipped(ctx, dag)
	}
	return summary, err
}

// afterStep is the completion hook: audit, verify, decide, reflect. The
// strongest directive from any stage wins.
func (l *Loop) afterStep(dag *scheduler.DAG) scheduler.CompletionHook {
	return func(ctx context.Context, step *scheduler.Step, result tools.Result) scheduler.Directive {
		l.auditStep(ctx, step)

		directive := scheduler.DirectiveContinue
		if step.Status == scheduler.StepCompleted {
			if d := l.verifyStep(ctx, step, result); d > directive {
				directive = d
			}
		}
		if directive == scheduler.DirectiveAbort {
			return directive
		}

		index := int(l.completed.Add(1)) - 1
		total, _, _, _, _, _ := dag.Counts()
		if l.reflector.ShouldReflect(index, total) {
			if d := l.reflectStep(ctx, dag, step, result); d > directive {
				directive = d
			}
		}
		return directive
	}
}

// verifyStep samples the sheet the step touched and routes every finding
// through the signal layer.
func (l *Loop) verifyStep(ctx context.Context, step *scheduler.Step, result tools.Result) scheduler.Directive {
	sheetName, _ := step.Params["sheet"].(string)
	if sheetName == "" {
		return scheduler.DirectiveContinue
	}

	issues, err := l.engine.Verify(ctx, sheetName)
	if err != nil {
		l.logger.Printf("[agent] verification of %q failed: %v", sheetName, err)
		return scheduler.DirectiveContinue
	}

	directive := scheduler.DirectiveContinue
	for _, issue := range issues {
		sig := l.signals.Raise(issue, signal.StepContext{
			StepID: step.ID,
			Action: step.Action,
			Params: step.Params,
			Output: result.Output,
			Sheet:  sheetName,
			Range:  issue.Range,
		})
		l.auditSignal(ctx, sig)

		decision := l.signals.Decide(ctx, sig)
		if d := l.applyDecision(ctx, sig, decision); d > directive {
			directive = d
		}
	}
	return directive
}

func (l *Loop) applyDecision(ctx context.Context, sig *signal.Signal, decision signal.Decision) scheduler.Directive {
	switch decision.Action {
	case signal.ActionAbort:
		l.resolve(ctx, sig, signal.ActionAbort, true, decision.Reasoning)
		return scheduler.DirectiveAbort

	case signal.ActionRollback:
		// Prior data is only captured when the host provides it; without a
		// snapshot the rollback is recorded as unsuccessful and the damage
		// is contained by skipping dependents.
		ok := len(sig.Context.PriorData) > 0
		desc := decision.Reasoning
		if !ok {
			desc = "no prior snapshot available for rollback"
		}
		l.resolve(ctx, sig, signal.ActionRollback, ok, desc)
		return scheduler.DirectiveSkipDependents

	case signal.ActionFixAndRetry:
		success := l.applyFix(ctx, sig)
		l.resolve(ctx, sig, signal.ActionFixAndRetry, success, decision.Reasoning)
		if success {
			return scheduler.DirectiveContinue
		}
		return scheduler.DirectiveSkipDependents

	case signal.ActionAskUser:
		return l.askUser(ctx, sig, decision)

	default: // ignore_once
		l.resolve(ctx, sig, signal.ActionIgnoreOnce, true, decision.Reasoning)
		return scheduler.DirectiveContinue
	}
}

// applyFix attempts the issue's structured fix suggestion through the tool
// registry. Only formula fixes are automatable; everything else needs the
// planner.
func (l *Loop) applyFix(ctx context.Context, sig *signal.Signal) bool {
	fix := sig.Issue.Fix
	if fix == nil || fix.Formula == "" {
		return false
	}
	tool, err := l.registry.Resolve("apply_formula")
	if err != nil {
		l.logger.Printf("[agent] cannot apply fix for %s: %v", sig.ID, err)
		return false
	}

	column := columnFromRange(sig.Issue.Range)
	if column == "" && len(sig.Issue.Evidence.Cells) > 0 {
		column = columnFromRange(sig.Issue.Evidence.Cells[0])
	}
	if column == "" {
		l.logger.Printf("[agent] fix for %s names no target column", sig.ID)
		return false
	}
	result, err := tool.Invoke(ctx, map[string]any{
		"sheet":   sig.Issue.Sheet,
		"column":  column,
		"formula": fix.Formula,
	})
	if err != nil {
		l.logger.Printf("[agent] fix for %s failed: %v", sig.ID, err)
		return false
	}
	return result.Success
}

// askUser surfaces a confirmation prompt and maps the answer to a directive.
// Without a prompter the signal stays pending and dependents are skipped, so
// the blocking issue is visible but never silently overridden.
func (l *Loop) askUser(ctx context.Context, sig *signal.Signal, decision signal.Decision) scheduler.Directive {
	if l.prompter == nil {
		l.logger.Printf("[agent] signal %s needs confirmation but no prompter is attached; skipping dependents", sig.ID)
		return scheduler.DirectiveSkipDependents
	}

	answer, err := l.prompter.Ask(ctx, sig.Context.StepID, decision.Message)
	if err != nil {
		l.logger.Printf("[agent] confirmation for %s failed: %v", sig.ID, err)
		return scheduler.DirectiveSkipDependents
	}

	switch parseChoice(answer) {
	case "abort":
		l.resolve(ctx, sig, signal.ActionAbort, true, "user chose abort")
		return scheduler.DirectiveAbort
	case "ignore":
		l.resolve(ctx, sig, signal.ActionIgnoreOnce, true, "user chose ignore")
		return scheduler.DirectiveContinue
	default: // rollback
		l.resolve(ctx, sig, signal.ActionRollback, len(sig.Context.PriorData) > 0, "user chose rollback")
		return scheduler.DirectiveSkipDependents
	}
}

// parseChoice maps a free-form answer onto the three offered options;
// rollback is the safe default.
func parseChoice(answer string) string {
	a := strings.ToLower(strings.TrimSpace(answer))
	switch {
	case a == "3" || strings.Contains(a, "abort"):
		return "abort"
	case a == "2" || strings.Contains(a, "ignore") || strings.Contains(a, "continue"):
		return "ignore"
	default:
		return "rollback"
	}
}

// reflectStep evaluates the plan's health after a step and maps the result
// to a directive.
func (l *Loop) reflectStep(ctx context.Context, dag *scheduler.DAG, step *scheduler.Step, result tools.Result) scheduler.Directive {
	res := l.reflector.Evaluate(ctx, l.reflectionInput(dag, step, result))

	switch res.Action {
	case reflect.ActionAbort:
		return scheduler.DirectiveAbort

	case reflect.ActionSkipRemaining:
		// Ending early only means something while steps remain; on an
		// exhausted plan it is a normal finish.
		if _, _, _, _, _, pending := dag.Counts(); pending > 0 {
			return scheduler.DirectiveAbort
		}
		return scheduler.DirectiveContinue

	case reflect.ActionAdjustPlan:
		if err := applyAdjustments(dag, res.Adjustments); err != nil {
			l.logger.Printf("[agent] plan adjustment after %s rejected: %v", step.ID, err)
		}
		return scheduler.DirectiveContinue

	case reflect.ActionAskUser:
		if l.prompter == nil {
			l.logger.Printf("[agent] reflection after %s wants confirmation but no prompter is attached; continuing", step.ID)
			return scheduler.DirectiveContinue
		}
		answer, err := l.prompter.Ask(ctx, step.ID, res.Question)
		if err != nil {
			l.logger.Printf("[agent] reflection confirmation failed: %v", err)
			return scheduler.DirectiveContinue
		}
		if parseChoice(answer) == "abort" {
			return scheduler.DirectiveAbort
		}
		return scheduler.DirectiveContinue

	default:
		return scheduler.DirectiveContinue
	}
}

func (l *Loop) reflectionInput(dag *scheduler.DAG, step *scheduler.Step, result tools.Result) reflect.Input {
	in := reflect.Input{
		Request: l.request,
		Current: stepOutcome(step),
	}
	in.Current.Output = result.Output

	for _, s := range dag.Steps() {
		if s.ID == step.ID {
			continue
		}
		switch s.Status {
		case scheduler.StepCompleted, scheduler.StepFailed:
			in.Completed = append(in.Completed, stepOutcome(s))
		case scheduler.StepPending, scheduler.StepReady:
			in.Remaining = append(in.Remaining, reflect.StepOutcome{ID: s.ID, Action: s.Action})
		}
	}
	return in
}

func stepOutcome(s *scheduler.Step) reflect.StepOutcome {
	out := reflect.StepOutcome{
		ID:      s.ID,
		Action:  s.Action,
		Params:  s.Params,
		Output:  s.Output,
		Success: s.Status == scheduler.StepCompleted,
	}
	if s.Err != nil {
		out.Err = s.Err.Error()
	}
	return out
}

func (l *Loop) resolve(ctx context.Context, sig *signal.Signal, action signal.Action, success bool, description string) {
	if err := l.signals.Resolve(sig.ID, action, success, description); err != nil {
		l.logger.Printf("[agent] resolving signal %s: %v", sig.ID, err)
		return
	}
	if l.store != nil {
		if err := l.store.RecordResolution(ctx, sig.ID, string(action), success, description); err != nil {
			l.logger.Printf("[agent] audit of resolution %s failed: %v", sig.ID, err)
		}
	}
}

func (l *Loop) auditStep(ctx context.Context, step *scheduler.Step) {
	if l.store == nil {
		return
	}
	rec := persistence.StepRecord{
		RunID:  l.runID,
		StepID: step.ID,
		Action: step.Action,
		Status: step.Status.String(),
		Output: step.Output,
	}
	if step.Err != nil {
		rec.Error = step.Err.Error()
	}
	if err := l.store.RecordStep(ctx, rec); err != nil {
		l.logger.Printf("[agent] audit of step %s failed: %v", step.ID, err)
	}
}

// auditSkipped records steps that never reached the completion hook.
func (l *Loop) auditSkipped(ctx context.Context, dag *scheduler.DAG) {
	if l.store == nil {
		return
	}
	for _, step := range dag.Steps() {
		if step.Status == scheduler.StepSkipped {
			l.auditStep(ctx, step)
		}
	}
}

func (l *Loop) auditSignal(ctx context.Context, sig *signal.Signal) {
	if l.store == nil {
		return
	}
	err := l.store.RecordSignal(ctx, persistence.SignalRecord{
		ID:         sig.ID,
		StepID:     sig.Context.StepID,
		RuleID:     sig.Issue.RuleID,
		Type:       string(sig.Type),
		Severity:   string(sig.Issue.Severity),
		Confidence: string(sig.Issue.Confidence),
		Message:    sig.Issue.Message,
		Sheet:      sig.Issue.Sheet,
	})
	if err != nil {
		l.logger.Printf("[agent] audit of signal %s failed: %v", sig.ID, err)
	}
}

// columnFromRange extracts the column letters from an A1 range like "B2:B40".
func columnFromRange(r string) string {
	var letters strings.Builder
	for _, ch := range r {
		if ch >= 'A' && ch <= 'Z' {
			letters.WriteRune(ch)
		} else {
			break
		}
	}
	return letters.String()
}
