package verify

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/sheetagent/internal/events"
	"github.com/aristath/sheetagent/internal/sheet"
)

// Engine runs the rule set against a sheet. Rules that work from the shared
// sample run concurrently; rules that perform their own reads run strictly
// serially under a per-sheet lock, so a full-column scan never interleaves
// with another scan of the same sheet.
type Engine struct {
	sampler  sheet.Sampler
	lister   sheet.Lister
	rules    []Rule
	strategy Strategy
	config   RulesConfig
	locks    *SheetLockManager
	bus      *events.EventBus
	logger   *log.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithRules replaces the default rule set.
func WithRules(rules []Rule) EngineOption {
	return func(e *Engine) { e.rules = rules }
}

// WithStrategy replaces the default sampling strategy.
func WithStrategy(s Strategy) EngineOption {
	return func(e *Engine) { e.strategy = s }
}

// WithRulesConfig replaces the default rule thresholds.
func WithRulesConfig(c RulesConfig) EngineOption {
	return func(e *Engine) { e.config = c }
}

// WithLister enables cross-sheet rules such as lookup consistency.
func WithLister(l sheet.Lister) EngineOption {
	return func(e *Engine) { e.lister = l }
}

// WithEventBus publishes an event per finding.
func WithEventBus(bus *events.EventBus) EngineOption {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a verification engine over the given sampler.
func NewEngine(sampler sheet.Sampler, opts ...EngineOption) *Engine {
	e := &Engine{
		sampler:  sampler,
		rules:    DefaultRules(),
		strategy: DefaultStrategy(),
		config:   DefaultRulesConfig(),
		locks:    NewSheetLockManager(),
		logger:   log.Default(),
	}
	if l, ok := sampler.(sheet.Lister); ok {
		e.lister = l
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Verify samples the sheet and runs every applicable rule. A sampling
// failure is not fatal: it is reported as a single low-confidence warning so
// the caller can decide, rather than silently passing or hard-blocking on
// what may be a transient read error.
func (e *Engine) Verify(ctx context.Context, sheetName string) ([]Issue, error) {
	sample, err := Draw(ctx, e.sampler, sheetName, e.strategy)
	if err != nil {
		e.logger.Printf("[verify] sampling %q failed: %v", sheetName, err)
		return []Issue{samplingFailureIssue(sheetName, err)}, nil
	}

	issues := e.run(ctx, sheetName, sample, e.rules)
	issues = e.confirm(ctx, sheetName, issues)

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Severity != issues[j].Severity {
			return issues[i].Severity == SeverityBlock
		}
		return issues[i].RuleID < issues[j].RuleID
	})

	for i := range issues {
		e.publish(sheetName, &issues[i])
	}
	return issues, nil
}

// run executes the applicable rules against one sample: sample-only rules
// concurrently, IO rules one at a time under the sheet lock.
func (e *Engine) run(ctx context.Context, sheetName string, sample *SampleSet, rules []Rule) []Issue {
	rc := &Context{
		Sheet:   sheetName,
		Kind:    DetectKind(sheetName),
		Sample:  sample,
		Columns: InferColumns(sample),
		Sampler: e.sampler,
		Lister:  e.lister,
		Config:  e.config,
	}

	var fast, slow []Rule
	for _, rule := range rules {
		if !HasRoles(rc.Columns, rule.Roles()) {
			continue
		}
		if rule.RequiresIO() {
			slow = append(slow, rule)
		} else {
			fast = append(fast, rule)
		}
	}

	var mu sync.Mutex
	var issues []Issue
	collect := func(rule Rule) {
		issue, err := rule.Check(ctx, rc)
		if err != nil {
			// A broken check is not a finding. Log and move on; the
			// remaining rules still get their say.
			e.logger.Printf("[verify] rule %s on %q: %v", rule.ID(), sheetName, err)
			return
		}
		if issue == nil {
			return
		}
		mu.Lock()
		issues = append(issues, *issue)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, rule := range fast {
		rule := rule
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			collect(rule)
			return nil
		})
	}
	_ = g.Wait()

	if len(slow) > 0 {
		held := e.lockSet(ctx, rc)
		e.locks.LockAll(held)
		defer e.locks.UnlockAll(held)
		for _, rule := range slow {
			if ctx.Err() != nil {
				break
			}
			collect(rule)
		}
	}
	return issues
}

// lockSet names every sheet the IO rule pass may read: the target sheet,
// plus the master tables a cross-sheet rule can consult when the target is a
// transaction sheet. Holding them all means a master is never scanned while
// another verification is rewriting it.
func (e *Engine) lockSet(ctx context.Context, rc *Context) []string {
	held := []string{rc.Sheet}
	if rc.Kind != KindTransaction || e.lister == nil {
		return held
	}
	names, err := e.lister.SheetNames(ctx)
	if err != nil {
		e.logger.Printf("[verify] listing sheets for the lock set of %q: %v", rc.Sheet, err)
		return held
	}
	for _, name := range names {
		if name != rc.Sheet && DetectKind(name) == KindMaster {
			held = append(held, name)
		}
	}
	return held
}

// confirm re-checks blocking findings that did not reach high confidence
// against a wider sample. A finding that does not reappear is downgraded to
// a warning with a note, never dropped: the first sample saw something, and
// the record of that should survive even if the wider look disagrees.
func (e *Engine) confirm(ctx context.Context, sheetName string, issues []Issue) []Issue {
	var needsConfirm []int
	for i, issue := range issues {
		if issue.Severity == SeverityBlock && issue.Confidence != ConfidenceHigh {
			needsConfirm = append(needsConfirm, i)
		}
	}
	if len(needsConfirm) == 0 {
		return issues
	}

	wide, err := Draw(ctx, e.sampler, sheetName, e.strategy.expanded())
	if err != nil {
		e.logger.Printf("[verify] confirmation sample of %q failed, keeping first-pass findings: %v", sheetName, err)
		return issues
	}

	byID := make(map[string]Rule, len(e.rules))
	for _, rule := range e.rules {
		byID[rule.ID()] = rule
	}

	for _, i := range needsConfirm {
		rule, ok := byID[issues[i].RuleID]
		if !ok {
			continue
		}
		confirmed := e.run(ctx, sheetName, wide, []Rule{rule})

		found := false
		for _, c := range confirmed {
			if c.RuleID == issues[i].RuleID {
				// The wider sample agrees; adopt its evidence and grade.
				issues[i] = c
				found = true
				break
			}
		}
		if !found {
			issues[i].Severity = SeverityWarn
			issues[i].Note = fmt.Sprintf("not reproduced in a wider sample of %d rows; downgraded from block", len(wide.Rows))
		}
	}
	return issues
}

func (e *Engine) publish(sheetName string, issue *Issue) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicVerify, events.IssueFoundEvent{
		Sheet:      sheetName,
		RuleID:     issue.RuleID,
		Severity:   string(issue.Severity),
		Confidence: string(issue.Confidence),
		Message:    issue.Message,
		Timestamp:  time.Now(),
	})
}

func samplingFailureIssue(sheetName string, err error) Issue {
	return Issue{
		RuleID:     "sampling_failure",
		Severity:   SeverityWarn,
		Confidence: ConfidenceLow,
		Message:    fmt.Sprintf("could not sample sheet %q: %v", sheetName, err),
		Sheet:      sheetName,
	}
}
