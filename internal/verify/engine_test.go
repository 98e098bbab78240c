package verify

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aristath/sheetagent/internal/events"
	"github.com/aristath/sheetagent/internal/sheet"
)

func salesWorkbook(constantPrice bool) *sheet.Memory {
	m := sheet.NewMemory()
	rows := [][]string{{"Product ID", "Unit Price", "Quantity"}}
	for i := 0; i < 40; i++ {
		price := fmt.Sprintf("%d", 100+i%5*75)
		if constantPrice {
			price = "100"
		}
		rows = append(rows, []string{
			fmt.Sprintf("P%03d", i%5+1),
			price,
			fmt.Sprintf("%d", i%9+1),
		})
	}
	m.SetSheet("SalesTransactions", rows)
	return m
}

func TestEngineVerifyConstantPrice(t *testing.T) {
	m := salesWorkbook(true)
	engine := NewEngine(m, WithStrategy(Strategy{HeadRows: 10, TailRows: 5, RandomRows: 15, Seed: 3}))

	issues, err := engine.Verify(context.Background(), "SalesTransactions")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	var found *Issue
	for i := range issues {
		if issues[i].RuleID == "constant_column" {
			found = &issues[i]
		}
	}
	if found == nil {
		t.Fatalf("no constant_column issue in %d issues", len(issues))
	}
	if found.Severity != SeverityBlock || found.Confidence != ConfidenceHigh {
		t.Errorf("got %s/%s, want block/high", found.Severity, found.Confidence)
	}
	if found.Fix == nil || found.Fix.Kind != "lookup_formula" {
		t.Errorf("fix = %+v, want lookup_formula", found.Fix)
	}
}

func TestEngineVerifyCleanSheet(t *testing.T) {
	m := salesWorkbook(false)
	engine := NewEngine(m, WithStrategy(Strategy{HeadRows: 10, TailRows: 5, RandomRows: 15, Seed: 3}))

	issues, err := engine.Verify(context.Background(), "SalesTransactions")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %d (first: %s)", len(issues), issues[0].Message)
	}
}

func TestEngineVerifySamplingFailure(t *testing.T) {
	engine := NewEngine(sheet.NewMemory())

	issues, err := engine.Verify(context.Background(), "Missing")
	if err != nil {
		t.Fatalf("Verify should not fail hard on a sampling error: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}
	got := issues[0]
	if got.RuleID != "sampling_failure" || got.Severity != SeverityWarn || got.Confidence != ConfidenceLow {
		t.Errorf("got %s/%s/%s, want sampling_failure/warn/low", got.RuleID, got.Severity, got.Confidence)
	}
}

// flakyRule reports a medium-confidence blocker on its first check and
// nothing afterwards, standing in for a finding an expanded sample cannot
// reproduce.
type flakyRule struct {
	calls *atomic.Int32
}

func (r flakyRule) ID() string         { return "flaky_finding" }
func (r flakyRule) Severity() Severity { return SeverityBlock }
func (r flakyRule) RequiresIO() bool   { return false }
func (r flakyRule) Roles() []Role      { return nil }

func (r flakyRule) Check(_ context.Context, rc *Context) (*Issue, error) {
	if r.calls.Add(1) > 1 {
		return nil, nil
	}
	return &Issue{
		RuleID:     r.ID(),
		Severity:   SeverityBlock,
		Confidence: ConfidenceMedium,
		Message:    "suspicious pattern in first sample",
		Sheet:      rc.Sheet,
	}, nil
}

func TestEngineSecondPassDowngrade(t *testing.T) {
	m := salesWorkbook(false)
	engine := NewEngine(m,
		WithRules([]Rule{flakyRule{calls: &atomic.Int32{}}}),
		WithStrategy(Strategy{HeadRows: 5, TailRows: 3, RandomRows: 5, Seed: 3}),
	)

	issues, err := engine.Verify(context.Background(), "SalesTransactions")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1; the finding must be downgraded, not dropped", len(issues))
	}
	got := issues[0]
	if got.Severity != SeverityWarn {
		t.Errorf("severity = %s, want warn after failed confirmation", got.Severity)
	}
	if !strings.Contains(got.Note, "downgraded") {
		t.Errorf("note = %q, want a downgrade explanation", got.Note)
	}
}

// persistentRule always reports the same medium-confidence blocker, so the
// expanded pass reconfirms it.
type persistentRule struct{}

func (persistentRule) ID() string         { return "persistent_finding" }
func (persistentRule) Severity() Severity { return SeverityBlock }
func (persistentRule) RequiresIO() bool   { return false }
func (persistentRule) Roles() []Role      { return nil }

func (r persistentRule) Check(_ context.Context, rc *Context) (*Issue, error) {
	return &Issue{
		RuleID:     r.ID(),
		Severity:   SeverityBlock,
		Confidence: confidenceFor(len(rc.Sample.Rows)),
		Message:    "reproducible problem",
		Sheet:      rc.Sheet,
		Evidence:   baseEvidence(rc.Sample),
	}, nil
}

func TestEngineSecondPassConfirms(t *testing.T) {
	m := salesWorkbook(false)
	engine := NewEngine(m,
		WithRules([]Rule{persistentRule{}}),
		WithStrategy(Strategy{HeadRows: 5, TailRows: 3, RandomRows: 5, Seed: 3}),
	)

	issues, err := engine.Verify(context.Background(), "SalesTransactions")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}
	got := issues[0]
	if got.Severity != SeverityBlock {
		t.Errorf("severity = %s, want block after confirmation", got.Severity)
	}
	if got.Note != "" {
		t.Errorf("note = %q, want empty for a confirmed finding", got.Note)
	}
	// The expanded sample's evidence replaces the first pass's.
	if got.Evidence.SampleSize <= 13 {
		t.Errorf("evidence sample size = %d, want the expanded sample", got.Evidence.SampleSize)
	}
}

func TestEnginePublishesIssues(t *testing.T) {
	m := salesWorkbook(true)
	bus := events.NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(events.TopicVerify, 16)

	engine := NewEngine(m,
		WithEventBus(bus),
		WithStrategy(Strategy{HeadRows: 10, TailRows: 5, RandomRows: 15, Seed: 3}),
	)
	issues, err := engine.Verify(context.Background(), "SalesTransactions")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(issues) == 0 {
		t.Fatal("expected issues")
	}

	ev := <-ch
	issue, ok := ev.(events.IssueFoundEvent)
	if !ok {
		t.Fatalf("event type %T, want IssueFoundEvent", ev)
	}
	if issue.Sheet != "SalesTransactions" {
		t.Errorf("event sheet = %q, want SalesTransactions", issue.Sheet)
	}
}
