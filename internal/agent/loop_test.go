package agent

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/aristath/sheetagent/internal/config"
	"github.com/aristath/sheetagent/internal/events"
	"github.com/aristath/sheetagent/internal/persistence"
	"github.com/aristath/sheetagent/internal/plan"
	"github.com/aristath/sheetagent/internal/sheet"
	"github.com/aristath/sheetagent/internal/signal"
	"github.com/aristath/sheetagent/internal/tools"
	"github.com/aristath/sheetagent/internal/verify"
)

// cleanWorkbook has no identifier or price columns, so no verification rule
// has anything to say about it.
func cleanWorkbook() *sheet.Memory {
	wb := sheet.NewMemory()
	wb.SetSheet("Notes", [][]string{
		{"name", "category"},
		{"alpha", "x"},
		{"beta", "y"},
		{"gamma", "x"},
		{"delta", "z"},
		{"epsilon", "y"},
	})
	return wb
}

// masterWorkbook carries a duplicate key in a master sheet, which the
// uniqueness rule reports as a blocking, high-confidence issue.
func masterWorkbook() *sheet.Memory {
	rows := [][]string{{"code", "name", "price"}}
	codes := []string{"C001", "C002", "C003", "C004", "C005", "C006", "C007", "C008", "C009", "C010", "C011", "C005"}
	for i, code := range codes {
		rows = append(rows, []string{code, "item " + code, strconv.Itoa(100 + i*10)})
	}
	wb := sheet.NewMemory()
	wb.SetSheet("ItemMaster", rows)
	return wb
}

// touchTool is a read-only step action that carries a sheet parameter, so
// completing it triggers verification without mutating anything.
func touchTool() tools.Tool {
	return tools.Func("touch", func(ctx context.Context, params map[string]any) (tools.Result, error) {
		return tools.Result{Success: true, Output: "touched"}, nil
	})
}

func TestLoopRunsCleanPlan(t *testing.T) {
	ctx := context.Background()

	wb := cleanWorkbook()
	registry := tools.NewRegistry()
	if err := tools.RegisterSheetTools(registry, wb); err != nil {
		t.Fatalf("RegisterSheetTools: %v", err)
	}

	store, err := persistence.NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	loop := New(config.DefaultConfig(), wb, registry, events.NewEventBus(), WithStore(store))

	p := &plan.Plan{
		Request: "annotate the notes sheet",
		Steps: []plan.Step{
			{ID: "s1", Action: "write_column", Params: map[string]any{
				"sheet": "Notes", "column": "C", "values": []string{"a", "b", "c"},
			}},
			{ID: "s2", Action: "fill_column", Params: map[string]any{
				"sheet": "Notes", "column": "D", "value": "ok", "rows": 3,
			}, DependsOn: []string{"s1"}},
		},
	}

	summary, err := loop.Run(ctx, p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Success || summary.Aborted {
		t.Errorf("summary = %+v, want clean success", summary)
	}
	if summary.SuccessCount != 2 {
		t.Errorf("SuccessCount = %d, want 2", summary.SuccessCount)
	}
	if got := len(loop.Signals().Pending()); got != 0 {
		t.Errorf("pending signals = %d, want 0", got)
	}

	recs, err := store.ListSteps(ctx, loop.RunID())
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("audit has %d step records, want 2", len(recs))
	}
	for _, rec := range recs {
		if rec.Status != "completed" {
			t.Errorf("step %s recorded as %q, want completed", rec.StepID, rec.Status)
		}
	}
}

func TestLoopBlockingIssueAsksUser(t *testing.T) {
	tests := []struct {
		name        string
		answer      string
		wantAborted bool
		wantAction  signal.Action
		wantStatus  signal.Status
	}{
		{"user aborts", "3", true, signal.ActionAbort, signal.StatusResolved},
		{"user ignores", "2", false, signal.ActionIgnoreOnce, signal.StatusIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			wb := masterWorkbook()
			registry := tools.NewRegistry()
			if err := registry.Register(touchTool()); err != nil {
				t.Fatalf("Register: %v", err)
			}

			var asked string
			prompter := NewPrompter(2, func(ctx context.Context, stepID, question string) (string, error) {
				asked = question
				return tt.answer, nil
			})
			prompter.Start(ctx)

			loop := New(config.DefaultConfig(), wb, registry, events.NewEventBus(), WithPrompter(prompter))

			p := &plan.Plan{
				Request: "review the item master",
				Steps: []plan.Step{
					{ID: "s1", Action: "touch", Params: map[string]any{"sheet": "ItemMaster"}},
				},
			}

			summary, err := loop.Run(ctx, p)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if summary.Aborted != tt.wantAborted {
				t.Errorf("Aborted = %v, want %v", summary.Aborted, tt.wantAborted)
			}
			if !strings.Contains(asked, "How should I proceed?") {
				t.Errorf("confirmation prompt = %q, want the three-option message", asked)
			}

			history := loop.Signals().History()
			if len(history) != 1 {
				t.Fatalf("history has %d signals, want 1", len(history))
			}
			sig := history[0]
			if sig.Issue.RuleID != "unique_identifier" {
				t.Errorf("signal rule = %q, want unique_identifier", sig.Issue.RuleID)
			}
			if sig.Status != tt.wantStatus {
				t.Errorf("signal status = %q, want %q", sig.Status, tt.wantStatus)
			}
			if sig.Resolution == nil || sig.Resolution.Action != tt.wantAction {
				t.Errorf("resolution = %+v, want action %q", sig.Resolution, tt.wantAction)
			}
		})
	}
}

func TestLoopWithoutPrompterSkipsDependents(t *testing.T) {
	ctx := context.Background()

	wb := masterWorkbook()
	registry := tools.NewRegistry()
	if err := registry.Register(touchTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	loop := New(config.DefaultConfig(), wb, registry, events.NewEventBus())

	p := &plan.Plan{
		Steps: []plan.Step{
			{ID: "s1", Action: "touch", Params: map[string]any{"sheet": "ItemMaster"}},
			{ID: "s2", Action: "touch", DependsOn: []string{"s1"}},
		},
	}

	summary, err := loop.Run(ctx, p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Aborted {
		t.Error("run aborted; a blocking issue without a prompter should only skip dependents")
	}
	if summary.SkippedCount != 1 {
		t.Errorf("SkippedCount = %d, want 1", summary.SkippedCount)
	}

	// The unresolved signal stays visible to the caller.
	pending := loop.Signals().Pending()
	if len(pending) != 1 {
		t.Fatalf("pending signals = %d, want 1", len(pending))
	}
	if pending[0].Issue.RuleID != "unique_identifier" {
		t.Errorf("pending rule = %q, want unique_identifier", pending[0].Issue.RuleID)
	}
}

// constantPriceWorkbook is a transaction sheet whose price column was
// flattened to one value, the shape the constant-column rule reports.
func constantPriceWorkbook() *sheet.Memory {
	rows := [][]string{{"Product ID", "Unit Price", "Quantity"}}
	for i := 0; i < 20; i++ {
		rows = append(rows, []string{
			"P" + strconv.Itoa(i%6+1),
			"100",
			strconv.Itoa(i%4 + 1),
		})
	}
	wb := sheet.NewMemory()
	wb.SetSheet("SalesTransactions", rows)
	return wb
}

func TestLoopAppliesFormulaFix(t *testing.T) {
	ctx := context.Background()

	wb := constantPriceWorkbook()
	registry := tools.NewRegistry()
	if err := tools.RegisterSheetTools(registry, wb); err != nil {
		t.Fatalf("RegisterSheetTools: %v", err)
	}
	loop := New(config.DefaultConfig(), wb, registry, events.NewEventBus())

	fix := &verify.FixSuggestion{
		Kind:        "lookup_formula",
		Formula:     "=VLOOKUP(A2,PriceMaster!A:B,2,FALSE)",
		Description: "restore per-item prices with a lookup",
	}
	raise := func(issue verify.Issue) *signal.Signal {
		return loop.Signals().Raise(issue, signal.StepContext{
			StepID: "fill-prices",
			Action: "fill_column",
			Sheet:  issue.Sheet,
			Range:  issue.Range,
		})
	}

	t.Run("fix targets the column named by the range", func(t *testing.T) {
		sig := raise(verify.Issue{
			RuleID:     "constant_column",
			Severity:   verify.SeverityBlock,
			Confidence: verify.ConfidenceHigh,
			Message:    "price column holds one constant value across many products",
			Sheet:      "SalesTransactions",
			Column:     "Unit Price",
			Range:      "B2:B21",
			Fix:        fix,
		})

		if !loop.applyFix(ctx, sig) {
			t.Fatal("applyFix = false, want the suggested formula applied")
		}
		formulas, err := wb.ColumnFormulas(ctx, "SalesTransactions", "B")
		if err != nil {
			t.Fatalf("ColumnFormulas: %v", err)
		}
		if len(formulas) != 20 {
			t.Fatalf("formulas recorded for %d rows, want 20", len(formulas))
		}
		if !strings.Contains(formulas[0], "VLOOKUP") {
			t.Errorf("recorded formula = %q, want the suggested VLOOKUP", formulas[0])
		}
	})

	t.Run("column recovered from evidence cells", func(t *testing.T) {
		sig := raise(verify.Issue{
			RuleID:   "lookup_consistency",
			Severity: verify.SeverityBlock,
			Message:  "sampled prices disagree with the master",
			Sheet:    "SalesTransactions",
			Column:   "Unit Price",
			Evidence: verify.Evidence{Cells: []string{"B5", "B12"}},
			Fix:      fix,
		})
		if !loop.applyFix(ctx, sig) {
			t.Fatal("applyFix = false, want the column taken from the evidence")
		}
	})

	t.Run("no target column fails cleanly", func(t *testing.T) {
		sig := raise(verify.Issue{
			RuleID:   "constant_column",
			Severity: verify.SeverityBlock,
			Message:  "price column holds one constant value",
			Sheet:    "SalesTransactions",
			Fix:      fix,
		})
		if loop.applyFix(ctx, sig) {
			t.Error("applyFix = true for an issue naming no column")
		}
	})

	t.Run("no formula means no automated fix", func(t *testing.T) {
		sig := raise(verify.Issue{
			RuleID:   "unique_identifier",
			Severity: verify.SeverityBlock,
			Message:  "duplicate keys",
			Sheet:    "SalesTransactions",
			Range:    "A2:A21",
			Fix:      &verify.FixSuggestion{Kind: "deduplicate", Description: "renumber the keys"},
		})
		if loop.applyFix(ctx, sig) {
			t.Error("applyFix = true for a fix without a formula")
		}
	})
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		answer string
		want   string
	}{
		{"1", "rollback"},
		{"2", "ignore"},
		{"3", "abort"},
		{"please abort", "abort"},
		{"Ignore and continue", "ignore"},
		{"", "rollback"},
		{"whatever", "rollback"},
	}
	for _, tt := range tests {
		if got := parseChoice(tt.answer); got != tt.want {
			t.Errorf("parseChoice(%q) = %q, want %q", tt.answer, got, tt.want)
		}
	}
}
