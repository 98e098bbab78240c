package agent

import (
	"strings"
	"testing"

	"github.com/aristath/sheetagent/internal/reflect"
	"github.com/aristath/sheetagent/internal/scheduler"
)

func testDAG(t *testing.T) *scheduler.DAG {
	t.Helper()
	dag, err := scheduler.BuildGraph([]*scheduler.Step{
		{ID: "s1", Action: "a"},
		{ID: "s2", Action: "b", DependsOn: []string{"s1"}},
	})
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	return dag
}

func TestApplyAdjustmentsAddStep(t *testing.T) {
	dag := testDAG(t)

	err := applyAdjustments(dag, []reflect.PlanAdjustment{
		{Kind: "add_step", StepID: "s3", Action: "c", DependsOn: []string{"s2"}},
	})
	if err != nil {
		t.Fatalf("applyAdjustments: %v", err)
	}

	step, ok := dag.Get("s3")
	if !ok {
		t.Fatal("added step not in graph")
	}
	if len(step.DependsOn) != 1 || step.DependsOn[0] != "s2" {
		t.Errorf("dependsOn = %v", step.DependsOn)
	}
}

func TestApplyAdjustmentsRemoveStep(t *testing.T) {
	dag := testDAG(t)

	if err := applyAdjustments(dag, []reflect.PlanAdjustment{{Kind: "remove_step", StepID: "s2"}}); err != nil {
		t.Fatalf("applyAdjustments: %v", err)
	}
	step, _ := dag.Get("s2")
	if step.Status != scheduler.StepSkipped {
		t.Errorf("status = %v, want skipped", step.Status)
	}
}

func TestApplyAdjustmentsRejections(t *testing.T) {
	tests := []struct {
		name    string
		adj     reflect.PlanAdjustment
		wantErr string
	}{
		{"missing action", reflect.PlanAdjustment{Kind: "add_step", StepID: "s9"}, "missing id or action"},
		{"unknown removal", reflect.PlanAdjustment{Kind: "remove_step", StepID: "nope"}, "not found"},
		{"modify unsupported", reflect.PlanAdjustment{Kind: "modify_step", StepID: "s1"}, "not supported"},
		{"unknown kind", reflect.PlanAdjustment{Kind: "rewrite_plan"}, "unknown adjustment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dag := testDAG(t)
			err := applyAdjustments(dag, []reflect.PlanAdjustment{tt.adj})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyAdjustmentsRejectsCycle(t *testing.T) {
	dag := testDAG(t)

	err := applyAdjustments(dag, []reflect.PlanAdjustment{
		{Kind: "add_step", StepID: "s3", Action: "c", DependsOn: []string{"s3"}},
	})
	if err == nil {
		t.Fatal("self-referential step accepted")
	}
}
