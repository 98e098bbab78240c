package scheduler

import (
	"strings"
	"testing"
)

func TestBuildGraph(t *testing.T) {
	tests := []struct {
		name        string
		steps       []*Step
		wantErr     bool
		errContains string
	}{
		{
			name: "valid linear chain",
			steps: []*Step{
				{ID: "A"},
				{ID: "B", DependsOn: []string{"A"}},
				{ID: "C", DependsOn: []string{"B"}},
			},
		},
		{
			name: "valid diamond",
			steps: []*Step{
				{ID: "A"},
				{ID: "B", DependsOn: []string{"A"}},
				{ID: "C", DependsOn: []string{"A"}},
				{ID: "D", DependsOn: []string{"B", "C"}},
			},
		},
		{
			name: "duplicate id",
			steps: []*Step{
				{ID: "A"},
				{ID: "A"},
			},
			wantErr:     true,
			errContains: "already exists",
		},
		{
			name: "missing dependency",
			steps: []*Step{
				{ID: "A", DependsOn: []string{"ghost"}},
			},
			wantErr:     true,
			errContains: "non-existent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildGraph(tt.steps)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q does not contain %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildGraph: %v", err)
			}
		})
	}
}

func TestDetectCycle(t *testing.T) {
	tests := []struct {
		name      string
		steps     []*Step
		wantCycle bool
	}{
		{
			name: "no cycle linear",
			steps: []*Step{
				{ID: "A"},
				{ID: "B", DependsOn: []string{"A"}},
				{ID: "C", DependsOn: []string{"B"}},
			},
		},
		{
			name: "no cycle disconnected components",
			steps: []*Step{
				{ID: "A"},
				{ID: "B", DependsOn: []string{"A"}},
				{ID: "C"},
				{ID: "D", DependsOn: []string{"C"}},
			},
		},
		{
			name: "direct cycle",
			steps: []*Step{
				{ID: "A", DependsOn: []string{"B"}},
				{ID: "B", DependsOn: []string{"A"}},
			},
			wantCycle: true,
		},
		{
			name: "transitive cycle",
			steps: []*Step{
				{ID: "A", DependsOn: []string{"B"}},
				{ID: "B", DependsOn: []string{"C"}},
				{ID: "C", DependsOn: []string{"A"}},
			},
			wantCycle: true,
		},
		{
			name: "self loop",
			steps: []*Step{
				{ID: "A", DependsOn: []string{"A"}},
			},
			wantCycle: true,
		},
		{
			name: "cycle behind valid prefix",
			steps: []*Step{
				{ID: "A"},
				{ID: "B", DependsOn: []string{"A", "D"}},
				{ID: "C", DependsOn: []string{"B"}},
				{ID: "D", DependsOn: []string{"C"}},
			},
			wantCycle: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dag, err := BuildGraph(tt.steps)
			if err != nil {
				t.Fatalf("BuildGraph: %v", err)
			}

			cycle := dag.DetectCycle()
			if tt.wantCycle {
				if len(cycle) == 0 {
					t.Fatal("expected non-empty cycle, got nil")
				}
				// Every reported member must actually be a graph node.
				for _, id := range cycle {
					if _, ok := dag.Get(id); !ok {
						t.Errorf("cycle references unknown step %q", id)
					}
				}
			} else if cycle != nil {
				t.Errorf("expected no cycle, got %v", cycle)
			}

			// Order must agree with DetectCycle.
			_, orderErr := dag.Order()
			if tt.wantCycle && orderErr == nil {
				t.Error("Order succeeded on cyclic graph")
			}
			if !tt.wantCycle && orderErr != nil {
				t.Errorf("Order failed on acyclic graph: %v", orderErr)
			}
		})
	}
}

func TestOrderRespectsDependencies(t *testing.T) {
	dag, err := BuildGraph([]*Step{
		{ID: "load"},
		{ID: "price", DependsOn: []string{"load"}},
		{ID: "total", DependsOn: []string{"price"}},
		{ID: "report", DependsOn: []string{"total", "load"}},
	})
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	order, err := dag.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("order has %d steps, want 4", len(order))
	}

	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	deps := map[string][]string{
		"price":  {"load"},
		"total":  {"price"},
		"report": {"total", "load"},
	}
	for id, wants := range deps {
		for _, dep := range wants {
			if pos[dep] > pos[id] {
				t.Errorf("%q ordered before its dependency %q", id, dep)
			}
		}
	}
}

func TestReadyRespectsFailurePolicy(t *testing.T) {
	build := func() *DAG {
		dag, err := BuildGraph([]*Step{
			{ID: "A"},
			{ID: "B", DependsOn: []string{"A"}},
		})
		if err != nil {
			t.Fatalf("BuildGraph: %v", err)
		}
		if err := dag.SetStatus("A", StepFailed, "", errTest); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		return dag
	}

	strict := build().Ready(false)
	if len(strict) != 0 {
		t.Errorf("strict policy: %d steps ready, want 0", len(strict))
	}

	tolerant := build().Ready(true)
	if len(tolerant) != 1 || tolerant[0].ID != "B" {
		t.Errorf("tolerant policy: ready = %v, want [B]", ids(tolerant))
	}
}

func TestDownstreamClosure(t *testing.T) {
	dag, err := BuildGraph([]*Step{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
		{ID: "C", DependsOn: []string{"B"}},
		{ID: "D", DependsOn: []string{"A"}},
		{ID: "E"},
	})
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	closure := dag.DownstreamClosure("A")
	want := map[string]bool{"B": true, "C": true, "D": true}
	if len(closure) != len(want) {
		t.Fatalf("closure = %v, want members of %v", closure, want)
	}
	for _, id := range closure {
		if !want[id] {
			t.Errorf("unexpected member %q", id)
		}
	}
}

func TestAddStepRewires(t *testing.T) {
	dag, err := BuildGraph([]*Step{{ID: "A"}})
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	if err := dag.AddStep(&Step{ID: "B", DependsOn: []string{"A"}}); err != nil {
		t.Fatalf("AddStep: %v", err)
	}
	if err := dag.AddStep(&Step{ID: "B"}); err == nil {
		t.Error("expected duplicate-id error")
	}
	if err := dag.AddStep(&Step{ID: "C", DependsOn: []string{"ghost"}}); err == nil {
		t.Error("expected missing-dependency error")
	}

	closure := dag.DownstreamClosure("A")
	if len(closure) != 1 || closure[0] != "B" {
		t.Errorf("closure after AddStep = %v, want [B]", closure)
	}
}

var errTest = errFixed("test failure")

type errFixed string

func (e errFixed) Error() string { return string(e) }

func ids(steps []*Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.ID
	}
	return out
}
