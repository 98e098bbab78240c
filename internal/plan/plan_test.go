package plan

import (
	"strings"
	"testing"
)

func TestParseValidPlan(t *testing.T) {
	p, err := Parse([]byte(`{
		"request": "fill in the amount column",
		"steps": [
			{"id": "s1", "action": "write_column", "params": {"sheet": "Sales", "column": "D"}},
			{"id": "s2", "action": "apply_formula", "dependsOn": ["s1"]}
		]
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Request != "fill in the amount column" {
		t.Errorf("request = %q", p.Request)
	}

	steps := p.SchedulerSteps()
	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(steps))
	}
	if steps[0].Params["sheet"] != "Sales" {
		t.Errorf("params = %v", steps[0].Params)
	}
	if len(steps[1].DependsOn) != 1 || steps[1].DependsOn[0] != "s1" {
		t.Errorf("dependsOn = %v", steps[1].DependsOn)
	}
}

func TestParseRejectsInvalidPlans(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty steps", `{"steps": []}`, "no steps"},
		{"missing id", `{"steps": [{"action": "a"}]}`, "no id"},
		{"missing action", `{"steps": [{"id": "s1"}]}`, "no action"},
		{"duplicate id", `{"steps": [{"id": "s1", "action": "a"}, {"id": "s1", "action": "b"}]}`, "duplicate"},
		{"unknown dependency", `{"steps": [{"id": "s1", "action": "a", "dependsOn": ["nope"]}]}`, "unknown step"},
		{"malformed json", `{steps`, "parsing plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
