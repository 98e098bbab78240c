// Package plan loads step plans supplied by an external planner. The plan is
// the system's input contract: a flat list of steps with optional dependency
// ids, plus the user request the plan was derived from.
package plan

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aristath/sheetagent/internal/scheduler"
)

// Step is one planned action.
type Step struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	DependsOn []string       `json:"dependsOn,omitempty"`
}

// Plan is an ordered list of steps plus the request they serve.
type Plan struct {
	Request string `json:"request,omitempty"`
	Steps   []Step `json:"steps"`
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a plan. Structural validation only; cycle
// detection belongs to the scheduler.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Plan) validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}

	ids := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID == "" {
			return fmt.Errorf("step %d has no id", i)
		}
		if s.Action == "" {
			return fmt.Errorf("step %q has no action", s.ID)
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		ids[s.ID] = true
	}

	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
		}
	}
	return nil
}

// SchedulerSteps converts the plan into scheduler steps.
func (p *Plan) SchedulerSteps() []*scheduler.Step {
	steps := make([]*scheduler.Step, 0, len(p.Steps))
	for _, s := range p.Steps {
		steps = append(steps, &scheduler.Step{
			ID:        s.ID,
			Action:    s.Action,
			Params:    s.Params,
			DependsOn: append([]string(nil), s.DependsOn...),
		})
	}
	return steps
}
