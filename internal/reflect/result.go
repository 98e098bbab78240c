// Package reflect implements the post-step reflection controller: after a
// step completes, it independently judges whether the unfolding plan still
// serves the original request, catching semantic drift that data verification
// cannot see.
package reflect

import (
	"encoding/json"
	"fmt"
)

// ReflectionAction is what the controller recommends the loop do next.
type ReflectionAction string

const (
	ActionContinue      ReflectionAction = "continue"
	ActionAdjustPlan    ReflectionAction = "adjust_plan"
	ActionAskUser       ReflectionAction = "ask_user"
	ActionAbort         ReflectionAction = "abort"
	ActionSkipRemaining ReflectionAction = "skip_remaining"
)

// maxListItems caps the issues/opportunities/adjustments lists; anything past
// a handful is noise the caller will never act on.
const maxListItems = 5

// PlanAdjustment is one proposed edit to the remaining plan.
type PlanAdjustment struct {
	Kind      string         `json:"kind"` // "add_step", "remove_step", "modify_step"
	StepID    string         `json:"step_id"`
	Action    string         `json:"action,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// ReflectionResult is one controller decision. Transient - produced and
// consumed per step, never retained.
type ReflectionResult struct {
	Action        ReflectionAction `json:"action"`
	Confidence    float64          `json:"confidence"`
	Analysis      string           `json:"analysis"`
	Issues        []string         `json:"issues,omitempty"`
	Opportunities []string         `json:"opportunities,omitempty"`
	Adjustments   []PlanAdjustment `json:"adjustments,omitempty"`
	Question      string           `json:"question,omitempty"`
}

var validActions = map[ReflectionAction]bool{
	ActionContinue:      true,
	ActionAdjustPlan:    true,
	ActionAskUser:       true,
	ActionAbort:         true,
	ActionSkipRemaining: true,
}

// parseResult decodes a judge's JSON output into a ReflectionResult,
// normalizing out-of-range values rather than rejecting them.
func parseResult(raw string) (*ReflectionResult, error) {
	var r ReflectionResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("unparsable reflection output: %w", err)
	}
	if !validActions[r.Action] {
		return nil, fmt.Errorf("unknown reflection action %q", r.Action)
	}

	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	if len(r.Issues) > maxListItems {
		r.Issues = r.Issues[:maxListItems]
	}
	if len(r.Opportunities) > maxListItems {
		r.Opportunities = r.Opportunities[:maxListItems]
	}
	if len(r.Adjustments) > maxListItems {
		r.Adjustments = r.Adjustments[:maxListItems]
	}
	return &r, nil
}
