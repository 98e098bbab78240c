package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aristath/sheetagent/internal/judge"
	"github.com/aristath/sheetagent/internal/signal"
)

// judgeAdviser adapts a judge into the signal layer's Adviser. Its decisions
// substitute only for the heuristic's lowest tiers, and any failure here falls
// back to the deterministic heuristic, so a bad answer can never be worse than
// no answer.
type judgeAdviser struct {
	j judge.Judge
}

// NewJudgeAdviser wraps a judge for use as a signal adviser.
func NewJudgeAdviser(j judge.Judge) signal.Adviser {
	return &judgeAdviser{j: j}
}

func (a *judgeAdviser) Advise(ctx context.Context, sig *signal.Signal, taskContext string) (*signal.Decision, error) {
	raw, err := a.j.CompleteJSON(ctx, advisePrompt(sig, taskContext))
	if err != nil {
		return nil, fmt.Errorf("advise call: %w", err)
	}

	var parsed struct {
		Action     string  `json:"action"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("unparsable advice: %w", err)
	}

	action := signal.Action(parsed.Action)
	if !suggestedAction(sig, action) {
		return nil, fmt.Errorf("advised action %q is not among the signal's suggestions", parsed.Action)
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}

	d := &signal.Decision{
		Action:     action,
		Confidence: parsed.Confidence,
		Reasoning:  parsed.Reasoning,
	}
	if action == signal.ActionAskUser {
		d.RequiresConfirmation = true
		d.Message = signal.ConfirmationMessage(sig)
	}
	return d, nil
}

// suggestedAction reports whether the signal itself offered the action.
// ask_user is always acceptable; deferring to the user is never wrong.
func suggestedAction(sig *signal.Signal, action signal.Action) bool {
	if action == signal.ActionAskUser {
		return true
	}
	for _, s := range sig.Suggested {
		if s == action {
			return true
		}
	}
	return false
}

func advisePrompt(sig *signal.Signal, taskContext string) string {
	var b strings.Builder

	b.WriteString("A data verification check flagged a problem during an automated spreadsheet task.\n\n")
	if taskContext != "" {
		fmt.Fprintf(&b, "Task: %s\n\n", taskContext)
	}
	fmt.Fprintf(&b, "Problem (%s, severity %s, confidence %s):\n  %s\n",
		sig.Type, sig.Issue.Severity, sig.Issue.Confidence, sig.Issue.Message)
	if sig.Issue.Range != "" {
		fmt.Fprintf(&b, "  affected range: %s!%s\n", sig.Issue.Sheet, sig.Issue.Range)
	}
	if sig.Issue.Fix != nil {
		fmt.Fprintf(&b, "  suggested fix: %s\n", sig.Issue.Fix.Description)
	}

	fmt.Fprintf(&b, "\nProducing step: %s (%s)\n", sig.Context.StepID, sig.Context.Action)

	actions := make([]string, 0, len(sig.Suggested))
	for _, a := range sig.Suggested {
		actions = append(actions, string(a))
	}
	fmt.Fprintf(&b, "\nChoose one action from: %s, ask_user.\n", strings.Join(actions, ", "))
	b.WriteString(`Respond with JSON:
{"action": "...", "confidence": 0.0-1.0, "reasoning": "one sentence"}`)

	return b.String()
}
