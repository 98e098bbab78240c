package signal

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/sheetagent/internal/verify"
)

// Type classifies what kind of problem a signal represents. The type only
// picks sensible default suggested actions; it never changes severity.
type Type string

const (
	TypeDataIntegrity   Type = "data_integrity"
	TypeSemanticError   Type = "semantic_error"
	TypeStructuralIssue Type = "structural_issue"
	TypeReferenceError  Type = "reference_error"
	TypeQualityWarning  Type = "quality_warning"
)

// Action is a remedy that can be taken for a signal.
type Action string

const (
	ActionRollback    Action = "rollback"
	ActionFixAndRetry Action = "fix_and_retry"
	ActionIgnoreOnce  Action = "ignore_once"
	ActionAskUser     Action = "ask_user"
	ActionAbort       Action = "abort"
)

// Status tracks a signal's lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResolved  Status = "resolved"
	StatusIgnored   Status = "ignored"
	StatusEscalated Status = "escalated"
)

// StepContext captures the execution context that produced an issue: which
// step ran, with what inputs and outputs, and a snapshot of the data it
// overwrote so a rollback has something to restore.
type StepContext struct {
	StepID    string
	Action    string
	Params    map[string]any
	Output    string
	Sheet     string
	Range     string
	PriorData []string
}

// Resolution records how a signal was closed out.
type Resolution struct {
	Action      Action
	Success     bool
	Description string
	Timestamp   time.Time
}

// Signal wraps one verification issue with its execution context and a set
// of suggested remedies. Signals persist for the lifetime of a task so that
// repeated outcomes can inform later auto-decisions.
type Signal struct {
	ID         string
	Type       Type
	Issue      verify.Issue
	Context    StepContext
	Suggested  []Action
	Status     Status
	CreatedAt  time.Time
	Resolution *Resolution
}

// New builds a pending signal from an issue and its execution context.
func New(issue verify.Issue, sctx StepContext) *Signal {
	sig := &Signal{
		ID:        uuid.NewString(),
		Type:      classify(issue),
		Issue:     issue,
		Context:   sctx,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	sig.Suggested = suggestActions(sig)
	return sig
}

// classify infers a signal type from the issue's message content.
func classify(issue verify.Issue) Type {
	msg := strings.ToLower(issue.Message)
	switch {
	case strings.Contains(msg, "master") || strings.Contains(msg, "lookup") || strings.Contains(msg, "reference") ||
		strings.Contains(msg, "disagree"):
		return TypeReferenceError
	case strings.Contains(msg, "column") && (strings.Contains(msg, "missing") || strings.Contains(msg, "header")):
		return TypeStructuralIssue
	case strings.Contains(msg, "constant") || strings.Contains(msg, "overwritten") || strings.Contains(msg, "same value"):
		return TypeSemanticError
	case strings.Contains(msg, "duplicate") || strings.Contains(msg, "empty") || strings.Contains(msg, "should hold"):
		return TypeDataIntegrity
	case issue.Severity == verify.SeverityWarn:
		return TypeQualityWarning
	default:
		return TypeDataIntegrity
	}
}

// suggestActions picks the default remedies for a signal. Rollback is always
// offered; fix-and-retry for integrity and semantic types; ignore-once only
// when the issue merely warns; abort only for blocking, non-quality issues.
func suggestActions(sig *Signal) []Action {
	actions := []Action{ActionRollback}
	if sig.Type == TypeDataIntegrity || sig.Type == TypeSemanticError {
		actions = append(actions, ActionFixAndRetry)
	}
	if sig.Issue.Severity == verify.SeverityWarn {
		actions = append(actions, ActionIgnoreOnce)
	}
	if sig.Issue.Severity == verify.SeverityBlock && sig.Type != TypeQualityWarning {
		actions = append(actions, ActionAbort)
	}
	return actions
}
