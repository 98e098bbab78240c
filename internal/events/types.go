package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	StepID() string
}

// Topic constants
const (
	TopicStep   = "step"
	TopicBatch  = "batch"
	TopicVerify = "verify"
)

// Event type constants. Step lifecycle types match the wire names consumed
// by progress UIs: batch:start, step:start, step:complete, step:fail,
// step:skip, complete.
const (
	EventTypeBatchStarted   = "batch:start"
	EventTypeStepStarted    = "step:start"
	EventTypeStepCompleted  = "step:complete"
	EventTypeStepFailed     = "step:fail"
	EventTypeStepSkipped    = "step:skip"
	EventTypeBatchCompleted = "complete"
	EventTypeProgress       = "batch.progress"
	EventTypeIssueFound     = "verify.issue"
	EventTypeSignalRaised   = "verify.signal"
	EventTypeReflection     = "reflect.result"
)

// BatchStartedEvent is published once, before any step starts.
type BatchStartedEvent struct {
	TotalSteps int
	Timestamp  time.Time
}

func (e BatchStartedEvent) EventType() string { return EventTypeBatchStarted }
func (e BatchStartedEvent) StepID() string    { return "" }

// StepStartedEvent is published when a step begins execution.
type StepStartedEvent struct {
	ID        string
	Action    string
	Timestamp time.Time
}

func (e StepStartedEvent) EventType() string { return EventTypeStepStarted }
func (e StepStartedEvent) StepID() string    { return e.ID }

// StepCompletedEvent is published when a step completes successfully.
type StepCompletedEvent struct {
	ID        string
	Output    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e StepCompletedEvent) EventType() string { return EventTypeStepCompleted }
func (e StepCompletedEvent) StepID() string    { return e.ID }

// StepFailedEvent is published when a step's tool returns an error.
type StepFailedEvent struct {
	ID        string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e StepFailedEvent) EventType() string { return EventTypeStepFailed }
func (e StepFailedEvent) StepID() string    { return e.ID }

// StepSkippedEvent is published when a step is skipped because an upstream
// dependency failed or the run was aborted.
type StepSkippedEvent struct {
	ID        string
	Reason    string
	Timestamp time.Time
}

func (e StepSkippedEvent) EventType() string { return EventTypeStepSkipped }
func (e StepSkippedEvent) StepID() string    { return e.ID }

// BatchCompletedEvent is published once, after the last step settles.
type BatchCompletedEvent struct {
	Success      bool
	TotalSteps   int
	SuccessCount int
	FailedCount  int
	SkippedCount int
	Timestamp    time.Time
}

func (e BatchCompletedEvent) EventType() string { return EventTypeBatchCompleted }
func (e BatchCompletedEvent) StepID() string    { return "" }

// ProgressEvent is published whenever step counts change.
type ProgressEvent struct {
	Total     int
	Completed int
	Running   int
	Failed    int
	Skipped   int
	Pending   int
	Timestamp time.Time
}

func (e ProgressEvent) EventType() string { return EventTypeProgress }
func (e ProgressEvent) StepID() string    { return "" }

// IssueFoundEvent is published when a verification rule reports a finding.
type IssueFoundEvent struct {
	ID         string // step whose effect was verified
	Sheet      string
	RuleID     string
	Severity   string
	Confidence string
	Message    string
	Timestamp  time.Time
}

func (e IssueFoundEvent) EventType() string { return EventTypeIssueFound }
func (e IssueFoundEvent) StepID() string    { return e.ID }

// SignalRaisedEvent is published when an issue is wrapped into a signal.
type SignalRaisedEvent struct {
	ID        string // step the signal originated from
	SignalID  string
	Type      string
	Severity  string
	Message   string
	Timestamp time.Time
}

func (e SignalRaisedEvent) EventType() string { return EventTypeSignalRaised }
func (e SignalRaisedEvent) StepID() string    { return e.ID }

// ReflectionEvent is published after the reflection controller evaluates a step.
type ReflectionEvent struct {
	ID         string
	Action     string
	Confidence float64
	Analysis   string
	Timestamp  time.Time
}

func (e ReflectionEvent) EventType() string { return EventTypeReflection }
func (e ReflectionEvent) StepID() string    { return e.ID }
