package scheduler

// StepStatus represents the current state of a step.
type StepStatus int

const (
	StepPending   StepStatus = iota // Waiting for dependencies
	StepReady                       // All dependencies resolved, ready to run
	StepRunning                     // Currently executing
	StepCompleted                   // Finished successfully
	StepFailed                      // Finished with error
	StepSkipped                     // Intentionally not run
)

// String returns the lowercase status name used in events and persistence.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepReady:
		return "ready"
	case StepRunning:
		return "running"
	case StepCompleted:
		return "completed"
	case StepFailed:
		return "failed"
	case StepSkipped:
		return "skipped"
	}
	return "unknown"
}

// Step is an atomic action in a plan. Immutable once submitted except for
// Status, Output and Err, which the scheduler owns for the duration of one
// execution.
type Step struct {
	ID        string         // Unique identifier
	Action    string         // Tool name resolved through the registry
	Params    map[string]any // Parameter bag passed to the tool
	DependsOn []string       // Step IDs this step depends on
	Status    StepStatus
	Output    string // Tool output (populated after completion)
	Err       error  // Error if failed
}

func cloneStep(step *Step) *Step {
	if step == nil {
		return nil
	}

	cp := *step
	if step.DependsOn != nil {
		cp.DependsOn = append([]string(nil), step.DependsOn...)
	}
	return &cp
}
