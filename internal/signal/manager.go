package signal

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/aristath/sheetagent/internal/events"
	"github.com/aristath/sheetagent/internal/verify"
)

// Decision is the outcome of deciding what to do about a signal.
type Decision struct {
	Action               Action
	Confidence           float64
	Reasoning            string
	RequiresConfirmation bool
	Message              string // user-facing prompt, set when Action is ask_user
}

// Adviser is an optional external judgment call that may substitute for the
// heuristic's lower-priority tiers. Errors and timeouts fall back to the
// deterministic heuristic.
type Adviser interface {
	Advise(ctx context.Context, sig *Signal, taskContext string) (*Decision, error)
}

// Manager owns signal state for one task: the pending set, resolution
// history, the user's ignore list, and the record of which fixes worked
// before. State is private to the instance; a fresh Manager starts clean.
type Manager struct {
	mu           sync.Mutex
	pending      map[string]*Signal
	history      []*Signal
	ignoredRules map[string]bool
	fixSuccesses map[string]int // rule id -> successful fix_and_retry count

	threshold    int
	adviser      Adviser
	adviseBudget time.Duration
	taskContext  string
	bus          *events.EventBus
	logger       *log.Logger
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithPendingThreshold sets how many unresolved signals trigger a rollback
// decision. Defaults to 3.
func WithPendingThreshold(n int) ManagerOption {
	return func(m *Manager) { m.threshold = n }
}

// WithAdviser installs an external judgment call with a fixed time budget.
func WithAdviser(a Adviser, budget time.Duration) ManagerOption {
	return func(m *Manager) {
		m.adviser = a
		m.adviseBudget = budget
	}
}

// WithTaskContext records the task description passed to the adviser.
func WithTaskContext(desc string) ManagerOption {
	return func(m *Manager) { m.taskContext = desc }
}

// WithEventBus publishes an event per raised signal.
func WithEventBus(bus *events.EventBus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// SetTaskContext updates the task description passed to the adviser.
func (m *Manager) SetTaskContext(desc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskContext = desc
}

// NewManager creates an empty signal manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		pending:      make(map[string]*Signal),
		ignoredRules: make(map[string]bool),
		fixSuccesses: make(map[string]int),
		threshold:    3,
		adviseBudget: 10 * time.Second,
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Raise wraps an issue into a pending signal and registers it.
func (m *Manager) Raise(issue verify.Issue, sctx StepContext) *Signal {
	sig := New(issue, sctx)

	m.mu.Lock()
	m.pending[sig.ID] = sig
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.TopicVerify, events.SignalRaisedEvent{
			ID:        sctx.StepID,
			SignalID:  sig.ID,
			Type:      string(sig.Type),
			Severity:  string(issue.Severity),
			Message:   issue.Message,
			Timestamp: time.Now(),
		})
	}
	return sig
}

// Decide chooses an action for a signal. The heuristic tiers are evaluated
// in strict priority order; an installed adviser may substitute for the two
// lowest tiers only, and any adviser failure falls back to them.
func (m *Manager) Decide(ctx context.Context, sig *Signal) Decision {
	m.mu.Lock()
	ignored := m.ignoredRules[sig.Issue.RuleID]
	fixes := m.fixSuccesses[sig.Issue.RuleID]
	pendingCount := len(m.pending)
	taskContext := m.taskContext
	m.mu.Unlock()

	// 1. Explicitly ignored rule: the user already said this is fine.
	if ignored {
		return Decision{
			Action:     ActionIgnoreOnce,
			Confidence: 0.95,
			Reasoning:  fmt.Sprintf("rule %s is on the ignore list", sig.Issue.RuleID),
		}
	}

	// 2. A fix that worked before is worth repeating; confidence grows with
	// each prior success.
	if fixes > 0 {
		conf := 0.5 + 0.15*float64(fixes)
		if conf > 0.95 {
			conf = 0.95
		}
		return Decision{
			Action:     ActionFixAndRetry,
			Confidence: conf,
			Reasoning:  fmt.Sprintf("fix_and_retry resolved rule %s %d time(s) before", sig.Issue.RuleID, fixes),
		}
	}

	// 3. Too many unresolved signals: stop compounding damage.
	if m.threshold > 0 && pendingCount >= m.threshold {
		return Decision{
			Action:     ActionRollback,
			Confidence: 0.8,
			Reasoning:  fmt.Sprintf("%d unresolved signals pending (threshold %d)", pendingCount, m.threshold),
		}
	}

	if m.adviser != nil {
		if d, err := m.advise(ctx, sig, taskContext); err == nil && d != nil {
			return *d
		} else if err != nil {
			m.logger.Printf("[signal] adviser failed for %s, using heuristic: %v", sig.ID, err)
		}
	}

	// 4. Blocking issues need a human.
	if sig.Issue.Severity == verify.SeverityBlock {
		return Decision{
			Action:               ActionAskUser,
			Confidence:           0.9,
			Reasoning:            "blocking issue requires confirmation",
			RequiresConfirmation: true,
			Message:              ConfirmationMessage(sig),
		}
	}

	// 5. Warnings proceed, noted.
	return Decision{
		Action:     ActionIgnoreOnce,
		Confidence: 0.6,
		Reasoning:  "non-blocking issue, proceeding",
	}
}

func (m *Manager) advise(ctx context.Context, sig *Signal, taskContext string) (*Decision, error) {
	actx, cancel := context.WithTimeout(ctx, m.adviseBudget)
	defer cancel()
	return m.adviser.Advise(actx, sig, taskContext)
}

// Resolve closes out a pending signal. Resolving an already-resolved signal
// is an explicit error, never a silent duplicate history entry.
func (m *Manager) Resolve(id string, action Action, success bool, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sig, ok := m.pending[id]
	if !ok {
		for _, h := range m.history {
			if h.ID == id {
				return fmt.Errorf("signal %s already resolved", id)
			}
		}
		return fmt.Errorf("signal %s not found", id)
	}

	sig.Resolution = &Resolution{
		Action:      action,
		Success:     success,
		Description: description,
		Timestamp:   time.Now(),
	}
	switch action {
	case ActionIgnoreOnce:
		sig.Status = StatusIgnored
	case ActionAskUser:
		sig.Status = StatusEscalated
	default:
		sig.Status = StatusResolved
	}

	delete(m.pending, id)
	m.history = append(m.history, sig)

	if action == ActionFixAndRetry && success {
		m.fixSuccesses[sig.Issue.RuleID]++
	}
	return nil
}

// IgnoreRule adds a rule id to the ignore list. The list persists until
// Reset; it is never cleared implicitly.
func (m *Manager) IgnoreRule(ruleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ignoredRules[ruleID] = true
}

// Pending returns the unresolved signals, oldest first.
func (m *Manager) Pending() []*Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Signal, 0, len(m.pending))
	for _, sig := range m.pending {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// History returns resolved signals in resolution order.
func (m *Manager) History() []*Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Signal(nil), m.history...)
}

// Reset deliberately clears all signal state, including the ignore list.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[string]*Signal)
	m.history = nil
	m.ignoredRules = make(map[string]bool)
	m.fixSuccesses = make(map[string]int)
}

// ConfirmationMessage formats the prompt shown when a signal needs a human
// decision: the problem, the suggested fix, and three numbered options.
func ConfirmationMessage(sig *Signal) string {
	fix := "no automatic fix available"
	if sig.Issue.Fix != nil {
		fix = sig.Issue.Fix.Description
		if sig.Issue.Fix.Formula != "" {
			fix += " (" + sig.Issue.Fix.Formula + ")"
		}
	}
	return fmt.Sprintf(
		"Problem detected on sheet %q:\n  %s\n\nSuggested fix: %s\n\nHow should I proceed?\n  1. Roll back the change\n  2. Ignore and continue\n  3. Abort the task",
		sig.Issue.Sheet, sig.Issue.Message, fix,
	)
}
