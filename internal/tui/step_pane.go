package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/sheetagent/internal/events"
)

// StepState tracks one plan step for display: its lifecycle status plus the
// log of everything that happened to it - output, verification findings,
// signals and reflection verdicts.
type StepState struct {
	ID        string
	Action    string
	Status    string // "running", "completed", "failed", "skipped"
	Lines     []string
	StartTime time.Time
	Duration  time.Duration
}

// StepPaneModel is the step list plus a scrollable detail viewport.
type StepPaneModel struct {
	steps       map[string]*StepState // step id -> state
	stepOrder   []string              // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewStepPaneModel creates an empty step pane.
func NewStepPaneModel() StepPaneModel {
	return StepPaneModel{
		steps:    make(map[string]*StepState),
		viewport: viewport.New(0, 0),
	}
}

// Update handles messages for the step pane.
func (m StepPaneModel) Update(msg tea.Msg) (StepPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.stepOrder)-1 {
				m.selectedIdx++
				m.refreshViewport()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.refreshViewport()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.StepStartedEvent:
		if _, exists := m.steps[msg.ID]; !exists {
			m.steps[msg.ID] = &StepState{
				ID:        msg.ID,
				Action:    msg.Action,
				Status:    "running",
				StartTime: msg.Timestamp,
			}
			m.stepOrder = append(m.stepOrder, msg.ID)
			if len(m.stepOrder) == 1 {
				m.selectedIdx = 0
				m.refreshViewport()
			}
		}

	case events.StepCompletedEvent:
		m.appendLine(msg.ID, func(s *StepState) {
			s.Status = "completed"
			s.Duration = msg.Duration
			if msg.Output != "" {
				s.Lines = append(s.Lines, msg.Output)
			}
			s.Lines = append(s.Lines, fmt.Sprintf("[completed in %v]", msg.Duration))
		})

	case events.StepFailedEvent:
		m.appendLine(msg.ID, func(s *StepState) {
			s.Status = "failed"
			s.Duration = msg.Duration
			s.Lines = append(s.Lines, StyleStatusFailed.Render(fmt.Sprintf("[failed: %v]", msg.Err)))
		})

	case events.StepSkippedEvent:
		if _, exists := m.steps[msg.ID]; !exists {
			// Skipped steps never started; register them so the skip is visible.
			m.steps[msg.ID] = &StepState{ID: msg.ID, Status: "skipped"}
			m.stepOrder = append(m.stepOrder, msg.ID)
		}
		m.appendLine(msg.ID, func(s *StepState) {
			s.Status = "skipped"
			s.Lines = append(s.Lines, fmt.Sprintf("[skipped: %s]", msg.Reason))
		})

	case events.IssueFoundEvent:
		m.appendLine(msg.ID, func(s *StepState) {
			style := StyleSeverityWarn
			if msg.Severity == "block" {
				style = StyleSeverityBlock
			}
			s.Lines = append(s.Lines, style.Render(
				fmt.Sprintf("check %s (%s/%s): %s", msg.RuleID, msg.Severity, msg.Confidence, msg.Message)))
		})

	case events.SignalRaisedEvent:
		m.appendLine(msg.ID, func(s *StepState) {
			s.Lines = append(s.Lines, fmt.Sprintf("signal %s raised (%s)", msg.SignalID[:8], msg.Type))
		})

	case events.ReflectionEvent:
		m.appendLine(msg.ID, func(s *StepState) {
			s.Lines = append(s.Lines, fmt.Sprintf("reflection: %s (%.2f) %s", msg.Action, msg.Confidence, msg.Analysis))
		})
	}

	return m, cmd
}

// appendLine mutates one step's state and refreshes the viewport when that
// step is selected.
func (m *StepPaneModel) appendLine(id string, mutate func(*StepState)) {
	step, exists := m.steps[id]
	if !exists {
		return
	}
	mutate(step)
	if m.selectedStepID() == id {
		m.refreshViewport()
	}
}

// View renders the step pane.
func (m StepPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 25
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderStepList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m StepPaneModel) renderStepList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Steps")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.stepOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		for i, id := range m.stepOrder {
			step := m.steps[id]
			label := step.ID
			if step.Action != "" {
				label = fmt.Sprintf("%s (%s)", step.ID, step.Action)
			}
			if len(label) > width-6 {
				label = label[:width-9] + "..."
			}

			line := fmt.Sprintf("%s %s", statusIcon(step.Status), label)
			if i == m.selectedIdx {
				line = lipgloss.NewStyle().
					Background(lipgloss.Color("62")).
					Foreground(lipgloss.Color("0")).
					Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

func statusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "completed":
		return StyleStatusComplete.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m StepPaneModel) selectedStepID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.stepOrder) {
		return m.stepOrder[m.selectedIdx]
	}
	return ""
}

func (m *StepPaneModel) refreshViewport() {
	id := m.selectedStepID()
	step, exists := m.steps[id]
	if !exists {
		m.viewport.SetContent("Waiting for steps...")
		return
	}

	m.viewport.SetContent(strings.Join(step.Lines, "\n"))
	m.viewport.GotoBottom()
}

func (m *StepPaneModel) resizeViewport() {
	listWidth := 25
	viewportWidth := m.width - listWidth - 4
	viewportHeight := m.height - 4

	if viewportWidth < 10 {
		viewportWidth = 10
	}
	if viewportHeight < 5 {
		viewportHeight = 5
	}

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *StepPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *StepPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
