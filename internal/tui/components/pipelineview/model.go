// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipelineview

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/protocol"
	"github.com/noldarim/codeforge/internal/tui/components/agentfeed"
	"github.com/noldarim/codeforge/internal/tui/components/phaseprogress"
	"github.com/noldarim/codeforge/internal/tui/components/pipelinesummary"
	"github.com/noldarim/codeforge/internal/tui/layout"
)

// statusBarHeight is the separator plus the status line.
const statusBarHeight = 2

// EventMsg carries one event from the run's subscription.
type EventMsg struct {
	Event protocol.Event
}

// StreamClosedMsg signals that the subscription was closed.
type StreamClosedMsg struct{}

// CancelConfirmedMsg signals that the orchestrator recorded the cancellation.
type CancelConfirmedMsg struct {
	Err error
}

// TickMsg refreshes the elapsed timer.
type TickMsg time.Time

// State is where the view is in its lifecycle.
type State int

const (
	StateRunning State = iota
	StateCancelling
	StateDone
)

// CancelRequestFunc is called when the user presses Ctrl+C. It must not
// block; report the outcome with CancelConfirmedMsg.
type CancelRequestFunc func()

// Model follows one run: a scrollable agent feed above a fixed status bar.
type Model struct {
	viewport viewport.Model
	spinner  spinner.Model
	width    int
	height   int

	feed     agentfeed.Model
	progress phaseprogress.Model
	summary  pipelinesummary.Model

	events <-chan protocol.Event
	runID  string

	state     State
	runStatus models.RunStatus
	started   time.Time
	elapsed   time.Duration

	files        models.FileChanges
	review       *models.ReviewResult
	errorDetails *models.ErrorDetails
	cancelErr    error

	cancelRequest CancelRequestFunc
}

// New creates a view reading events from ch.
func New(width, height int, runID string, maxIterations int, ch <-chan protocol.Event) Model {
	vp := viewport.New(width, max(height-statusBarHeight, 3))
	vp.SetContent("Waiting for agent output...")

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = layout.AccentStyle

	return Model{
		viewport:  vp,
		spinner:   sp,
		width:     width,
		height:    height,
		feed:      agentfeed.New(width),
		progress:  phaseprogress.New(maxIterations),
		summary:   pipelinesummary.New(),
		events:    ch,
		runID:     runID,
		runStatus: models.RunStatusRunning,
		started:   time.Now(),
	}
}

// SetCancelRequest sets the function to call when user requests cancellation (Ctrl+C)
func (m Model) SetCancelRequest(fn CancelRequestFunc) Model {
	m.cancelRequest = fn
	return m
}

// WaitForEvent reads the next event from ch.
func WaitForEvent(ch <-chan protocol.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return StreamClosedMsg{}
		}
		return EventMsg{Event: e}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// Init starts listening, the spinner and the timer.
func (m Model) Init() tea.Cmd {
	return tea.Batch(WaitForEvent(m.events), m.spinner.Tick, tick())
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.state == StateRunning && m.cancelRequest != nil {
				m.state = StateCancelling
				m.feed = m.feed.Note("Cancelling run " + m.runID + " (Ctrl+C again to quit without waiting)")
				m.refresh()
				m.cancelRequest()
				return m, nil
			}
			return m.finish()
		case "q":
			if m.state == StateDone || m.cancelRequest == nil {
				return m.finish()
			}
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-statusBarHeight, 3)
		m.feed = m.feed.SetWidth(msg.Width)
		m.refresh()
		return m, nil

	case TickMsg:
		if m.state == StateDone {
			return m, nil
		}
		m.elapsed = time.Since(m.started)
		return m, tick()

	case spinner.TickMsg:
		if m.state == StateDone {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case CancelConfirmedMsg:
		if msg.Err != nil {
			m.cancelErr = msg.Err
			m.feed = m.feed.Note("Cancel failed: " + msg.Err.Error())
			m.state = StateRunning
			m.refresh()
			return m, nil
		}
		m.runStatus = models.RunStatusCancelled
		m.progress = m.progress.Apply(models.PhaseCancelled, models.RunStatusCancelled, m.progress.Iteration())
		return m.finish()

	case StreamClosedMsg:
		return m.finish()

	case EventMsg:
		m = m.apply(msg.Event)
		m.refresh()
		if m.state == StateDone {
			return m.finish()
		}
		return m, WaitForEvent(m.events)
	}

	return m, nil
}

// apply folds one event into the model.
func (m Model) apply(e protocol.Event) Model {
	switch ev := e.(type) {
	case protocol.PhaseChangeEvent:
		prev := m.progress.Phase()
		m.progress = m.progress.Apply(ev.Phase, ev.Status, ev.Iteration)
		m.runStatus = ev.Status
		switch {
		case ev.Phase == models.PhaseFixing && prev != models.PhaseFixing:
			m.feed = m.feed.Begin(models.RoleCoder, fmt.Sprintf("Coder (fix %d)", ev.Iteration))
		case ev.Phase == models.PhaseReviewing && prev != models.PhaseReviewing && ev.Iteration > 0:
			m.feed = m.feed.Begin(models.RoleReviewer, fmt.Sprintf("Reviewer (iteration %d)", ev.Iteration+1))
		}
		if ev.Status == models.RunStatusCancelled {
			m.feed = m.feed.Note("Run cancelled")
			m.state = StateDone
		}

	case protocol.AgentLogEvent:
		m.feed = m.feed.Append(ev.Agent, ev.Chunk)

	case protocol.TaskStatusEvent:
		m.feed = m.feed.Note("Task moved to " + string(ev.NewStatus))

	case protocol.ErrorEvent:
		m.errorDetails = ev.ErrorDetails
		if m.errorDetails == nil {
			m.errorDetails = &models.ErrorDetails{Type: ev.Type, Message: ev.Message, RetryCount: ev.RetryCount, MaxRetries: ev.MaxRetries}
		}
		if m.runStatus == models.RunStatusRunning {
			m.runStatus = models.RunStatusPaused
		}
		m.feed = m.feed.Note("Error: " + ev.Message)
		m.state = StateDone

	case protocol.PipelineCompleteEvent:
		m.files = ev.FileChanges
		m.review = ev.ReviewFindings
		if m.runStatus == models.RunStatusRunning {
			m.runStatus = models.RunStatusFailed
			if ev.Result == protocol.ResultPassed {
				m.runStatus = models.RunStatusPassed
			}
		}
		m.state = StateDone
	}
	return m
}

func (m Model) finish() (tea.Model, tea.Cmd) {
	m.state = StateDone
	m.elapsed = time.Since(m.started)
	m.summary = m.summary.SetData(pipelinesummary.SummaryData{
		RunID:        m.runID,
		Status:       m.runStatus,
		Duration:     m.elapsed,
		Iteration:    m.progress.Iteration(),
		Files:        m.files,
		Review:       m.review,
		ErrorDetails: m.errorDetails,
	})
	return m, tea.Quit
}

func (m *Model) refresh() {
	content := m.feed.Render()
	if content == "" {
		content = "Waiting for agent output..."
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

// State returns the lifecycle state.
func (m Model) State() State { return m.state }

// RunStatus returns the last known run status.
func (m Model) RunStatus() models.RunStatus { return m.runStatus }

// Feed returns the accumulated agent output.
func (m Model) Feed() agentfeed.Model { return m.feed }

// Summary returns the summary model for final display.
func (m Model) Summary() pipelinesummary.Model { return m.summary }
