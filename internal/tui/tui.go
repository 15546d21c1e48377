// Package tui provides the reviewer terminal interface: a pending
// queue, a suggestion detail view with approve/reject forms, and the
// audit activity feed.
package tui

import (
	"fmt"
	"strings"

	"rulegate/internal/tui/api"
	"rulegate/internal/tui/scenes"
	"rulegate/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Scene represents the current view.
type Scene int

const (
	SceneQueue Scene = iota
	SceneDetail
	SceneActivity
)

// Model is the main TUI model.
type Model struct {
	client *api.Client

	scene Scene

	// Scene models. Only the active one receives ticks.
	queue    *scenes.QueueScene
	detail   *scenes.DetailScene
	activity *scenes.ActivityScene

	width  int
	height int

	quitting bool
}

// New creates the TUI model around an in-process client.
func New(client *api.Client) *Model {
	return &Model{
		client:   client,
		scene:    SceneQueue,
		queue:    scenes.NewQueueScene(client),
		detail:   scenes.NewDetailScene(client),
		activity: scenes.NewActivityScene(client),
	}
}

// Init starts the queue fetch and its ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.queue.Init(),
		m.getActiveSceneTickCmd(),
	)
}

// getActiveSceneTickCmd returns the ticker for the active scene only.
// The detail scene never ticks; a refresh mid-form would clobber input.
func (m *Model) getActiveSceneTickCmd() tea.Cmd {
	switch m.scene {
	case SceneQueue:
		return m.queue.TickCmd()
	case SceneActivity:
		return m.activity.TickCmd()
	default:
		return nil
	}
}

// Update handles all messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.quitting = true
			return m, tea.Quit
		}

		// A decision form owns the keyboard; "q" there is a letter in
		// the notes, not a quit.
		if m.scene == SceneDetail && m.detail.InForm() {
			var cmd tea.Cmd
			m.detail, cmd = m.detail.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "q":
			m.quitting = true
			return m, tea.Quit

		case "1":
			if m.scene != SceneQueue {
				m.scene = SceneQueue
				cmds = append(cmds, m.queue.Init(), m.queue.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "2":
			if m.scene != SceneActivity {
				m.scene = SceneActivity
				cmds = append(cmds, m.activity.Init(), m.activity.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "tab":
			if m.scene == SceneActivity {
				m.scene = SceneQueue
				cmds = append(cmds, m.queue.Init(), m.queue.TickCmd())
			} else {
				m.scene = SceneActivity
				cmds = append(cmds, m.activity.Init(), m.activity.TickCmd())
			}
			return m, tea.Batch(cmds...)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Pass to all scenes so they can adjust.
		m.queue, _ = m.queue.Update(msg)
		m.detail, _ = m.detail.Update(msg)
		m.activity, _ = m.activity.Update(msg)
		return m, nil

	case scenes.OpenDetailMsg:
		m.scene = SceneDetail
		return m, m.detail.Load(msg.ID)

	case scenes.CloseDetailMsg:
		m.scene = SceneQueue
		return m, tea.Batch(m.queue.Init(), m.queue.TickCmd())

	case scenes.TickMsg:
		// Only the active scene acts on ticks; the root schedules the
		// next one so switching tabs retires stale ticker chains.
		var cmd tea.Cmd
		switch m.scene {
		case SceneQueue:
			m.queue, cmd = m.queue.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.queue.TickCmd())
		case SceneActivity:
			m.activity, cmd = m.activity.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.activity.TickCmd())
		}
		return m, tea.Batch(cmds...)
	}

	// Forward other messages to the active scene only.
	var cmd tea.Cmd
	switch m.scene {
	case SceneQueue:
		m.queue, cmd = m.queue.Update(msg)
	case SceneDetail:
		m.detail, cmd = m.detail.Update(msg)
	case SceneActivity:
		m.activity, cmd = m.activity.Update(msg)
	}

	if cmd != nil {
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the current view.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.scene {
	case SceneQueue:
		b.WriteString(m.queue.View())
	case SceneDetail:
		b.WriteString(m.detail.View())
	case SceneActivity:
		b.WriteString(m.activity.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m *Model) renderHeader() string {
	tabs := []struct {
		name   string
		key    string
		active bool
	}{
		{"Queue", "1", m.scene == SceneQueue || m.scene == SceneDetail},
		{"Activity", "2", m.scene == SceneActivity},
	}

	var tabViews []string
	for _, tab := range tabs {
		label := fmt.Sprintf(" %s %s ", tab.key, tab.name)
		if tab.active {
			tabViews = append(tabViews, styles.TabActive.Render(label))
		} else {
			tabViews = append(tabViews, styles.TabInactive.Render(label))
		}
	}
	tabViews = append(tabViews, styles.Muted.Render(fmt.Sprintf("  reviewer: %s", m.client.Reviewer())))

	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, tabViews...)

	return lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.MutedColor).
		Width(m.width).
		Render(tabBar)
}

func (m *Model) renderFooter() string {
	help := " [1-2] Switch tabs  [Tab] Next tab  [↑↓/jk] Navigate  [Enter] Open  [q] Quit "
	if m.scene == SceneDetail {
		help = " [a] Approve  [x] Reject  [Esc] Back  [q] Quit "
		if m.detail.InForm() {
			help = " [Enter] Submit  [Tab] Toggle ack  [Esc] Cancel "
		}
	}
	return styles.Help.Render(help)
}

// Run starts the TUI application.
func Run(client *api.Client) error {
	m := New(client)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
