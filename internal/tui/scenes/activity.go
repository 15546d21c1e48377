package scenes

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"rulegate/internal/audit"
	"rulegate/internal/tui/api"
	"rulegate/internal/tui/styles"
)

// ActivityScene shows the audit trail feed with the chain verification
// status.
type ActivityScene struct {
	client *api.Client

	entries  []audit.Entry
	chainErr string
	err      string

	width      int
	height     int
	cursor     int
	offset     int
	maxRows    int
	loading    bool
	lastUpdate time.Time
}

// activityMsg carries a fetched audit feed.
type activityMsg struct {
	entries  []audit.Entry
	chainErr string
	err      string
}

// NewActivityScene creates the activity scene.
func NewActivityScene(client *api.Client) *ActivityScene {
	return &ActivityScene{client: client, maxRows: 12, loading: true}
}

// Init starts the first fetch.
func (a *ActivityScene) Init() tea.Cmd {
	return a.fetch()
}

func (a *ActivityScene) fetch() tea.Cmd {
	return func() tea.Msg {
		entries, err := a.client.Activity(100)
		if err != nil {
			return activityMsg{err: err.Error()}
		}
		msg := activityMsg{entries: entries}
		if verr := a.client.VerifyTrail(); verr != nil {
			msg.chainErr = verr.Error()
		}
		return msg
	}
}

// TickCmd schedules the next refresh while the scene is active.
func (a *ActivityScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "activity", Time: t}
	})
}

// Update handles messages for the activity scene.
func (a *ActivityScene) Update(msg tea.Msg) (*ActivityScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.maxRows = max(5, a.height-10)
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if a.cursor > 0 {
				a.cursor--
				if a.cursor < a.offset {
					a.offset = a.cursor
				}
			}
		case "down", "j":
			if a.cursor < len(a.entries)-1 {
				a.cursor++
				if a.cursor >= a.offset+a.maxRows {
					a.offset = a.cursor - a.maxRows + 1
				}
			}
		case "r":
			a.loading = true
			return a, a.fetch()
		}
		return a, nil

	case activityMsg:
		a.loading = false
		a.lastUpdate = time.Now()
		a.err = msg.err
		a.chainErr = msg.chainErr
		if msg.err == "" {
			a.entries = msg.entries
			if a.cursor >= len(a.entries) {
				a.cursor = max(0, len(a.entries)-1)
			}
		}
		return a, nil

	case TickMsg:
		if msg.Scene == "activity" {
			return a, a.fetch()
		}
		return a, nil
	}

	return a, nil
}

// View renders the audit feed.
func (a *ActivityScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Audit Activity"))
	b.WriteString("\n\n")

	if a.chainErr != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  ✗ chain verification failed: %s", a.chainErr)))
	} else if !a.lastUpdate.IsZero() {
		b.WriteString(styles.StatusOK.Render("  ✓ chain verified"))
	}
	b.WriteString("\n\n")

	if a.loading && len(a.entries) == 0 {
		b.WriteString(styles.Muted.Render("  Loading..."))
		return b.String()
	}
	if a.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", a.err)))
		return b.String()
	}
	if len(a.entries) == 0 {
		b.WriteString(styles.Muted.Render("  No audit entries yet."))
		return b.String()
	}

	header := fmt.Sprintf("  %-8s %-22s %-14s %s", "Time", "Action", "Actor", "Resource")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	end := min(a.offset+a.maxRows, len(a.entries))
	for i := a.offset; i < end; i++ {
		row := a.renderRow(&a.entries[i])
		if i == a.cursor {
			b.WriteString(styles.TableRowSelected.Render(row))
		} else {
			b.WriteString(row)
		}
		b.WriteString("\n")
	}

	if len(a.entries) > a.maxRows {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  Showing %d-%d of %d", a.offset+1, end, len(a.entries))))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if !a.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  Updated %s", a.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (a *ActivityScene) renderRow(e *audit.Entry) string {
	return fmt.Sprintf("  %-8s %-22s %-14s %s",
		e.Timestamp.Local().Format("15:04:05"),
		truncate(string(e.Action), 22),
		truncate(e.Actor, 14),
		truncate(e.Resource, 30))
}
