package scenes

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"rulegate/internal/suggestion"
	"rulegate/internal/tui/api"
	"rulegate/internal/tui/styles"
)

// QueueScene lists pending suggestions awaiting review.
type QueueScene struct {
	client     *api.Client
	rows       []suggestion.Suggestion
	err        string
	width      int
	height     int
	cursor     int
	offset     int
	maxRows    int
	loading    bool
	lastUpdate time.Time
}

// queueMsg carries a refreshed pending queue.
type queueMsg struct {
	rows []suggestion.Suggestion
	err  string
}

// NewQueueScene creates the queue scene.
func NewQueueScene(client *api.Client) *QueueScene {
	return &QueueScene{
		client:  client,
		loading: true,
		maxRows: 10,
	}
}

// Init starts the first fetch.
func (q *QueueScene) Init() tea.Cmd {
	return q.fetchQueue()
}

func (q *QueueScene) fetchQueue() tea.Cmd {
	return func() tea.Msg {
		rows, err := q.client.Pending(200)
		if err != nil {
			return queueMsg{err: err.Error()}
		}
		return queueMsg{rows: rows}
	}
}

// TickCmd returns the auto-refresh tick. The parent model schedules it
// only while this scene is active.
func (q *QueueScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "queue", Time: t}
	})
}

// Update handles messages for the queue scene.
func (q *QueueScene) Update(msg tea.Msg) (*QueueScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		q.width = msg.Width
		q.height = msg.Height
		q.maxRows = max(5, q.height-12)
		return q, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if q.cursor > 0 {
				q.cursor--
				if q.cursor < q.offset {
					q.offset = q.cursor
				}
			}
		case "down", "j":
			if q.cursor < len(q.rows)-1 {
				q.cursor++
				if q.cursor >= q.offset+q.maxRows {
					q.offset = q.cursor - q.maxRows + 1
				}
			}
		case "pgup":
			q.cursor = max(0, q.cursor-q.maxRows)
			q.offset = max(0, q.offset-q.maxRows)
		case "pgdown":
			q.cursor = min(len(q.rows)-1, q.cursor+q.maxRows)
			q.offset = min(max(0, len(q.rows)-q.maxRows), q.offset+q.maxRows)
		case "r":
			q.loading = true
			return q, q.fetchQueue()
		case "enter":
			if q.cursor < len(q.rows) {
				id := q.rows[q.cursor].ID
				return q, func() tea.Msg { return OpenDetailMsg{ID: id} }
			}
		}
		return q, nil

	case queueMsg:
		q.loading = false
		q.rows = msg.rows
		q.err = msg.err
		q.lastUpdate = time.Now()
		if q.cursor >= len(q.rows) {
			q.cursor = max(0, len(q.rows)-1)
		}
		return q, nil

	case TickMsg:
		if msg.Scene == "queue" {
			return q, q.fetchQueue()
		}
		return q, nil
	}

	return q, nil
}

// View renders the pending queue.
func (q *QueueScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Pending Suggestions"))
	b.WriteString("\n\n")

	if q.loading && len(q.rows) == 0 {
		b.WriteString(styles.Muted.Render("  Loading queue..."))
		return b.String()
	}

	if q.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", q.err)))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Press [r] to retry."))
		return b.String()
	}

	if len(q.rows) == 0 {
		b.WriteString(styles.Muted.Render("  Queue is empty."))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Submitted suggestions appear here until approved, rejected, or expired."))
		return b.String()
	}

	countText := fmt.Sprintf("  %d pending, reviewing as %s", len(q.rows), q.client.Reviewer())
	b.WriteString(styles.Subtitle.Render(countText))
	if q.loading {
		b.WriteString(styles.Muted.Render("  (refreshing...)"))
	}
	b.WriteString("\n\n")

	header := fmt.Sprintf("  %-8s %-24s %-12s %-9s %-8s %s",
		"Created", "Rule", "Author", "Match", "Warnings", "Expires")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	endIdx := min(q.offset+q.maxRows, len(q.rows))
	for i, row := range q.rows[q.offset:endIdx] {
		idx := q.offset + i
		b.WriteString(q.renderRow(&row, idx == q.cursor))
		b.WriteString("\n")
	}

	if len(q.rows) > q.maxRows {
		scrollInfo := fmt.Sprintf("\n  %d-%d of %d (↑↓ scroll, [enter] open, [r] refresh)",
			q.offset+1, endIdx, len(q.rows))
		b.WriteString(styles.Muted.Render(scrollInfo))
	} else {
		b.WriteString(styles.Muted.Render("\n  [enter] Open  [r] Refresh"))
	}

	if !q.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  |  Updated: %s", q.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (q *QueueScene) renderRow(sg *suggestion.Suggestion, selected bool) string {
	created := sg.CreatedAt.Local().Format("15:04")
	rule := "(none)"
	if sg.Rule != nil {
		rule = truncate(sg.Rule.Name, 24)
	}

	match := "n/a"
	if sg.Impact != nil {
		match = fmt.Sprintf("%5.1f%%", sg.Impact.MatchRate)
	}

	warnings := "-"
	if n := len(sg.Violations); n > 0 {
		warnings = fmt.Sprintf("%d", n)
	}

	expires := expiresIn(sg.ExpiresAt)

	row := fmt.Sprintf("  %-8s %-24s %-12s %-9s %-8s %s",
		created, rule, truncate(sg.Author, 12), match, warnings, expires)

	if selected {
		return styles.TableRowSelected.Render(row)
	}
	return row
}

// expiresIn renders the remaining review window.
func expiresIn(deadline time.Time) string {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return "expired"
	}
	if remaining < time.Hour {
		return fmt.Sprintf("%dm", int(remaining.Minutes()))
	}
	return fmt.Sprintf("%dh", int(remaining.Hours()))
}
