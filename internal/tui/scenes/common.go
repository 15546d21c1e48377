// Package scenes provides the reviewer TUI scenes.
package scenes

import "time"

// TickMsg is sent on each tick. Exported for the parent model, which
// forwards it only to the active scene.
type TickMsg struct {
	Scene string
	Time  time.Time
}

// OpenDetailMsg asks the parent model to open the detail scene.
type OpenDetailMsg struct {
	ID string
}

// CloseDetailMsg asks the parent model to return to the queue.
type CloseDetailMsg struct{}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
