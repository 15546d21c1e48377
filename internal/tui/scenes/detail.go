package scenes

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"rulegate/internal/dryrun"
	"rulegate/internal/rules"
	"rulegate/internal/suggestion"
	"rulegate/internal/tui/api"
	"rulegate/internal/tui/styles"
)

type detailMode int

const (
	modeView detailMode = iota
	modeApprove
	modeReject
)

// DetailScene shows one suggestion with its impact and overlap reports
// and hosts the approve/reject forms.
type DetailScene struct {
	client *api.Client

	sg      *suggestion.Suggestion
	err     string
	notice  string
	loading bool

	mode  detailMode
	notes string
	ack   bool

	width  int
	height int
}

// detailMsg carries a loaded suggestion.
type detailMsg struct {
	sg  *suggestion.Suggestion
	err string
}

// decisionMsg carries the outcome of an approve or reject call.
type decisionMsg struct {
	sg       *suggestion.Suggestion
	approved bool
	err      string
}

// NewDetailScene creates the detail scene.
func NewDetailScene(client *api.Client) *DetailScene {
	return &DetailScene{client: client}
}

// Load fetches the suggestion and resets any form state.
func (d *DetailScene) Load(id string) tea.Cmd {
	d.sg = nil
	d.err = ""
	d.notice = ""
	d.mode = modeView
	d.notes = ""
	d.ack = false
	d.loading = true
	return func() tea.Msg {
		sg, err := d.client.Suggestion(id)
		if err != nil {
			return detailMsg{err: err.Error()}
		}
		return detailMsg{sg: sg}
	}
}

// Update handles messages for the detail scene.
func (d *DetailScene) Update(msg tea.Msg) (*DetailScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		return d, nil

	case detailMsg:
		d.loading = false
		d.sg = msg.sg
		d.err = msg.err
		return d, nil

	case decisionMsg:
		d.loading = false
		if msg.err != "" {
			d.err = msg.err
			return d, nil
		}
		d.sg = msg.sg
		d.mode = modeView
		d.err = ""
		if msg.approved {
			d.notice = fmt.Sprintf("Approved; rule %s promoted.", msg.sg.Rule.Name)
		} else {
			d.notice = "Rejected."
		}
		return d, nil

	case tea.KeyMsg:
		if d.mode != modeView {
			return d.updateForm(msg)
		}
		switch msg.String() {
		case "esc", "b":
			return d, func() tea.Msg { return CloseDetailMsg{} }
		case "a":
			if d.canDecide() {
				d.mode = modeApprove
				d.notes = ""
				d.ack = false
				d.err = ""
				d.notice = ""
			}
		case "x":
			if d.canDecide() {
				d.mode = modeReject
				d.notes = ""
				d.err = ""
				d.notice = ""
			}
		case "r":
			if d.sg != nil {
				return d, d.Load(d.sg.ID)
			}
		}
		return d, nil
	}

	return d, nil
}

func (d *DetailScene) canDecide() bool {
	return d.sg != nil && d.sg.Status == suggestion.StatusPending
}

// InForm reports whether a decision form is capturing keystrokes. The
// root model must not treat keys as global shortcuts while this holds.
func (d *DetailScene) InForm() bool {
	return d.mode != modeView
}

// updateForm handles key input while a decision form is open. Notes are
// captured rune by rune; tab toggles the impact acknowledgement.
func (d *DetailScene) updateForm(msg tea.KeyMsg) (*DetailScene, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		d.mode = modeView
		d.err = ""
		return d, nil

	case tea.KeyEnter:
		return d, d.submitDecision()

	case tea.KeyTab:
		if d.mode == modeApprove {
			d.ack = !d.ack
		}
		return d, nil

	case tea.KeyBackspace:
		if len(d.notes) > 0 {
			runes := []rune(d.notes)
			d.notes = string(runes[:len(runes)-1])
		}
		return d, nil

	case tea.KeySpace:
		d.notes += " "
		return d, nil

	case tea.KeyRunes:
		d.notes += string(msg.Runes)
		return d, nil
	}

	return d, nil
}

func (d *DetailScene) submitDecision() tea.Cmd {
	id := d.sg.ID
	notes := d.notes
	ack := d.ack
	approve := d.mode == modeApprove
	d.loading = true

	return func() tea.Msg {
		if approve {
			sg, err := d.client.Approve(id, notes, ack)
			if err != nil {
				return decisionMsg{err: err.Error()}
			}
			return decisionMsg{sg: sg, approved: true}
		}
		sg, err := d.client.Reject(id, notes)
		if err != nil {
			return decisionMsg{err: err.Error()}
		}
		return decisionMsg{sg: sg}
	}
}

// View renders the suggestion detail.
func (d *DetailScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Suggestion Detail"))
	b.WriteString("\n\n")

	if d.loading && d.sg == nil {
		b.WriteString(styles.Muted.Render("  Loading..."))
		return b.String()
	}
	if d.sg == nil {
		if d.err != "" {
			b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", d.err)))
		} else {
			b.WriteString(styles.Muted.Render("  No suggestion selected."))
		}
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  [esc] Back to queue"))
		return b.String()
	}

	sg := d.sg

	badge := styles.StatusBadge(string(sg.Status)).Render(strings.ToUpper(string(sg.Status)))
	b.WriteString(fmt.Sprintf("  %s  %s\n", badge, styles.Muted.Render(sg.ID)))
	b.WriteString(fmt.Sprintf("  Author: %s  |  Created: %s  |  Expires: %s\n",
		sg.Author,
		sg.CreatedAt.Local().Format("Jan 02 15:04"),
		sg.ExpiresAt.Local().Format("Jan 02 15:04")))
	if sg.Status != suggestion.StatusPending && sg.Approver != "" {
		b.WriteString(fmt.Sprintf("  Decided by: %s", sg.Approver))
		if sg.Notes != "" {
			b.WriteString(fmt.Sprintf("  |  Notes: %s", truncate(sg.Notes, 60)))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("  %s  %s\n", styles.SectionLabel.Render("Instruction:"), truncate(sg.Instruction, 90)))
	b.WriteString("\n")

	d.renderRule(&b, sg)
	d.renderImpact(&b, sg)
	d.renderOverlap(&b, sg)
	d.renderViolations(&b, sg)

	if d.notice != "" {
		b.WriteString("\n")
		b.WriteString(styles.StatusOK.Render("  " + d.notice))
		b.WriteString("\n")
	}
	if d.err != "" {
		b.WriteString("\n")
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", d.err)))
		b.WriteString("\n")
	}

	if d.mode != modeView {
		b.WriteString("\n")
		b.WriteString(d.renderForm())
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString("\n")
	if d.canDecide() {
		b.WriteString(styles.Muted.Render("  [a] Approve  [x] Reject  [r] Reload  [esc] Back"))
	} else {
		b.WriteString(styles.Muted.Render("  [r] Reload  [esc] Back"))
	}

	return b.String()
}

func (d *DetailScene) renderRule(b *strings.Builder, sg *suggestion.Suggestion) {
	if sg.Rule == nil {
		return
	}
	b.WriteString(fmt.Sprintf("  %s %s  decision=%s\n",
		styles.SectionLabel.Render("Rule:"), sg.Rule.Name, sg.Rule.Decision))
	b.WriteString(styles.Muted.Render(fmt.Sprintf("  %s\n", truncate(sg.Rule.Description, 90))))
	for i := range sg.Rule.Conditions {
		writeCondition(b, &sg.Rule.Conditions[i], 2)
	}
	b.WriteString("\n")
}

// writeCondition renders one condition node, indenting nested groups.
func writeCondition(b *strings.Builder, c *rules.Condition, depth int) {
	pad := strings.Repeat("  ", depth)
	switch c.Kind() {
	case rules.KindLeaf:
		b.WriteString(fmt.Sprintf("%s- %s %s %v\n", pad, c.Field, c.Op, c.Value))
	case rules.KindAll:
		b.WriteString(pad + "- all of:\n")
		for i := range c.All {
			writeCondition(b, &c.All[i], depth+1)
		}
	case rules.KindAny:
		b.WriteString(pad + "- any of:\n")
		for i := range c.Any {
			writeCondition(b, &c.Any[i], depth+1)
		}
	}
}

func (d *DetailScene) renderImpact(b *strings.Builder, sg *suggestion.Suggestion) {
	b.WriteString(fmt.Sprintf("  %s\n", styles.SectionLabel.Render("Impact:")))

	if sg.ImpactUnavailable != "" {
		b.WriteString(styles.StatusWarning.Render(fmt.Sprintf("  %s\n", sg.ImpactUnavailable)))
		b.WriteString("\n")
		return
	}
	if sg.Impact == nil {
		b.WriteString(styles.Muted.Render("  No impact report.\n\n"))
		return
	}

	imp := sg.Impact
	b.WriteString(fmt.Sprintf("  Sample %d records, %d matches (%.1f%%), FP risk %s\n",
		imp.SampleSize, imp.Matches, imp.MatchRate, renderFPRisk(imp.FPRisk)))
	b.WriteString(fmt.Sprintf("  Baseline  allow %5.1f%%  review %5.1f%%  block %5.1f%%\n",
		imp.BaselineRates.Allow, imp.BaselineRates.Review, imp.BaselineRates.Block))
	b.WriteString(fmt.Sprintf("  Proposed  allow %5.1f%%  review %5.1f%%  block %5.1f%%\n",
		imp.ProposedRates.Allow, imp.ProposedRates.Review, imp.ProposedRates.Block))
	b.WriteString(fmt.Sprintf("  Delta     allow %+5.1f%%  review %+5.1f%%  block %+5.1f%%\n",
		imp.Deltas.Allow, imp.Deltas.Review, imp.Deltas.Block))
	for _, ex := range imp.Examples {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  %s  %.2f %s  %s -> %s\n",
			ex.ID, ex.Amount, ex.Device, ex.Baseline, ex.Proposed)))
	}
	b.WriteString("\n")
}

func renderFPRisk(risk dryrun.FPRisk) string {
	switch risk {
	case dryrun.FPRiskHigh:
		return styles.StatusError.Render("HIGH")
	case dryrun.FPRiskMedium:
		return styles.StatusWarning.Render("MEDIUM")
	default:
		return styles.StatusOK.Render("LOW")
	}
}

func (d *DetailScene) renderOverlap(b *strings.Builder, sg *suggestion.Suggestion) {
	if len(sg.Overlap) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("  %s\n", styles.SectionLabel.Render("Overlap:")))
	for _, entry := range sg.Overlap {
		line := fmt.Sprintf("  %-24s %.2f  %s", truncate(entry.RuleName, 24), entry.Score, entry.Interpretation)
		if entry.Score >= 0.7 {
			b.WriteString(styles.StatusWarning.Render(line))
		} else {
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func (d *DetailScene) renderViolations(b *strings.Builder, sg *suggestion.Suggestion) {
	if len(sg.Violations) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("  %s\n", styles.SectionLabel.Render("Warnings:")))
	for _, v := range sg.Violations {
		b.WriteString(styles.StatusWarning.Render(fmt.Sprintf("  [%s] %s\n", v.Type, truncate(v.Message, 80))))
	}
	b.WriteString("\n")
}

func (d *DetailScene) renderForm() string {
	var b strings.Builder

	if d.mode == modeApprove {
		b.WriteString(styles.SectionLabel.Render("Approve suggestion"))
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("Notes: %s_\n", d.notes))
		ackBox := "[ ]"
		if d.ack {
			ackBox = styles.StatusOK.Render("[x]")
		}
		b.WriteString(fmt.Sprintf("%s I reviewed the impact and overlap reports (tab to toggle)\n", ackBox))
		b.WriteString(styles.Muted.Render("[enter] Submit  [esc] Cancel"))
	} else {
		b.WriteString(styles.SectionLabel.Render("Reject suggestion"))
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("Notes: %s_\n", d.notes))
		b.WriteString(styles.Muted.Render("[enter] Submit  [esc] Cancel"))
	}

	return styles.FormBox.Render(b.String())
}
