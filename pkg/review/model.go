// Package review is the interactive terminal queue human reviewers use to
// approve or reject pending promotion proposals.
package review

import (
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/entrhq/mnemis/pkg/memory"
	"github.com/entrhq/mnemis/pkg/memory/promotion"
	"github.com/entrhq/mnemis/pkg/review/syntax"
)

// Reviewer decides proposals. *promotion.Engine satisfies it.
type Reviewer interface {
	Pending(f promotion.Filter) []*memory.Proposal
	Approve(proposalID, reviewer, notes string) (string, error)
	Reject(proposalID, reviewer, notes string) error
}

// EntrySource resolves the entry a proposal refers to. *store.Store
// satisfies it.
type EntrySource interface {
	Lookup(id string) (*memory.Entry, error)
}

type mode int

const (
	modeBrowse mode = iota
	modeNotes
)

type decision int

const (
	decisionApprove decision = iota
	decisionReject
)

func (d decision) String() string {
	if d == decisionReject {
		return "reject"
	}
	return "approve"
}

// decidedMsg reports the outcome of an approve or reject.
type decidedMsg struct {
	proposalID string
	decision   decision
	promotedID string
	err        error
}

// copiedMsg reports the outcome of a clipboard copy.
type copiedMsg struct {
	id  string
	err error
}

// Model is the bubbletea model of the review queue.
type Model struct {
	reviewer Reviewer
	entries  EntrySource
	name     string
	filter   promotion.Filter

	list   list.Model
	notes  textinput.Model
	detail viewport.Model

	mode      mode
	deciding  decision
	status    string
	statusErr bool
	copy      func(string) error

	width    int
	height   int
	quitting bool
}

// Option configures a Model.
type Option func(*Model)

// WithFilter restricts the queue, for example to one project.
func WithFilter(f promotion.Filter) Option {
	return func(m *Model) {
		m.filter = f
	}
}

// WithClipboard replaces the system clipboard writer.
func WithClipboard(write func(string) error) Option {
	return func(m *Model) {
		m.copy = write
	}
}

// New creates a review queue that records decisions under reviewerName.
func New(r Reviewer, entries EntrySource, reviewerName string, opts ...Option) *Model {
	l := list.New(nil, newDelegate(), 0, 0)
	l.Title = "Pending promotions"
	l.Styles.Title = titleStyle
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	ti := textinput.New()
	ti.Placeholder = "review notes"
	ti.CharLimit = 500
	ti.Cursor.SetMode(cursor.CursorStatic)

	m := &Model{
		reviewer: r,
		entries:  entries,
		name:     reviewerName,
		list:     l,
		notes:    ti,
		detail:   viewport.New(0, 0),
		copy:     clipboard.WriteAll,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.resize(100, 30)
	m.reload()
	return m
}

// Run starts the queue in the alternate screen and blocks until the
// reviewer quits.
func Run(m *Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case decidedMsg:
		m.handleDecided(msg)
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("copy failed: %v", msg.err), true)
		} else {
			m.setStatus("copied "+msg.id, false)
		}
		return m, nil

	case tea.KeyMsg:
		if m.mode == modeNotes {
			return m.updateNotes(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m *Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "a":
		return m, m.startNotes(decisionApprove)
	case "r":
		return m, m.startNotes(decisionReject)
	case "y":
		if p := m.Selected(); p != nil {
			return m, m.copyID(p.ID)
		}
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd
	}

	before := m.list.Index()
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	if m.list.Index() != before {
		m.refreshDetail()
	}
	return m, cmd
}

func (m *Model) updateNotes(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyCtrlC:
		m.endNotes()
		m.setStatus("cancelled", false)
		return m, nil
	case tea.KeyEnter:
		p := m.Selected()
		if p == nil {
			m.endNotes()
			return m, nil
		}
		notes := strings.TrimSpace(m.notes.Value())
		if m.deciding == decisionReject && notes == "" {
			m.setStatus("rejecting needs notes", true)
			return m, nil
		}
		d := m.deciding
		m.endNotes()
		return m, m.decide(p.ID, d, notes)
	}

	var cmd tea.Cmd
	m.notes, cmd = m.notes.Update(msg)
	return m, cmd
}

func (m *Model) startNotes(d decision) tea.Cmd {
	if m.Selected() == nil {
		m.setStatus("nothing to review", true)
		return nil
	}
	m.mode = modeNotes
	m.deciding = d
	m.notes.Reset()
	m.setStatus("", false)
	return m.notes.Focus()
}

func (m *Model) endNotes() {
	m.mode = modeBrowse
	m.notes.Blur()
	m.notes.Reset()
}

// decide runs the decision off the update loop.
func (m *Model) decide(proposalID string, d decision, notes string) tea.Cmd {
	r, name := m.reviewer, m.name
	return func() tea.Msg {
		msg := decidedMsg{proposalID: proposalID, decision: d}
		if d == decisionApprove {
			msg.promotedID, msg.err = r.Approve(proposalID, name, notes)
		} else {
			msg.err = r.Reject(proposalID, name, notes)
		}
		return msg
	}
}

func (m *Model) copyID(id string) tea.Cmd {
	write := m.copy
	return func() tea.Msg {
		return copiedMsg{id: id, err: write(id)}
	}
}

func (m *Model) handleDecided(msg decidedMsg) {
	if msg.err != nil {
		m.setStatus(fmt.Sprintf("%s %s failed: %v", msg.decision, shortID(msg.proposalID), msg.err), true)
		m.reload()
		return
	}
	if msg.decision == decisionApprove {
		m.setStatus(fmt.Sprintf("approved %s, promoted memory %s", shortID(msg.proposalID), msg.promotedID), false)
	} else {
		m.setStatus(fmt.Sprintf("rejected %s", shortID(msg.proposalID)), false)
	}
	m.reload()
}

// reload refreshes the queue from the reviewer, keeping the cursor in range.
func (m *Model) reload() {
	pending := m.reviewer.Pending(m.filter)
	items := make([]list.Item, len(pending))
	for i, p := range pending {
		items[i] = proposalItem{proposal: p}
	}
	idx := m.list.Index()
	m.list.SetItems(items)
	if idx >= len(items) {
		idx = len(items) - 1
	}
	if idx >= 0 {
		m.list.Select(idx)
	}
	m.refreshDetail()
}

func (m *Model) refreshDetail() {
	m.detail.SetContent(m.renderDetail())
	m.detail.GotoTop()
}

func (m *Model) renderDetail() string {
	p := m.Selected()
	if p == nil {
		return helpStyle.Render("No pending proposals.")
	}

	var b strings.Builder
	field := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-12s", label)))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	field("proposal", p.ID)
	field("memory", p.MemoryID)
	field("from", tierLabel(p.FromScope))
	field("to", tierLabel(p.ToScope))
	field("proposed by", p.ProposedBy)
	field("proposed at", p.ProposedAt.Format("2006-01-02 15:04:05Z07:00"))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("rationale"))
	b.WriteString("\n")
	b.WriteString(valueStyle.Render(p.Rationale))
	b.WriteString("\n\n")

	if m.entries == nil {
		return b.String()
	}
	e, err := m.entries.Lookup(p.MemoryID)
	if err != nil {
		b.WriteString(errorStyle.Render("source memory is no longer available"))
		return b.String()
	}
	if len(e.Tags) > 0 {
		field("tags", strings.Join(e.Tags, ", "))
	}
	b.WriteString(labelStyle.Render("content"))
	b.WriteString("\n")
	content, err := syntax.JSON(e.Content)
	if content == "" && err != nil {
		content = fmt.Sprintf("%v", e.Content)
	}
	b.WriteString(content)
	return b.String()
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	listWidth := width * 2 / 5
	bodyHeight := max(height-5, 3)

	m.list.SetSize(listWidth, bodyHeight)
	m.detail.Width = max(width-listWidth-4, 10)
	m.detail.Height = max(bodyHeight-2, 1)
	m.notes.Width = max(width-8, 10)
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

// Selected returns the highlighted proposal, or nil when the queue is empty.
func (m *Model) Selected() *memory.Proposal {
	item, ok := m.list.SelectedItem().(proposalItem)
	if !ok {
		return nil
	}
	return item.proposal
}

// Status returns the last status line.
func (m *Model) Status() string {
	return m.status
}

// Len returns the number of proposals in the queue.
func (m *Model) Len() int {
	return len(m.list.Items())
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.list.View(),
		detailBoxStyle.Render(m.detail.View()),
	)

	var footer string
	if m.mode == modeNotes {
		prompt := fmt.Sprintf("%s notes: ", m.deciding)
		footer = inputBoxStyle.Render(prompt + m.notes.View())
	} else {
		footer = helpStyle.Render("↑/↓ select • a approve • r reject • y copy id • pgup/pgdn scroll • q quit")
	}

	status := ""
	if m.status != "" {
		if m.statusErr {
			status = errorStyle.Render(m.status)
		} else {
			status = successStyle.Render(m.status)
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, body, status, footer)
}
