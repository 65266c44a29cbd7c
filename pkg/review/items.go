package review

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/entrhq/mnemis/pkg/memory"
)

// proposalItem is one pending proposal in the queue.
type proposalItem struct {
	proposal *memory.Proposal
}

func (i proposalItem) FilterValue() string {
	return i.proposal.Rationale
}

func (i proposalItem) Title() string {
	p := i.proposal
	return fmt.Sprintf("%s → %s  %s", tierLabel(p.FromScope), tierLabel(p.ToScope), shortID(p.ID))
}

func (i proposalItem) Description() string {
	rationale := strings.ReplaceAll(i.proposal.Rationale, "\n", " ")
	if len(rationale) > 60 {
		rationale = rationale[:57] + "..."
	}
	return fmt.Sprintf("%s: %s", i.proposal.ProposedBy, rationale)
}

func tierLabel(s memory.Scope) string {
	label := strings.ToUpper(string(s.Level))
	if s.ProjectID != "" {
		label += "(" + s.ProjectID + ")"
	}
	return label
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newDelegate() list.DefaultDelegate {
	d := list.NewDefaultDelegate()
	d.Styles.SelectedTitle = d.Styles.SelectedTitle.
		Foreground(salmonPink).
		BorderForeground(salmonPink)
	d.Styles.SelectedDesc = d.Styles.SelectedDesc.
		Foreground(mutedGray).
		BorderForeground(salmonPink)
	return d
}
