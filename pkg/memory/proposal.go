package memory

import (
	"strings"
	"time"
)

// SystemActor is the identity the store uses for its own bookkeeping. It
// can never review a proposal.
const SystemActor = "system"

// ProposalStatus is the lifecycle state of a promotion proposal.
type ProposalStatus string

const (
	StatusPending  ProposalStatus = "pending"
	StatusApproved ProposalStatus = "approved"
	StatusRejected ProposalStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s ProposalStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Proposal asks a human reviewer to promote an entry one tier up.
type Proposal struct {
	ID          string         `json:"id" yaml:"id"`
	MemoryID    string         `json:"memory_id" yaml:"memory_id"`
	FromScope   Scope          `json:"from_scope" yaml:"from_scope"`
	ToScope     Scope          `json:"to_scope" yaml:"to_scope"`
	Rationale   string         `json:"rationale" yaml:"rationale"`
	ProposedBy  string         `json:"proposed_by" yaml:"proposed_by"`
	ProposedAt  time.Time      `json:"proposed_at" yaml:"proposed_at"`
	Status      ProposalStatus `json:"status" yaml:"status"`
	ReviewedBy  string         `json:"reviewed_by,omitempty" yaml:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time     `json:"reviewed_at,omitempty" yaml:"reviewed_at,omitempty"`
	ReviewNotes string         `json:"review_notes,omitempty" yaml:"review_notes,omitempty"`
}

// NewProposal creates a pending proposal.
func NewProposal(memoryID string, from, to Scope, rationale, proposedBy string) (*Proposal, error) {
	if memoryID == "" {
		return nil, Validationf("proposal", "memory_id is required")
	}
	if proposedBy == "" {
		return nil, Validationf("proposal", "proposed_by is required")
	}
	if strings.TrimSpace(rationale) == "" {
		return nil, Validationf("proposal", "rationale is required")
	}
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	return &Proposal{
		ID:         NewID(),
		MemoryID:   memoryID,
		FromScope:  from.clone(),
		ToScope:    to.clone(),
		Rationale:  rationale,
		ProposedBy: proposedBy,
		ProposedAt: Now(),
		Status:     StatusPending,
	}, nil
}

// Approve moves a pending proposal to approved. Notes are optional.
func (p *Proposal) Approve(reviewer, notes string, at time.Time) error {
	if err := p.checkReview("approve", reviewer); err != nil {
		return err
	}
	p.close(StatusApproved, reviewer, notes, at)
	return nil
}

// Reject moves a pending proposal to rejected. A reason is mandatory.
func (p *Proposal) Reject(reviewer, notes string, at time.Time) error {
	if err := p.checkReview("reject", reviewer); err != nil {
		return err
	}
	if strings.TrimSpace(notes) == "" {
		return Validationf("reject", "review notes are required to reject proposal %s", p.ID)
	}
	p.close(StatusRejected, reviewer, notes, at)
	return nil
}

// Clone returns a copy that shares no mutable state with p.
func (p *Proposal) Clone() *Proposal {
	c := *p
	c.FromScope = p.FromScope.clone()
	c.ToScope = p.ToScope.clone()
	if p.ReviewedAt != nil {
		t := *p.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}

func (p *Proposal) checkReview(op, reviewer string) error {
	if p.Status.Terminal() {
		return Validationf(op, "proposal %s already %s", p.ID, p.Status)
	}
	if strings.TrimSpace(reviewer) == "" {
		return Validationf(op, "reviewer identity is required")
	}
	if reviewer == SystemActor {
		return Validationf(op, "reviewer must be distinct from %q", SystemActor)
	}
	return nil
}

func (p *Proposal) close(status ProposalStatus, reviewer, notes string, at time.Time) {
	at = at.UTC()
	p.Status = status
	p.ReviewedBy = reviewer
	p.ReviewedAt = &at
	p.ReviewNotes = notes
}
