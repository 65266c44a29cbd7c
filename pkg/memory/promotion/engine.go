// Package promotion moves memory one tier up the hierarchy through a
// human-reviewed proposal.
//
// An agent proposes; a named human approves or rejects. Approval copies
// the source entry into the target tier with its full provenance and
// leaves the source in place. There is no automatic approval.
package promotion

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/mnemis/pkg/logging"
	"github.com/entrhq/mnemis/pkg/memory"
	"github.com/entrhq/mnemis/pkg/memory/access"
	"github.com/entrhq/mnemis/pkg/memory/store"
	"github.com/entrhq/mnemis/pkg/memory/telemetry"
)

// ProposalsFile is the conventional name of the proposal log inside a
// store directory.
const ProposalsFile = "proposals.jsonl"

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("promotion")
	if err != nil {
		debugLog.Warnf("Failed to initialize file logger, using fallback: %v", err)
	}
}

// Engine owns the proposal lifecycle.
type Engine struct {
	mu        sync.Mutex
	store     *store.Store
	ac        *access.Controller
	proposals map[string]*memory.Proposal
	logPath   string
	policy    *ReviewerPolicy
	hooks     *telemetry.Hooks
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithProposalLog persists proposals to path and loads any found there.
func WithProposalLog(path string) Option {
	return func(e *Engine) {
		e.logPath = path
	}
}

// WithReviewerPolicy restricts which reviewers may decide proposals.
func WithReviewerPolicy(p *ReviewerPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithTelemetry records proposals and decisions to h.
func WithTelemetry(h *telemetry.Hooks) Option {
	return func(e *Engine) {
		e.hooks = h
	}
}

// WithClock overrides the clock used for review timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a promotion engine over s. ac must be the controller
// s enforces.
func NewEngine(s *store.Store, ac *access.Controller, opts ...Option) (*Engine, error) {
	if s == nil || ac == nil {
		return nil, errors.New("promotion: store and access controller are required")
	}
	if s.Controller() != ac {
		return nil, errors.New("promotion: store enforces a different access controller")
	}
	e := &Engine{
		store:     s,
		ac:        ac,
		proposals: make(map[string]*memory.Proposal),
		now:       memory.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logPath != "" {
		loaded, err := store.ReadJSONL[*memory.Proposal](e.logPath)
		if err != nil {
			return nil, err
		}
		for _, p := range loaded {
			e.proposals[p.ID] = p
		}
		debugLog.Debugf("Loaded %d proposals from %s", len(loaded), e.logPath)
	}
	return e, nil
}

// Propose asks for the entry memoryID to be promoted into to. The request
// is validated before any proposal exists; on success the source entry
// records a promotion_proposed event and the new proposal id is returned.
func (e *Engine) Propose(c *memory.Contract, memoryID string, to memory.Scope, rationale string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var proposal *memory.Proposal
	err := e.store.Atomic(func(tx *store.Tx) error {
		src, err := tx.Get(memoryID)
		if err != nil {
			return err
		}
		if err := e.ac.ValidateRead(c, src.Scope); err != nil {
			return err
		}
		if err := e.ac.ValidatePromotionProposal(c, src.Scope, to); err != nil {
			return err
		}
		p, err := memory.NewProposal(memoryID, src.Scope, to, rationale, c.AgentID)
		if err != nil {
			return err
		}
		src.AddProvenanceEvent(memory.EventPromotionProposed, c.AgentID, map[string]any{
			"proposal_id": p.ID,
			"from_level":  string(src.Scope.Level),
			"to_level":    string(to.Level),
			"rationale":   rationale,
		})
		if err := tx.Put(src); err != nil {
			return err
		}
		proposal = p
		return nil
	})
	if err != nil {
		return "", err
	}

	e.proposals[proposal.ID] = proposal
	e.hooks.PromotionProposed(proposal)
	debugLog.Infof("Proposal %s: %s %s -> %s by %s", proposal.ID, memoryID, proposal.FromScope.Level, to.Level, c.AgentID)
	if err := e.persist(); err != nil {
		return proposal.ID, err
	}
	return proposal.ID, nil
}

// Approve accepts a pending proposal and performs the promotion. It
// returns the id of the new entry in the target tier.
func (e *Engine) Approve(proposalID, reviewer, notes string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.pending("approve", proposalID)
	if err != nil {
		return "", err
	}
	next := p.Clone()
	if err := next.Approve(reviewer, notes, e.now()); err != nil {
		return "", err
	}
	if err := e.authorize("approve", reviewer, p); err != nil {
		return "", err
	}

	var promotedID string
	err = e.store.Atomic(func(tx *store.Tx) error {
		src, err := tx.Get(p.MemoryID)
		if err != nil {
			return err
		}
		promoted, err := memory.NewEntry(src.Content, p.ToScope.WithoutExpiry(), src.CreatedBy, src.Tags, src.Metadata)
		if err != nil {
			return err
		}
		promoted.PromotedFrom = src.ID
		promoted.Provenance = src.Clone().Provenance
		promoted.AddProvenanceEvent(memory.EventPromoted, reviewer, map[string]any{
			"proposal_id":        p.ID,
			"from_level":         string(p.FromScope.Level),
			"to_level":           string(p.ToScope.Level),
			"original_memory_id": src.ID,
			"rationale":          p.Rationale,
		})
		if err := tx.Put(promoted); err != nil {
			return err
		}

		src.AddProvenanceEvent(memory.EventPromotedToHigherTier, reviewer, map[string]any{
			"promoted_memory_id": promoted.ID,
			"new_level":          string(p.ToScope.Level),
		})
		if err := tx.Put(src); err != nil {
			return err
		}
		promotedID = promoted.ID
		return nil
	})
	if err != nil {
		return "", err
	}

	e.proposals[proposalID] = next
	e.hooks.PromotionDecision(next, promotedID)
	debugLog.Infof("Proposal %s approved by %s: %s promoted to %s as %s", proposalID, reviewer, p.MemoryID, p.ToScope.Level, promotedID)
	if err := e.persist(); err != nil {
		return promotedID, err
	}
	return promotedID, nil
}

// Reject declines a pending proposal. notes is required and is recorded
// verbatim on the source entry, if it still exists.
func (e *Engine) Reject(proposalID, reviewer, notes string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.pending("reject", proposalID)
	if err != nil {
		return err
	}
	next := p.Clone()
	if err := next.Reject(reviewer, notes, e.now()); err != nil {
		return err
	}
	if err := e.authorize("reject", reviewer, p); err != nil {
		return err
	}

	err = e.store.Atomic(func(tx *store.Tx) error {
		src, err := tx.Get(p.MemoryID)
		if errors.Is(err, memory.ErrNotFound) {
			debugLog.Warnf("Proposal %s rejected after source %s was removed", proposalID, p.MemoryID)
			return nil
		}
		if err != nil {
			return err
		}
		src.AddProvenanceEvent(memory.EventPromotionRejected, reviewer, map[string]any{
			"proposal_id": p.ID,
			"reason":      notes,
		})
		return tx.Put(src)
	})
	if err != nil {
		return err
	}

	e.proposals[proposalID] = next
	e.hooks.PromotionDecision(next, "")
	debugLog.Infof("Proposal %s rejected by %s", proposalID, reviewer)
	return e.persist()
}

// pending returns the stored proposal if it can still be reviewed.
func (e *Engine) pending(op, proposalID string) (*memory.Proposal, error) {
	p, ok := e.proposals[proposalID]
	if !ok {
		return nil, memory.NotFoundf(op, "proposal %s not found", proposalID)
	}
	if p.Status.Terminal() {
		return nil, memory.Validationf(op, "proposal %s already %s", proposalID, p.Status)
	}
	return p, nil
}

// authorize applies the reviewer policy for the proposal's target tier.
func (e *Engine) authorize(op, reviewer string, p *memory.Proposal) error {
	if err := e.policy.check(op, reviewer, p.ToScope.Level); err != nil {
		e.hooks.AccessViolation(reviewer, "", op, err)
		return err
	}
	return nil
}

// Proposal returns a copy of proposal id.
func (e *Engine) Proposal(id string) (*memory.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[id]
	if !ok {
		return nil, memory.NotFoundf("proposal", "proposal %s not found", id)
	}
	return p.Clone(), nil
}

// Filter narrows Pending. Zero fields match everything.
type Filter struct {
	ToTier    memory.Tier
	ProjectID string
}

func (f Filter) matches(p *memory.Proposal) bool {
	if f.ToTier != "" && p.ToScope.Level != f.ToTier {
		return false
	}
	if f.ProjectID != "" && p.FromScope.ProjectID != f.ProjectID && p.ToScope.ProjectID != f.ProjectID {
		return false
	}
	return true
}

// Pending returns the pending proposals matching f, oldest first.
func (e *Engine) Pending(f Filter) []*memory.Proposal {
	return e.collect(func(p *memory.Proposal) bool {
		return p.Status == memory.StatusPending && f.matches(p)
	})
}

// GaiaQueue returns pending proposals awaiting promotion into GAIA.
func (e *Engine) GaiaQueue() []*memory.Proposal {
	return e.Pending(Filter{ToTier: memory.TierGaia})
}

// ProjectQueue returns pending proposals into the PROJECT tier of
// projectID.
func (e *Engine) ProjectQueue(projectID string) []*memory.Proposal {
	return e.Pending(Filter{ToTier: memory.TierProject, ProjectID: projectID})
}

// All returns every proposal regardless of status, oldest first.
func (e *Engine) All() []*memory.Proposal {
	return e.collect(func(*memory.Proposal) bool { return true })
}

func (e *Engine) collect(keep func(*memory.Proposal) bool) []*memory.Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*memory.Proposal
	for _, p := range e.proposals {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	sortProposals(out)
	return out
}

func sortProposals(ps []*memory.Proposal) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].ProposedAt.Equal(ps[j].ProposedAt) {
			return ps[i].ProposedAt.Before(ps[j].ProposedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

// persist rewrites the proposal log. Store changes made by the calling
// operation are already committed when this runs.
func (e *Engine) persist() error {
	if e.logPath == "" {
		return nil
	}
	all := make([]*memory.Proposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		all = append(all, p)
	}
	sortProposals(all)
	if err := store.WriteJSONL(e.logPath, all); err != nil {
		debugLog.Errorf("Failed to save proposal log: %v", err)
		return fmt.Errorf("promotion: save proposals: %w", err)
	}
	return nil
}
