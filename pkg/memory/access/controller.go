// Package access issues agent contracts and checks every read, write and
// promotion request against them.
//
// A Controller is created once per process and handed to the store, the
// promotion engine and the search engine. Contracts it did not issue are
// refused.
package access

import (
	"sync"

	"github.com/entrhq/mnemis/pkg/logging"
	"github.com/entrhq/mnemis/pkg/memory"
	"github.com/entrhq/mnemis/pkg/memory/telemetry"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("access")
	if err != nil {
		debugLog.Warnf("Failed to initialize file logger, using fallback: %v", err)
	}
}

// Controller is the contract registry.
type Controller struct {
	mu        sync.RWMutex
	contracts map[string]*memory.Contract
	hooks     *telemetry.Hooks
}

// Option configures a Controller.
type Option func(*Controller)

// WithTelemetry reports every access violation to h.
func WithTelemetry(h *telemetry.Hooks) Option {
	return func(c *Controller) {
		c.hooks = h
	}
}

// NewController creates an empty registry.
func NewController(opts ...Option) *Controller {
	c := &Controller{contracts: make(map[string]*memory.Contract)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterAgent issues a contract for agentID at level. Registering the
// same agent again replaces its previous contract, which stops being
// accepted.
func (ac *Controller) RegisterAgent(agentID string, level memory.Tier, projectID string) (*memory.Contract, error) {
	c, err := memory.NewContract(agentID, level, projectID)
	if err != nil {
		return nil, err
	}

	ac.mu.Lock()
	ac.contracts[agentID] = c
	ac.mu.Unlock()

	debugLog.Infof("Registered agent %s at %s (project=%q)", agentID, level, projectID)
	return c, nil
}

// Contract returns the contract currently registered for agentID.
func (ac *Controller) Contract(agentID string) (*memory.Contract, error) {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	c, ok := ac.contracts[agentID]
	if !ok {
		return nil, memory.NotFoundf("contract", "no contract registered for agent %s", agentID)
	}
	return c, nil
}

// Agents returns the number of registered agents.
func (ac *Controller) Agents() int {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return len(ac.contracts)
}

// ValidateContract fails with an access violation unless c is the
// contract currently registered for its agent.
func (ac *Controller) ValidateContract(c *memory.Contract) error {
	return ac.issued(c, "contract")
}

// ValidateRead fails with an access violation when c may not read an
// entry in scope.
func (ac *Controller) ValidateRead(c *memory.Contract, scope memory.Scope) error {
	if err := ac.issued(c, "read"); err != nil {
		return err
	}
	if !c.CanReadTier(scope.Level) {
		return ac.deny(c, "read", "agent %s (%s) cannot read %s memory", c.AgentID, c.AccessLevel, scope.Level)
	}
	if !c.CanRead(scope) {
		return ac.deny(c, "read", "agent %s cannot read %s memory owned by project %q agent %q",
			c.AgentID, scope.Level, scope.ProjectID, scope.AgentID)
	}
	return nil
}

// ValidateWrite fails with an access violation unless scope is exactly the
// contract's own tier and identity.
func (ac *Controller) ValidateWrite(c *memory.Contract, scope memory.Scope) error {
	if err := ac.issued(c, "write"); err != nil {
		return err
	}
	if scope.Level != c.AccessLevel {
		return ac.deny(c, "write", "agent %s (%s) cannot write to %s memory", c.AgentID, c.AccessLevel, scope.Level)
	}
	if !c.CanWrite(scope) {
		return ac.deny(c, "write", "agent %s cannot write %s memory owned by project %q agent %q",
			c.AgentID, scope.Level, scope.ProjectID, scope.AgentID)
	}
	return nil
}

// ValidatePromotionProposal fails with an access violation unless c may
// originate a promotion out of from and the step from -> to is legal.
func (ac *Controller) ValidatePromotionProposal(c *memory.Contract, from, to memory.Scope) error {
	if err := ac.issued(c, "propose"); err != nil {
		return err
	}
	if !c.CanProposeFrom(from) {
		return ac.deny(c, "propose", "agent %s (%s) cannot propose promotion of %s memory", c.AgentID, c.AccessLevel, from.Level)
	}
	if !ValidPromotionPath(from, to) {
		return ac.deny(c, "propose", "invalid promotion path %s -> %s", from.Level, to.Level)
	}
	return nil
}

// ValidPromotionPath reports whether to is exactly one tier above from.
// AGENT -> PROJECT must stay inside the source's project.
func ValidPromotionPath(from, to memory.Scope) bool {
	switch {
	case from.Level == memory.TierAgent && to.Level == memory.TierProject:
		return from.ProjectID == to.ProjectID
	case from.Level == memory.TierProject && to.Level == memory.TierGaia:
		return true
	default:
		return false
	}
}

// issued confirms c is the contract this controller holds for its agent.
func (ac *Controller) issued(c *memory.Contract, op string) error {
	if c == nil {
		err := memory.AccessViolationf(op, "no contract presented")
		ac.hooks.AccessViolation("", "", op, err)
		return err
	}

	ac.mu.RLock()
	registered := ac.contracts[c.AgentID]
	ac.mu.RUnlock()

	if registered != c {
		return ac.deny(c, op, "contract for agent %s was not issued by this controller", c.AgentID)
	}
	return nil
}

func (ac *Controller) deny(c *memory.Contract, op, format string, args ...any) error {
	err := memory.AccessViolationf(op, format, args...)
	debugLog.Warnf("Access violation: %v", err)
	ac.hooks.AccessViolation(c.AgentID, c.AccessLevel, op, err)
	return err
}
