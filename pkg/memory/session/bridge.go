// Package session gives workflow engines a one-call way to run an agent
// against MNEMIS: register an AGENT contract, keep scratch memory with a
// ttl, search it and propose the useful parts for promotion.
package session

import (
	"errors"
	"time"

	"github.com/entrhq/mnemis/pkg/memory"
	"github.com/entrhq/mnemis/pkg/memory/promotion"
	"github.com/entrhq/mnemis/pkg/memory/search"
	"github.com/entrhq/mnemis/pkg/memory/store"
)

// DefaultTTL is used when a session is created without a ttl.
const DefaultTTL = time.Hour

// Bridge hands out agent sessions over one store.
type Bridge struct {
	store      *store.Store
	search     *search.Engine
	promotion  *promotion.Engine
	defaultTTL time.Duration
	maxTTL     time.Duration
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithPromotion lets sessions propose promotions through e.
func WithPromotion(e *promotion.Engine) Option {
	return func(b *Bridge) {
		b.promotion = e
	}
}

// WithDefaultTTL sets the ttl used when CreateAgentSession gets zero.
func WithDefaultTTL(d time.Duration) Option {
	return func(b *Bridge) {
		b.defaultTTL = d
	}
}

// WithMaxTTL rejects sessions asking for more than d. Zero disables the
// cap.
func WithMaxTTL(d time.Duration) Option {
	return func(b *Bridge) {
		b.maxTTL = d
	}
}

// NewBridge creates a bridge over s, enforcing s's access controller.
func NewBridge(s *store.Store, opts ...Option) *Bridge {
	b := &Bridge{
		store:      s,
		search:     search.NewEngine(s, s.Controller()),
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Session is one agent's view of its ephemeral memory.
type Session struct {
	bridge   *Bridge
	contract *memory.Contract
	ttl      time.Duration
}

// CreateAgentSession registers agentID as an AGENT of projectID and
// returns its session. Entries remembered through the session expire after
// ttl; a zero ttl selects the bridge default.
func (b *Bridge) CreateAgentSession(agentID, projectID string, ttl time.Duration) (*Session, error) {
	if ttl < 0 {
		return nil, memory.Validationf("session", "ttl must not be negative")
	}
	if ttl == 0 {
		ttl = b.defaultTTL
	}
	if b.maxTTL > 0 && ttl > b.maxTTL {
		return nil, memory.Validationf("session", "ttl %s exceeds maximum %s", ttl, b.maxTTL)
	}
	c, err := b.store.Controller().RegisterAgent(agentID, memory.TierAgent, projectID)
	if err != nil {
		return nil, err
	}
	return &Session{bridge: b, contract: c, ttl: ttl}, nil
}

// CleanupExpired removes expired agent memory across all sessions.
func (b *Bridge) CleanupExpired() (int, error) {
	return b.store.CleanupExpiredAgentMemory()
}

// Contract returns the session's AGENT contract.
func (s *Session) Contract() *memory.Contract { return s.contract }

// TTL returns the lifetime given to remembered entries.
func (s *Session) TTL() time.Duration { return s.ttl }

// Remember stores content in the agent's ephemeral memory.
func (s *Session) Remember(content map[string]any, tags ...string) (string, error) {
	scope, err := memory.AgentScope(s.contract.ProjectID, s.contract.AgentID, s.ttl)
	if err != nil {
		return "", err
	}
	return s.bridge.store.Write(content, scope, s.contract, store.WithTags(tags...))
}

// Recall reads an entry under the session's contract.
func (s *Session) Recall(memoryID string) (*memory.Entry, error) {
	return s.bridge.store.Read(memoryID, s.contract)
}

// Forget deletes one of the agent's entries.
func (s *Session) Forget(memoryID string) error {
	return s.bridge.store.Delete(memoryID, s.contract)
}

// Memories lists the agent's current entries.
func (s *Session) Memories() []*memory.Entry {
	return s.bridge.store.AgentEntries(s.contract.AgentID)
}

// SearchProject returns the entries visible to the session carrying any
// of tags.
func (s *Session) SearchProject(tags ...string) ([]*memory.Entry, error) {
	return s.bridge.search.ByTags(s.contract, tags, false)
}

// Propose asks for memoryID to be promoted into the session's project.
func (s *Session) Propose(memoryID, rationale string) (string, error) {
	if s.bridge.promotion == nil {
		return "", errors.New("session: bridge has no promotion engine")
	}
	to, err := memory.ProjectScope(s.contract.ProjectID)
	if err != nil {
		return "", err
	}
	return s.bridge.promotion.Propose(s.contract, memoryID, to, rationale)
}
