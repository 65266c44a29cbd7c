package memory

import (
	"encoding/json"
	"time"
)

// Scope defines where an entry lives in the hierarchy and how long it lives.
//
// Build scopes with NewScope (or the GaiaScope/ProjectScope/AgentScope
// helpers). Scopes decoded from JSON are validated during decoding.
type Scope struct {
	Level      Tier   `json:"level" yaml:"level"`
	ProjectID  string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	AgentID    string `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	AutoExpire bool   `json:"auto_expire" yaml:"auto_expire"`
	TTLSeconds *int   `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// NewScope builds a validated scope. AGENT scopes always auto-expire
// regardless of autoExpire. A nil ttl means the entry never expires.
func NewScope(level Tier, projectID, agentID string, autoExpire bool, ttl *int) (Scope, error) {
	s := Scope{
		Level:      level,
		ProjectID:  projectID,
		AgentID:    agentID,
		AutoExpire: autoExpire,
	}
	if ttl != nil {
		v := *ttl
		s.TTLSeconds = &v
	}
	if err := s.normalize(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

// GaiaScope returns the ecosystem-wide scope.
func GaiaScope() Scope {
	return Scope{Level: TierGaia}
}

// ProjectScope returns the durable scope of a single project.
func ProjectScope(projectID string) (Scope, error) {
	return NewScope(TierProject, projectID, "", false, nil)
}

// AgentScope returns an ephemeral scope for one agent inside a project.
// Positive ttls are rounded up to whole seconds. A ttl of zero or less is
// stored as zero seconds, which expires immediately.
func AgentScope(projectID, agentID string, ttl time.Duration) (Scope, error) {
	secs := 0
	if ttl > 0 {
		secs = int((ttl + time.Second - 1) / time.Second)
	}
	return NewScope(TierAgent, projectID, agentID, true, &secs)
}

// Validate re-checks the construction invariants without modifying s.
func (s Scope) Validate() error {
	c := s
	if err := c.normalize(); err != nil {
		return err
	}
	if c.AutoExpire != s.AutoExpire {
		return Validationf("scope", "agent scope must auto-expire")
	}
	return nil
}

// TTL returns the time-to-live as a duration and whether one is set.
func (s Scope) TTL() (time.Duration, bool) {
	if s.TTLSeconds == nil {
		return 0, false
	}
	return time.Duration(*s.TTLSeconds) * time.Second, true
}

// Durable reports whether entries in this scope are persisted to disk.
func (s Scope) Durable() bool {
	return s.Level == TierGaia || s.Level == TierProject
}

// WithoutExpiry returns a copy with the ephemeral fields cleared.
func (s Scope) WithoutExpiry() Scope {
	s.AutoExpire = false
	s.TTLSeconds = nil
	return s
}

func (s Scope) clone() Scope {
	if s.TTLSeconds != nil {
		v := *s.TTLSeconds
		s.TTLSeconds = &v
	}
	return s
}

func (s *Scope) normalize() error {
	if err := s.Level.mustBeValid("scope"); err != nil {
		return err
	}
	if (s.Level == TierProject || s.Level == TierAgent) && s.ProjectID == "" {
		return Validationf("scope", "project_id required for %s level memory", s.Level)
	}
	if s.Level == TierAgent && s.AgentID == "" {
		return Validationf("scope", "agent_id required for agent level memory")
	}
	if s.TTLSeconds != nil && *s.TTLSeconds < 0 {
		return Validationf("scope", "ttl_seconds out of range: %d", *s.TTLSeconds)
	}
	if s.Level == TierAgent {
		s.AutoExpire = true
	}
	return nil
}

// UnmarshalJSON decodes and validates a scope.
func (s *Scope) UnmarshalJSON(data []byte) error {
	type rawScope Scope
	var raw rawScope
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded := Scope(raw)
	if err := decoded.normalize(); err != nil {
		return err
	}
	*s = decoded
	return nil
}
