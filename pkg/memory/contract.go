package memory

// Contract is the capability an agent carries into every store, search and
// promotion call.
//
// Agents read down the hierarchy and write only at their exact tier.
type Contract struct {
	AgentID          string `json:"agent_id"`
	AccessLevel      Tier   `json:"access_level"`
	ProjectID        string `json:"project_id,omitempty"`
	ReadPermissions  []Tier `json:"read_permissions"`
	WritePermissions []Tier `json:"write_permissions"`
}

// NewContract derives the default permissions for an agent at level.
func NewContract(agentID string, level Tier, projectID string) (*Contract, error) {
	if agentID == "" {
		return nil, Validationf("contract", "agent_id is required")
	}
	if err := level.mustBeValid("contract"); err != nil {
		return nil, err
	}
	if (level == TierProject || level == TierAgent) && projectID == "" {
		return nil, Validationf("contract", "%s level agent requires project_id", level)
	}
	return &Contract{
		AgentID:          agentID,
		AccessLevel:      level,
		ProjectID:        projectID,
		ReadPermissions:  level.DownwardClosure(),
		WritePermissions: []Tier{level},
	}, nil
}

// CanReadTier reports whether t is in the read permission set.
func (c *Contract) CanReadTier(t Tier) bool {
	return containsTier(c.ReadPermissions, t)
}

// CanRead reports whether the contract may read an entry in scope.
//
// Tier membership is always required. PROJECT and AGENT contracts are
// further confined to their own project, and AGENT contracts to their own
// agent identity. GAIA contracts are bounded by tier only.
func (c *Contract) CanRead(scope Scope) bool {
	if !c.CanReadTier(scope.Level) {
		return false
	}
	if c.AccessLevel == TierGaia {
		return true
	}
	if scope.Level == TierProject || scope.Level == TierAgent {
		if scope.ProjectID != c.ProjectID {
			return false
		}
	}
	if c.AccessLevel == TierAgent && scope.Level == TierAgent {
		return scope.AgentID == c.AgentID
	}
	return true
}

// CanWrite reports whether the contract may create, update or delete an
// entry in scope. Writes must land in exactly the contract's own tier and
// identity.
func (c *Contract) CanWrite(scope Scope) bool {
	if !containsTier(c.WritePermissions, scope.Level) {
		return false
	}
	if scope.Level == TierProject || scope.Level == TierAgent {
		if scope.ProjectID != c.ProjectID {
			return false
		}
	}
	if scope.Level == TierAgent && scope.AgentID != c.AgentID {
		return false
	}
	return true
}

// CanProposeFrom reports whether the contract may originate a promotion of
// an entry in from. GAIA contracts never propose.
func (c *Contract) CanProposeFrom(from Scope) bool {
	switch c.AccessLevel {
	case TierProject:
		return from.Level == TierProject
	case TierAgent:
		return from.Level == TierAgent
	default:
		return false
	}
}
