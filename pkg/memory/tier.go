package memory

import "strings"

// Tier is one of the three access levels of the hierarchy.
//
// The order is strict: GAIA > PROJECT > AGENT. GAIA is the most permissive
// and least scoped tier, AGENT the most scoped and least permissive.
type Tier string

const (
	TierGaia    Tier = "gaia"
	TierProject Tier = "project"
	TierAgent   Tier = "agent"
)

// Tiers lists every tier from the top of the hierarchy down.
var Tiers = []Tier{TierGaia, TierProject, TierAgent}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t.Rank() > 0
}

// Rank returns the position of t in the hierarchy (GAIA=3, PROJECT=2,
// AGENT=1) or 0 for an unknown tier.
func (t Tier) Rank() int {
	switch t {
	case TierGaia:
		return 3
	case TierProject:
		return 2
	case TierAgent:
		return 1
	default:
		return 0
	}
}

// DownwardClosure returns t and every tier below it, top first.
func (t Tier) DownwardClosure() []Tier {
	var out []Tier
	for _, candidate := range Tiers {
		if candidate.Rank() <= t.Rank() && candidate.Valid() {
			out = append(out, candidate)
		}
	}
	return out
}

// Above returns the tier exactly one step up, if any.
func (t Tier) Above() (Tier, bool) {
	switch t {
	case TierAgent:
		return TierProject, true
	case TierProject:
		return TierGaia, true
	default:
		return "", false
	}
}

func (t Tier) String() string {
	return string(t)
}

// ParseTier converts a case-insensitive name into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", Validationf("parse tier", "unknown tier %q (want gaia, project or agent)", s)
	}
	return t, nil
}

// containsTier reports whether set holds t.
func containsTier(set []Tier, t Tier) bool {
	for _, candidate := range set {
		if candidate == t {
			return true
		}
	}
	return false
}

func (t Tier) mustBeValid(op string) error {
	if !t.Valid() {
		return Validationf(op, "invalid tier %q", string(t))
	}
	return nil
}
