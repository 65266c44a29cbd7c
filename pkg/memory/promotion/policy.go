package promotion

import (
	"fmt"

	"github.com/entrhq/mnemis/pkg/memory"
	"github.com/gobwas/glob"
)

// ReviewerPolicy restricts who may review proposals targeting each tier.
// Patterns use glob syntax (for example "lead-*" or "{alice,bob}"). A tier
// without patterns accepts any human reviewer.
type ReviewerPolicy struct {
	patterns map[memory.Tier][]string
	compiled map[memory.Tier][]glob.Glob
}

// NewReviewerPolicy compiles the reviewer patterns for GAIA-bound and
// PROJECT-bound proposals.
func NewReviewerPolicy(gaiaReviewers, projectReviewers []string) (*ReviewerPolicy, error) {
	p := &ReviewerPolicy{
		patterns: make(map[memory.Tier][]string),
		compiled: make(map[memory.Tier][]glob.Glob),
	}
	for tier, patterns := range map[memory.Tier][]string{
		memory.TierGaia:    gaiaReviewers,
		memory.TierProject: projectReviewers,
	} {
		for _, pattern := range patterns {
			g, err := glob.Compile(pattern)
			if err != nil {
				return nil, memory.Validationf("reviewer policy", "invalid %s reviewer pattern %q: %v", tier, pattern, err)
			}
			p.patterns[tier] = append(p.patterns[tier], pattern)
			p.compiled[tier] = append(p.compiled[tier], g)
		}
	}
	return p, nil
}

// Allows reports whether reviewer may decide proposals targeting tier.
func (p *ReviewerPolicy) Allows(reviewer string, tier memory.Tier) bool {
	if p == nil || len(p.compiled[tier]) == 0 {
		return true
	}
	for _, g := range p.compiled[tier] {
		if g.Match(reviewer) {
			return true
		}
	}
	return false
}

// Patterns returns the configured patterns for tier.
func (p *ReviewerPolicy) Patterns(tier memory.Tier) []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.patterns[tier]...)
}

func (p *ReviewerPolicy) check(op, reviewer string, tier memory.Tier) error {
	if p.Allows(reviewer, tier) {
		return nil
	}
	return memory.AccessViolationf(op, "reviewer %s may not review %s promotions (allowed: %s)",
		reviewer, tier, fmt.Sprint(p.patterns[tier]))
}
