package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// SectionIDReview is the identifier for the review section.
const SectionIDReview = "review"

// ReviewerPattern names the reviewers allowed to decide promotions into one
// tier. Pattern is a glob such as "arch-*".
type ReviewerPattern struct {
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
}

// ReviewSection lists who may approve or reject promotions. An empty list
// leaves the tier open to any reviewer.
type ReviewSection struct {
	gaia    []ReviewerPattern
	project []ReviewerPattern
	mu      sync.RWMutex
}

// NewReviewSection creates a review section with open queues.
func NewReviewSection() *ReviewSection {
	return &ReviewSection{}
}

// ID returns the section identifier.
func (s *ReviewSection) ID() string {
	return SectionIDReview
}

// Title returns the section title.
func (s *ReviewSection) Title() string {
	return "Promotion Review"
}

// Description returns the section description.
func (s *ReviewSection) Description() string {
	return "Reviewer name patterns allowed to decide promotions into GAIA and PROJECT memory"
}

// Data returns the current configuration data.
func (s *ReviewSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"gaia_reviewers":    encodePatterns(s.gaia),
		"project_reviewers": encodePatterns(s.project),
	}
}

func encodePatterns(patterns []ReviewerPattern) []any {
	out := make([]any, len(patterns))
	for i, p := range patterns {
		out[i] = map[string]any{
			"pattern":     p.Pattern,
			"description": p.Description,
		}
	}
	return out
}

// SetData updates the configuration from the provided data.
func (s *ReviewSection) SetData(data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := data["gaia_reviewers"]; ok {
		patterns, err := decodePatterns("gaia_reviewers", v)
		if err != nil {
			return err
		}
		s.gaia = patterns
	}
	if v, ok := data["project_reviewers"]; ok {
		patterns, err := decodePatterns("project_reviewers", v)
		if err != nil {
			return err
		}
		s.project = patterns
	}
	return nil
}

// decodePatterns accepts either bare pattern strings or objects with a
// pattern and description.
func decodePatterns(key string, value any) ([]ReviewerPattern, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("invalid %s type: expected []any, got %T", key, value)
	}

	patterns := make([]ReviewerPattern, 0, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case string:
			patterns = append(patterns, ReviewerPattern{Pattern: v})
		case map[string]any:
			pattern, ok := v["pattern"].(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s entry at index %d: missing or invalid pattern field", key, i)
			}
			desc, _ := v["description"].(string)
			patterns = append(patterns, ReviewerPattern{Pattern: pattern, Description: desc})
		default:
			return nil, fmt.Errorf("invalid %s entry at index %d: expected string or map, got %T", key, i, item)
		}
	}
	return patterns, nil
}

// Validate checks that every pattern is a non-empty, compilable glob.
func (s *ReviewSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for key, list := range map[string][]ReviewerPattern{"gaia_reviewers": s.gaia, "project_reviewers": s.project} {
		for i, p := range list {
			if strings.TrimSpace(p.Pattern) == "" {
				return fmt.Errorf("%s pattern at index %d is empty", key, i)
			}
			if _, err := glob.Compile(p.Pattern); err != nil {
				return fmt.Errorf("%s pattern %q: %w", key, p.Pattern, err)
			}
		}
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *ReviewSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gaia = nil
	s.project = nil
}

// SetReviewers replaces both reviewer lists with bare patterns.
func (s *ReviewSection) SetReviewers(gaia, project []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gaia = toPatterns(gaia)
	s.project = toPatterns(project)
}

func toPatterns(in []string) []ReviewerPattern {
	if len(in) == 0 {
		return nil
	}
	out := make([]ReviewerPattern, len(in))
	for i, p := range in {
		out[i] = ReviewerPattern{Pattern: p}
	}
	return out
}

// GaiaReviewers returns the GAIA reviewer patterns.
func (s *ReviewSection) GaiaReviewers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return patternStrings(s.gaia)
}

// ProjectReviewers returns the PROJECT reviewer patterns.
func (s *ReviewSection) ProjectReviewers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return patternStrings(s.project)
}

func patternStrings(in []ReviewerPattern) []string {
	out := make([]string, len(in))
	for i, p := range in {
		out[i] = p.Pattern
	}
	return out
}
