// Package search filters the memory a contract is allowed to see.
//
// The searchable set for a contract is the GAIA tier (if readable), the
// PROJECT partition of the contract's own project (if readable) and the
// AGENT entries of the contract's own agent (if readable). Searching never
// records provenance.
package search

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/mnemis/pkg/memory"
	"github.com/entrhq/mnemis/pkg/memory/access"
	"github.com/entrhq/mnemis/pkg/memory/store"
	"github.com/gobwas/glob"
)

// Engine runs contract-scoped queries against a store.
type Engine struct {
	store *store.Store
	ac    *access.Controller
}

// NewEngine creates a search engine over s.
func NewEngine(s *store.Store, ac *access.Controller) *Engine {
	return &Engine{store: s, ac: ac}
}

// Query composes filters with AND. Zero-valued fields do not filter.
type Query struct {
	// Tags matches entries carrying any of the tags, or all of them when
	// MatchAll is set.
	Tags     []string
	MatchAll bool
	// TagPatterns are glob patterns; an entry matches when any of its tags
	// matches any pattern.
	TagPatterns []string
	// Content is a case-insensitive substring searched in the whole
	// content, or only in Field when it is set.
	Content string
	Field   string
	Creator string
	// Since and Until bound created_at inclusively.
	Since        time.Time
	Until        time.Time
	Tiers        []memory.Tier
	PromotedOnly bool
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// ByTags returns entries with any (or, with matchAll, every) tag in tags.
func (e *Engine) ByTags(c *memory.Contract, tags []string, matchAll bool) ([]*memory.Entry, error) {
	return e.Search(c, Query{Tags: tags, MatchAll: matchAll})
}

// ByContent returns entries whose content contains query, ignoring case.
// When field is non-empty only that content key is searched.
func (e *Engine) ByContent(c *memory.Contract, query, field string) ([]*memory.Entry, error) {
	return e.Search(c, Query{Content: query, Field: field})
}

// ByCreator returns entries created by agentID.
func (e *Engine) ByCreator(c *memory.Contract, agentID string) ([]*memory.Entry, error) {
	return e.Search(c, Query{Creator: agentID})
}

// ByDateRange returns entries created within [start, end].
func (e *Engine) ByDateRange(c *memory.Contract, start, end time.Time) ([]*memory.Entry, error) {
	if end.Before(start) {
		return nil, memory.Validationf("search", "date range end %s is before start %s", end, start)
	}
	return e.Search(c, Query{Since: start, Until: end})
}

// Promoted returns entries that were created by a promotion.
func (e *Engine) Promoted(c *memory.Contract) ([]*memory.Entry, error) {
	return e.Search(c, Query{PromotedOnly: true})
}

// Search returns the accessible entries matching every filter in q,
// ordered by creation time then id.
func (e *Engine) Search(c *memory.Contract, q Query) ([]*memory.Entry, error) {
	if err := e.ac.ValidateContract(c); err != nil {
		return nil, err
	}
	m, err := newMatcher(q)
	if err != nil {
		return nil, err
	}

	var out []*memory.Entry
	for _, entry := range e.accessible(c) {
		if m.match(entry) {
			out = append(out, entry)
		}
	}
	sortEntries(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Lineage returns the promotion chain through id: its ancestors (oldest
// first), the entry itself, then every entry promoted from it, directly
// or transitively. Entries the contract may not read are left out.
func (e *Engine) Lineage(c *memory.Contract, id string) ([]*memory.Entry, error) {
	start, err := e.store.Lookup(id)
	if err != nil {
		return nil, err
	}
	if err := e.ac.ValidateRead(c, start.Scope); err != nil {
		return nil, err
	}

	var ancestors []*memory.Entry
	seen := map[string]bool{start.ID: true}
	for parent := start.PromotedFrom; parent != "" && !seen[parent]; {
		seen[parent] = true
		anc, err := e.store.Lookup(parent)
		if err != nil {
			break
		}
		if c.CanRead(anc.Scope) {
			ancestors = append([]*memory.Entry{anc}, ancestors...)
		}
		parent = anc.PromotedFrom
	}

	children := make(map[string][]*memory.Entry)
	for _, t := range memory.Tiers {
		for _, entry := range e.store.Entries(t) {
			if entry.PromotedFrom != "" {
				children[entry.PromotedFrom] = append(children[entry.PromotedFrom], entry)
			}
		}
	}
	var descendants []*memory.Entry
	queue := []string{start.ID}
	for len(queue) > 0 {
		next := children[queue[0]]
		queue = queue[1:]
		sortEntries(next)
		for _, child := range next {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			queue = append(queue, child.ID)
			if c.CanRead(child.Scope) {
				descendants = append(descendants, child)
			}
		}
	}

	chain := append(ancestors, start)
	return append(chain, descendants...), nil
}

// accessible returns the search universe of c: GAIA, c's project and c's
// own agent entries, narrowed to what Read would allow.
func (e *Engine) accessible(c *memory.Contract) []*memory.Entry {
	var candidates []*memory.Entry
	if c.CanReadTier(memory.TierGaia) {
		candidates = append(candidates, e.store.GaiaEntries()...)
	}
	if c.CanReadTier(memory.TierProject) && c.ProjectID != "" {
		candidates = append(candidates, e.store.ProjectEntries(c.ProjectID)...)
	}
	if c.CanReadTier(memory.TierAgent) {
		candidates = append(candidates, e.store.AgentEntries(c.AgentID)...)
	}
	out := candidates[:0]
	for _, entry := range candidates {
		if c.CanRead(entry.Scope) {
			out = append(out, entry)
		}
	}
	return out
}

type matcher struct {
	q        Query
	patterns []glob.Glob
	content  string
}

func newMatcher(q Query) (*matcher, error) {
	m := &matcher{q: q, content: strings.ToLower(q.Content)}
	for _, p := range q.TagPatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, memory.Validationf("search", "invalid tag pattern %q: %v", p, err)
		}
		m.patterns = append(m.patterns, g)
	}
	if q.Limit < 0 {
		return nil, memory.Validationf("search", "limit must not be negative")
	}
	return m, nil
}

func (m *matcher) match(e *memory.Entry) bool {
	q := m.q
	if len(q.Tags) > 0 && !matchTags(e, q.Tags, q.MatchAll) {
		return false
	}
	if len(m.patterns) > 0 && !m.matchPatterns(e) {
		return false
	}
	if m.content != "" && !m.matchContent(e) {
		return false
	}
	if q.Creator != "" && e.CreatedBy != q.Creator {
		return false
	}
	if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.CreatedAt.After(q.Until) {
		return false
	}
	if len(q.Tiers) > 0 && !containsTier(q.Tiers, e.Scope.Level) {
		return false
	}
	if q.PromotedOnly && e.PromotedFrom == "" {
		return false
	}
	return true
}

func matchTags(e *memory.Entry, tags []string, all bool) bool {
	for _, t := range tags {
		has := e.HasTag(t)
		if all && !has {
			return false
		}
		if !all && has {
			return true
		}
	}
	return all
}

func (m *matcher) matchPatterns(e *memory.Entry) bool {
	for _, tag := range e.Tags {
		for _, g := range m.patterns {
			if g.Match(tag) {
				return true
			}
		}
	}
	return false
}

func (m *matcher) matchContent(e *memory.Entry) bool {
	if m.q.Field != "" {
		v, ok := e.Content[m.q.Field]
		if !ok {
			return false
		}
		return strings.Contains(strings.ToLower(stringify(v)), m.content)
	}
	return strings.Contains(strings.ToLower(stringify(e.Content)), m.content)
}

// stringify renders a content value for substring matching. Strings are
// used as is; anything else is matched against its JSON form.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func containsTier(set []memory.Tier, t memory.Tier) bool {
	for _, s := range set {
		if s == t {
			return true
		}
	}
	return false
}

func sortEntries(entries []*memory.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
