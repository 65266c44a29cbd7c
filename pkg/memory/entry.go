package memory

import (
	"time"
)

var timeNow = time.Now // injected for testability

// Now returns the current UTC time used for entry and provenance timestamps.
func Now() time.Time {
	return timeNow().UTC()
}

// EventType names a provenance event.
type EventType string

const (
	EventCreated              EventType = "created"
	EventAccessed             EventType = "accessed"
	EventUpdated              EventType = "updated"
	EventDeleted              EventType = "deleted"
	EventPromotionProposed    EventType = "promotion_proposed"
	EventPromoted             EventType = "promoted"
	EventPromotedToHigherTier EventType = "promoted_to_higher_tier"
	EventPromotionRejected    EventType = "promotion_rejected"
)

// ProvenanceEvent is one immutable audit record attached to an entry.
type ProvenanceEvent struct {
	EventType EventType      `json:"event_type" yaml:"event_type"`
	Actor     string         `json:"actor" yaml:"actor"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Details   map[string]any `json:"details" yaml:"details"`
}

// Entry is a single memory with its full provenance trail.
type Entry struct {
	ID           string            `json:"id" yaml:"id"`
	Content      map[string]any    `json:"content" yaml:"content"`
	Scope        Scope             `json:"scope" yaml:"scope"`
	CreatedBy    string            `json:"created_by" yaml:"created_by"`
	CreatedAt    time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" yaml:"updated_at"`
	PromotedFrom string            `json:"promoted_from,omitempty" yaml:"promoted_from,omitempty"`
	Tags         []string          `json:"tags" yaml:"tags"`
	Metadata     map[string]any    `json:"metadata" yaml:"metadata"`
	Provenance   []ProvenanceEvent `json:"provenance" yaml:"provenance"`
}

// NewEntry creates an entry with a fresh id and no provenance. Content,
// tags and metadata are deep-copied.
func NewEntry(content map[string]any, scope Scope, createdBy string, tags []string, metadata map[string]any) (*Entry, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if createdBy == "" {
		return nil, Validationf("entry", "created_by is required")
	}
	now := Now()
	return &Entry{
		ID:         NewID(),
		Content:    CloneMap(content),
		Scope:      scope.clone(),
		CreatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
		Tags:       cloneStrings(tags),
		Metadata:   CloneMap(metadata),
		Provenance: []ProvenanceEvent{},
	}, nil
}

// AddProvenanceEvent appends an audit event and advances UpdatedAt.
// Existing events are never rewritten.
func (e *Entry) AddProvenanceEvent(eventType EventType, actor string, details map[string]any) {
	now := Now()
	e.Provenance = append(e.Provenance, ProvenanceEvent{
		EventType: eventType,
		Actor:     actor,
		Timestamp: now,
		Details:   CloneMap(details),
	})
	e.UpdatedAt = now
}

// IsExpired reports whether an ephemeral entry has outlived its ttl.
func (e *Entry) IsExpired() bool {
	return e.ExpiredAt(Now())
}

// ExpiredAt reports whether the entry is expired at the given instant. Only
// auto-expiring scopes with a ttl can expire; a ttl of zero is expired from
// the moment of creation.
func (e *Entry) ExpiredAt(now time.Time) bool {
	if !e.Scope.AutoExpire {
		return false
	}
	ttl, ok := e.Scope.TTL()
	if !ok {
		return false
	}
	return now.Sub(e.CreatedAt) >= ttl
}

// HasTag reports whether the entry carries tag exactly.
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// LastEvent returns the most recent provenance event, if any.
func (e *Entry) LastEvent() (ProvenanceEvent, bool) {
	if len(e.Provenance) == 0 {
		return ProvenanceEvent{}, false
	}
	return e.Provenance[len(e.Provenance)-1], true
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Content = CloneMap(e.Content)
	c.Scope = e.Scope.clone()
	c.Tags = cloneStrings(e.Tags)
	c.Metadata = CloneMap(e.Metadata)
	c.Provenance = make([]ProvenanceEvent, len(e.Provenance))
	for i, ev := range e.Provenance {
		ev.Details = CloneMap(ev.Details)
		c.Provenance[i] = ev
	}
	return &c
}

// CloneMap deep-copies a JSON-like map. A nil map becomes an empty one.
func CloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return cloneStrings(val)
	default:
		return val
	}
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
