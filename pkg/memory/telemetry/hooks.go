// Package telemetry records memory operations, access violations and
// promotion decisions as JSON lines for dashboards and audits.
//
// Three files are written inside the configured directory:
//
//	memory_operations.jsonl  operations, cleanups, tombstones of deleted entries
//	access_violations.jsonl  every denied read, write or proposal
//	promotions.jsonl         proposals and review decisions
//
// A nil *Hooks is valid and records nothing.
package telemetry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/entrhq/mnemis/pkg/memory"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	OperationsFile = "memory_operations.jsonl"
	ViolationsFile = "access_violations.jsonl"
	PromotionsFile = "promotions.jsonl"
)

// Operation names a memory operation event.
type Operation string

const (
	OpRead    Operation = "memory_read"
	OpWrite   Operation = "memory_write"
	OpUpdate  Operation = "memory_update"
	OpDelete  Operation = "memory_delete"
	OpCleanup Operation = "memory_cleanup"
)

// TombstoneEvent carries the last provenance of a deleted entry.
const TombstoneEvent = "memory_tombstone"

// Hooks fans telemetry events out to the three JSONL sinks.
type Hooks struct {
	ops        *zap.Logger
	violations *zap.Logger
	promotions *zap.Logger
	files      []*os.File
}

// New opens (or creates) the telemetry files in dir for appending.
func New(dir string) (*Hooks, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("telemetry: init directory %s: %w", dir, err)
	}

	h := &Hooks{}
	open := func(name string) (*zap.Logger, error) {
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
		}
		h.files = append(h.files, f)
		return zap.New(zapcore.NewCore(newEncoder(), zapcore.AddSync(f), zapcore.DebugLevel)), nil
	}

	var err error
	if h.ops, err = open(OperationsFile); err != nil {
		h.Close()
		return nil, err
	}
	if h.violations, err = open(ViolationsFile); err != nil {
		h.Close()
		return nil, err
	}
	if h.promotions, err = open(PromotionsFile); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// newEncoder renders one flat JSON object per event, keyed the way the
// dashboards expect: event_type plus a UTC timestamp.
func newEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		MessageKey: "event_type",
		TimeKey:    "timestamp",
		LineEnding: zapcore.DefaultLineEnding,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.UTC().Format(time.RFC3339Nano))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
	})
}

// Operation records a memory operation against a single entry.
func (h *Hooks) Operation(op Operation, memoryID, agentID string, accessLevel, memoryLevel memory.Tier, success bool) {
	if h == nil {
		return
	}
	h.ops.Info(string(op),
		zap.String("memory_id", memoryID),
		zap.String("agent_id", agentID),
		zap.String("access_level", string(accessLevel)),
		zap.String("memory_level", string(memoryLevel)),
		zap.Bool("success", success),
	)
}

// Tombstone records the final state of a deleted entry, including its
// closing deleted event, so its audit trail outlives it.
func (h *Hooks) Tombstone(e *memory.Entry) {
	if h == nil || e == nil {
		return
	}
	h.ops.Info(TombstoneEvent,
		zap.String("memory_id", e.ID),
		zap.String("memory_level", string(e.Scope.Level)),
		zap.String("project_id", e.Scope.ProjectID),
		zap.String("agent_id", e.Scope.AgentID),
		zap.String("created_by", e.CreatedBy),
		zap.String("promoted_from", e.PromotedFrom),
		zap.Any("provenance", e.Provenance),
	)
}

// Cleanup records an expiry sweep of the agent tier.
func (h *Hooks) Cleanup(removed int) {
	if h == nil {
		return
	}
	h.ops.Info(string(OpCleanup), zap.Int("removed", removed))
}

// AccessViolation records a denied operation.
func (h *Hooks) AccessViolation(agentID string, accessLevel memory.Tier, operation string, err error) {
	if h == nil {
		return
	}
	h.violations.Warn("access_violation",
		zap.String("agent_id", agentID),
		zap.String("access_level", string(accessLevel)),
		zap.String("attempted_operation", operation),
		zap.String("reason", reason(err)),
	)
}

// PromotionProposed records a newly created proposal.
func (h *Hooks) PromotionProposed(p *memory.Proposal) {
	if h == nil || p == nil {
		return
	}
	h.promotions.Info("promotion_proposed",
		zap.String("proposal_id", p.ID),
		zap.String("memory_id", p.MemoryID),
		zap.String("from_level", string(p.FromScope.Level)),
		zap.String("to_level", string(p.ToScope.Level)),
		zap.String("proposed_by", p.ProposedBy),
		zap.String("rationale", p.Rationale),
	)
}

// PromotionDecision records an approval or rejection. promotedID is empty
// for rejections.
func (h *Hooks) PromotionDecision(p *memory.Proposal, promotedID string) {
	if h == nil || p == nil {
		return
	}
	event := "promotion_rejected"
	if p.Status == memory.StatusApproved {
		event = "promotion_approved"
	}
	fields := []zap.Field{
		zap.String("proposal_id", p.ID),
		zap.String("memory_id", p.MemoryID),
		zap.String("reviewer", p.ReviewedBy),
		zap.String("review_notes", p.ReviewNotes),
	}
	if promotedID != "" {
		fields = append(fields, zap.String("promoted_memory_id", promotedID))
	}
	h.promotions.Info(event, fields...)
}

// Close flushes and closes every sink.
func (h *Hooks) Close() error {
	if h == nil {
		return nil
	}
	var errs []error
	for _, l := range []*zap.Logger{h.ops, h.violations, h.promotions} {
		if l != nil {
			_ = l.Sync()
		}
	}
	for _, f := range h.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.files = nil
	return errors.Join(errs...)
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	var merr *memory.Error
	if errors.As(err, &merr) {
		return merr.Message
	}
	return err.Error()
}
