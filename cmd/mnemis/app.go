package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/entrhq/mnemis/pkg/config"
	"github.com/entrhq/mnemis/pkg/memory"
	"github.com/entrhq/mnemis/pkg/memory/access"
	"github.com/entrhq/mnemis/pkg/memory/promotion"
	"github.com/entrhq/mnemis/pkg/memory/search"
	"github.com/entrhq/mnemis/pkg/memory/store"
	"github.com/entrhq/mnemis/pkg/memory/telemetry"
	"go.uber.org/zap"
)

// app is one opened MNEMIS store with its engines.
type app struct {
	opts      *options
	ac        *access.Controller
	store     *store.Store
	promotion *promotion.Engine
	search    *search.Engine
	hooks     *telemetry.Hooks
}

// openApp opens the store under opts.dir. Callers must Close it to release
// the single-writer lock.
func openApp(opts *options) (*app, error) {
	a := &app{opts: opts}

	if enabled, dir := config.GetTelemetry().Settings(); enabled {
		if dir == "" {
			dir = filepath.Join(opts.dir, "telemetry")
		}
		hooks, err := telemetry.New(dir)
		if err != nil {
			return nil, err
		}
		a.hooks = hooks
	}

	a.ac = access.NewController(access.WithTelemetry(a.hooks))
	s, err := store.Open(opts.dir, a.ac, store.WithTelemetry(a.hooks))
	if err != nil {
		a.hooks.Close()
		if errors.Is(err, store.ErrLocked) {
			return nil, fmt.Errorf("%w (run 'mnemis unlock' if no other mnemis is running)", err)
		}
		return nil, err
	}
	a.store = s

	review := config.GetReview()
	policy, err := promotion.NewReviewerPolicy(review.GaiaReviewers(), review.ProjectReviewers())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.promotion, err = promotion.NewEngine(s, a.ac,
		promotion.WithProposalLog(filepath.Join(opts.dir, promotion.ProposalsFile)),
		promotion.WithReviewerPolicy(policy),
		promotion.WithTelemetry(a.hooks),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.search = search.NewEngine(s, a.ac)

	opts.logger.Debug("store opened",
		zap.String("dir", opts.dir),
		zap.Int("gaia", s.Count(memory.TierGaia)),
		zap.Int("project", s.Count(memory.TierProject)),
		zap.Int("proposals", len(a.promotion.All())))
	return a, nil
}

// Close releases the store lock and telemetry files.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.opts.logger.Warn("failed to close store", zap.Error(err))
		}
	}
	if err := a.hooks.Close(); err != nil {
		a.opts.logger.Warn("failed to close telemetry", zap.Error(err))
	}
}

// contract registers the --agent/--level/--project identity.
func (a *app) contract() (*memory.Contract, error) {
	if a.opts.agent == "" {
		return nil, errors.New("--agent is required")
	}
	level, err := memory.ParseTier(a.opts.level)
	if err != nil {
		return nil, err
	}
	return a.ac.RegisterAgent(a.opts.agent, level, a.opts.project)
}

// reviewer returns the --agent id used as reviewer name.
func (a *app) reviewer() (string, error) {
	if a.opts.agent == "" {
		return "", errors.New("--agent is required to review proposals")
	}
	return a.opts.agent, nil
}

// scopeFor builds the write scope of contract c. ttl applies only to the
// agent tier and is bounded by the agent_memory section.
func scopeFor(c *memory.Contract, ttl time.Duration) (memory.Scope, error) {
	switch c.AccessLevel {
	case memory.TierGaia:
		return memory.GaiaScope(), nil
	case memory.TierProject:
		return memory.ProjectScope(c.ProjectID)
	default:
		def, max := config.GetAgentMemory().TTLs()
		if ttl < 0 {
			return memory.Scope{}, memory.Validationf("write", "ttl must not be negative")
		}
		if ttl == 0 {
			ttl = def
		}
		if max > 0 && ttl > max {
			return memory.Scope{}, memory.Validationf("write", "ttl %s exceeds maximum %s", ttl, max)
		}
		return memory.AgentScope(c.ProjectID, c.AgentID, ttl)
	}
}

// promotionTarget returns the scope one tier above contract c.
func promotionTarget(c *memory.Contract) (memory.Scope, error) {
	switch c.AccessLevel {
	case memory.TierAgent:
		return memory.ProjectScope(c.ProjectID)
	case memory.TierProject:
		return memory.GaiaScope(), nil
	default:
		return memory.Scope{}, memory.Validationf("propose", "gaia memory cannot be promoted")
	}
}
