package rules

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"realty-network/internal/database/models"
)

// Source supplies the persisted rule and rank tables.
type Source interface {
	ListCommissionRules(ctx context.Context) ([]models.CommissionRule, error)
	ListRanks(ctx context.Context) ([]models.Rank, error)
}

// Registry holds the process-wide plan. Engines take one Snapshot per
// evaluation pass; administrative updates call Invalidate.
type Registry struct {
	mu      sync.RWMutex
	base    Plan
	current *Plan
	source  Source
	log     *logrus.Entry
}

func NewRegistry(base Plan, source Source, logger *logrus.Logger) *Registry {
	return &Registry{
		base:   base.Clone(),
		source: source,
		log:    logger.WithField("component", "rules"),
	}
}

func (r *Registry) Snapshot(ctx context.Context) (Plan, error) {
	r.mu.RLock()
	if r.current != nil {
		p := r.current.Clone()
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()
	return r.Reload(ctx)
}

// Reload rebuilds the plan from the base schedule, the persisted commission
// rules and the persisted rank ids.
func (r *Registry) Reload(ctx context.Context) (Plan, error) {
	persisted, err := r.source.ListCommissionRules(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("load commission rules: %w", err)
	}
	ranks, err := r.source.ListRanks(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("load ranks: %w", err)
	}

	plan := r.base.WithRules(persisted)
	byName := make(map[string]models.Rank, len(ranks))
	for _, rk := range ranks {
		byName[strings.ToLower(rk.Name)] = rk
	}
	for i, t := range plan.Tiers {
		rk, ok := byName[strings.ToLower(t.Name)]
		if !ok || !rk.IsActive {
			r.log.WithField("rank", t.Name).Warn("Rank tier has no persisted rank row")
			continue
		}
		plan.Tiers[i].RankID = rk.ID
	}

	r.mu.Lock()
	r.current = &plan
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"rules": len(persisted),
		"ranks": len(ranks),
	}).Info("Compensation plan loaded")
	return plan.Clone(), nil
}

func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

// Base returns the plan before persisted overrides.
func (r *Registry) Base() Plan {
	return r.base.Clone()
}
