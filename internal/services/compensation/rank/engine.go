package rank

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"realty-network/internal/database/models"
	"realty-network/internal/services/compensation/metrics"
	"realty-network/internal/services/compensation/rules"
	"realty-network/internal/services/compensation/store"
	"realty-network/internal/services/compensation/volume"
)

const (
	SkipInactive = "inactive"
	SkipKYC      = "kyc_not_approved"
)

type Store interface {
	GetParticipant(ctx context.Context, id int64) (*models.Participant, error)
	// Promote retires the current assignment, inserts assignment as current,
	// updates the participant's rank name and stores the reward, atomically.
	// It writes nothing and returns store.ErrRankChanged unless the
	// participant still holds fromRank.
	Promote(ctx context.Context, assignment *models.RankAssignment, fromRank, rankName string, reward *models.RankReward) error
	ListActiveParticipantIDs(ctx context.Context) ([]int64, error)
}

type Outcome struct {
	ParticipantID int64    `json:"participant_id"`
	Previous      string   `json:"previous_rank"`
	Current       string   `json:"current_rank"`
	Promoted      []string `json:"promoted,omitempty"`
	Skipped       string   `json:"skipped,omitempty"`
}

type SweepReport struct {
	Evaluated int           `json:"evaluated"`
	Promoted  int           `json:"promoted"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

type Engine struct {
	store Store
	agg   *volume.Aggregator
	log   *logrus.Entry
}

func NewEngine(s Store, agg *volume.Aggregator, logger *logrus.Logger) *Engine {
	return &Engine{
		store: s,
		agg:   agg,
		log:   logger.WithField("component", "rank"),
	}
}

// QualifyingVolume applies the balanced-leg rule: the strongest leg counts
// up to StrongLegPercent of target and the other legs up to WeakLegPercent.
// With CapWeakLegs off the other legs count in full.
func QualifyingVolume(plan rules.Plan, strongest, others, target decimal.Decimal) decimal.Decimal {
	strongCap := rules.Percent(target, plan.StrongLegPercent)
	weak := others
	if plan.CapWeakLegs {
		weak = decimal.Min(others, rules.Percent(target, plan.WeakLegPercent))
	}
	return decimal.Min(strongest, strongCap).Add(weak)
}

// Evaluate re-checks one participant against every tier.
func (e *Engine) Evaluate(ctx context.Context, plan rules.Plan, participantID int64) (*Outcome, error) {
	p, err := e.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, plan, e.agg.NewPass(), p)
}

func (e *Engine) evaluate(ctx context.Context, plan rules.Plan, pass *volume.Pass, p *models.Participant) (*Outcome, error) {
	out := &Outcome{ParticipantID: p.ID, Previous: p.RankName, Current: p.RankName}
	log := e.log.WithField("participant_id", p.ID)

	if !p.IsActive() {
		out.Skipped = SkipInactive
		log.Debug("Rank evaluation skipped: participant inactive")
		return out, nil
	}
	if !p.KYCApproved() {
		out.Skipped = SkipKYC
		log.Debug("Rank evaluation skipped: KYC not approved")
		return out, nil
	}

	legs, err := pass.LegVolumes(ctx, p.ID)
	if err != nil {
		return out, fmt.Errorf("leg volumes of %d: %w", p.ID, err)
	}
	strongest, others, _ := volume.Balance(legs)
	currentOrder := plan.TierOrder(p.RankName)

	for _, tier := range plan.Tiers {
		if tier.Order <= currentOrder {
			continue
		}
		if QualifyingVolume(plan, strongest, others, tier.Target).LessThan(tier.Target) {
			continue
		}
		if tier.RankID == 0 {
			log.WithField("rank", tier.Name).Warn("Rank tier has no persisted rank row, skipping")
			continue
		}

		now := time.Now()
		assignment := &models.RankAssignment{
			ParticipantID: p.ID,
			RankID:        tier.RankID,
			IsCurrent:     true,
			AchievedAt:    now,
		}
		reward := &models.RankReward{
			RewardRef:     uuid.NewString(),
			ParticipantID: p.ID,
			RankID:        tier.RankID,
			RewardType:    models.RewardTypePhysical,
			Description:   tier.Reward,
			Amount:        decimal.Zero,
			Status:        models.RewardPending,
		}
		err := e.store.Promote(ctx, assignment, out.Current, tier.Name, reward)
		if errors.Is(err, store.ErrRankChanged) {
			// Another evaluation got there first. Continue from the rank it wrote.
			fresh, gerr := e.store.GetParticipant(ctx, p.ID)
			if gerr != nil {
				return out, fmt.Errorf("reload %d after concurrent promotion: %w", p.ID, gerr)
			}
			out.Current = fresh.RankName
			currentOrder = plan.TierOrder(fresh.RankName)
			log.WithField("rank", fresh.RankName).Debug("Rank changed concurrently")
			continue
		}
		if err != nil {
			return out, fmt.Errorf("promote %d to %s: %w", p.ID, tier.Name, err)
		}

		currentOrder = tier.Order
		out.Current = tier.Name
		out.Promoted = append(out.Promoted, tier.Name)
		metrics.RecordPromotion(tier.Name)
		log.WithFields(logrus.Fields{
			"rank":      tier.Name,
			"strongest": strongest.StringFixed(2),
			"others":    others.StringFixed(2),
		}).Info("Participant promoted")
	}
	return out, nil
}

// PropagateUpward evaluates start and then every ancestor over one shared
// volume pass. An evaluation failure is logged and the walk goes on; failing
// to read the next ancestor ends it.
func (e *Engine) PropagateUpward(ctx context.Context, plan rules.Plan, startID int64) ([]Outcome, error) {
	pass := e.agg.NewPass()
	visited := make(map[int64]bool)
	var outcomes []Outcome

	id := startID
	for {
		if visited[id] {
			return outcomes, fmt.Errorf("participant %d: %w", id, store.ErrSponsorCycle)
		}
		visited[id] = true

		p, err := e.store.GetParticipant(ctx, id)
		if err != nil {
			return outcomes, fmt.Errorf("load participant %d: %w", id, err)
		}

		out, err := e.evaluate(ctx, plan, pass, p)
		if err != nil {
			e.log.WithError(err).WithField("participant_id", id).Error("Rank evaluation failed")
		} else {
			outcomes = append(outcomes, *out)
		}

		if p.SponsorID == nil {
			return outcomes, nil
		}
		id = *p.SponsorID
	}
}

// Sweep evaluates every active participant with bounded concurrency. One
// participant's failure never stops the others.
func (e *Engine) Sweep(ctx context.Context, plan rules.Plan, concurrency int) (*SweepReport, error) {
	start := time.Now()
	ids, err := e.store.ListActiveParticipantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active participants: %w", err)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	pass := e.agg.NewPass()
	report := &SweepReport{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := e.store.GetParticipant(gctx, id)
			var out *Outcome
			if err == nil {
				out, err = e.evaluate(gctx, plan, pass, p)
			}

			mu.Lock()
			defer mu.Unlock()
			report.Evaluated++
			if err != nil {
				report.Failed++
				e.log.WithError(err).WithField("participant_id", id).Error("Rank sweep evaluation failed")
				return nil
			}
			if len(out.Promoted) > 0 {
				report.Promoted++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	report.Duration = time.Since(start)
	metrics.ObserveSweep(report.Duration)
	e.log.WithFields(logrus.Fields{
		"evaluated": report.Evaluated,
		"promoted":  report.Promoted,
		"failed":    report.Failed,
		"duration":  report.Duration.String(),
	}).Info("Rank sweep finished")
	return report, nil
}
