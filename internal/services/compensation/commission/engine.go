package commission

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"realty-network/internal/database/models"
	"realty-network/internal/services/compensation/metrics"
	"realty-network/internal/services/compensation/rules"
	"realty-network/internal/services/compensation/store"
)

// Skip reasons. A skip writes nothing.
const (
	ReasonNoAmount            = "no_amount"
	ReasonNoSponsor           = "no_sponsor"
	ReasonInactive            = "inactive"
	ReasonNoRule              = "no_rule"
	ReasonRankGate            = "rank_gate"
	ReasonInsufficientDirects = "insufficient_directs"
	ReasonZeroPayout          = "zero_payout"
	ReasonCheckFailed         = "check_failed"
	ReasonPayoutFailed        = "payout_failed"
)

// Store is what the engine needs from persistence.
type Store interface {
	GetParticipant(ctx context.Context, id int64) (*models.Participant, error)
	CountActiveDirects(ctx context.Context, sponsorID int64) (int64, error)
	// RecordPayout inserts the entry and credits the beneficiary's wallet as
	// one atomic unit: balance by the entry's net, total earned by earned.
	RecordPayout(ctx context.Context, entry *models.LedgerEntry, earned decimal.Decimal) error
}

type Skip struct {
	Level         int    `json:"level"`
	ParticipantID int64  `json:"participant_id"`
	Reason        string `json:"reason"`
}

type Result struct {
	TransactionID int64                `json:"transaction_id"`
	Entries       []models.LedgerEntry `json:"entries"`
	Skips         []Skip               `json:"skips"`
}

// Beneficiaries lists every participant credited, without duplicates.
func (r *Result) Beneficiaries() []int64 {
	seen := make(map[int64]bool, len(r.Entries))
	var out []int64
	for _, e := range r.Entries {
		if !seen[e.BeneficiaryID] {
			seen[e.BeneficiaryID] = true
			out = append(out, e.BeneficiaryID)
		}
	}
	return out
}

func (r *Result) TotalNet() decimal.Decimal {
	total := decimal.Zero
	for _, e := range r.Entries {
		total = total.Add(e.NetAmount)
	}
	return total
}

type Engine struct {
	store Store
	log   *logrus.Entry
}

func NewEngine(s Store, logger *logrus.Logger) *Engine {
	return &Engine{
		store: s,
		log:   logger.WithField("component", "commission"),
	}
}

// Distribute pays the sponsor chain of txn: the direct incentive to the
// sponsor, then the level pool up to plan.MaxLevel. Each payout is atomic on
// its own; the walk is not. A returned error means the walk was abandoned and
// the entries already in Result stay written.
func (e *Engine) Distribute(ctx context.Context, plan rules.Plan, txn models.Investment) (*Result, error) {
	res := &Result{TransactionID: txn.ID}
	log := e.log.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"owner_id":       txn.OwnerID,
	})

	amount := txn.CommissionBase()
	if !amount.IsPositive() {
		e.skip(res, log, 0, txn.OwnerID, ReasonNoAmount)
		return res, nil
	}

	owner, err := e.store.GetParticipant(ctx, txn.OwnerID)
	if err != nil {
		return res, fmt.Errorf("load transaction owner %d: %w", txn.OwnerID, err)
	}
	if owner.SponsorID == nil {
		e.skip(res, log, 0, owner.ID, ReasonNoSponsor)
		return res, nil
	}

	upline, err := e.store.GetParticipant(ctx, *owner.SponsorID)
	if err != nil {
		return res, fmt.Errorf("load sponsor %d: %w", *owner.SponsorID, err)
	}

	if upline.IsActive() {
		gross := rules.Percent(amount, plan.DirectPercent)
		e.pay(ctx, plan, res, log, upline.ID, owner.ID, nil, models.LedgerKindDirect, amount, plan.DirectPercent, gross)
	} else {
		e.skip(res, log, 0, upline.ID, ReasonInactive)
	}

	pool := rules.Percent(amount, plan.PoolPercent)
	visited := map[int64]bool{owner.ID: true}

	for level := 1; level <= plan.MaxLevel; level++ {
		if visited[upline.ID] {
			return res, fmt.Errorf("level %d participant %d: %w", level, upline.ID, store.ErrSponsorCycle)
		}
		visited[upline.ID] = true

		e.payLevel(ctx, plan, res, log, level, upline, owner.ID, amount, pool)

		if level == plan.MaxLevel || upline.SponsorID == nil {
			break
		}
		next, err := e.store.GetParticipant(ctx, *upline.SponsorID)
		if err != nil {
			return res, fmt.Errorf("load upline at level %d: %w", level+1, err)
		}
		upline = next
	}

	log.WithFields(logrus.Fields{
		"entries":   len(res.Entries),
		"skips":     len(res.Skips),
		"total_net": res.TotalNet().StringFixed(2),
	}).Info("Commission distribution finished")
	return res, nil
}

func (e *Engine) payLevel(ctx context.Context, plan rules.Plan, res *Result, log *logrus.Entry, level int, p *models.Participant, sourceID int64, amount, pool decimal.Decimal) {
	rule, ok := plan.RuleFor(level)
	if !ok {
		e.skip(res, log, level, p.ID, ReasonNoRule)
		return
	}
	if !p.IsActive() {
		e.skip(res, log, level, p.ID, ReasonInactive)
		return
	}
	if rule.RequiredRank != "" && !plan.HoldsRank(p.RankName, rule.RequiredRank) {
		e.skip(res, log, level, p.ID, ReasonRankGate)
		return
	}
	if rule.RequiredDirects > 0 {
		directs, err := e.store.CountActiveDirects(ctx, p.ID)
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"level":          level,
				"participant_id": p.ID,
			}).Error("Failed to count active directs")
			e.skip(res, log, level, p.ID, ReasonCheckFailed)
			return
		}
		if directs < int64(rule.RequiredDirects) {
			e.skip(res, log, level, p.ID, ReasonInsufficientDirects)
			return
		}
	}

	lvl := level
	e.pay(ctx, plan, res, log, p.ID, sourceID, &lvl, models.LedgerKindLevelPool, ruleBase(rule, amount, pool), rule.Value, rule.Gross(amount, pool))
}

func ruleBase(rule rules.LevelRule, amount, pool decimal.Decimal) decimal.Decimal {
	if rule.Basis == models.RuleBasisPool {
		return pool
	}
	return amount
}

func (e *Engine) pay(ctx context.Context, plan rules.Plan, res *Result, log *logrus.Entry, beneficiaryID, sourceID int64, level *int, kind string, basis, rate, gross decimal.Decimal) {
	lvl := 0
	if level != nil {
		lvl = *level
	}

	g, tax, net := plan.Split(gross)
	if !g.IsPositive() {
		e.skip(res, log, lvl, beneficiaryID, ReasonZeroPayout)
		return
	}

	entry := models.LedgerEntry{
		EntryRef:            uuid.NewString(),
		BeneficiaryID:       beneficiaryID,
		SourceParticipantID: sourceID,
		Level:               level,
		Kind:                kind,
		BasisAmount:         basis.Round(2),
		Rate:                rate,
		GrossAmount:         g,
		TaxAmount:           tax,
		NetAmount:           net,
		Status:              models.LedgerStatusEarned,
		TransactionID:       res.TransactionID,
	}

	fields := logrus.Fields{
		"level":          lvl,
		"kind":           kind,
		"participant_id": beneficiaryID,
	}
	if err := e.store.RecordPayout(ctx, &entry, plan.Earned(g, net)); err != nil {
		log.WithError(err).WithFields(fields).Error("Failed to record payout")
		e.skip(res, log, lvl, beneficiaryID, ReasonPayoutFailed)
		return
	}

	res.Entries = append(res.Entries, entry)
	metrics.RecordLedgerEntry(kind, net)
	log.WithFields(fields).WithFields(logrus.Fields{
		"gross": g.StringFixed(2),
		"tax":   tax.StringFixed(2),
		"net":   net.StringFixed(2),
	}).Info("Commission paid")
}

func (e *Engine) skip(res *Result, log *logrus.Entry, level int, participantID int64, reason string) {
	res.Skips = append(res.Skips, Skip{Level: level, ParticipantID: participantID, Reason: reason})
	metrics.RecordSkip(reason)
	log.WithFields(logrus.Fields{
		"level":          level,
		"participant_id": participantID,
		"reason":         reason,
	}).Debug("Commission skipped")
}
