package rank

import (
	"context"

	"github.com/shopspring/decimal"

	"realty-network/internal/services/compensation/rules"
	"realty-network/internal/services/compensation/volume"
)

type Progress struct {
	ParticipantID    int64           `json:"participant_id"`
	CurrentRank      string          `json:"current_rank"`
	CurrentOrder     int             `json:"current_order"`
	NextRank         string          `json:"next_rank,omitempty"`
	TargetVolume     decimal.Decimal `json:"target_volume"`
	Legs             []volume.Leg    `json:"legs"`
	StrongestLegID   int64           `json:"strongest_leg_id,omitempty"`
	StrongestLeg     decimal.Decimal `json:"strongest_leg"`
	OtherLegs        decimal.Decimal `json:"other_legs"`
	StrongCap        decimal.Decimal `json:"strong_cap"`
	WeakCap          decimal.Decimal `json:"weak_cap"`
	CappedStrongest  decimal.Decimal `json:"capped_strongest"`
	CappedOthers     decimal.Decimal `json:"capped_others"`
	QualifyingVolume decimal.Decimal `json:"qualifying_volume"`
	Remaining        decimal.Decimal `json:"remaining"`
	PercentComplete  decimal.Decimal `json:"percent_complete"`
	PersonalVolume   decimal.Decimal `json:"personal_volume"`
	TopRankAchieved  bool            `json:"top_rank_achieved"`
}

// Progress reports how far a participant is from the next tier.
func (e *Engine) Progress(ctx context.Context, plan rules.Plan, participantID int64) (*Progress, error) {
	p, err := e.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}

	pass := e.agg.NewPass()
	legs, err := pass.LegVolumes(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	personal, err := pass.ParticipantVolume(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	strongest, others, strongestID := volume.Balance(legs)

	out := &Progress{
		ParticipantID:   p.ID,
		CurrentRank:     p.RankName,
		CurrentOrder:    plan.TierOrder(p.RankName),
		Legs:            legs,
		StrongestLegID:  strongestID,
		StrongestLeg:    strongest,
		OtherLegs:       others,
		PersonalVolume:  personal,
		TargetVolume:    decimal.Zero,
		StrongCap:       decimal.Zero,
		WeakCap:         decimal.Zero,
		CappedStrongest: decimal.Zero,
		CappedOthers:    decimal.Zero,
		Remaining:       decimal.Zero,
	}

	next, ok := plan.NextTier(out.CurrentOrder)
	if !ok {
		out.TopRankAchieved = true
		out.PercentComplete = decimal.NewFromInt(100)
		out.QualifyingVolume = strongest.Add(others)
		return out, nil
	}

	out.NextRank = next.Name
	out.TargetVolume = next.Target
	out.StrongCap = rules.Percent(next.Target, plan.StrongLegPercent)
	out.WeakCap = rules.Percent(next.Target, plan.WeakLegPercent)
	out.CappedStrongest = decimal.Min(strongest, out.StrongCap)
	out.CappedOthers = others
	if plan.CapWeakLegs {
		out.CappedOthers = decimal.Min(others, out.WeakCap)
	}
	out.QualifyingVolume = out.CappedStrongest.Add(out.CappedOthers)

	if next.Target.IsPositive() {
		pct := out.QualifyingVolume.Div(next.Target).Mul(decimal.NewFromInt(100))
		out.PercentComplete = decimal.Min(pct, decimal.NewFromInt(100)).Round(2)
		if rem := next.Target.Sub(out.QualifyingVolume); rem.IsPositive() {
			out.Remaining = rem
		}
	} else {
		out.PercentComplete = decimal.NewFromInt(100)
	}
	return out, nil
}
