package commission

import (
	"github.com/shopspring/decimal"

	"realty-network/internal/services/compensation/rules"
)

type Payout struct {
	Gross decimal.Decimal `json:"gross"`
	Tax   decimal.Decimal `json:"tax"`
	Net   decimal.Decimal `json:"net"`
}

type LevelProjection struct {
	Level           int             `json:"level"`
	Type            string          `json:"type"`
	Basis           string          `json:"basis"`
	Value           decimal.Decimal `json:"value"`
	RequiredDirects int             `json:"required_directs"`
	RequiredRank    string          `json:"required_rank,omitempty"`
	Payout
}

// Projection is what a transaction of Amount would pay if every gate passed.
type Projection struct {
	Amount   decimal.Decimal   `json:"amount"`
	Direct   Payout            `json:"direct"`
	Pool     decimal.Decimal   `json:"pool"`
	Levels   []LevelProjection `json:"levels"`
	LevelNet decimal.Decimal   `json:"level_net"`
	TotalNet decimal.Decimal   `json:"total_net"`
}

func split(plan rules.Plan, gross decimal.Decimal) Payout {
	g, tax, net := plan.Split(gross)
	return Payout{Gross: g, Tax: tax, Net: net}
}

// Project computes the projected payouts of amount under plan. Nothing is
// persisted.
func Project(plan rules.Plan, amount decimal.Decimal) Projection {
	pool := rules.Percent(amount, plan.PoolPercent)
	p := Projection{
		Amount:   amount,
		Direct:   split(plan, rules.Percent(amount, plan.DirectPercent)),
		Pool:     pool.Round(2),
		LevelNet: decimal.Zero,
	}

	for level := 1; level <= plan.MaxLevel; level++ {
		rule, ok := plan.RuleFor(level)
		if !ok {
			continue
		}
		lp := LevelProjection{
			Level:           level,
			Type:            rule.Type,
			Basis:           rule.Basis,
			Value:           rule.Value,
			RequiredDirects: rule.RequiredDirects,
			RequiredRank:    rule.RequiredRank,
			Payout:          split(plan, rule.Gross(amount, pool)),
		}
		p.Levels = append(p.Levels, lp)
		p.LevelNet = p.LevelNet.Add(lp.Net)
	}
	p.TotalNet = p.Direct.Net.Add(p.LevelNet)
	return p
}
