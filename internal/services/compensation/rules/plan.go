package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"realty-network/internal/database/models"
)

const (
	EarnedNet   = "NET"
	EarnedGross = "GROSS"
)

var (
	ErrInvalidRule = errors.New("invalid commission rule")
	ErrInvalidPlan = errors.New("invalid compensation plan")

	hundred = decimal.NewFromInt(100)
)

// LevelRule is the resolved rule for one level of the sponsor walk.
type LevelRule struct {
	Level           int
	Type            string
	Value           decimal.Decimal
	Basis           string
	RequiredRank    string
	RequiredDirects int
	Active          bool
}

// RangeRule applies one percentage to every level in [From, To].
type RangeRule struct {
	From            int
	To              int
	Percent         decimal.Decimal
	RequiredDirects int
}

type RankTier struct {
	Name   string
	Target decimal.Decimal
	Order  int
	Reward string
	// RankID is the persisted rank row, zero until resolved by the registry.
	RankID int64
}

type Plan struct {
	DirectPercent    decimal.Decimal
	PoolPercent      decimal.Decimal
	TDSRate          decimal.Decimal
	MaxLevel         int
	Levels           map[int]LevelRule
	Fallback         RangeRule
	Tiers            []RankTier
	StrongLegPercent decimal.Decimal
	WeakLegPercent   decimal.Decimal
	CapWeakLegs      bool
	EarnedBasis      string
}

func DefaultPlan() Plan {
	return Plan{
		DirectPercent: decimal.NewFromInt(5),
		PoolPercent:   decimal.NewFromInt(15),
		TDSRate:       decimal.NewFromInt(5),
		MaxLevel:      10,
		Levels: map[int]LevelRule{
			1: poolLevel(1, 30, 1),
			2: poolLevel(2, 20, 1),
			3: poolLevel(3, 15, 2),
		},
		Fallback: RangeRule{
			From:            4,
			To:              10,
			Percent:         decimal.NewFromInt(5),
			RequiredDirects: 3,
		},
		Tiers:            DefaultTiers(),
		StrongLegPercent: decimal.NewFromInt(60),
		WeakLegPercent:   decimal.NewFromInt(40),
		CapWeakLegs:      true,
		EarnedBasis:      EarnedNet,
	}
}

func poolLevel(level int, percent int64, directs int) LevelRule {
	return LevelRule{
		Level:           level,
		Type:            models.RuleTypePercentage,
		Value:           decimal.NewFromInt(percent),
		Basis:           models.RuleBasisPool,
		RequiredDirects: directs,
		Active:          true,
	}
}

// DefaultTiers is the rank ladder in ascending display order.
func DefaultTiers() []RankTier {
	return []RankTier{
		{Name: "Associate", Target: decimal.Zero, Order: 1},
		{Name: "Team Leader", Target: decimal.NewFromInt(1_500_000), Order: 2, Reward: "Android Tablet"},
		{Name: "Regional Head", Target: decimal.NewFromInt(5_000_000), Order: 3, Reward: "Electric Scooty"},
		{Name: "Zonal Head", Target: decimal.NewFromInt(15_000_000), Order: 4, Reward: "Royal Enfield Hunter"},
		{Name: "General Manager", Target: decimal.NewFromInt(50_000_000), Order: 5, Reward: "Maruti Fronx"},
		{Name: "VP", Target: decimal.NewFromInt(150_000_000), Order: 6, Reward: "XUV 700 / Scorpio"},
		{Name: "President", Target: decimal.NewFromInt(400_000_000), Order: 7, Reward: "Toyota Fortuner"},
		{Name: "EG Brand Ambassador", Target: decimal.NewFromInt(1_000_000_000), Order: 8, Reward: "BMW / Audi / Mercedes"},
	}
}

// Clone returns a copy that shares no mutable state with p.
func (p Plan) Clone() Plan {
	out := p
	out.Levels = make(map[int]LevelRule, len(p.Levels))
	for k, v := range p.Levels {
		out.Levels[k] = v
	}
	out.Tiers = append([]RankTier(nil), p.Tiers...)
	return out
}

// RuleFor resolves the rule of a level: an explicit rule first, then the
// fallback range. An explicit inactive rule disables the level.
func (p Plan) RuleFor(level int) (LevelRule, bool) {
	if level < 1 || level > p.MaxLevel {
		return LevelRule{}, false
	}
	if r, ok := p.Levels[level]; ok {
		return r, r.Active
	}
	if p.Fallback.From > 0 && level >= p.Fallback.From && level <= p.Fallback.To {
		return LevelRule{
			Level:           level,
			Type:            models.RuleTypePercentage,
			Value:           p.Fallback.Percent,
			Basis:           models.RuleBasisPool,
			RequiredDirects: p.Fallback.RequiredDirects,
			Active:          true,
		}, true
	}
	return LevelRule{}, false
}

// Gross is the payout of the rule before tax. FIXED rules pay their value;
// percentages apply to the pool or to the transaction amount per basis.
func (r LevelRule) Gross(amount, pool decimal.Decimal) decimal.Decimal {
	if r.Type == models.RuleTypeFixed {
		return r.Value
	}
	base := amount
	if r.Basis == models.RuleBasisPool {
		base = pool
	}
	return base.Mul(r.Value).Div(hundred)
}

// Percent returns amount * pct / 100.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// Split rounds gross to cents and withholds TDS. Net is exactly gross - tax.
func (p Plan) Split(gross decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	g := gross.Round(2)
	tax := Percent(g, p.TDSRate).Round(2)
	return g, tax, g.Sub(tax)
}

// Earned is the amount added to a wallet's total earned for one payout.
func (p Plan) Earned(gross, net decimal.Decimal) decimal.Decimal {
	if p.EarnedBasis == EarnedGross {
		return gross
	}
	return net
}

func (p Plan) Tier(name string) (RankTier, bool) {
	for _, t := range p.Tiers {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return RankTier{}, false
}

// TierOrder is the display order of a rank name, zero when unknown.
func (p Plan) TierOrder(name string) int {
	if t, ok := p.Tier(name); ok {
		return t.Order
	}
	return 0
}

// NextTier returns the lowest tier above order.
func (p Plan) NextTier(order int) (RankTier, bool) {
	for _, t := range p.Tiers {
		if t.Order > order {
			return t, true
		}
	}
	return RankTier{}, false
}

// HoldsRank reports whether a participant at current passes a gate requiring
// required. Names outside the tier ladder only match themselves.
func (p Plan) HoldsRank(current, required string) bool {
	if required == "" {
		return true
	}
	req, ok := p.Tier(required)
	if !ok {
		return strings.EqualFold(strings.TrimSpace(current), strings.TrimSpace(required))
	}
	return p.TierOrder(current) >= req.Order
}

// RankRows converts the tiers into rows for seeding the rank table.
func (p Plan) RankRows() []models.Rank {
	rows := make([]models.Rank, 0, len(p.Tiers))
	for _, t := range p.Tiers {
		rows = append(rows, models.Rank{
			Name:         t.Name,
			TargetVolume: t.Target,
			DisplayOrder: t.Order,
			Reward:       t.Reward,
			IsActive:     true,
		})
	}
	return rows
}

func (p Plan) Validate() error {
	if p.MaxLevel < 1 {
		return fmt.Errorf("%w: max level must be at least 1", ErrInvalidPlan)
	}
	for name, pct := range map[string]decimal.Decimal{
		"direct percent":     p.DirectPercent,
		"pool percent":       p.PoolPercent,
		"tds rate":           p.TDSRate,
		"strong leg percent": p.StrongLegPercent,
		"weak leg percent":   p.WeakLegPercent,
	} {
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return fmt.Errorf("%w: %s must be between 0 and 100", ErrInvalidPlan, name)
		}
	}
	if p.EarnedBasis != EarnedNet && p.EarnedBasis != EarnedGross {
		return fmt.Errorf("%w: earned basis must be %s or %s", ErrInvalidPlan, EarnedNet, EarnedGross)
	}
	if !sort.SliceIsSorted(p.Tiers, func(i, j int) bool { return p.Tiers[i].Order < p.Tiers[j].Order }) {
		return fmt.Errorf("%w: tiers must be in ascending display order", ErrInvalidPlan)
	}
	for i := 1; i < len(p.Tiers); i++ {
		if p.Tiers[i].Order == p.Tiers[i-1].Order {
			return fmt.Errorf("%w: duplicate tier order %d", ErrInvalidPlan, p.Tiers[i].Order)
		}
	}
	return nil
}
