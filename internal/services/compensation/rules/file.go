package rules

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"realty-network/internal/database/models"
)

type planFile struct {
	DirectPercent    *float64    `yaml:"direct_percent"`
	PoolPercent      *float64    `yaml:"pool_percent"`
	TDSRate          *float64    `yaml:"tds_rate"`
	MaxLevel         *int        `yaml:"max_level"`
	StrongLegPercent *float64    `yaml:"strong_leg_percent"`
	WeakLegPercent   *float64    `yaml:"weak_leg_percent"`
	CapWeakLegs      *bool       `yaml:"cap_weak_legs"`
	EarnedBasis      string      `yaml:"earned_basis"`
	Levels           []levelFile `yaml:"levels"`
	Fallback         *rangeFile  `yaml:"fallback"`
	Tiers            []tierFile  `yaml:"tiers"`
}

type levelFile struct {
	Level           int     `yaml:"level"`
	Type            string  `yaml:"type"`
	Value           float64 `yaml:"value"`
	Basis           string  `yaml:"basis"`
	RequiredRank    string  `yaml:"required_rank"`
	RequiredDirects int     `yaml:"required_directs"`
	Disabled        bool    `yaml:"disabled"`
}

type rangeFile struct {
	From            int     `yaml:"from"`
	To              int     `yaml:"to"`
	Percent         float64 `yaml:"percent"`
	RequiredDirects int     `yaml:"required_directs"`
}

type tierFile struct {
	Name   string  `yaml:"name"`
	Target float64 `yaml:"target"`
	Order  int     `yaml:"order"`
	Reward string  `yaml:"reward"`
}

// LoadPlanFile reads a YAML plan and applies it over base. Omitted keys keep
// the base values; a non-empty levels or tiers list replaces the base list.
func LoadPlanFile(path string, base Plan) (Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan file %s: %w", path, err)
	}
	return ParsePlan(raw, base)
}

func ParsePlan(raw []byte, base Plan) (Plan, error) {
	var f planFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}

	p := base.Clone()
	setPercent(&p.DirectPercent, f.DirectPercent)
	setPercent(&p.PoolPercent, f.PoolPercent)
	setPercent(&p.TDSRate, f.TDSRate)
	setPercent(&p.StrongLegPercent, f.StrongLegPercent)
	setPercent(&p.WeakLegPercent, f.WeakLegPercent)
	if f.MaxLevel != nil {
		p.MaxLevel = *f.MaxLevel
	}
	if f.CapWeakLegs != nil {
		p.CapWeakLegs = *f.CapWeakLegs
	}
	if f.EarnedBasis != "" {
		p.EarnedBasis = strings.ToUpper(f.EarnedBasis)
	}

	if len(f.Levels) > 0 {
		p.Levels = make(map[int]LevelRule, len(f.Levels))
		for _, l := range f.Levels {
			typ := strings.ToUpper(l.Type)
			if typ == "" {
				typ = models.RuleTypePercentage
			}
			basis := strings.ToUpper(l.Basis)
			if basis == "" {
				basis = models.RuleBasisPool
			}
			p.Levels[l.Level] = LevelRule{
				Level:           l.Level,
				Type:            typ,
				Value:           decimal.NewFromFloat(l.Value),
				Basis:           basis,
				RequiredRank:    l.RequiredRank,
				RequiredDirects: l.RequiredDirects,
				Active:          !l.Disabled,
			}
		}
	}

	if f.Fallback != nil {
		p.Fallback = RangeRule{
			From:            f.Fallback.From,
			To:              f.Fallback.To,
			Percent:         decimal.NewFromFloat(f.Fallback.Percent),
			RequiredDirects: f.Fallback.RequiredDirects,
		}
	}

	if len(f.Tiers) > 0 {
		p.Tiers = make([]RankTier, 0, len(f.Tiers))
		for _, t := range f.Tiers {
			p.Tiers = append(p.Tiers, RankTier{
				Name:   t.Name,
				Target: decimal.NewFromFloat(t.Target),
				Order:  t.Order,
				Reward: t.Reward,
			})
		}
		sort.SliceStable(p.Tiers, func(i, j int) bool { return p.Tiers[i].Order < p.Tiers[j].Order })
	}

	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func setPercent(dst *decimal.Decimal, v *float64) {
	if v != nil {
		*dst = decimal.NewFromFloat(*v)
	}
}
