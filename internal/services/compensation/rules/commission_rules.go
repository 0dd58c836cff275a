package rules

import (
	"fmt"
	"strings"

	"realty-network/internal/database/models"
)

// FromModel converts a persisted commission rule into a level rule.
func FromModel(r models.CommissionRule) LevelRule {
	lr := LevelRule{
		Level:           r.Level,
		Type:            strings.ToUpper(r.CommissionType),
		Value:           r.Value,
		Basis:           strings.ToUpper(r.Basis),
		RequiredDirects: r.RequiredDirects,
		Active:          r.IsActive,
	}
	if lr.Basis == "" {
		lr.Basis = models.RuleBasisTransaction
	}
	if r.RequiredRank != nil {
		lr.RequiredRank = strings.TrimSpace(*r.RequiredRank)
	}
	return lr
}

// WithRules replaces the level table with the persisted rule set. Once any
// rule is persisted the built-in levels and the fallback range no longer
// apply, so a level absent from the set pays nothing. An empty set keeps
// the built-in schedule.
func (p Plan) WithRules(persisted []models.CommissionRule) Plan {
	out := p.Clone()
	if len(persisted) == 0 {
		return out
	}
	out.Levels = make(map[int]LevelRule, len(persisted))
	out.Fallback = RangeRule{}
	for _, r := range persisted {
		out.Levels[r.Level] = FromModel(r)
	}
	return out
}

// ValidateRules checks an administrative rule set before it replaces the
// stored one.
func ValidateRules(set []models.CommissionRule, maxLevel int) error {
	seen := make(map[int]bool, len(set))
	for i := range set {
		r := &set[i]
		if r.Level < 1 || r.Level > maxLevel {
			return fmt.Errorf("%w: level %d outside 1..%d", ErrInvalidRule, r.Level, maxLevel)
		}
		if seen[r.Level] {
			return fmt.Errorf("%w: duplicate level %d", ErrInvalidRule, r.Level)
		}
		seen[r.Level] = true

		r.CommissionType = strings.ToUpper(strings.TrimSpace(r.CommissionType))
		if r.CommissionType == "" {
			r.CommissionType = models.RuleTypePercentage
		}
		r.Basis = strings.ToUpper(strings.TrimSpace(r.Basis))
		if r.Basis == "" {
			r.Basis = models.RuleBasisTransaction
		}

		switch r.CommissionType {
		case models.RuleTypePercentage:
			if r.Value.GreaterThan(hundred) {
				return fmt.Errorf("%w: level %d percentage above 100", ErrInvalidRule, r.Level)
			}
		case models.RuleTypeFixed:
		default:
			return fmt.Errorf("%w: level %d unknown type %q", ErrInvalidRule, r.Level, r.CommissionType)
		}
		if r.Basis != models.RuleBasisTransaction && r.Basis != models.RuleBasisPool {
			return fmt.Errorf("%w: level %d unknown basis %q", ErrInvalidRule, r.Level, r.Basis)
		}
		if r.Value.IsNegative() {
			return fmt.Errorf("%w: level %d negative value", ErrInvalidRule, r.Level)
		}
		if r.RequiredDirects < 0 {
			return fmt.Errorf("%w: level %d negative required directs", ErrInvalidRule, r.Level)
		}
		if r.RequiredRank != nil && strings.TrimSpace(*r.RequiredRank) == "" {
			r.RequiredRank = nil
		}
	}
	return nil
}
