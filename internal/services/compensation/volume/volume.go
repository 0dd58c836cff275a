package volume

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"realty-network/internal/services/compensation/metrics"
)

// Source reads the data volume is computed from.
type Source interface {
	// PersonalVolume is the participant's own qualifying business.
	PersonalVolume(ctx context.Context, participantID int64) (decimal.Decimal, error)
	// DirectChildren returns the ids of participants sponsored by participantID.
	DirectChildren(ctx context.Context, participantID int64) ([]int64, error)
}

// Leg is one direct child and everything beneath it.
type Leg struct {
	ChildID int64           `json:"child_id"`
	Volume  decimal.Decimal `json:"volume"`
}

// Aggregator computes participant, subtree and leg volumes. It never caches
// across calls; use a Pass to share work within one logical operation.
type Aggregator struct {
	source   Source
	maxNodes int
	log      *logrus.Entry
}

func NewAggregator(source Source, maxNodes int, logger *logrus.Logger) *Aggregator {
	return &Aggregator{
		source:   source,
		maxNodes: maxNodes,
		log:      logger.WithField("component", "volume"),
	}
}

func (a *Aggregator) ParticipantVolume(ctx context.Context, id int64) (decimal.Decimal, error) {
	return a.NewPass().ParticipantVolume(ctx, id)
}

func (a *Aggregator) SubtreeVolume(ctx context.Context, id int64) (decimal.Decimal, error) {
	return a.NewPass().SubtreeVolume(ctx, id)
}

func (a *Aggregator) LegVolumes(ctx context.Context, id int64) ([]Leg, error) {
	return a.NewPass().LegVolumes(ctx, id)
}

// Pass memoizes volumes for one logical operation, such as a single upward
// propagation or a sweep. It is safe for concurrent use. Data changes made
// after the pass started are not observed.
type Pass struct {
	agg *Aggregator

	mu        sync.Mutex
	personal  map[int64]decimal.Decimal
	subtree   map[int64]decimal.Decimal
	truncated int
}

func (a *Aggregator) NewPass() *Pass {
	return &Pass{
		agg:      a,
		personal: make(map[int64]decimal.Decimal),
		subtree:  make(map[int64]decimal.Decimal),
	}
}

// Truncated reports how many subtree sums in this pass hit the node ceiling.
func (p *Pass) Truncated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.truncated
}

func (p *Pass) ParticipantVolume(ctx context.Context, id int64) (decimal.Decimal, error) {
	p.mu.Lock()
	v, ok := p.personal[id]
	p.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := p.agg.source.PersonalVolume(ctx, id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("personal volume of %d: %w", id, err)
	}

	p.mu.Lock()
	p.personal[id] = v
	p.mu.Unlock()
	return v, nil
}

func (p *Pass) cachedSubtree(id int64) (decimal.Decimal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.subtree[id]
	return v, ok
}

func (p *Pass) storeSubtree(id int64, v decimal.Decimal) {
	p.mu.Lock()
	p.subtree[id] = v
	p.mu.Unlock()
}

// SubtreeVolume sums the personal volume of every descendant of id, excluding
// id itself. The traversal is an explicit worklist bounded by the node
// ceiling; hitting the ceiling returns the partial sum.
func (p *Pass) SubtreeVolume(ctx context.Context, id int64) (decimal.Decimal, error) {
	if v, ok := p.cachedSubtree(id); ok {
		return v, nil
	}

	total, truncated, err := p.walk(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if !truncated {
		p.storeSubtree(id, total)
	}
	return total, nil
}

func (p *Pass) walk(ctx context.Context, root int64) (decimal.Decimal, bool, error) {
	children, err := p.agg.source.DirectChildren(ctx, root)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("children of %d: %w", root, err)
	}

	total := decimal.Zero
	stack := append([]int64(nil), children...)
	visited := map[int64]bool{root: true}
	nodes := 0

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return decimal.Zero, false, err
		}

		n := len(stack) - 1
		id := stack[n]
		stack = stack[:n]
		if visited[id] {
			continue
		}
		visited[id] = true

		nodes++
		if p.agg.maxNodes > 0 && nodes > p.agg.maxNodes {
			p.mu.Lock()
			p.truncated++
			p.mu.Unlock()
			metrics.RecordVolumeTruncation()
			p.agg.log.WithFields(logrus.Fields{
				"participant_id": root,
				"max_nodes":      p.agg.maxNodes,
			}).Warn("Subtree volume truncated at node ceiling")
			return total, true, nil
		}

		own, err := p.ParticipantVolume(ctx, id)
		if err != nil {
			return decimal.Zero, false, err
		}
		total = total.Add(own)

		if below, ok := p.cachedSubtree(id); ok {
			total = total.Add(below)
			continue
		}

		grand, err := p.agg.source.DirectChildren(ctx, id)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("children of %d: %w", id, err)
		}
		stack = append(stack, grand...)
	}
	return total, false, nil
}

// LegVolumes returns one entry per direct child of id, in the order the
// source lists them.
func (p *Pass) LegVolumes(ctx context.Context, id int64) ([]Leg, error) {
	children, err := p.agg.source.DirectChildren(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("children of %d: %w", id, err)
	}

	before := p.Truncated()
	legs := make([]Leg, 0, len(children))
	sum := decimal.Zero
	for _, child := range children {
		own, err := p.ParticipantVolume(ctx, child)
		if err != nil {
			return nil, err
		}
		below, err := p.SubtreeVolume(ctx, child)
		if err != nil {
			return nil, err
		}
		v := own.Add(below)
		legs = append(legs, Leg{ChildID: child, Volume: v})
		sum = sum.Add(v)
	}

	if p.Truncated() == before {
		p.storeSubtree(id, sum)
	}
	return legs, nil
}

// Balance splits legs into the strongest leg and the sum of all others.
// Ties keep the first leg listed as strongest.
func Balance(legs []Leg) (strongest decimal.Decimal, others decimal.Decimal, strongestID int64) {
	strongest, others = decimal.Zero, decimal.Zero
	idx := -1
	for i, l := range legs {
		if idx < 0 || l.Volume.GreaterThan(strongest) {
			idx = i
			strongest = l.Volume
		}
	}
	if idx < 0 {
		return strongest, others, 0
	}
	for i, l := range legs {
		if i != idx {
			others = others.Add(l.Volume)
		}
	}
	return strongest, others, legs[idx].ChildID
}
