package volume

import (
	"context"
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type treeSource struct {
	personal      map[int64]decimal.Decimal
	sponsor       map[int64]int64
	childrenCalls int
	fail          int64
}

func newTree() *treeSource {
	return &treeSource{
		personal: map[int64]decimal.Decimal{},
		sponsor:  map[int64]int64{},
	}
}

func (s *treeSource) add(id, sponsor int64, vol int64) {
	s.personal[id] = decimal.NewFromInt(vol)
	if sponsor != 0 {
		s.sponsor[id] = sponsor
	}
}

func (s *treeSource) PersonalVolume(ctx context.Context, id int64) (decimal.Decimal, error) {
	if id == s.fail {
		return decimal.Zero, errors.New("boom")
	}
	return s.personal[id], nil
}

func (s *treeSource) DirectChildren(ctx context.Context, id int64) ([]int64, error) {
	s.childrenCalls++
	var out []int64
	for child, sp := range s.sponsor {
		if sp == id {
			out = append(out, child)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func newAggregator(src Source, maxNodes int) *Aggregator {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewAggregator(src, maxNodes, l)
}

//	1
//	├── 2 (100)
//	│   ├── 4 (40)
//	│   └── 5 (60)
//	└── 3 (300)
//	    └── 6 (10)
//	        └── 7 (5)
func sampleTree() *treeSource {
	s := newTree()
	s.add(1, 0, 1000)
	s.add(2, 1, 100)
	s.add(3, 1, 300)
	s.add(4, 2, 40)
	s.add(5, 2, 60)
	s.add(6, 3, 10)
	s.add(7, 6, 5)
	return s
}

func TestParticipantVolume(t *testing.T) {
	agg := newAggregator(sampleTree(), 0)
	v, err := agg.ParticipantVolume(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "300", v.String())

	v, err = agg.ParticipantVolume(context.Background(), 99)
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestSubtreeVolumeExcludesRoot(t *testing.T) {
	agg := newAggregator(sampleTree(), 0)
	v, err := agg.SubtreeVolume(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "515", v.String())

	v, err = agg.SubtreeVolume(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "15", v.String())
}

func TestLeafHasNoLegs(t *testing.T) {
	agg := newAggregator(sampleTree(), 0)
	legs, err := agg.LegVolumes(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, legs)

	v, err := agg.SubtreeVolume(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestLegVolumes(t *testing.T) {
	agg := newAggregator(sampleTree(), 0)
	legs, err := agg.LegVolumes(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, int64(2), legs[0].ChildID)
	assert.Equal(t, "200", legs[0].Volume.String())
	assert.Equal(t, int64(3), legs[1].ChildID)
	assert.Equal(t, "315", legs[1].Volume.String())
}

func TestPassMemoizesAncestorWork(t *testing.T) {
	src := sampleTree()
	agg := newAggregator(src, 0)
	pass := agg.NewPass()
	ctx := context.Background()

	_, err := pass.LegVolumes(ctx, 3)
	require.NoError(t, err)
	callsAfterChild := src.childrenCalls

	legs, err := pass.LegVolumes(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "315", legs[1].Volume.String())

	// Only node 1 and the unseen branch under 2 are expanded again.
	assert.Equal(t, callsAfterChild+4, src.childrenCalls)

	v, err := pass.SubtreeVolume(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "515", v.String())
	assert.Equal(t, callsAfterChild+4, src.childrenCalls, "subtree of 1 comes from the leg sum")
}

func TestAggregatorDoesNotCacheAcrossCalls(t *testing.T) {
	src := sampleTree()
	agg := newAggregator(src, 0)
	ctx := context.Background()

	v, err := agg.SubtreeVolume(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "515", v.String())

	src.add(8, 4, 85)
	v, err = agg.SubtreeVolume(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "600", v.String())
}

func TestNodeCeilingReturnsPartialSum(t *testing.T) {
	src := newTree()
	src.add(1, 0, 0)
	for i := int64(2); i <= 50; i++ {
		src.add(i, i-1, 1)
	}
	agg := newAggregator(src, 10)
	pass := agg.NewPass()

	v, err := pass.SubtreeVolume(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "10", v.String())
	assert.Equal(t, 1, pass.Truncated())

	_, ok := pass.cachedSubtree(1)
	assert.False(t, ok, "partial sums are never memoized")
}

func TestCycleDoesNotLoop(t *testing.T) {
	src := newTree()
	src.add(1, 3, 10)
	src.add(2, 1, 20)
	src.add(3, 2, 30)

	agg := newAggregator(src, 0)
	v, err := agg.SubtreeVolume(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "50", v.String())
}

func TestSourceErrorPropagates(t *testing.T) {
	src := sampleTree()
	src.fail = 6
	agg := newAggregator(src, 0)
	_, err := agg.SubtreeVolume(context.Background(), 1)
	assert.Error(t, err)
}

func TestBalance(t *testing.T) {
	s, o, id := Balance(nil)
	assert.True(t, s.IsZero())
	assert.True(t, o.IsZero())
	assert.Zero(t, id)

	legs := []Leg{
		{ChildID: 10, Volume: decimal.NewFromInt(600_000)},
		{ChildID: 11, Volume: decimal.NewFromInt(250_000)},
		{ChildID: 12, Volume: decimal.NewFromInt(150_000)},
	}
	s, o, id = Balance(legs)
	assert.Equal(t, "600000", s.String())
	assert.Equal(t, "400000", o.String())
	assert.Equal(t, int64(10), id)

	tie := []Leg{
		{ChildID: 1, Volume: decimal.NewFromInt(5)},
		{ChildID: 2, Volume: decimal.NewFromInt(5)},
	}
	s, o, id = Balance(tie)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, "5", s.String())
	assert.Equal(t, "5", o.String())
}
