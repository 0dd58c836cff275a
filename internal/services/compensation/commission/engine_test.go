package commission_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realty-network/internal/database/models"
	"realty-network/internal/services/compensation/commission"
	"realty-network/internal/services/compensation/memstore"
	"realty-network/internal/services/compensation/rules"
	"realty-network/internal/services/compensation/store"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newEngine(s commission.Store) *commission.Engine {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return commission.NewEngine(s, l)
}

func join(s *memstore.Store, sponsor *models.Participant, status, rank string) models.Participant {
	p := models.Participant{Status: status, RankName: rank, KYCStatus: models.KYCApproved}
	if sponsor != nil {
		id := sponsor.ID
		p.SponsorID = &id
	}
	return s.AddParticipant(p)
}

func entriesOf(res *commission.Result, kind string) []models.LedgerEntry {
	var out []models.LedgerEntry
	for _, e := range res.Entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func levelEntry(t *testing.T, res *commission.Result, level int) models.LedgerEntry {
	t.Helper()
	for _, e := range res.Entries {
		if e.Level != nil && *e.Level == level {
			return e
		}
	}
	t.Fatalf("no ledger entry for level %d", level)
	return models.LedgerEntry{}
}

func hasSkip(res *commission.Result, level int, participantID int64, reason string) bool {
	for _, s := range res.Skips {
		if s.Level == level && s.ParticipantID == participantID && s.Reason == reason {
			return true
		}
	}
	return false
}

func TestDirectIncentive(t *testing.T) {
	s := memstore.New()
	sponsor := join(s, nil, models.ParticipantActive, "")
	owner := join(s, &sponsor, models.ParticipantActive, "")
	inv := s.AddInvestment(models.Investment{OwnerID: owner.ID, Amount: dec("10000")})

	res, err := newEngine(s).Distribute(context.Background(), rules.DefaultPlan(), inv)
	require.NoError(t, err)

	direct := entriesOf(res, models.LedgerKindDirect)
	require.Len(t, direct, 1)
	e := direct[0]
	assert.Equal(t, sponsor.ID, e.BeneficiaryID)
	assert.Equal(t, owner.ID, e.SourceParticipantID)
	assert.Nil(t, e.Level)
	assert.Equal(t, "500", e.GrossAmount.String())
	assert.Equal(t, "25", e.TaxAmount.String())
	assert.Equal(t, "475", e.NetAmount.String())
	assert.Equal(t, inv.ID, e.TransactionID)
	assert.NotEmpty(t, e.EntryRef)
}

func TestLevelPoolDistribution(t *testing.T) {
	s := memstore.New()
	sponsor := join(s, nil, models.ParticipantActive, "")
	owner := join(s, &sponsor, models.ParticipantActive, "")
	inv := s.AddInvestment(models.Investment{OwnerID: owner.ID, Amount: dec("1000000")})

	res, err := newEngine(s).Distribute(context.Background(), rules.DefaultPlan(), inv)
	require.NoError(t, err)

	e := levelEntry(t, res, 1)
	assert.Equal(t, models.LedgerKindLevelPool, e.Kind)
	assert.Equal(t, "150000", e.BasisAmount.String())
	assert.Equal(t, "45000", e.GrossAmount.String())
	assert.Equal(t, "2250", e.TaxAmount.String())
	assert.Equal(t, "42750", e.NetAmount.String())
}

func TestInactiveSponsorIsSkippedButWalkContinues(t *testing.T) {
	s := memstore.New()
	top := join(s, nil, models.ParticipantActive, "")
	sponsor := join(s, &top, models.ParticipantInactive, "")
	owner := join(s, &sponsor, models.ParticipantActive, "")
	inv := s.AddInvestment(models.Investment{OwnerID: owner.ID, Amount: dec("10000")})

	res, err := newEngine(s).Distribute(context.Background(), rules.DefaultPlan(), inv)
	require.NoError(t, err)

	assert.Empty(t, entriesOf(res, models.LedgerKindDirect))
	assert.True(t, hasSkip(res, 0, sponsor.ID, commission.ReasonInactive))
	assert.True(t, hasSkip(res, 1, sponsor.ID, commission.ReasonInactive))

	// top has one direct (sponsor) but it is inactive.
	assert.True(t, hasSkip(res, 2, top.ID, commission.ReasonInsufficientDirects))
	assert.Empty(t, res.Entries)
}

func TestNoSponsorAndNoAmount(t *testing.T) {
	s := memstore.New()
	root := join(s, nil, models.ParticipantActive, "")
	eng := newEngine(s)

	inv := s.AddInvestment(models.Investment{OwnerID: root.ID, Amount: dec("5000")})
	res, err := eng.Distribute(context.Background(), rules.DefaultPlan(), inv)
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.True(t, hasSkip(res, 0, root.ID, commission.ReasonNoSponsor))

	child := join(s, &root, models.ParticipantActive, "")
	zero := s.AddInvestment(models.Investment{OwnerID: child.ID})
	res, err = eng.Distribute(context.Background(), rules.DefaultPlan(), zero)
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.True(t, hasSkip(res, 0, child.ID, commission.ReasonNoAmount))
}

func TestPaidAmountFallback(t *testing.T) {
	s := memstore.New()
	sponsor := join(s, nil, models.ParticipantActive, "")
	owner := join(s, &sponsor, models.ParticipantActive, "")
	inv := s.AddInvestment(models.Investment{OwnerID: owner.ID, PaidAmount: dec("2000")})

	res, err := newEngine(s).Distribute(context.Background(), rules.DefaultPlan(), inv)
	require.NoError(t, err)
	direct := entriesOf(res, models.LedgerKindDirect)
	require.Len(t, direct, 1)
	assert.Equal(t, "100", direct[0].GrossAmount.String())
}

func TestRequiredDirectsGate(t *testing.T) {
	s := memstore.New()
	l3 := join(s, nil, models.ParticipantActive, "")
	l2 := join(s, &l3, models.ParticipantActive, "")
	l1 := join(s, &l2, models.ParticipantActive, "")
	owner := join(s, &l1, models.ParticipantActive, "")
	inv := s.AddInvestment(models.Investment{OwnerID: owner.ID, Amount: dec("10000")})

	eng := newEngine(s)
	res, err := eng.Distribute(context.Background(), rules.DefaultPlan(), inv)
	require.NoError(t, err)

	levelEntry(t, res, 1)
	levelEntry(t, res, 2)
	assert.True(t, hasSkip(res, 3, l3.ID, commission.ReasonInsufficientDirects))

	// A second active direct opens level 3.
	join(s, &l3, models.ParticipantActive, "")
	again := s.AddInvestment(models.Investment{OwnerID: owner.ID, Amount: dec("10000")})
	res, err = eng.Distribute(context.Background(), rules.DefaultPlan(), again)
	require.NoError(t, err)
	e := levelEntry(t, res, 3)
	assert.Equal(t, l3.ID, e.BeneficiaryID)
	assert.Equal(t, "225", e.GrossAmount.String())
}

func TestWalkStopsAtMaxLevel(t *testing.T) {
	s := memstore.New()
	plan := rules.DefaultPlan()
	for lvl, r := range plan.Levels {
		r.RequiredDirects = 0
		plan.Levels[lvl] = r
	}
	plan.Fallback.RequiredDirects = 0

	var prev *models.Participant
	for i := 0; i < 15; i++ {
		p := join(s, prev, models.ParticipantActive, "")
		prev = &p
	}
	inv := s.AddInvestment(models.Investment{OwnerID: prev.ID, Amount: dec("10000")})

	res, err := newEngine(s).Distribute(context.Background(), plan, inv)
	require.NoError(t, err)

	pool := entriesOf(res, models.LedgerKindLevelPool)
	require.Len(t, pool, 10)
	for i, e := range pool {
		require.NotNil(t, e.Level)
		assert.Equal(t, i+1, *e.Level)
	}
}

func TestWalkEndsAtRoot(t *testing.T) {
	s := memstore.New()
	plan := rules.DefaultPlan()
	plan.Fallback.RequiredDirects = 0

	root := join(s, nil, models.ParticipantActive, "")
	owner := join(s, &root, models.ParticipantActive, "")
	inv := s.AddInvestment(models.Investment{OwnerID: owner.ID, Amount: dec("10000")})

	res, err := newEngine(s).Distribute(context.Background(), plan, inv)
	require.NoError(t, err)
	assert.Len(t, entriesOf(res, models.LedgerKindLevelPool), 1)
}

func TestThreeParticipantChainWithRankGate(t *testing.T) {
	silver := "Silver"
	plan := rules.DefaultPlan().WithRules([]models.CommissionRule{
		{Level: 1, CommissionType: models.RuleTypePercentage, Value: dec("10"), IsActive: true},
		{Level: 2, CommissionType: models.RuleTypePercentage, Value: dec("5"), RequiredRank: &silver, IsActive: true},
	})

	s := memstore.New()
	a := join(s, nil, models.ParticipantActive, "Silver")
	b := join(s, &a, models.ParticipantActive, "")
	c := join(s, &b, models.ParticipantActive, "")
	inv := s.AddInvestment(models.Investment{OwnerID: c.ID, Amount: dec("10000")})

	res, err := newEngine(s).Distribute(context.Background(), plan, inv)
	require.NoError(t, err)

	l1 := levelEntry(t, res, 1)
	assert.Equal(t, b.ID, l1.BeneficiaryID)
	assert.Equal(t, "1000", l1.GrossAmount.String())

	l2 := levelEntry(t, res, 2)
	assert.Equal(t, a.ID, l2.BeneficiaryID)
	assert.Equal(t, "500", l2.GrossAmount.String())

	// Without the rank, level 2 pays nothing.
	s2 := memstore.New()
	a2 := join(s2, nil, models.ParticipantActive, "Gold")
	b2 := join(s2, &a2, models.ParticipantActive, "")
	c2 := join(s2, &b2, models.ParticipantActive, "")
	inv2 := s2.AddInvestment(models.Investment{OwnerID: c2.ID, Amount: dec("10000")})

	res, err = newEngine(s2).Distribute(context.Background(), plan, inv2)
	require.NoError(t, err)
	assert.True(t, hasSkip(res, 2, a2.ID, commission.ReasonRankGate))
	for _, e := range res.Entries {
		assert.NotEqual(t, a2.ID, e.BeneficiaryID)
	}
}

func TestWalletIncrementsMatchLedger(t *testing.T) {
	s := memstore.New()
	sponsor := join(s, nil, models.ParticipantActive, "")
	owner := join(s, &sponsor, models.ParticipantActive, "")
	eng := newEngine(s)

	for _, amt := range []string{"10000", "20000"} {
		inv := s.AddInvestment(models.Investment{OwnerID: owner.ID, Amount: dec(amt)})
		_, err := eng.Distribute(context.Background(), rules.DefaultPlan(), inv)
		require.NoError(t, err)
	}

	w, err := s.GetWallet(context.Background(), sponsor.ID)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, e := range s.Ledger() {
		if e.BeneficiaryID == sponsor.ID {
			sum = sum.Add(e.NetAmount)
		}
	}
	assert.True(t, sum.Equal(w.CommissionBalance))
	assert.True(t, sum.Equal(w.TotalEarned))
	// direct 475 + 950, level-1 427.5 + 855
	assert.Equal(t, "2707.5", w.CommissionBalance.String())
}

func TestEarnedBasisGross(t *testing.T) {
	s := memstore.New()
	plan := rules.DefaultPlan()
	plan.EarnedBasis = rules.EarnedGross
	plan.PoolPercent = decimal.Zero

	sponsor := join(s, nil, models.ParticipantActive, "")
	owner := join(s, &sponsor, models.ParticipantActive, "")
	inv := s.AddInvestment(models.Investment{OwnerID: owner.ID, Amount: dec("10000")})

	_, err := newEngine(s).Distribute(context.Background(), plan, inv)
	require.NoError(t, err)

	w, err := s.GetWallet(context.Background(), sponsor.ID)
	require.NoError(t, err)
	assert.Equal(t, "475", w.CommissionBalance.String())
	assert.Equal(t, "500", w.TotalEarned.String())
}

func TestLevelFailuresAreIsolated(t *testing.T) {
	s := memstore.New()
	l3 := join(s, nil, models.ParticipantActive, "")
	join(s, &l3, models.ParticipantActive, "")
	l2 := join(s, &l3, models.ParticipantActive, "")
	l1 := join(s, &l2, models.ParticipantActive, "")
	owner := join(s, &l1, models.ParticipantActive, "")
	inv := s.AddInvestment(models.Investment{OwnerID: owner.ID, Amount: dec("10000")})

	s.FailPayout[l1.ID] = errors.New("write failed")
	s.FailCount[l2.ID] = errors.New("count failed")

	res, err := newEngine(s).Distribute(context.Background(), rules.DefaultPlan(), inv)
	require.NoError(t, err)

	assert.True(t, hasSkip(res, 0, l1.ID, commission.ReasonPayoutFailed))
	assert.True(t, hasSkip(res, 1, l1.ID, commission.ReasonPayoutFailed))
	assert.True(t, hasSkip(res, 2, l2.ID, commission.ReasonCheckFailed))

	e := levelEntry(t, res, 3)
	assert.Equal(t, l3.ID, e.BeneficiaryID)
}

func TestUnreadableUplineAbandonsWalk(t *testing.T) {
	s := memstore.New()
	top := join(s, nil, models.ParticipantActive, "")
	sponsor := join(s, &top, models.ParticipantActive, "")
	owner := join(s, &sponsor, models.ParticipantActive, "")
	inv := s.AddInvestment(models.Investment{OwnerID: owner.ID, Amount: dec("10000")})

	s.FailGet[top.ID] = errors.New("connection reset")

	res, err := newEngine(s).Distribute(context.Background(), rules.DefaultPlan(), inv)
	require.Error(t, err)

	// Payouts made before the failure stay.
	require.Len(t, res.Entries, 2)
	assert.Len(t, s.Ledger(), 2)
}

func TestSponsorCycleIsReported(t *testing.T) {
	s := memstore.New()
	a := s.AddParticipant(models.Participant{ID: 1, Status: models.ParticipantActive, SponsorID: ptr(2)})
	s.AddParticipant(models.Participant{ID: 2, Status: models.ParticipantActive, SponsorID: ptr(1)})
	owner := join(s, &a, models.ParticipantActive, "")
	inv := s.AddInvestment(models.Investment{OwnerID: owner.ID, Amount: dec("10000")})

	_, err := newEngine(s).Distribute(context.Background(), rules.DefaultPlan(), inv)
	assert.ErrorIs(t, err, store.ErrSponsorCycle)
}

func ptr(v int64) *int64 {
	return &v
}

func TestProject(t *testing.T) {
	p := commission.Project(rules.DefaultPlan(), dec("10000"))

	assert.Equal(t, "500", p.Direct.Gross.String())
	assert.Equal(t, "475", p.Direct.Net.String())
	assert.Equal(t, "1500", p.Pool.String())
	require.Len(t, p.Levels, 10)
	assert.Equal(t, "450", p.Levels[0].Gross.String())
	assert.Equal(t, "75", p.Levels[9].Gross.String())
	assert.Equal(t, 3, p.Levels[9].RequiredDirects)
	assert.Equal(t, "1425", p.LevelNet.String())
	assert.Equal(t, "1900", p.TotalNet.String())
}
