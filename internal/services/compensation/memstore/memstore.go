// Package memstore is an in-memory implementation of the compensation
// store, used by tests and local runs without a database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"realty-network/internal/database/models"
	"realty-network/internal/services/compensation/store"
)

type Store struct {
	mu sync.RWMutex

	nextID       int64
	participants map[int64]*models.Participant
	investments  map[int64]*models.Investment
	installments []models.Installment
	rules        map[int]models.CommissionRule
	ledger       []models.LedgerEntry
	wallets      map[int64]*models.Wallet
	ranks        []models.Rank
	assignments  []models.RankAssignment
	rewards      []models.RankReward

	// Failure injection, keyed by participant id.
	FailGet     map[int64]error
	FailCount   map[int64]error
	FailPayout  map[int64]error
	FailPromote map[int64]error
}

func New() *Store {
	return &Store{
		participants: make(map[int64]*models.Participant),
		investments:  make(map[int64]*models.Investment),
		rules:        make(map[int]models.CommissionRule),
		wallets:      make(map[int64]*models.Wallet),
		FailGet:      make(map[int64]error),
		FailCount:    make(map[int64]error),
		FailPayout:   make(map[int64]error),
		FailPromote:  make(map[int64]error),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// --- Seeding ---

func (s *Store) AddParticipant(p models.Participant) models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	} else if p.ID > s.nextID {
		s.nextID = p.ID
	}
	if p.Status == "" {
		p.Status = models.ParticipantInactive
	}
	if p.RankName == "" {
		p.RankName = "Associate"
	}
	if p.KYCStatus == "" {
		p.KYCStatus = models.KYCPending
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := p
	s.participants[p.ID] = &cp
	return p
}

func (s *Store) AddInvestment(inv models.Investment) models.Investment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == 0 {
		inv.ID = s.id()
	}
	if inv.Reference == "" {
		inv.Reference = fmt.Sprintf("INV-%d", inv.ID)
	}
	if inv.Status == "" {
		inv.Status = models.InvestmentActive
	}
	if inv.BookingStatus == "" {
		inv.BookingStatus = models.BookingConfirmed
	}
	if inv.CommissionStatus == "" {
		inv.CommissionStatus = models.CommissionPending
	}
	now := time.Now()
	inv.CreatedAt, inv.UpdatedAt = now, now
	cp := inv
	s.investments[inv.ID] = &cp
	return inv
}

func (s *Store) AddInstallment(in models.Installment) models.Installment {
	s.mu.Lock()
	defer s.mu.Unlock()
	in.ID = s.id()
	in.CreatedAt = time.Now()
	s.installments = append(s.installments, in)
	return in
}

// SeedRanks stores the rank rows, assigning ids.
func (s *Store) SeedRanks(ranks []models.Rank) []models.Rank {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Rank, 0, len(ranks))
	for _, r := range ranks {
		r.ID = s.id()
		s.ranks = append(s.ranks, r)
		out = append(out, r)
	}
	return out
}

// --- Participants ---

func (s *Store) GetParticipant(ctx context.Context, id int64) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.FailGet[id]; err != nil {
		return nil, err
	}
	p, ok := s.participants[id]
	if !ok {
		return nil, fmt.Errorf("participant %d: %w", id, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) CountActiveDirects(ctx context.Context, sponsorID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.FailCount[sponsorID]; err != nil {
		return 0, err
	}
	var n int64
	for _, p := range s.participants {
		if p.SponsorID != nil && *p.SponsorID == sponsorID && p.IsActive() {
			n++
		}
	}
	return n, nil
}

func (s *Store) DirectChildren(ctx context.Context, participantID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for _, p := range s.participants {
		if p.SponsorID != nil && *p.SponsorID == participantID {
			out = append(out, p.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) ListActiveParticipantIDs(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for _, p := range s.participants {
		if p.IsActive() {
			out = append(out, p.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) ActivateParticipant(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return fmt.Errorf("participant %d: %w", id, store.ErrNotFound)
	}
	now := time.Now()
	if p.Status != models.ParticipantActive {
		p.Status = models.ParticipantActive
		p.ActivatedAt = &now
		p.UpdatedAt = now
	}
	for _, a := range s.assignments {
		if a.ParticipantID == id && a.IsCurrent {
			return nil
		}
	}
	for _, r := range s.ranks {
		if strings.EqualFold(r.Name, p.RankName) {
			s.assignments = append(s.assignments, models.RankAssignment{
				ID:            s.id(),
				ParticipantID: id,
				RankID:        r.ID,
				IsCurrent:     true,
				AchievedAt:    now,
			})
			break
		}
	}
	return nil
}

// SetSponsor rejects assignments that would make participantID its own
// ancestor.
func (s *Store) SetSponsor(ctx context.Context, participantID, sponsorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return fmt.Errorf("participant %d: %w", participantID, store.ErrNotFound)
	}
	if _, ok := s.participants[sponsorID]; !ok {
		return fmt.Errorf("sponsor %d: %w", sponsorID, store.ErrNotFound)
	}
	for cur, hops := sponsorID, 0; ; hops++ {
		if cur == participantID {
			return store.ErrSponsorCycle
		}
		next, ok := s.participants[cur]
		if !ok || next.SponsorID == nil || hops > len(s.participants) {
			break
		}
		cur = *next.SponsorID
	}
	sp := sponsorID
	p.SponsorID = &sp
	p.UpdatedAt = time.Now()
	return nil
}

// --- Volume ---

func (s *Store) PersonalVolume(ctx context.Context, participantID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, inv := range s.investments {
		if inv.OwnerID == participantID && inv.Status != models.InvestmentCancelled && inv.BookingStatus == models.BookingConfirmed {
			total = total.Add(inv.PaidAmount)
		}
	}
	for _, in := range s.installments {
		if in.OwnerID == participantID && in.Status == models.InstallmentPaid {
			total = total.Add(in.Amount)
		}
	}
	return total, nil
}

// --- Transactions ---

func (s *Store) ClaimInvestment(ctx context.Context, id int64) (*models.Investment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.investments[id]
	if !ok {
		return nil, fmt.Errorf("investment %d: %w", id, store.ErrNotFound)
	}
	if inv.CommissionStatus != models.CommissionPending {
		return nil, store.ErrAlreadyClaimed
	}
	inv.CommissionStatus = models.CommissionProcessing
	inv.UpdatedAt = time.Now()
	cp := *inv
	return &cp, nil
}

func (s *Store) FinishInvestment(ctx context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.investments[id]
	if !ok {
		return fmt.Errorf("investment %d: %w", id, store.ErrNotFound)
	}
	inv.CommissionStatus = status
	inv.UpdatedAt = time.Now()
	return nil
}

func (s *Store) Investment(id int64) (models.Investment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.investments[id]
	if !ok {
		return models.Investment{}, false
	}
	return *inv, true
}

// --- Ledger and wallets ---

func (s *Store) RecordPayout(ctx context.Context, entry *models.LedgerEntry, earned decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailPayout[entry.BeneficiaryID]; err != nil {
		return err
	}
	entry.ID = s.id()
	entry.CreatedAt = time.Now()
	s.ledger = append(s.ledger, *entry)

	w, ok := s.wallets[entry.BeneficiaryID]
	if !ok {
		w = &models.Wallet{
			ID:                s.id(),
			ParticipantID:     entry.BeneficiaryID,
			CommissionBalance: decimal.Zero,
			TotalEarned:       decimal.Zero,
		}
		s.wallets[entry.BeneficiaryID] = w
	}
	w.CommissionBalance = w.CommissionBalance.Add(entry.NetAmount)
	w.TotalEarned = w.TotalEarned.Add(earned)
	w.UpdatedAt = entry.CreatedAt
	return nil
}

func (s *Store) GetWallet(ctx context.Context, participantID int64) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[participantID]
	if !ok {
		return nil, fmt.Errorf("wallet of %d: %w", participantID, store.ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (s *Store) Ledger() []models.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.LedgerEntry(nil), s.ledger...)
}

func matches(e models.LedgerEntry, f store.LedgerFilter) bool {
	if f.BeneficiaryID != 0 && e.BeneficiaryID != f.BeneficiaryID {
		return false
	}
	if f.SourceParticipantID != 0 && e.SourceParticipantID != f.SourceParticipantID {
		return false
	}
	if f.TransactionID != 0 && e.TransactionID != f.TransactionID {
		return false
	}
	if f.Level != nil && (e.Level == nil || *e.Level != *f.Level) {
		return false
	}
	if f.Kind != "" && !strings.EqualFold(e.Kind, f.Kind) {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

func (s *Store) ListLedgerEntries(ctx context.Context, f store.LedgerFilter) ([]models.LedgerEntry, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []models.LedgerEntry
	for _, e := range s.ledger {
		if matches(e, f) {
			hits = append(hits, e)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].ID > hits[j].ID })

	total := int64(len(hits))
	if f.Offset >= len(hits) {
		return []models.LedgerEntry{}, total, nil
	}
	hits = hits[f.Offset:]
	if f.Limit > 0 && f.Limit < len(hits) {
		hits = hits[:f.Limit]
	}
	return hits, total, nil
}

func (s *Store) SummarizeEarnings(ctx context.Context, beneficiaryID int64, from, to *time.Time) ([]store.KindTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKind := map[string]*store.KindTotal{}
	for _, e := range s.ledger {
		if !matches(e, store.LedgerFilter{BeneficiaryID: beneficiaryID, From: from, To: to}) {
			continue
		}
		kt, ok := byKind[e.Kind]
		if !ok {
			kt = &store.KindTotal{Kind: e.Kind, Gross: decimal.Zero, Tax: decimal.Zero, Net: decimal.Zero}
			byKind[e.Kind] = kt
		}
		kt.Count++
		kt.Gross = kt.Gross.Add(e.GrossAmount)
		kt.Tax = kt.Tax.Add(e.TaxAmount)
		kt.Net = kt.Net.Add(e.NetAmount)
	}
	out := make([]store.KindTotal, 0, len(byKind))
	for _, kt := range byKind {
		out = append(out, *kt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

// --- Rules and ranks ---

func (s *Store) ListCommissionRules(ctx context.Context) ([]models.CommissionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CommissionRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

// ReplaceCommissionRules upserts by level and deletes levels absent from set.
func (s *Store) ReplaceCommissionRules(ctx context.Context, set []models.CommissionRule) ([]models.CommissionRule, error) {
	s.mu.Lock()
	keep := make(map[int]bool, len(set))
	now := time.Now()
	for _, r := range set {
		keep[r.Level] = true
		if old, ok := s.rules[r.Level]; ok {
			r.ID = old.ID
			r.CreatedAt = old.CreatedAt
		} else {
			r.ID = s.id()
			r.CreatedAt = now
		}
		r.UpdatedAt = now
		s.rules[r.Level] = r
	}
	for level := range s.rules {
		if !keep[level] {
			delete(s.rules, level)
		}
	}
	s.mu.Unlock()
	return s.ListCommissionRules(ctx)
}

func (s *Store) ListRanks(ctx context.Context) ([]models.Rank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.Rank(nil), s.ranks...)
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out, nil
}

func (s *Store) Promote(ctx context.Context, assignment *models.RankAssignment, fromRank, rankName string, reward *models.RankReward) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailPromote[assignment.ParticipantID]; err != nil {
		return err
	}
	p, ok := s.participants[assignment.ParticipantID]
	if !ok {
		return fmt.Errorf("participant %d: %w", assignment.ParticipantID, store.ErrNotFound)
	}
	if !strings.EqualFold(p.RankName, fromRank) {
		return fmt.Errorf("participant %d holds %q, not %q: %w", p.ID, p.RankName, fromRank, store.ErrRankChanged)
	}
	for i := range s.assignments {
		if s.assignments[i].ParticipantID == assignment.ParticipantID {
			s.assignments[i].IsCurrent = false
		}
	}
	assignment.ID = s.id()
	assignment.IsCurrent = true
	s.assignments = append(s.assignments, *assignment)
	p.RankName = rankName
	p.UpdatedAt = time.Now()

	if reward != nil {
		reward.ID = s.id()
		reward.CreatedAt = time.Now()
		s.rewards = append(s.rewards, *reward)
	}
	return nil
}

func (s *Store) Assignments(participantID int64) []models.RankAssignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RankAssignment
	for _, a := range s.assignments {
		if a.ParticipantID == participantID {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Rewards(participantID int64) []models.RankReward {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RankReward
	for _, r := range s.rewards {
		if r.ParticipantID == participantID {
			out = append(out, r)
		}
	}
	return out
}
