package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"realty-network/internal/database/models"
)

// maxSponsorDepth bounds the ancestor query used for cycle detection.
const maxSponsorDepth = 100000

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Helpers ---
func notFound(err error, what string, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("%s %d: %w", what, id, err)
}

func scanDecimal(row interface{ Scan(...any) error }) (decimal.Decimal, error) {
	var v decimal.NullDecimal
	if err := row.Scan(&v); err != nil {
		return decimal.Zero, err
	}
	if !v.Valid {
		return decimal.Zero, nil
	}
	return v.Decimal, nil
}

// --- Participants ---

func (s *Store) GetParticipant(ctx context.Context, id int64) (*models.Participant, error) {
	var p models.Participant
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "participant", id)
	}
	return &p, nil
}

func (s *Store) CountActiveDirects(ctx context.Context, sponsorID int64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Participant{}).
		Where("sponsor_id = ? AND status = ?", sponsorID, models.ParticipantActive).
		Count(&n).Error
	return n, err
}

func (s *Store) DirectChildren(ctx context.Context, participantID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&models.Participant{}).
		Where("sponsor_id = ?", participantID).
		Order("id asc").
		Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) ListActiveParticipantIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&models.Participant{}).
		Where("status = ?", models.ParticipantActive).
		Order("id asc").
		Pluck("id", &ids).Error
	return ids, err
}

// ActivateParticipant marks the participant ACTIVE and gives it a current
// rank assignment for the rank it already holds when it has none.
func (s *Store) ActivateParticipant(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Participant
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, id).Error; err != nil {
			return notFound(err, "participant", id)
		}
		now := time.Now()
		if p.Status != models.ParticipantActive {
			if err := tx.Model(&p).Updates(map[string]interface{}{
				"status":       models.ParticipantActive,
				"activated_at": now,
			}).Error; err != nil {
				return err
			}
		}
		return ensureCurrentAssignment(tx, &p, now)
	})
}

func ensureCurrentAssignment(tx *gorm.DB, p *models.Participant, now time.Time) error {
	var n int64
	if err := tx.Model(&models.RankAssignment{}).
		Where("participant_id = ? AND is_current = ?", p.ID, true).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var rk models.Rank
	err := tx.Where("name = ?", p.RankName).First(&rk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return tx.Create(&models.RankAssignment{
		ParticipantID: p.ID,
		RankID:        rk.ID,
		IsCurrent:     true,
		AchievedAt:    now,
	}).Error
}

// SetSponsor rejects assignments that would make participantID its own
// ancestor. The ancestor chain of the new sponsor is read with a recursive
// query under a row lock on the participant.
func (s *Store) SetSponsor(ctx context.Context, participantID, sponsorID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Participant
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, participantID).Error; err != nil {
			return notFound(err, "participant", participantID)
		}
		var sponsor models.Participant
		if err := tx.First(&sponsor, sponsorID).Error; err != nil {
			return notFound(err, "sponsor", sponsorID)
		}

		var hits int64
		err := tx.Raw(`WITH RECURSIVE ancestors(id, sponsor_id, depth) AS (
	SELECT id, sponsor_id, 0 FROM participants WHERE id = ?
	UNION ALL
	SELECT p.id, p.sponsor_id, a.depth + 1 FROM participants p
	JOIN ancestors a ON p.id = a.sponsor_id
	WHERE a.depth < ?
)
SELECT COUNT(*) FROM ancestors WHERE id = ?`, sponsorID, maxSponsorDepth, participantID).Scan(&hits).Error
		if err != nil {
			return fmt.Errorf("ancestor check: %w", err)
		}
		if hits > 0 {
			return ErrSponsorCycle
		}
		return tx.Model(&p).Update("sponsor_id", sponsorID).Error
	})
}

// --- Volume ---

// PersonalVolume sums paid amounts of confirmed, non-cancelled investments
// plus paid installments.
func (s *Store) PersonalVolume(ctx context.Context, participantID int64) (decimal.Decimal, error) {
	db := s.db.WithContext(ctx)
	invested, err := scanDecimal(db.Model(&models.Investment{}).
		Select("COALESCE(SUM(paid_amount), 0)").
		Where("owner_id = ? AND status <> ? AND booking_status = ?", participantID, models.InvestmentCancelled, models.BookingConfirmed).
		Row())
	if err != nil {
		return decimal.Zero, fmt.Errorf("investment volume of %d: %w", participantID, err)
	}
	installments, err := scanDecimal(db.Model(&models.Installment{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("owner_id = ? AND status = ?", participantID, models.InstallmentPaid).
		Row())
	if err != nil {
		return decimal.Zero, fmt.Errorf("installment volume of %d: %w", participantID, err)
	}
	return invested.Add(installments), nil
}

// --- Transactions ---

// ClaimInvestment moves commission_status from PENDING to PROCESSING under a
// row lock. Any other status returns ErrAlreadyClaimed.
func (s *Store) ClaimInvestment(ctx context.Context, id int64) (*models.Investment, error) {
	var inv models.Investment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&inv, id).Error; err != nil {
			return notFound(err, "investment", id)
		}
		if inv.CommissionStatus != models.CommissionPending {
			return ErrAlreadyClaimed
		}
		inv.CommissionStatus = models.CommissionProcessing
		return tx.Model(&inv).Update("commission_status", models.CommissionProcessing).Error
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) FinishInvestment(ctx context.Context, id int64, status string) error {
	res := s.db.WithContext(ctx).Model(&models.Investment{}).
		Where("id = ?", id).
		Update("commission_status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("investment %d: %w", id, ErrNotFound)
	}
	return nil
}

// --- Ledger and wallets ---

// RecordPayout inserts the ledger entry and increments the beneficiary's
// wallet in one transaction.
func (s *Store) RecordPayout(ctx context.Context, entry *models.LedgerEntry, earned decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		wallet := models.Wallet{
			ParticipantID:     entry.BeneficiaryID,
			CommissionBalance: entry.NetAmount,
			TotalEarned:       earned,
			UpdatedAt:         time.Now(),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "participant_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"commission_balance": gorm.Expr("wallets.commission_balance + excluded.commission_balance"),
				"total_earned":       gorm.Expr("wallets.total_earned + excluded.total_earned"),
				"updated_at":         gorm.Expr("excluded.updated_at"),
			}),
		}).Create(&wallet).Error
		if err != nil {
			return fmt.Errorf("credit wallet of %d: %w", entry.BeneficiaryID, err)
		}
		return nil
	})
}

func (s *Store) GetWallet(ctx context.Context, participantID int64) (*models.Wallet, error) {
	var w models.Wallet
	if err := s.db.WithContext(ctx).Where("participant_id = ?", participantID).First(&w).Error; err != nil {
		return nil, notFound(err, "wallet of", participantID)
	}
	return &w, nil
}

func (s *Store) ledgerQuery(ctx context.Context, f LedgerFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&models.LedgerEntry{})
	if f.BeneficiaryID != 0 {
		q = q.Where("beneficiary_id = ?", f.BeneficiaryID)
	}
	if f.SourceParticipantID != 0 {
		q = q.Where("source_participant_id = ?", f.SourceParticipantID)
	}
	if f.TransactionID != 0 {
		q = q.Where("transaction_id = ?", f.TransactionID)
	}
	if f.Level != nil {
		q = q.Where("level = ?", *f.Level)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	return q
}

func (s *Store) ListLedgerEntries(ctx context.Context, f LedgerFilter) ([]models.LedgerEntry, int64, error) {
	var total int64
	if err := s.ledgerQuery(ctx, f).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var entries []models.LedgerEntry
	q := s.ledgerQuery(ctx, f).Order("id desc").Offset(f.Offset)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Store) SummarizeEarnings(ctx context.Context, beneficiaryID int64, from, to *time.Time) ([]KindTotal, error) {
	var totals []KindTotal
	err := s.ledgerQuery(ctx, LedgerFilter{BeneficiaryID: beneficiaryID, From: from, To: to}).
		Select("kind, COUNT(*) AS count, COALESCE(SUM(gross_amount), 0) AS gross, COALESCE(SUM(tax_amount), 0) AS tax, COALESCE(SUM(net_amount), 0) AS net").
		Group("kind").
		Order("kind asc").
		Scan(&totals).Error
	return totals, err
}

// --- Rules and ranks ---

func (s *Store) ListCommissionRules(ctx context.Context) ([]models.CommissionRule, error) {
	var out []models.CommissionRule
	err := s.db.WithContext(ctx).Order("level asc").Find(&out).Error
	return out, err
}

// ReplaceCommissionRules upserts by level and deletes levels absent from set.
func (s *Store) ReplaceCommissionRules(ctx context.Context, set []models.CommissionRule) ([]models.CommissionRule, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		levels := make([]int, 0, len(set))
		for _, r := range set {
			levels = append(levels, r.Level)
		}

		del := tx.Where("1 = 1")
		if len(levels) > 0 {
			del = tx.Where("level NOT IN ?", levels)
		}
		if err := del.Delete(&models.CommissionRule{}).Error; err != nil {
			return fmt.Errorf("delete absent levels: %w", err)
		}
		if len(set) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "level"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"commission_type", "value", "basis", "required_rank", "required_directs", "is_active", "updated_at",
			}),
		}).Create(&set).Error
	})
	if err != nil {
		return nil, err
	}
	return s.ListCommissionRules(ctx)
}

func (s *Store) ListRanks(ctx context.Context) ([]models.Rank, error) {
	var out []models.Rank
	err := s.db.WithContext(ctx).Order("display_order asc").Find(&out).Error
	return out, err
}

// Promote retires the current assignment, inserts the new one, renames the
// participant's rank and stores the reward placeholder in one transaction.
// The participant row is locked first; when its rank is no longer fromRank
// nothing is written and ErrRankChanged is returned.
func (s *Store) Promote(ctx context.Context, assignment *models.RankAssignment, fromRank, rankName string, reward *models.RankReward) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Participant
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "rank_name").
			First(&p, assignment.ParticipantID).Error; err != nil {
			return notFound(err, "participant", assignment.ParticipantID)
		}
		if !strings.EqualFold(p.RankName, fromRank) {
			return fmt.Errorf("participant %d holds %q, not %q: %w", p.ID, p.RankName, fromRank, ErrRankChanged)
		}

		if err := tx.Model(&models.RankAssignment{}).
			Where("participant_id = ? AND is_current = ?", assignment.ParticipantID, true).
			Update("is_current", false).Error; err != nil {
			return fmt.Errorf("retire current assignment: %w", err)
		}
		assignment.IsCurrent = true
		if err := tx.Create(assignment).Error; err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
		if err := tx.Model(&models.Participant{}).
			Where("id = ?", assignment.ParticipantID).
			Update("rank_name", rankName).Error; err != nil {
			return fmt.Errorf("update rank name: %w", err)
		}
		if reward != nil {
			if err := tx.Create(reward).Error; err != nil {
				return fmt.Errorf("insert reward: %w", err)
			}
		}
		return nil
	})
}
