package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ParticipantActive   = "ACTIVE"
	ParticipantInactive = "INACTIVE"

	KYCPending  = "PENDING"
	KYCApproved = "APPROVED"
	KYCVerified = "VERIFIED"
	KYCRejected = "REJECTED"

	InvestmentPending   = "PENDING"
	InvestmentActive    = "ACTIVE"
	InvestmentCompleted = "COMPLETED"
	InvestmentCancelled = "CANCELLED"

	BookingPending   = "PENDING"
	BookingConfirmed = "CONFIRMED"

	CommissionPending    = "PENDING"
	CommissionProcessing = "PROCESSING"
	CommissionProcessed  = "PROCESSED"
	CommissionFailed     = "FAILED"

	InstallmentPending = "PENDING"
	InstallmentPaid    = "PAID"

	RuleTypePercentage = "PERCENTAGE"
	RuleTypeFixed      = "FIXED"

	RuleBasisTransaction = "TRANSACTION"
	RuleBasisPool        = "POOL"

	LedgerKindDirect    = "DIRECT"
	LedgerKindLevelPool = "LEVEL_POOL"
	LedgerStatusEarned  = "EARNED"

	RewardTypePhysical = "PHYSICAL"
	RewardPending      = "PENDING"
)

type Participant struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	SponsorID   *int64     `gorm:"index" json:"sponsor_id,omitempty"`
	Status      string     `gorm:"type:varchar(16);index;not null;default:INACTIVE" json:"status"`
	RankName    string     `gorm:"type:varchar(64);not null;default:Associate" json:"rank_name"`
	KYCStatus   string     `gorm:"column:kyc_status;type:varchar(16);not null;default:PENDING" json:"kyc_status"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (p Participant) IsActive() bool {
	return p.Status == ParticipantActive
}

func (p Participant) KYCApproved() bool {
	return p.KYCStatus == KYCApproved || p.KYCStatus == KYCVerified
}

// Investment is the transaction that triggers compensation.
type Investment struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Reference        string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"reference"`
	OwnerID          int64           `gorm:"index;not null" json:"owner_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"amount"`
	PaidAmount       decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"paid_amount"`
	Status           string          `gorm:"type:varchar(16);not null;default:PENDING" json:"status"`
	BookingStatus    string          `gorm:"type:varchar(16);not null;default:PENDING" json:"booking_status"`
	CommissionStatus string          `gorm:"type:varchar(16);index;not null;default:PENDING" json:"commission_status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CommissionBase is the amount commissions are computed on: the principal,
// falling back to the paid amount. Zero means nothing is payable.
func (i Investment) CommissionBase() decimal.Decimal {
	if i.Amount.IsPositive() {
		return i.Amount
	}
	if i.PaidAmount.IsPositive() {
		return i.PaidAmount
	}
	return decimal.Zero
}

type Installment struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	InvestmentID int64           `gorm:"index;not null" json:"investment_id"`
	OwnerID      int64           `gorm:"index;not null" json:"owner_id"`
	Amount       decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	Status       string          `gorm:"type:varchar(16);not null;default:PENDING" json:"status"`
	PaidAt       *time.Time      `json:"paid_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type CommissionRule struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Level           int             `gorm:"uniqueIndex;not null" json:"level"`
	CommissionType  string          `gorm:"type:varchar(16);not null;default:PERCENTAGE" json:"commission_type"`
	Value           decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"value"`
	Basis           string          `gorm:"type:varchar(16);not null;default:TRANSACTION" json:"basis"`
	RequiredRank    *string         `gorm:"type:varchar(64)" json:"required_rank,omitempty"`
	RequiredDirects int             `gorm:"not null;default:0" json:"required_directs"`
	IsActive        bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// LedgerEntry is insert-only. Level is nil for the direct incentive.
type LedgerEntry struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryRef            string          `gorm:"type:varchar(36);uniqueIndex;not null" json:"entry_ref"`
	BeneficiaryID       int64           `gorm:"index;not null" json:"beneficiary_id"`
	SourceParticipantID int64           `gorm:"index;not null" json:"source_participant_id"`
	Level               *int            `gorm:"index" json:"level,omitempty"`
	Kind                string          `gorm:"type:varchar(16);index;not null" json:"kind"`
	BasisAmount         decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"basis_amount"`
	Rate                decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"rate"`
	GrossAmount         decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"gross_amount"`
	TaxAmount           decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"tax_amount"`
	NetAmount           decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"net_amount"`
	Status              string          `gorm:"type:varchar(16);not null;default:EARNED" json:"status"`
	TransactionID       int64           `gorm:"index;not null" json:"transaction_id"`
	CreatedAt           time.Time       `gorm:"index" json:"created_at"`
}

type Wallet struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ParticipantID     int64           `gorm:"uniqueIndex;not null" json:"participant_id"`
	CommissionBalance decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"commission_balance"`
	TotalEarned       decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"total_earned"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type Rank struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"name"`
	TargetVolume decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"target_volume"`
	DisplayOrder int             `gorm:"uniqueIndex;not null" json:"display_order"`
	Reward       string          `gorm:"type:varchar(128)" json:"reward"`
	IsActive     bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// RankAssignment keeps at most one current row per participant.
type RankAssignment struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ParticipantID int64     `gorm:"not null;uniqueIndex:idx_rank_assignments_current,where:is_current = true" json:"participant_id"`
	RankID        int64     `gorm:"index;not null" json:"rank_id"`
	IsCurrent     bool      `gorm:"not null;default:true" json:"is_current"`
	AchievedAt    time.Time `gorm:"not null" json:"achieved_at"`
}

type RankReward struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	RewardRef     string          `gorm:"type:varchar(36);uniqueIndex;not null" json:"reward_ref"`
	ParticipantID int64           `gorm:"index;not null" json:"participant_id"`
	RankID        int64           `gorm:"index;not null" json:"rank_id"`
	RewardType    string          `gorm:"type:varchar(16);not null" json:"reward_type"`
	Description   string          `gorm:"type:varchar(128)" json:"description"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"amount"`
	Status        string          `gorm:"type:varchar(16);not null;default:PENDING" json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}
