package store

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrSponsorCycle   = errors.New("sponsor assignment would create a cycle")
	ErrAlreadyClaimed = errors.New("transaction commissions already claimed")
	ErrRankChanged    = errors.New("participant rank changed since it was read")
)

// LedgerFilter selects ledger entries. Zero values do not filter.
type LedgerFilter struct {
	BeneficiaryID       int64
	SourceParticipantID int64
	TransactionID       int64
	Level               *int
	Kind                string
	From                *time.Time
	To                  *time.Time
	Offset              int
	Limit               int
}

// KindTotal aggregates ledger entries of one kind.
type KindTotal struct {
	Kind  string          `json:"kind"`
	Count int64           `json:"count"`
	Gross decimal.Decimal `json:"gross"`
	Tax   decimal.Decimal `json:"tax"`
	Net   decimal.Decimal `json:"net"`
}
