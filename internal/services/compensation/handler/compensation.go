package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"realty-network/internal/database/models"
	"realty-network/internal/services/compensation/commission"
	"realty-network/internal/services/compensation/metrics"
	"realty-network/internal/services/compensation/rank"
	"realty-network/internal/services/compensation/rules"
	"realty-network/internal/services/compensation/store"
	"realty-network/internal/services/compensation/volume"
)

const (
	EARNINGS_SUMMARY_CACHE_PREFIX = "earnings_summary:"
	WALLET_CACHE_PREFIX           = "wallet:"

	defaultPageSize = 20
	maxPageSize     = 200
)

// Store is every persistence operation the facade and its engines use.
type Store interface {
	commission.Store
	rank.Store
	volume.Source
	rules.Source

	ClaimInvestment(ctx context.Context, id int64) (*models.Investment, error)
	FinishInvestment(ctx context.Context, id int64, status string) error
	ActivateParticipant(ctx context.Context, id int64) error
	SetSponsor(ctx context.Context, participantID, sponsorID int64) error
	ListLedgerEntries(ctx context.Context, f store.LedgerFilter) ([]models.LedgerEntry, int64, error)
	SummarizeEarnings(ctx context.Context, beneficiaryID int64, from, to *time.Time) ([]store.KindTotal, error)
	GetWallet(ctx context.Context, participantID int64) (*models.Wallet, error)
	ReplaceCommissionRules(ctx context.Context, set []models.CommissionRule) ([]models.CommissionRule, error)
}

type Options struct {
	VolumeMaxNodes   int
	SweepConcurrency int
	CacheTTL         time.Duration
}

type TransactionAck struct {
	TransactionID int64  `json:"transaction_id"`
	OwnerID       int64  `json:"owner_id"`
	Status        string `json:"status"`
}

type Settlement struct {
	TransactionID int64              `json:"transaction_id"`
	Status        string             `json:"status"`
	Commission    *commission.Result `json:"commission,omitempty"`
	Ranks         []rank.Outcome     `json:"ranks,omitempty"`
}

type LedgerQuery struct {
	BeneficiaryID       int64
	SourceParticipantID int64
	TransactionID       int64
	Level               *int
	Kind                string
	From                *time.Time
	To                  *time.Time
	PageSize            int
	PageToken           string
}

type LedgerPage struct {
	Entries       []models.LedgerEntry `json:"entries"`
	TotalCount    int64                `json:"total_count"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

type EarningsSummary struct {
	BeneficiaryID int64             `json:"beneficiary_id"`
	From          *time.Time        `json:"from,omitempty"`
	To            *time.Time        `json:"to,omitempty"`
	ByKind        []store.KindTotal `json:"by_kind"`
	EntryCount    int64             `json:"entry_count"`
	TotalGross    decimal.Decimal   `json:"total_gross"`
	TotalTax      decimal.Decimal   `json:"total_tax"`
	TotalNet      decimal.Decimal   `json:"total_net"`
}

// --- Helpers ---
func summaryField(from, to *time.Time) string {
	f, t := "-", "-"
	if from != nil {
		f = from.UTC().Format(time.RFC3339)
	}
	if to != nil {
		t = to.UTC().Format(time.RFC3339)
	}
	return f + "|" + t
}

func participantKey(prefix string, id int64) string {
	return fmt.Sprintf("%s%d", prefix, id)
}

// --- Handler ---
type CompensationHandler struct {
	store      Store
	registry   *rules.Registry
	commission *commission.Engine
	ranks      *rank.Engine
	dispatcher *Dispatcher
	redis      *redis.Client
	opts       Options
	log        *logrus.Entry
}

func NewCompensationHandler(s Store, registry *rules.Registry, dispatcher *Dispatcher, redisClient *redis.Client, opts Options, logger *logrus.Logger) *CompensationHandler {
	if opts.SweepConcurrency < 1 {
		opts.SweepConcurrency = 1
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 2 * time.Hour
	}
	agg := volume.NewAggregator(s, opts.VolumeMaxNodes, logger)
	return &CompensationHandler{
		store:      s,
		registry:   registry,
		commission: commission.NewEngine(s, logger),
		ranks:      rank.NewEngine(s, agg, logger),
		dispatcher: dispatcher,
		redis:      redisClient,
		opts:       opts,
		log:        logger.WithField("component", "compensation"),
	}
}

// InvalidateBeneficiaryCaches drops the cached summaries and wallets of ids.
func (h *CompensationHandler) InvalidateBeneficiaryCaches(ctx context.Context, ids ...int64) {
	if h.redis == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		keys = append(keys, participantKey(EARNINGS_SUMMARY_CACHE_PREFIX, id), participantKey(WALLET_CACHE_PREFIX, id))
	}
	if err := h.redis.Del(ctx, keys...).Err(); err != nil {
		h.log.WithError(err).Warn("Failed to invalidate beneficiary caches")
	}
}

// --- Transactions ---

// ProcessTransaction claims the investment and queues its settlement. It
// returns as soon as the work is queued.
func (h *CompensationHandler) ProcessTransaction(ctx context.Context, investmentID int64) (*TransactionAck, error) {
	if investmentID <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Investment ID is required")
	}

	inv, err := h.store.ClaimInvestment(ctx, investmentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, status.Errorf(codes.NotFound, "Investment with ID %d not found", investmentID)
	case errors.Is(err, store.ErrAlreadyClaimed):
		return nil, status.Errorf(codes.AlreadyExists, "Commissions of investment %d are already processed", investmentID)
	case err != nil:
		return nil, status.Errorf(codes.Internal, "Failed to claim investment: %v", err)
	}

	if err := h.store.ActivateParticipant(ctx, inv.OwnerID); err != nil {
		h.release(ctx, inv.ID)
		return nil, status.Errorf(codes.Internal, "Failed to activate participant %d: %v", inv.OwnerID, err)
	}

	if err := h.dispatcher.Submit(h.settleJob(*inv)); err != nil {
		h.release(ctx, inv.ID)
		return nil, status.Errorf(codes.ResourceExhausted, "Failed to queue investment %d: %v", investmentID, err)
	}

	return &TransactionAck{
		TransactionID: inv.ID,
		OwnerID:       inv.OwnerID,
		Status:        models.CommissionProcessing,
	}, nil
}

// settleJob runs Settle for a claimed investment. A panic marks the
// investment FAILED instead of leaving it claimed.
func (h *CompensationHandler) settleJob(inv models.Investment) Job {
	return func(ctx context.Context) {
		log := h.log.WithField("transaction_id", inv.ID)
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Settlement panicked: %v", r)
				if err := h.store.FinishInvestment(context.Background(), inv.ID, models.CommissionFailed); err != nil {
					log.WithError(err).Error("Failed to record commission status")
				}
				metrics.RecordTransaction(models.CommissionFailed)
			}
		}()
		if _, err := h.Settle(ctx, inv); err != nil {
			log.WithError(err).Error("Settlement failed")
		}
	}
}

func (h *CompensationHandler) release(ctx context.Context, id int64) {
	if err := h.store.FinishInvestment(ctx, id, models.CommissionPending); err != nil {
		h.log.WithError(err).WithField("transaction_id", id).Error("Failed to release investment claim")
	}
}

// Settle distributes the commissions of a claimed investment, propagates
// rank evaluation up from its owner and records the final status.
func (h *CompensationHandler) Settle(ctx context.Context, inv models.Investment) (*Settlement, error) {
	log := h.log.WithFields(logrus.Fields{"transaction_id": inv.ID, "participant_id": inv.OwnerID})

	plan, err := h.registry.Snapshot(ctx)
	if err != nil {
		h.release(ctx, inv.ID)
		metrics.RecordTransaction("released")
		return nil, fmt.Errorf("load plan: %w", err)
	}

	out := &Settlement{TransactionID: inv.ID, Status: models.CommissionProcessed}
	res, distErr := h.commission.Distribute(ctx, plan, inv)
	out.Commission = res
	if distErr != nil {
		out.Status = models.CommissionFailed
		log.WithError(distErr).Error("Commission walk abandoned")
	}

	outcomes, err := h.ranks.PropagateUpward(ctx, plan, inv.OwnerID)
	out.Ranks = outcomes
	if err != nil {
		log.WithError(err).Error("Rank propagation stopped early")
	}

	if err := h.store.FinishInvestment(ctx, inv.ID, out.Status); err != nil {
		log.WithError(err).Error("Failed to record commission status")
	}
	if res != nil {
		h.InvalidateBeneficiaryCaches(ctx, res.Beneficiaries()...)
	}
	metrics.RecordTransaction(out.Status)

	if res != nil {
		log.WithFields(logrus.Fields{
			"entries":   len(res.Entries),
			"skips":     len(res.Skips),
			"total_net": res.TotalNet().StringFixed(2),
			"status":    out.Status,
		}).Info("Investment settled")
	}
	return out, distErr
}

// --- Ledger ---

func (h *CompensationHandler) ListLedgerEntries(ctx context.Context, q LedgerQuery) (*LedgerPage, error) {
	var (
		page  = 1
		limit = defaultPageSize
	)
	if q.PageSize > 0 {
		limit = q.PageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if pageNum, err := strconv.Atoi(q.PageToken); err == nil && pageNum > 0 {
		page = pageNum
	}
	offset := (page - 1) * limit

	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return nil, status.Errorf(codes.InvalidArgument, "Date range end is before its start")
	}

	entries, total, err := h.store.ListLedgerEntries(ctx, store.LedgerFilter{
		BeneficiaryID:       q.BeneficiaryID,
		SourceParticipantID: q.SourceParticipantID,
		TransactionID:       q.TransactionID,
		Level:               q.Level,
		Kind:                q.Kind,
		From:                q.From,
		To:                  q.To,
		Offset:              offset,
		Limit:               limit,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to retrieve ledger entries: %v", err)
	}

	nextPageToken := ""
	if int64(offset+limit) < total {
		nextPageToken = strconv.Itoa(page + 1)
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return &LedgerPage{Entries: entries, TotalCount: total, NextPageToken: nextPageToken}, nil
}

// GetEarningsSummary totals a beneficiary's ledger by kind. Results are cached
// per date range in one hash per beneficiary.
func (h *CompensationHandler) GetEarningsSummary(ctx context.Context, beneficiaryID int64, from, to *time.Time) (*EarningsSummary, error) {
	if beneficiaryID <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Beneficiary ID is required")
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, status.Errorf(codes.InvalidArgument, "Date range end is before its start")
	}

	cacheKey := participantKey(EARNINGS_SUMMARY_CACHE_PREFIX, beneficiaryID)
	field := summaryField(from, to)
	if h.redis != nil {
		val, err := h.redis.HGet(ctx, cacheKey, field).Result()
		if err == nil {
			var cached EarningsSummary
			if json.Unmarshal([]byte(val), &cached) == nil {
				return &cached, nil
			}
		} else if err != redis.Nil {
			h.log.WithError(err).Warn("Failed to read earnings summary cache")
		}
	}

	totals, err := h.store.SummarizeEarnings(ctx, beneficiaryID, from, to)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to summarize earnings: %v", err)
	}

	summary := &EarningsSummary{
		BeneficiaryID: beneficiaryID,
		From:          from,
		To:            to,
		ByKind:        totals,
		TotalGross:    decimal.Zero,
		TotalTax:      decimal.Zero,
		TotalNet:      decimal.Zero,
	}
	if summary.ByKind == nil {
		summary.ByKind = []store.KindTotal{}
	}
	for _, kt := range totals {
		summary.EntryCount += kt.Count
		summary.TotalGross = summary.TotalGross.Add(kt.Gross)
		summary.TotalTax = summary.TotalTax.Add(kt.Tax)
		summary.TotalNet = summary.TotalNet.Add(kt.Net)
	}

	if h.redis != nil {
		if jsonData, err := json.Marshal(summary); err == nil {
			pipe := h.redis.TxPipeline()
			pipe.HSet(ctx, cacheKey, field, jsonData)
			pipe.Expire(ctx, cacheKey, h.opts.CacheTTL)
			if _, err := pipe.Exec(ctx); err != nil {
				h.log.WithError(err).Warn("Failed to cache earnings summary")
			}
		}
	}
	return summary, nil
}

func (h *CompensationHandler) GetWallet(ctx context.Context, participantID int64) (*models.Wallet, error) {
	if participantID <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Participant ID is required")
	}

	cacheKey := participantKey(WALLET_CACHE_PREFIX, participantID)
	if h.redis != nil {
		if val, err := h.redis.Get(ctx, cacheKey).Result(); err == nil {
			var cached models.Wallet
			if json.Unmarshal([]byte(val), &cached) == nil {
				return &cached, nil
			}
		}
	}

	w, err := h.store.GetWallet(ctx, participantID)
	if errors.Is(err, store.ErrNotFound) {
		// Nothing earned yet.
		w = &models.Wallet{ParticipantID: participantID, CommissionBalance: decimal.Zero, TotalEarned: decimal.Zero}
	} else if err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to get wallet: %v", err)
	}

	if h.redis != nil {
		if jsonData, err := json.Marshal(w); err == nil {
			if err := h.redis.Set(ctx, cacheKey, jsonData, h.opts.CacheTTL).Err(); err != nil {
				h.log.WithError(err).Warn("Failed to cache wallet")
			}
		}
	}
	return w, nil
}

// --- Rules ---

func (h *CompensationHandler) ListCommissionRules(ctx context.Context) ([]models.CommissionRule, error) {
	out, err := h.store.ListCommissionRules(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to list commission rules: %v", err)
	}
	if out == nil {
		out = []models.CommissionRule{}
	}
	return out, nil
}

// ReplaceCommissionRules upserts set by level, deletes levels missing from
// it and makes the next evaluation pass reload the plan.
func (h *CompensationHandler) ReplaceCommissionRules(ctx context.Context, set []models.CommissionRule) ([]models.CommissionRule, error) {
	if err := rules.ValidateRules(set, h.registry.Base().MaxLevel); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	out, err := h.store.ReplaceCommissionRules(ctx, set)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to replace commission rules: %v", err)
	}
	h.registry.Invalidate()
	h.log.WithField("rules", len(out)).Info("Commission rules replaced")
	return out, nil
}

// --- Ranks ---

func (h *CompensationHandler) plan(ctx context.Context) (rules.Plan, error) {
	plan, err := h.registry.Snapshot(ctx)
	if err != nil {
		return rules.Plan{}, status.Errorf(codes.Internal, "Failed to load compensation plan: %v", err)
	}
	return plan, nil
}

func (h *CompensationHandler) EvaluateRank(ctx context.Context, participantID int64) (*rank.Outcome, error) {
	if participantID <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Participant ID is required")
	}
	plan, err := h.plan(ctx)
	if err != nil {
		return nil, err
	}
	out, err := h.ranks.Evaluate(ctx, plan, participantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "Participant with ID %d not found", participantID)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to evaluate rank: %v", err)
	}
	return out, nil
}

func (h *CompensationHandler) GetRankProgress(ctx context.Context, participantID int64) (*rank.Progress, error) {
	if participantID <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Participant ID is required")
	}
	plan, err := h.plan(ctx)
	if err != nil {
		return nil, err
	}
	out, err := h.ranks.Progress(ctx, plan, participantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "Participant with ID %d not found", participantID)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "Failed to compute rank progress: %v", err)
	}
	return out, nil
}

func (h *CompensationHandler) SweepRanks(ctx context.Context) (*rank.SweepReport, error) {
	plan, err := h.plan(ctx)
	if err != nil {
		return nil, err
	}
	report, err := h.ranks.Sweep(ctx, plan, h.opts.SweepConcurrency)
	if err != nil {
		return report, status.Errorf(codes.Internal, "Rank sweep failed: %v", err)
	}
	return report, nil
}

// --- Sponsorship ---

func (h *CompensationHandler) AssignSponsor(ctx context.Context, participantID, sponsorID int64) error {
	if participantID <= 0 || sponsorID <= 0 {
		return status.Errorf(codes.InvalidArgument, "Participant ID and sponsor ID are required")
	}
	if participantID == sponsorID {
		return status.Errorf(codes.FailedPrecondition, "Participant %d cannot sponsor itself", participantID)
	}
	err := h.store.SetSponsor(ctx, participantID, sponsorID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return status.Errorf(codes.NotFound, "%v", err)
	case errors.Is(err, store.ErrSponsorCycle):
		return status.Errorf(codes.FailedPrecondition, "Sponsor %d is in the downline of participant %d", sponsorID, participantID)
	case err != nil:
		return status.Errorf(codes.Internal, "Failed to assign sponsor: %v", err)
	}
	h.log.WithFields(logrus.Fields{"participant_id": participantID, "sponsor_id": sponsorID}).Info("Sponsor assigned")
	return nil
}

// --- Projection ---

func (h *CompensationHandler) ProjectEarnings(ctx context.Context, amount decimal.Decimal) (*commission.Projection, error) {
	if !amount.IsPositive() {
		return nil, status.Errorf(codes.InvalidArgument, "Amount must be positive")
	}
	plan, err := h.plan(ctx)
	if err != nil {
		return nil, err
	}
	p := commission.Project(plan, amount)
	return &p, nil
}
