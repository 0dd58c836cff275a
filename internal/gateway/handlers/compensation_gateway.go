package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"realty-network/internal/database/models"
	"realty-network/internal/gateway/middleware"
	"realty-network/internal/services/compensation/commission"
	"realty-network/internal/services/compensation/handler"
	"realty-network/internal/services/compensation/rank"
)

// CompensationService is the facade the HTTP layer drives.
type CompensationService interface {
	ProcessTransaction(ctx context.Context, investmentID int64) (*handler.TransactionAck, error)
	ListLedgerEntries(ctx context.Context, q handler.LedgerQuery) (*handler.LedgerPage, error)
	GetEarningsSummary(ctx context.Context, beneficiaryID int64, from, to *time.Time) (*handler.EarningsSummary, error)
	GetWallet(ctx context.Context, participantID int64) (*models.Wallet, error)
	EvaluateRank(ctx context.Context, participantID int64) (*rank.Outcome, error)
	GetRankProgress(ctx context.Context, participantID int64) (*rank.Progress, error)
	AssignSponsor(ctx context.Context, participantID, sponsorID int64) error
	ProjectEarnings(ctx context.Context, amount decimal.Decimal) (*commission.Projection, error)
	ListCommissionRules(ctx context.Context) ([]models.CommissionRule, error)
	ReplaceCommissionRules(ctx context.Context, set []models.CommissionRule) ([]models.CommissionRule, error)
	SweepRanks(ctx context.Context) (*rank.SweepReport, error)
}

type CompensationHTTPHandler struct {
	service CompensationService
}

func NewCompensationHTTPHandler(service CompensationService) *CompensationHTTPHandler {
	return &CompensationHTTPHandler{service: service}
}

// --- Request & Query Structs for Binding ---

type LedgerListQuery struct {
	Page                int    `form:"page,default=1"`
	PageSize            int    `form:"page_size,default=20"`
	BeneficiaryID       int64  `form:"beneficiary_id"`
	SourceParticipantID int64  `form:"source_participant_id"`
	TransactionID       int64  `form:"transaction_id"`
	Level               *int   `form:"level"`
	Kind                string `form:"kind"`
	From                string `form:"from"`
	To                  string `form:"to"`
}

type DateRangeQuery struct {
	From string `form:"from"`
	To   string `form:"to"`
}

type AssignSponsorRequest struct {
	SponsorID int64 `json:"sponsor_id" binding:"required"`
}

type ProjectionRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

type CommissionRuleRequest struct {
	Level           int             `json:"level" binding:"required"`
	CommissionType  string          `json:"commission_type"`
	Value           decimal.Decimal `json:"value"`
	Basis           string          `json:"basis"`
	RequiredRank    *string         `json:"required_rank"`
	RequiredDirects int             `json:"required_directs"`
	IsActive        *bool           `json:"is_active"`
}

type ReplaceRulesRequest struct {
	Rules []CommissionRuleRequest `json:"rules"`
}

type PaginationMeta struct {
	Page          int    `json:"page"`
	PageSize      int    `json:"page_size"`
	TotalCount    int64  `json:"total_count"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

func successResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
}

func errorResponse(message string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
	}
}

func successWithMetaResponse(message string, data interface{}, meta interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    meta,
	}
}

// --- Helpers ---

// handleStatusError writes the HTTP form of a status error. It reports
// whether a response was written.
func handleStatusError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.InvalidArgument:
			c.JSON(http.StatusBadRequest, errorResponse(s.Message()))
		case codes.NotFound:
			c.JSON(http.StatusNotFound, errorResponse(s.Message()))
		case codes.FailedPrecondition:
			c.JSON(http.StatusBadRequest, errorResponse(s.Message()))
		case codes.AlreadyExists:
			c.JSON(http.StatusConflict, errorResponse(s.Message()))
		case codes.ResourceExhausted:
			c.JSON(http.StatusServiceUnavailable, errorResponse(s.Message()))
		default:
			c.JSON(http.StatusInternalServerError, errorResponse("Service error: "+s.Message()))
		}
	} else {
		c.JSON(http.StatusInternalServerError, errorResponse("Unknown service error"))
	}
	c.Abort()
	return true
}

var errDateFormat = errors.New("dates must be RFC3339 or YYYY-MM-DD")

// parseDate accepts RFC3339 or a plain date. A plain end date covers the
// whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, errDateFormat
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseRange(from, to string) (*time.Time, *time.Time, error) {
	f, err := parseDate(from, false)
	if err != nil {
		return nil, nil, err
	}
	t, err := parseDate(to, true)
	if err != nil {
		return nil, nil, err
	}
	return f, t, nil
}

// participantParam reads :id and checks the caller may act on it: admins on
// anyone, participants only on themselves.
func participantParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid participant ID"))
		return 0, false
	}
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("Missing bearer token"))
		return 0, false
	}
	if !claims.IsAdmin() && claims.ParticipantID != id {
		c.JSON(http.StatusForbidden, errorResponse("Access to another participant is not allowed"))
		return 0, false
	}
	return id, true
}

// --- Transaction Handlers ---

func (h *CompensationHTTPHandler) ProcessTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid transaction ID"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := h.service.ProcessTransaction(ctx, id)
	if handleStatusError(c, err) {
		return
	}
	c.JSON(http.StatusAccepted, successResponse("Commission processing queued", resp))
}

// --- Ledger Handlers ---

func (h *CompensationHTTPHandler) ListLedgerEntries(c *gin.Context) {
	var query LedgerListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters: "+err.Error()))
		return
	}
	from, to, err := parseRange(query.From, query.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	claims, _ := middleware.GetClaims(c)
	if claims == nil || !claims.IsAdmin() {
		if claims == nil || (query.BeneficiaryID != 0 && query.BeneficiaryID != claims.ParticipantID) {
			c.JSON(http.StatusForbidden, errorResponse("Access to another participant is not allowed"))
			return
		}
		query.BeneficiaryID = claims.ParticipantID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := h.service.ListLedgerEntries(ctx, handler.LedgerQuery{
		BeneficiaryID:       query.BeneficiaryID,
		SourceParticipantID: query.SourceParticipantID,
		TransactionID:       query.TransactionID,
		Level:               query.Level,
		Kind:                query.Kind,
		From:                from,
		To:                  to,
		PageSize:            query.PageSize,
		PageToken:           strconv.Itoa(query.Page),
	})
	if handleStatusError(c, err) {
		return
	}

	meta := PaginationMeta{
		Page:          query.Page,
		PageSize:      query.PageSize,
		TotalCount:    resp.TotalCount,
		NextPageToken: resp.NextPageToken,
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Ledger entries retrieved successfully", resp.Entries, meta))
}

func (h *CompensationHTTPHandler) GetEarningsSummary(c *gin.Context) {
	id, ok := participantParam(c)
	if !ok {
		return
	}
	var query DateRangeQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters: "+err.Error()))
		return
	}
	from, to, err := parseRange(query.From, query.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := h.service.GetEarningsSummary(ctx, id, from, to)
	if handleStatusError(c, err) {
		return
	}
	c.JSON(http.StatusOK, successResponse("Earnings summary retrieved successfully", resp))
}

func (h *CompensationHTTPHandler) GetWallet(c *gin.Context) {
	id, ok := participantParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := h.service.GetWallet(ctx, id)
	if handleStatusError(c, err) {
		return
	}
	c.JSON(http.StatusOK, successResponse("Wallet retrieved successfully", resp))
}

// --- Rank Handlers ---

func (h *CompensationHTTPHandler) EvaluateRank(c *gin.Context) {
	id, ok := participantParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := h.service.EvaluateRank(ctx, id)
	if handleStatusError(c, err) {
		return
	}
	c.JSON(http.StatusOK, successResponse("Rank evaluated successfully", resp))
}

func (h *CompensationHTTPHandler) GetRankProgress(c *gin.Context) {
	id, ok := participantParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := h.service.GetRankProgress(ctx, id)
	if handleStatusError(c, err) {
		return
	}
	c.JSON(http.StatusOK, successResponse("Rank progress retrieved successfully", resp))
}

func (h *CompensationHTTPHandler) AssignSponsor(c *gin.Context) {
	id, ok := participantParam(c)
	if !ok {
		return
	}
	var req AssignSponsorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if handleStatusError(c, h.service.AssignSponsor(ctx, id, req.SponsorID)) {
		return
	}
	c.JSON(http.StatusOK, successResponse("Sponsor assigned successfully", gin.H{
		"participant_id": id,
		"sponsor_id":     req.SponsorID,
	}))
}

func (h *CompensationHTTPHandler) ProjectEarnings(c *gin.Context) {
	var req ProjectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := h.service.ProjectEarnings(ctx, req.Amount)
	if handleStatusError(c, err) {
		return
	}
	c.JSON(http.StatusOK, successResponse("Earnings projected successfully", resp))
}

// --- Admin Handlers ---

func (h *CompensationHTTPHandler) ListCommissionRules(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := h.service.ListCommissionRules(ctx)
	if handleStatusError(c, err) {
		return
	}
	c.JSON(http.StatusOK, successResponse("Commission rules retrieved successfully", resp))
}

func (h *CompensationHTTPHandler) ReplaceCommissionRules(c *gin.Context) {
	var req ReplaceRulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	set := make([]models.CommissionRule, 0, len(req.Rules))
	for _, r := range req.Rules {
		active := true
		if r.IsActive != nil {
			active = *r.IsActive
		}
		set = append(set, models.CommissionRule{
			Level:           r.Level,
			CommissionType:  r.CommissionType,
			Value:           r.Value,
			Basis:           r.Basis,
			RequiredRank:    r.RequiredRank,
			RequiredDirects: r.RequiredDirects,
			IsActive:        active,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := h.service.ReplaceCommissionRules(ctx, set)
	if handleStatusError(c, err) {
		return
	}
	c.JSON(http.StatusOK, successResponse("Commission rules replaced successfully", resp))
}

func (h *CompensationHTTPHandler) SweepRanks(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	resp, err := h.service.SweepRanks(ctx)
	if handleStatusError(c, err) {
		return
	}
	c.JSON(http.StatusOK, successResponse("Rank sweep completed", resp))
}
