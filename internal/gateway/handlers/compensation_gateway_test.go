package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"realty-network/internal/database/models"
	"realty-network/internal/gateway/middleware"
	"realty-network/internal/services/compensation/commission"
	"realty-network/internal/services/compensation/handler"
	"realty-network/internal/services/compensation/rank"
	"realty-network/internal/utils"
)

var testSecret = []byte("gateway-secret")

type fakeService struct {
	processErr  error
	ledgerQuery handler.LedgerQuery
	summaryFrom *time.Time
	summaryTo   *time.Time
	replaced    []models.CommissionRule
	sponsorErr  error
}

func (f *fakeService) ProcessTransaction(ctx context.Context, id int64) (*handler.TransactionAck, error) {
	if f.processErr != nil {
		return nil, f.processErr
	}
	return &handler.TransactionAck{TransactionID: id, Status: models.CommissionProcessing}, nil
}

func (f *fakeService) ListLedgerEntries(ctx context.Context, q handler.LedgerQuery) (*handler.LedgerPage, error) {
	f.ledgerQuery = q
	return &handler.LedgerPage{Entries: []models.LedgerEntry{{ID: 1, BeneficiaryID: q.BeneficiaryID}}, TotalCount: 5, NextPageToken: "2"}, nil
}

func (f *fakeService) GetEarningsSummary(ctx context.Context, id int64, from, to *time.Time) (*handler.EarningsSummary, error) {
	f.summaryFrom, f.summaryTo = from, to
	return &handler.EarningsSummary{BeneficiaryID: id, TotalNet: decimal.NewFromInt(950)}, nil
}

func (f *fakeService) GetWallet(ctx context.Context, id int64) (*models.Wallet, error) {
	return &models.Wallet{ParticipantID: id, CommissionBalance: decimal.NewFromInt(10)}, nil
}

func (f *fakeService) EvaluateRank(ctx context.Context, id int64) (*rank.Outcome, error) {
	return nil, status.Errorf(codes.NotFound, "Participant with ID %d not found", id)
}

func (f *fakeService) GetRankProgress(ctx context.Context, id int64) (*rank.Progress, error) {
	return &rank.Progress{ParticipantID: id, NextRank: "Team Leader"}, nil
}

func (f *fakeService) AssignSponsor(ctx context.Context, participantID, sponsorID int64) error {
	return f.sponsorErr
}

func (f *fakeService) ProjectEarnings(ctx context.Context, amount decimal.Decimal) (*commission.Projection, error) {
	if !amount.IsPositive() {
		return nil, status.Errorf(codes.InvalidArgument, "Amount must be positive")
	}
	return &commission.Projection{Amount: amount}, nil
}

func (f *fakeService) ListCommissionRules(ctx context.Context) ([]models.CommissionRule, error) {
	return []models.CommissionRule{}, nil
}

func (f *fakeService) ReplaceCommissionRules(ctx context.Context, set []models.CommissionRule) ([]models.CommissionRule, error) {
	f.replaced = set
	return set, nil
}

func (f *fakeService) SweepRanks(ctx context.Context) (*rank.SweepReport, error) {
	return &rank.SweepReport{Evaluated: 4, Promoted: 1}, nil
}

func newRouter(svc CompensationService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewCompensationHTTPHandler(svc)
	r := gin.New()

	api := r.Group("/api/v1", middleware.JWTAuth(testSecret))
	api.POST("/transactions/:id/commissions", h.ProcessTransaction)
	api.GET("/ledger", h.ListLedgerEntries)
	api.GET("/participants/:id/summary", h.GetEarningsSummary)
	api.GET("/participants/:id/wallet", h.GetWallet)
	api.POST("/participants/:id/rank/evaluate", h.EvaluateRank)
	api.GET("/participants/:id/rank/progress", h.GetRankProgress)
	api.POST("/projections", h.ProjectEarnings)

	admin := api.Group("/admin", middleware.RequireRole(utils.RoleAdmin))
	admin.GET("/commission-rules", h.ListCommissionRules)
	admin.PUT("/commission-rules", h.ReplaceCommissionRules)
	admin.POST("/ranks/sweep", h.SweepRanks)
	admin.PUT("/participants/:id/sponsor", h.AssignSponsor)
	return r
}

func call(t *testing.T, r http.Handler, method, path string, who int64, role, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	tok, _, err := utils.GenerateToken(testSecret, who, "tester", role, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestProcessTransactionRoute(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)

	w, resp := call(t, r, http.MethodPost, "/api/v1/transactions/12/commissions", 1, utils.RoleParticipant, "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, resp.Success)

	w, _ = call(t, r, http.MethodPost, "/api/v1/transactions/abc/commissions", 1, utils.RoleParticipant, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.processErr = status.Errorf(codes.AlreadyExists, "already processed")
	w, resp = call(t, r, http.MethodPost, "/api/v1/transactions/12/commissions", 1, utils.RoleParticipant, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "already processed", resp.Message)

	svc.processErr = status.Errorf(codes.ResourceExhausted, "queue full")
	w, _ = call(t, r, http.MethodPost, "/api/v1/transactions/12/commissions", 1, utils.RoleParticipant, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLedgerIsScopedToCaller(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)

	w, resp := call(t, r, http.MethodGet, "/api/v1/ledger?page=2&page_size=10&kind=DIRECT&level=1&from=2026-01-01&to=2026-01-31", 7, utils.RoleParticipant, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, resp.Meta)
	assert.Equal(t, int64(7), svc.ledgerQuery.BeneficiaryID)
	assert.Equal(t, "2", svc.ledgerQuery.PageToken)
	assert.Equal(t, 10, svc.ledgerQuery.PageSize)
	require.NotNil(t, svc.ledgerQuery.Level)
	assert.Equal(t, 1, *svc.ledgerQuery.Level)
	require.NotNil(t, svc.ledgerQuery.To)
	assert.Equal(t, 23, svc.ledgerQuery.To.Hour())

	w, _ = call(t, r, http.MethodGet, "/api/v1/ledger?beneficiary_id=8", 7, utils.RoleParticipant, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = call(t, r, http.MethodGet, "/api/v1/ledger?beneficiary_id=8", 1, utils.RoleAdmin, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(8), svc.ledgerQuery.BeneficiaryID)

	w, _ = call(t, r, http.MethodGet, "/api/v1/ledger?from=yesterday", 7, utils.RoleParticipant, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParticipantRoutes(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)

	w, _ := call(t, r, http.MethodGet, "/api/v1/participants/7/wallet", 7, utils.RoleParticipant, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = call(t, r, http.MethodGet, "/api/v1/participants/8/wallet", 7, utils.RoleParticipant, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = call(t, r, http.MethodGet, "/api/v1/participants/8/summary?from=2026-03-01T00:00:00Z", 1, utils.RoleAdmin, "")
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.summaryFrom)
	assert.Nil(t, svc.summaryTo)

	w, _ = call(t, r, http.MethodPost, "/api/v1/participants/7/rank/evaluate", 7, utils.RoleParticipant, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp := call(t, r, http.MethodGet, "/api/v1/participants/7/rank/progress", 7, utils.RoleParticipant, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Team Leader", resp.Data.(map[string]interface{})["next_rank"])

}

func TestSponsorAssignmentIsAdminOnly(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)

	w, _ := call(t, r, http.MethodPut, "/api/v1/admin/participants/7/sponsor", 7, utils.RoleParticipant, `{"sponsor_id": 3}`)
	assert.Equal(t, http.StatusForbidden, w.Code, "participants cannot re-parent themselves")

	w, _ = call(t, r, http.MethodPut, "/api/v1/admin/participants/7/sponsor", 1, utils.RoleAdmin, `{"sponsor_id": 3}`)
	assert.Equal(t, http.StatusOK, w.Code)

	svc.sponsorErr = status.Errorf(codes.FailedPrecondition, "cycle")
	w, _ = call(t, r, http.MethodPut, "/api/v1/admin/participants/7/sponsor", 1, utils.RoleAdmin, `{"sponsor_id": 3}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = call(t, r, http.MethodPut, "/api/v1/admin/participants/7/sponsor", 1, utils.RoleAdmin, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProjectionRoute(t *testing.T) {
	r := newRouter(&fakeService{})

	w, resp := call(t, r, http.MethodPost, "/api/v1/projections", 7, utils.RoleParticipant, `{"amount": "1000000"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, _ = call(t, r, http.MethodPost, "/api/v1/projections", 7, utils.RoleParticipant, `{"amount": "-5"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)

	w, _ := call(t, r, http.MethodPut, "/api/v1/admin/commission-rules", 7, utils.RoleParticipant, `{"rules": []}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	body := `{"rules": [{"level": 1, "value": "10", "required_rank": "Silver"}, {"level": 2, "value": 5, "is_active": false}]}`
	w, _ = call(t, r, http.MethodPut, "/api/v1/admin/commission-rules", 1, utils.RoleAdmin, body)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.replaced, 2)
	assert.True(t, svc.replaced[0].IsActive)
	require.NotNil(t, svc.replaced[0].RequiredRank)
	assert.Equal(t, "Silver", *svc.replaced[0].RequiredRank)
	assert.False(t, svc.replaced[1].IsActive)
	assert.Equal(t, "5", svc.replaced[1].Value.String())

	w, _ = call(t, r, http.MethodGet, "/api/v1/admin/commission-rules", 1, utils.RoleAdmin, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := call(t, r, http.MethodPost, "/api/v1/admin/ranks/sweep", 1, utils.RoleAdmin, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp.Data.(map[string]interface{})["promoted"])
}
