package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dan9191/p2p-lending/internal/config"
	"github.com/Dan9191/p2p-lending/internal/contract"
	"github.com/Dan9191/p2p-lending/internal/middleware"
	"github.com/Dan9191/p2p-lending/internal/models"
	"github.com/Dan9191/p2p-lending/internal/scoring"
	"github.com/Dan9191/p2p-lending/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	secret   = "handler-test-secret"
	borrower = "0x1111111111111111111111111111111111111111"
	investor = "0x2222222222222222222222222222222222222222"
)

// stubStore serves the few lookups these tests need; any other call panics.
type stubStore struct {
	service.Store
	loans    map[int64]*models.LoanRequest
	statsErr error
}

func (s *stubStore) GetLoanRequest(_ context.Context, id int64) (*models.LoanRequest, error) {
	if l, ok := s.loans[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, service.ErrNotFound
}

func (s *stubStore) ListInvestments(context.Context, int64) ([]models.Investment, error) {
	return nil, nil
}

func (s *stubStore) PlatformStats(context.Context) (*models.PlatformStats, error) {
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	return &models.PlatformStats{TotalUsers: 3, AvgCreditScore: 71}, nil
}

func (s *stubStore) MarkRegistered(_ context.Context, wallet, txHash string) (*models.User, error) {
	return &models.User{ID: 1, WalletAddress: wallet, RegisteredOnChain: true, RegistrationTxHash: txHash}, nil
}

type nopNotifier struct{}

func (nopNotifier) SendLoanConfirmation(string, string, *models.LoanRequest) error { return nil }
func (nopNotifier) SendInvestmentReceived(string, string, *models.LoanRequest, float64) error {
	return nil
}
func (nopNotifier) SendRepaymentReceived(string, string, *models.LoanRequest, float64) error {
	return nil
}

func newRouter(t *testing.T, store *stubStore) *mux.Router {
	t.Helper()
	log, _ := test.NewNullLogger()
	engine, err := scoring.NewEngine(scoring.DefaultPolicy(), log)
	require.NoError(t, err)
	units, err := contract.NewUnits(decimal.NewFromInt(10000), 18)
	require.NoError(t, err)
	cfg := &config.Config{ChainNetwork: "monad_testnet", FundingWindowDays: 30}

	svc := service.NewService(store, engine, contract.NewConverter(units), nopNotifier{}, log, cfg)
	r := mux.NewRouter()
	NewHandler(svc, log).Routes(r, middleware.AuthMiddleware(secret))
	return r
}

func do(t *testing.T, r http.Handler, method, path, body, wallet string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if wallet != "" {
		token, err := middleware.IssueToken(secret, wallet, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const goodApplication = `{
	"loan_amount": 5000, "loan_term_months": 12, "monthly_income": 3000,
	"factors": {"occupation": 70, "employment_tenure": 70, "estimated_income": 70,
		"utility_payment_history": 70, "account_opening_frequency": 70, "kyc_compliance": 70,
		"payment_punctuality": 70, "financial_ratios": 70, "collateral_type": 70}
}`

const poorApplication = `{
	"loan_amount": 8000, "loan_term_months": 72, "monthly_income": 500,
	"factors": {"occupation": 30, "employment_tenure": 30, "estimated_income": 30,
		"utility_payment_history": 30, "account_opening_frequency": 30, "kyc_compliance": 30,
		"payment_punctuality": 30, "financial_ratios": 30, "collateral_type": 30}
}`

func TestHealthAndPolicy(t *testing.T) {
	r := newRouter(t, &stubStore{})

	rec := do(t, r, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, http.MethodGet, "/policy", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 20.0, body["min_rate"])
	assert.Equal(t, "v2.0", body["model_version"])
}

func TestEvaluate(t *testing.T) {
	r := newRouter(t, &stubStore{})

	rec := do(t, r, http.MethodPost, "/scoring/evaluate", goodApplication, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 75.0, body["final_score"])
	assert.Equal(t, "AA - Excellent", body["category_label"])
	assert.Equal(t, 534.0, body["monthly_payment"])
	assert.Equal(t, false, body["saved"])
}

func TestEvaluate_BadRequests(t *testing.T) {
	r := newRouter(t, &stubStore{})

	tests := []struct {
		name, body, field string
	}{
		{"malformed json", `{"loan_amount":`, "body"},
		{"negative amount", `{"loan_amount": -1, "loan_term_months": 12}`, "loan_amount"},
		{"bad wallet", `{"loan_amount": 100, "loan_term_months": 12, "wallet_address": "bob"}`, "wallet"},
		{"bad email", `{"loan_amount": 100, "loan_term_months": 12, "user": {"email": "nope"}}`, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, http.MethodPost, "/scoring/evaluate", tt.body, "")
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"field":"`+tt.field+`"`)
		})
	}
}

func TestEligibility(t *testing.T) {
	r := newRouter(t, &stubStore{})

	rec := do(t, r, http.MethodPost, "/scoring/eligibility", goodApplication, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["eligible"])
	assert.Equal(t, 4750.0, body["max_amount"])
}

func TestEligibility_RejectsBadWallet(t *testing.T) {
	r := newRouter(t, &stubStore{})

	rec := do(t, r, http.MethodPost, "/scoring/eligibility",
		`{"loan_amount": 5000, "loan_term_months": 12, "wallet_address": "bob"}`, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"wallet"`)
}

func TestConfirmRegistration(t *testing.T) {
	r := newRouter(t, &stubStore{})

	rec := do(t, r, http.MethodPost, "/registration", `{"transaction_hash": "0xreg"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, r, http.MethodPost, "/registration", `{}`, investor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, "/registration", `{"transaction_hash": "0xreg"}`, investor)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["registered_on_chain"])
	assert.Equal(t, investor, body["wallet_address"])
}

func TestSimulate(t *testing.T) {
	r := newRouter(t, &stubStore{})

	rec := do(t, r, http.MethodPost, "/scoring/simulate",
		`{"base": `+goodApplication+`, "variations": [{"name": "max ratios", "factors": {"financial_ratios": 100}}]}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	scenarios := body["scenarios"].([]any)
	require.Len(t, scenarios, 1)
	assert.Positive(t, scenarios[0].(map[string]any)["improvement"])
}

func TestSubmitLoan_RequiresToken(t *testing.T) {
	r := newRouter(t, &stubStore{})

	rec := do(t, r, http.MethodPost, "/loans", goodApplication, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitLoan_NotApproved(t *testing.T) {
	r := newRouter(t, &stubStore{})

	rec := do(t, r, http.MethodPost, "/loans", poorApplication, borrower)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "not approved")
}

func TestGetLoan(t *testing.T) {
	store := &stubStore{loans: map[int64]*models.LoanRequest{
		7: {ID: 7, WalletAddress: borrower, ApprovedAmount: 1000, FundedAmount: 250, InterestRate: 20,
			TermMonths: 12, Status: models.LoanStatusActive},
	}}
	r := newRouter(t, store)

	rec := do(t, r, http.MethodGet, "/loans/7", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 25.0, body["funding_progress"])
	assert.Equal(t, 1200.0, body["total_due"])

	rec = do(t, r, http.MethodGet, "/loans/7/schedule", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var schedule []scoring.Installment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schedule))
	assert.Len(t, schedule, 12)

	rec = do(t, r, http.MethodGet, "/loans/8", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvestmentCall_Errors(t *testing.T) {
	store := &stubStore{loans: map[int64]*models.LoanRequest{
		7: {ID: 7, WalletAddress: borrower, ApprovedAmount: 1000, Status: models.LoanStatusActive},
		8: {ID: 8, WalletAddress: borrower, ApprovedAmount: 1000, Status: models.LoanStatusFunded, FundedAmount: 1000},
	}}
	r := newRouter(t, store)

	tests := []struct {
		name, path, body, wallet string
		want                     int
	}{
		{"own loan", "/loans/7/investments/call", `{"amount": 100}`, borrower, http.StatusForbidden},
		{"not on chain", "/loans/7/investments/call", `{"amount": 100}`, investor, http.StatusConflict},
		{"fully funded", "/loans/8/investments/call", `{"amount": 100}`, investor, http.StatusConflict},
		{"zero amount", "/loans/7/investments/call", `{"amount": 0}`, investor, http.StatusBadRequest},
		{"missing hash", "/loans/7/investments", `{"amount": 10}`, investor, http.StatusBadRequest},
		{"not borrower", "/loans/8/repayments/call", `{"amount": 10}`, investor, http.StatusForbidden},
		{"unknown loan", "/loans/9/repayments/call", `{"amount": 10}`, borrower, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, http.MethodPost, tt.path, tt.body, tt.wallet)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestUserRoutes_RejectBadWallet(t *testing.T) {
	r := newRouter(t, &stubStore{})

	rec := do(t, r, http.MethodGet, "/users/not-a-wallet/loans", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, r, http.MethodGet, "/users/not-a-wallet/evaluations", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	r := newRouter(t, &stubStore{})
	rec := do(t, r, http.MethodGet, "/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 71.0, decodeBody(t, rec)["avg_credit_score"])

	r = newRouter(t, &stubStore{statsErr: errors.New("connection reset")})
	rec = do(t, r, http.MethodGet, "/stats", "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}
