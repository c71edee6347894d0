package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Dan9191/p2p-lending/internal/models"
	"github.com/Dan9191/p2p-lending/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

var userCols = []string{"id", "wallet_address", "full_name", "email", "monthly_income", "occupation",
	"employment_type", "kyc_status", "is_verified", "registered_on_chain", "registration_tx_hash",
	"created_at", "updated_at"}

func TestGetOrCreateUser_Existing(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM lending.users WHERE wallet_address = \$1`).
		WithArgs("0xabc").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(int64(1), "0xabc", "Ana", "ana@example.com", 3000.0, "engineer", "full_time", "verified", true, false, "", now, now))

	user, err := repo.GetOrCreateUser(context.Background(), "0xabc", models.UserDetails{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "full_time", user.EmploymentType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateUser_Creates(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM lending.users WHERE wallet_address = \$1`).
		WithArgs("0xnew").
		WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectQuery(`INSERT INTO lending.users`).
		WithArgs("0xnew", "", "", 0.0, "", "unemployed").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(int64(7), "0xnew", "", "", 0.0, "", "unemployed", "pending", false, false, "", now, now))

	user, err := repo.GetOrCreateUser(context.Background(), "0xnew", models.UserDetails{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.False(t, user.RegisteredOnChain)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRegistered(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO lending.users \(wallet_address, registered_on_chain, registration_tx_hash\)(.|\n)+ON CONFLICT`).
		WithArgs("0xabc", "0xreg").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(int64(1), "0xabc", "Ana", "ana@example.com", 3000.0, "engineer", "full_time", "verified", true, true, "0xreg", now, now))

	user, err := repo.MarkRegistered(context.Background(), "0xabc", "0xreg")
	require.NoError(t, err)
	assert.True(t, user.RegisteredOnChain)
	assert.Equal(t, "0xreg", user.RegistrationTxHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRegistered_Error(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO lending.users`).WillReturnError(errors.New("conn reset"))

	_, err := repo.MarkRegistered(context.Background(), "0xabc", "0xreg")
	assert.ErrorContains(t, err, "failed to mark registration")
}

func TestFindUserByWallet_NotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`FROM lending.users`).WillReturnRows(sqlmock.NewRows(userCols))

	_, err := repo.FindUserByWallet(context.Background(), "0xnone")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveAndGetEvaluation(t *testing.T) {
	repo, mock := newMock(t)
	evaluated := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	res := &scoring.Result{
		FinalScore:     75,
		Category:       scoring.CategoryExcellent,
		Status:         scoring.StatusApproved,
		InterestRate:   59.29,
		ApprovedRatio:  0.95,
		ApprovedAmount: 4750,
		Input:          scoring.Input{LoanAmount: 5000, LoanTermMonths: 12, MonthlyIncome: 3000},
		ModelVersion:   "v2.0",
		Source:         scoring.SourceAdvanced,
		Confidence:     0.95,
		EvaluatedAt:    evaluated,
	}

	mock.ExpectQuery(`INSERT INTO lending.credit_evaluations`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	id, err := repo.SaveEvaluation(context.Background(), 3, res)
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)

	payload, err := json.Marshal(res)
	require.NoError(t, err)
	mock.ExpectQuery(`FROM lending.credit_evaluations e .+ WHERE e.id = \$1`).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "wallet_address", "result", "evaluation_date"}).
			AddRow(int64(11), int64(3), "0xabc", payload, evaluated))

	ev, err := repo.GetEvaluation(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, 75, ev.Result.FinalScore)
	assert.Equal(t, scoring.CategoryExcellent, ev.Result.Category)
	assert.Equal(t, "0xabc", ev.WalletAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEvaluation_NotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`FROM lending.credit_evaluations`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "wallet_address", "result", "evaluation_date"}))

	_, err := repo.GetEvaluation(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListEvaluationsByWallet_Limit(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`ORDER BY e.evaluation_date DESC, e.id DESC LIMIT \$2`).
		WithArgs("0xabc", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "wallet_address", "result", "evaluation_date"}).
			AddRow(int64(2), int64(1), "0xabc", []byte(`{"final_score":80}`), time.Now()).
			AddRow(int64(1), int64(1), "0xabc", []byte(`{"final_score":60}`), time.Now()))

	evs, err := repo.ListEvaluationsByWallet(context.Background(), "0xabc", 5)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, 80, evs[0].Result.FinalScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func lockRows(status string, approved, second float64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"status", "approved_amount", "other"}).AddRow(status, approved, second)
}

var loanCols = []string{"id", "borrower_id", "wallet_address", "credit_evaluation_id", "requested_amount",
	"approved_amount", "funded_amount", "total_repaid", "loan_term_months", "interest_rate",
	"monthly_payment", "loan_purpose", "loan_description", "status", "contract_request_ref",
	"transaction_hash", "blockchain_network", "funding_deadline", "start_date", "end_date",
	"created_at", "updated_at", "final_score", "category"}

func loanRow(status string, funded, repaid float64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(loanCols).AddRow(int64(5), int64(1), "0xborrower", int64(11), 5000.0,
		4750.0, funded, repaid, 12, 20.0, 440.0, "equipment", "", status, "request_3", "0xtx",
		"monad_testnet", now.Add(24*time.Hour), now, now.AddDate(0, 12, 0), now, now, 75, "excellent")
}

func TestRecordInvestment_FlipsToFunded(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, approved_amount, funded_amount .+ FOR UPDATE`).
		WithArgs(int64(5)).
		WillReturnRows(lockRows("active", 4750, 4000))
	mock.ExpectQuery(`INSERT INTO lending.investments`).
		WithArgs(int64(5), "0xinvestor", 750.0, "0xhash").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(9), time.Now()))
	mock.ExpectExec(`UPDATE lending.loan_requests\s+SET funded_amount`).
		WithArgs(int64(5), 750.0, models.LoanStatusFunded).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`FROM lending.loan_requests l`).
		WithArgs(int64(5)).
		WillReturnRows(loanRow("funded", 4750, 0))

	inv := &models.Investment{LoanID: 5, InvestorAddress: "0xinvestor", Amount: 750, TransactionHash: "0xhash"}
	loan, err := repo.RecordInvestment(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, int64(9), inv.ID)
	assert.Equal(t, models.LoanStatusFunded, loan.Status)
	assert.Equal(t, 100, loan.FundingProgress())
	assert.Equal(t, scoring.CategoryExcellent, loan.Category)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordInvestment_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		rows   *sqlmock.Rows
		amount float64
		want   error
	}{
		{"funded loan", lockRows("funded", 4750, 4750), 10, ErrNotAccepting},
		{"overfunding", lockRows("active", 4750, 4700), 100, ErrExceedsRequest},
		{"missing loan", sqlmock.NewRows([]string{"status", "approved_amount", "funded_amount"}), 10, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMock(t)
			mock.ExpectBegin()
			mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(tt.rows)
			mock.ExpectRollback()

			_, err := repo.RecordInvestment(context.Background(), &models.Investment{LoanID: 5, Amount: tt.amount})
			assert.ErrorIs(t, err, tt.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRecordRepayment_FlipsToRepaid(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, approved_amount, interest_rate, total_repaid .+ FOR UPDATE`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "approved_amount", "interest_rate", "total_repaid"}).
			AddRow("funded", 1000.0, 20.0, 1000.0))
	mock.ExpectQuery(`INSERT INTO lending.repayments`).
		WithArgs(int64(5), "0xborrower", 200.0, "0xpay").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(4), time.Now()))
	mock.ExpectExec(`UPDATE lending.loan_requests\s+SET total_repaid`).
		WithArgs(int64(5), 1200.0, models.LoanStatusRepaid).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`FROM lending.loan_requests l`).
		WillReturnRows(loanRow("repaid", 4750, 1200))

	rep := &models.Repayment{LoanID: 5, PayerAddress: "0xborrower", Amount: 200, TransactionHash: "0xpay"}
	loan, err := repo.RecordRepayment(context.Background(), rep)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusRepaid, loan.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepayment_NotFunded(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "approved_amount", "interest_rate", "total_repaid"}).
			AddRow("active", 1000.0, 20.0, 0.0))
	mock.ExpectRollback()

	_, err := repo.RecordRepayment(context.Background(), &models.Repayment{LoanID: 5, Amount: 10})
	assert.ErrorIs(t, err, ErrNotRepayable)
}

func TestLinkContractRequest(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(`UPDATE lending.loan_requests\s+SET contract_request_ref`).
		WithArgs(int64(5), "request_3", "0xtx").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE lending.loan_requests`).
		WithArgs(int64(6), "request_4", "0xtx").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.LinkContractRequest(context.Background(), 5, "request_3", "0xtx"))
	assert.ErrorIs(t, repo.LinkContractRequest(context.Background(), 6, "request_4", "0xtx"), ErrNotFound)
}

func TestListMarketplace(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`l.status IN \('pending', 'active'\)`).
		WithArgs("0xme").
		WillReturnRows(loanRow("active", 1000, 0))

	loans, err := repo.ListMarketplace(context.Background(), "0xme")
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, 21, loans[0].FundingProgress())
	assert.Equal(t, "request_3", loans[0].ContractRequestRef)
}

func TestPlatformStats(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`SELECT\s+\(SELECT COUNT\(\*\) FROM lending.users\)`).
		WillReturnRows(sqlmock.NewRows([]string{"u", "e", "avg", "vol", "active", "repaid", "defaulted", "total"}).
			AddRow(int64(10), int64(25), 71.6, 52000.0, int64(3), int64(4), int64(1), int64(8)))

	stats, err := repo.PlatformStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.TotalUsers)
	assert.Equal(t, 72, stats.AvgCreditScore)
	assert.Equal(t, 12.5, stats.DefaultRate)
}
