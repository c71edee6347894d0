package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dan9191/p2p-lending/internal/models"
)

var (
	// ErrNotAccepting is returned when a loan no longer takes investments
	ErrNotAccepting = errors.New("loan is not accepting investments")
	// ErrExceedsRequest is returned when an investment would overfund a loan
	ErrExceedsRequest = errors.New("investment exceeds remaining amount")
	// ErrNotRepayable is returned when a repayment targets a loan that is not funded
	ErrNotRepayable = errors.New("loan is not awaiting repayment")
)

const loanQuery = `
	SELECT l.id, l.borrower_id, l.wallet_address, l.credit_evaluation_id, l.requested_amount,
		l.approved_amount, l.funded_amount, l.total_repaid, l.loan_term_months, l.interest_rate,
		l.monthly_payment, l.loan_purpose, l.loan_description, l.status,
		COALESCE(l.contract_request_ref, ''), COALESCE(l.transaction_hash, ''), l.blockchain_network,
		l.funding_deadline, l.start_date, l.end_date, l.created_at, l.updated_at,
		e.final_score, e.category
	FROM lending.loan_requests l
	JOIN lending.credit_evaluations e ON e.id = l.credit_evaluation_id`

func scanLoan(row interface{ Scan(...any) error }) (*models.LoanRequest, error) {
	l := &models.LoanRequest{}
	err := row.Scan(&l.ID, &l.BorrowerID, &l.WalletAddress, &l.CreditEvaluationID, &l.RequestedAmount,
		&l.ApprovedAmount, &l.FundedAmount, &l.TotalRepaid, &l.TermMonths, &l.InterestRate,
		&l.MonthlyPayment, &l.Purpose, &l.Description, &l.Status,
		&l.ContractRequestRef, &l.TransactionHash, &l.BlockchainNetwork,
		&l.FundingDeadline, &l.StartDate, &l.EndDate, &l.CreatedAt, &l.UpdatedAt,
		&l.CreditScore, &l.Category)
	return l, err
}

func (r *Repository) listLoans(ctx context.Context, query string, args ...any) ([]models.LoanRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []models.LoanRequest
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return loans, nil
}

// CreateLoanRequest inserts a loan request and fills its id and timestamps
func (r *Repository) CreateLoanRequest(ctx context.Context, loan *models.LoanRequest) error {
	query := `
		INSERT INTO lending.loan_requests (
			borrower_id, wallet_address, credit_evaluation_id, requested_amount, approved_amount,
			loan_term_months, interest_rate, monthly_payment, loan_purpose, loan_description,
			status, blockchain_network, funding_deadline, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		loan.BorrowerID, loan.WalletAddress, loan.CreditEvaluationID, loan.RequestedAmount,
		loan.ApprovedAmount, loan.TermMonths, loan.InterestRate, loan.MonthlyPayment,
		loan.Purpose, loan.Description, loan.Status, loan.BlockchainNetwork,
		loan.FundingDeadline, loan.StartDate, loan.EndDate,
	).Scan(&loan.ID, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create loan request: %w", err)
	}
	return nil
}

// GetLoanRequest retrieves a loan request by id
func (r *Repository) GetLoanRequest(ctx context.Context, id int64) (*models.LoanRequest, error) {
	loan, err := scanLoan(r.db.QueryRowContext(ctx, loanQuery+` WHERE l.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("loan %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan request: %w", err)
	}
	return loan, nil
}

// LinkContractRequest stores the on-chain request reference and transaction hash
func (r *Repository) LinkContractRequest(ctx context.Context, id int64, ref, txHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE lending.loan_requests
		SET contract_request_ref = $2, transaction_hash = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`, id, ref, txHash)
	if err != nil {
		return fmt.Errorf("failed to link contract request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to link contract request: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("loan %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListLoansByWallet returns the loans a wallet has requested, newest first
func (r *Repository) ListLoansByWallet(ctx context.Context, wallet string) ([]models.LoanRequest, error) {
	return r.listLoans(ctx, loanQuery+` WHERE l.wallet_address = $1 ORDER BY l.created_at DESC, l.id DESC`, wallet)
}

// ListMarketplace returns loans open for investment, best credit first.
// Loans requested by excludeWallet are left out when it is set.
func (r *Repository) ListMarketplace(ctx context.Context, excludeWallet string) ([]models.LoanRequest, error) {
	return r.listLoans(ctx, loanQuery+`
		WHERE l.status IN ('pending', 'active')
		  AND l.funding_deadline > CURRENT_TIMESTAMP
		  AND ($1 = '' OR l.wallet_address <> $1)
		ORDER BY e.final_score DESC, l.created_at DESC`, excludeWallet)
}

// RecordInvestment stores an investment and adds it to the loan's funded
// amount under a row lock. The loan flips to funded once fully covered.
func (r *Repository) RecordInvestment(ctx context.Context, inv *models.Investment) (*models.LoanRequest, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		status           models.LoanStatus
		approved, funded float64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT status, approved_amount, funded_amount
		FROM lending.loan_requests WHERE id = $1 FOR UPDATE`, inv.LoanID).
		Scan(&status, &approved, &funded)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("loan %d: %w", inv.LoanID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock loan: %w", err)
	}
	if !status.AcceptsInvestment() {
		return nil, fmt.Errorf("loan %d is %s: %w", inv.LoanID, status, ErrNotAccepting)
	}
	if funded+inv.Amount > approved {
		return nil, fmt.Errorf("%.2f remaining on loan %d: %w", approved-funded, inv.LoanID, ErrExceedsRequest)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO lending.investments (loan_id, investor_address, amount, transaction_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`, inv.LoanID, inv.InvestorAddress, inv.Amount, inv.TransactionHash).
		Scan(&inv.ID, &inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record investment: %w", err)
	}

	next := status
	if funded+inv.Amount >= approved {
		next = models.LoanStatusFunded
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE lending.loan_requests
		SET funded_amount = funded_amount + $2, status = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`, inv.LoanID, inv.Amount, next)
	if err != nil {
		return nil, fmt.Errorf("failed to update funded amount: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit investment: %w", err)
	}
	return r.GetLoanRequest(ctx, inv.LoanID)
}

// RecordRepayment stores a repayment against a funded loan. The loan flips
// to repaid once principal plus simple interest has been paid.
func (r *Repository) RecordRepayment(ctx context.Context, rep *models.Repayment) (*models.LoanRequest, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	loan := models.LoanRequest{ID: rep.LoanID}
	err = tx.QueryRowContext(ctx, `
		SELECT status, approved_amount, interest_rate, total_repaid
		FROM lending.loan_requests WHERE id = $1 FOR UPDATE`, rep.LoanID).
		Scan(&loan.Status, &loan.ApprovedAmount, &loan.InterestRate, &loan.TotalRepaid)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("loan %d: %w", rep.LoanID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock loan: %w", err)
	}
	if loan.Status != models.LoanStatusFunded {
		return nil, fmt.Errorf("loan %d is %s: %w", rep.LoanID, loan.Status, ErrNotRepayable)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO lending.repayments (loan_id, payer_address, amount, transaction_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`, rep.LoanID, rep.PayerAddress, rep.Amount, rep.TransactionHash).
		Scan(&rep.ID, &rep.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record repayment: %w", err)
	}

	loan.TotalRepaid += rep.Amount
	if loan.TotalRepaid >= loan.TotalDue() {
		loan.Status = models.LoanStatusRepaid
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE lending.loan_requests
		SET total_repaid = $2, status = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`, rep.LoanID, loan.TotalRepaid, loan.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to update repaid amount: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit repayment: %w", err)
	}
	return r.GetLoanRequest(ctx, rep.LoanID)
}

// ListInvestments returns the investments made in a loan, oldest first
func (r *Repository) ListInvestments(ctx context.Context, loanID int64) ([]models.Investment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, loan_id, investor_address, amount, transaction_hash, created_at
		FROM lending.investments WHERE loan_id = $1 ORDER BY created_at, id`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	defer rows.Close()

	var out []models.Investment
	for rows.Next() {
		var inv models.Investment
		if err := rows.Scan(&inv.ID, &inv.LoanID, &inv.InvestorAddress, &inv.Amount, &inv.TransactionHash, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan investment: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	return out, nil
}

// PlatformStats aggregates users, evaluations and loan volume
func (r *Repository) PlatformStats(ctx context.Context) (*models.PlatformStats, error) {
	stats := &models.PlatformStats{}
	var (
		avgScore  float64
		total     int64
		defaulted int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM lending.users),
			(SELECT COUNT(*) FROM lending.credit_evaluations),
			(SELECT COALESCE(AVG(final_score), 0) FROM lending.credit_evaluations),
			(SELECT COALESCE(SUM(approved_amount), 0) FROM lending.loan_requests),
			(SELECT COUNT(*) FROM lending.loan_requests WHERE status IN ('active', 'funded')),
			(SELECT COUNT(*) FROM lending.loan_requests WHERE status = 'repaid'),
			(SELECT COUNT(*) FROM lending.loan_requests WHERE status = 'defaulted'),
			(SELECT COUNT(*) FROM lending.loan_requests)`).
		Scan(&stats.TotalUsers, &stats.TotalEvaluations, &avgScore, &stats.TotalLoanVolume,
			&stats.ActiveLoanCount, &stats.CompletedLoans, &defaulted, &total)
	if err != nil {
		return nil, fmt.Errorf("failed to get platform stats: %w", err)
	}
	stats.AvgCreditScore = int(avgScore + 0.5)
	if total > 0 {
		stats.DefaultRate = float64(defaulted) / float64(total) * 100
	}
	return stats, nil
}
