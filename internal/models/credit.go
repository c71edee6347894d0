package models

import (
	"time"

	"github.com/Dan9191/p2p-lending/internal/scoring"
)

// LoanStatus is the lifecycle state of a loan request
type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "pending"
	LoanStatusActive    LoanStatus = "active"
	LoanStatusFunded    LoanStatus = "funded"
	LoanStatusRepaid    LoanStatus = "repaid"
	LoanStatusDefaulted LoanStatus = "defaulted"
)

// AcceptsInvestment reports whether investors may still fund the loan.
func (s LoanStatus) AcceptsInvestment() bool {
	return s == LoanStatusPending || s == LoanStatusActive
}

// LoanRequest represents a loan request and, once funded, the loan itself
type LoanRequest struct {
	ID                 int64      `json:"id"`
	BorrowerID         int64      `json:"borrower_id"`
	WalletAddress      string     `json:"wallet_address"`
	CreditEvaluationID int64      `json:"credit_evaluation_id"`
	RequestedAmount    float64    `json:"requested_amount"`
	ApprovedAmount     float64    `json:"approved_amount"`
	FundedAmount       float64    `json:"funded_amount"`
	TotalRepaid        float64    `json:"total_repaid"`
	TermMonths         int        `json:"term_months"`
	InterestRate       float64    `json:"interest_rate"`
	MonthlyPayment     float64    `json:"monthly_payment"`
	Purpose            string     `json:"purpose"`
	Description        string     `json:"description"`
	Status             LoanStatus `json:"status"`
	ContractRequestRef string     `json:"contract_request_ref,omitempty"`
	TransactionHash    string     `json:"transaction_hash,omitempty"`
	BlockchainNetwork  string     `json:"blockchain_network"`
	FundingDeadline    time.Time  `json:"funding_deadline"`
	StartDate          time.Time  `json:"start_date"`
	EndDate            time.Time  `json:"end_date"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	// Joined from the credit evaluation
	CreditScore int              `json:"credit_score"`
	Category    scoring.Category `json:"category"`
}

// TotalDue is the approved principal plus simple interest at the quoted rate.
func (l *LoanRequest) TotalDue() float64 {
	return l.ApprovedAmount + l.ApprovedAmount*l.InterestRate/100
}

// RepaymentProgress is the repaid share of TotalDue as a whole percentage, capped at 100.
func (l *LoanRequest) RepaymentProgress() int {
	due := l.TotalDue()
	if due <= 0 {
		return 0
	}
	return min(100, int(l.TotalRepaid/due*100+0.5))
}

// FundingProgress is the funded share of the approved amount as a whole percentage.
func (l *LoanRequest) FundingProgress() int {
	if l.ApprovedAmount <= 0 {
		return 0
	}
	return min(100, int(l.FundedAmount/l.ApprovedAmount*100+0.5))
}
