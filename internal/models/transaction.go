package models

import "time"

// Investment is an investor's contribution to a loan request
type Investment struct {
	ID              int64     `json:"id"`
	LoanID          int64     `json:"loan_id"`
	InvestorAddress string    `json:"investor_address"`
	Amount          float64   `json:"amount"`
	TransactionHash string    `json:"transaction_hash"`
	CreatedAt       time.Time `json:"created_at"`
}

// Repayment is a borrower's payment against a funded loan
type Repayment struct {
	ID              int64     `json:"id"`
	LoanID          int64     `json:"loan_id"`
	PayerAddress    string    `json:"payer_address"`
	Amount          float64   `json:"amount"`
	TransactionHash string    `json:"transaction_hash"`
	CreatedAt       time.Time `json:"created_at"`
}
