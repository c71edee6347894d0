package models

import "time"

// User represents a borrower or investor identified by wallet address.
// RegisteredOnChain is independent of the row existing: a wallet can be
// stored by an evaluation long before it calls registerUser.
type User struct {
	ID                 int64     `json:"id"`
	WalletAddress      string    `json:"wallet_address"`
	FullName           string    `json:"full_name"`
	Email              string    `json:"email"`
	MonthlyIncome      float64   `json:"monthly_income"`
	Occupation         string    `json:"occupation"`
	EmploymentType     string    `json:"employment_type"`
	KYCStatus          string    `json:"kyc_status"`
	IsVerified         bool      `json:"is_verified"`
	RegisteredOnChain  bool      `json:"registered_on_chain"`
	RegistrationTxHash string    `json:"registration_tx_hash,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// UserDetails are the optional profile fields supplied when a wallet is first seen
type UserDetails struct {
	FullName       string  `json:"full_name"`
	Email          string  `json:"email" validate:"omitempty,email"`
	MonthlyIncome  float64 `json:"monthly_income" validate:"gte=0"`
	Occupation     string  `json:"occupation"`
	EmploymentType string  `json:"employment_type"`
}
