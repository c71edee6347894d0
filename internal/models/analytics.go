package models

// PlatformStats summarizes platform activity
type PlatformStats struct {
	TotalUsers       int64   `json:"total_users"`
	TotalEvaluations int64   `json:"total_evaluations"`
	AvgCreditScore   int     `json:"avg_credit_score"`
	TotalLoanVolume  float64 `json:"total_loan_volume"`
	ActiveLoanCount  int64   `json:"active_loan_count"`
	CompletedLoans   int64   `json:"completed_loans"`
	DefaultRate      float64 `json:"default_rate"` // defaulted / all loans, percent
}
