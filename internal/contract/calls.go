package contract

import (
	"fmt"
	"math/big"
)

// Contract function names
const (
	FnRegisterUser      = "registerUser"
	FnCreateLoanRequest = "createLoanRequest"
	FnInvestInLoan      = "investInLoan"
	FnRepayLoan         = "repayLoan"
)

// Call is a prepared contract invocation for a wallet to sign and submit.
// Value is the native amount attached to payable calls, in base units.
type Call struct {
	Function string   `json:"function"`
	Args     []string `json:"args"`
	Value    string   `json:"value,omitempty"`
}

// RegisterCall registers the caller with their credit score.
func RegisterCall(score int) (Call, error) {
	if score < 0 {
		return Call{}, fmt.Errorf("credit score must not be negative, got %d", score)
	}
	return Call{Function: FnRegisterUser, Args: []string{fmt.Sprint(score)}}, nil
}

// CreateRequestCall opens a loan request for the approved amount.
func CreateRequestCall(u Units, approvedAmount, ratePercent float64, termMonths int, purpose string) (Call, error) {
	if approvedAmount <= 0 {
		return Call{}, fmt.Errorf("approved amount must be positive")
	}
	if termMonths <= 0 {
		return Call{}, fmt.Errorf("term must be positive")
	}
	amount, err := u.ToNative(approvedAmount)
	if err != nil {
		return Call{}, err
	}
	return Call{
		Function: FnCreateLoanRequest,
		Args: []string{
			amount.String(),
			fmt.Sprint(RateBasisPoints(ratePercent)),
			fmt.Sprint(TermSeconds(termMonths)),
			purpose,
		},
	}, nil
}

// InvestCall funds a contract loan request with a fiat-denominated amount.
func InvestCall(u Units, requestID uint64, amount float64) (Call, error) {
	return payable(u, FnInvestInLoan, requestID, amount)
}

// RepayCall repays a contract loan with a fiat-denominated amount.
func RepayCall(u Units, loanID uint64, amount float64) (Call, error) {
	return payable(u, FnRepayLoan, loanID, amount)
}

func payable(u Units, fn string, id uint64, amount float64) (Call, error) {
	if amount <= 0 {
		return Call{}, fmt.Errorf("amount must be positive")
	}
	value, err := u.ToNative(amount)
	if err != nil {
		return Call{}, err
	}
	if value.Cmp(big.NewInt(0)) == 0 {
		return Call{}, fmt.Errorf("amount %.2f is below the smallest native unit", amount)
	}
	return Call{
		Function: fn,
		Args:     []string{fmt.Sprint(id)},
		Value:    value.String(),
	}, nil
}
