package scoring

import (
	"fmt"
	"math"
	"time"
)

// Metrics are the repayment figures derived from the approved terms
type Metrics struct {
	MonthlyPayment float64 `json:"monthly_payment"`
	TotalInterest  float64 `json:"total_interest"`
	NetProfit      float64 `json:"net_profit"`
	ROIPercentage  float64 `json:"roi_percentage"`
}

// Amortize computes the fixed monthly payment for a fully amortizing loan
// and the figures derived from it:
//
//	r       = annualRate / 12 / 100
//	payment = round(P * r * (1+r)^n / ((1+r)^n - 1))
//	interest = payment*n - P
//	profit   = round(interest * profitShare)
//	roi      = round1(interest / P * 100)
//
// A non-positive amount or rate yields all zeros.
func Amortize(amount, annualRate float64, termMonths int, profitShare float64) (Metrics, error) {
	if amount <= 0 || annualRate <= 0 || termMonths <= 0 {
		return Metrics{}, nil
	}
	r := annualRate / 12 / 100
	n := float64(termMonths)
	growth := math.Pow(1+r, n)
	payment := math.Round(amount * r * growth / (growth - 1))
	if math.IsNaN(payment) || math.IsInf(payment, 0) {
		return Metrics{}, fmt.Errorf("monthly payment is not finite for amount %.2f, rate %.2f, term %d", amount, annualRate, termMonths)
	}
	totalInterest := payment*n - amount
	return Metrics{
		MonthlyPayment: payment,
		TotalInterest:  totalInterest,
		NetProfit:      math.Round(totalInterest * profitShare),
		ROIPercentage:  roundTo(totalInterest/amount*100, 1),
	}, nil
}

// Installment is one period of a repayment schedule
type Installment struct {
	Period    int       `json:"period"`
	DueDate   time.Time `json:"due_date"`
	Payment   float64   `json:"payment"`
	Principal float64   `json:"principal"`
	Interest  float64   `json:"interest"`
	Balance   float64   `json:"balance"`
}

// Schedule splits the fixed payment from Amortize into interest and
// principal per period, cent-rounded. Due dates fall one calendar month
// apart starting a month after start. The final period absorbs rounding
// so the balance ends at exactly zero.
func Schedule(amount, annualRate float64, termMonths int, start time.Time) []Installment {
	if amount <= 0 || termMonths <= 0 {
		return nil
	}
	payment := amount / float64(termMonths)
	r := 0.0
	if annualRate > 0 {
		m, err := Amortize(amount, annualRate, termMonths, 0)
		if err != nil {
			return nil
		}
		payment = m.MonthlyPayment
		r = annualRate / 12 / 100
	}

	out := make([]Installment, 0, termMonths)
	balance := amount
	for period := 1; period <= termMonths; period++ {
		interest := roundTo(balance*r, 2)
		principal := roundTo(payment-interest, 2)
		if period == termMonths || principal > balance {
			principal = roundTo(balance, 2)
		}
		balance = roundTo(balance-principal, 2)
		out = append(out, Installment{
			Period:    period,
			DueDate:   start.AddDate(0, period, 0),
			Payment:   roundTo(principal+interest, 2),
			Principal: principal,
			Interest:  interest,
			Balance:   balance,
		})
	}
	return out
}
