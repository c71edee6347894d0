// Package scoring implements the credit scoring engine: factor
// normalization, weighted aggregation, the risk-to-terms ladder and
// amortization. Everything here is pure and safe for concurrent use.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

const (
	SourceAdvanced = "advanced_algorithm"
	SourceFallback = "basic_fallback"

	confidenceApproved = 0.95
	confidenceRejected = 0.80
	confidenceFallback = 0.60
)

// ErrFallback matches every *FallbackError via errors.Is
var ErrFallback = errors.New("scored with fallback rules")

// FallbackError accompanies a fallback Result: the full evaluation failed
// and the rule-based scorer produced the result instead.
type FallbackError struct {
	Cause error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("%s: %v", ErrFallback, e.Cause)
}

func (e *FallbackError) Is(target error) bool { return target == ErrFallback }

func (e *FallbackError) Unwrap() error { return e.Cause }

// Profile carries applicant signals used only by the fallback scorer
type Profile struct {
	WalletAgeDays    int     `json:"wallet_age_days" validate:"gte=0"`
	TransactionCount int     `json:"transaction_count" validate:"gte=0"`
	PreviousLoans    int     `json:"previous_loans" validate:"gte=0"`
	RepaymentRate    float64 `json:"repayment_rate" validate:"gte=0,lte=100"`
	EducationLevel   int     `json:"education_level" validate:"gte=0"`
	EmploymentType   string  `json:"employment_type"`
}

// Input is one loan application as submitted for scoring
type Input struct {
	LoanAmount     float64      `json:"loan_amount" validate:"gt=0"`
	LoanTermMonths int          `json:"loan_term_months" validate:"gt=0"`
	MonthlyIncome  float64      `json:"monthly_income" validate:"gte=0"`
	Factors        FactorScores `json:"factors"`
	Profile        Profile      `json:"profile"`
}

// Result is a complete, immutable scoring outcome
type Result struct {
	FinalScore          int                     `json:"final_score"`
	Category            Category                `json:"category"`
	CategoryLabel       string                  `json:"category_label"`
	Status              Status                  `json:"status"`
	InterestRate        float64                 `json:"interest_rate"`
	ApprovedRatio       float64                 `json:"approved_ratio"`
	ApprovedAmount      float64                 `json:"approved_amount"`
	MonthlyPaymentRatio float64                 `json:"monthly_payment_ratio"`
	AffordabilityScore  int                     `json:"affordability_score"`
	TermRiskScore       int                     `json:"term_risk_score"`
	Contributions       map[Factor]Contribution `json:"contributions,omitempty"`
	Metrics
	Input        Input     `json:"input"`
	ModelVersion string    `json:"model_version"`
	Source       string    `json:"source"`
	Confidence   float64   `json:"confidence"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// Approved reports whether any amount was approved.
func (r *Result) Approved() bool {
	return r.Status.Approved()
}

// Eligibility is the short answer to "can this applicant borrow"
type Eligibility struct {
	Eligible      bool     `json:"eligible"`
	MaxAmount     float64  `json:"max_amount"`
	SuggestedRate float64  `json:"suggested_rate"`
	Reasons       []string `json:"reasons"`
	Source        string   `json:"source"`
	Details       *Result  `json:"details"`
}

// Engine scores applications against one fixed policy
type Engine struct {
	policy   Policy
	validate *validator.Validate
	log      *logrus.Logger
	now      func() time.Time
}

// NewEngine validates and copies the policy.
func NewEngine(policy Policy, log *logrus.Logger) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	policy.Weights = policy.Weights.clone()
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		policy:   policy,
		validate: newValidator(),
		log:      log,
		now:      time.Now,
	}, nil
}

// Policy returns a copy of the engine's policy.
func (e *Engine) Policy() Policy {
	p := e.policy
	p.Weights = p.Weights.clone()
	return p
}

// Evaluate validates and scores one application.
//
// A *ValidationError is returned with a nil result when the input is
// rejected. When the full evaluation fails part-way, Evaluate returns the
// fallback result together with a *FallbackError; callers decide whether
// to accept it.
func (e *Engine) Evaluate(in Input) (*Result, error) {
	in, err := e.Validate(in)
	if err != nil {
		return nil, err
	}
	res, err := e.score(in)
	if err != nil {
		e.log.Warnf("Full evaluation failed, using fallback scorer: %v", err)
		return e.fallback(in), &FallbackError{Cause: err}
	}
	return res, nil
}

// CheckLoanEligibility wraps Evaluate. A fallback evaluation is returned
// together with its *FallbackError, like Evaluate.
func (e *Engine) CheckLoanEligibility(in Input) (*Eligibility, error) {
	res, err := e.Evaluate(in)
	if res == nil {
		return nil, err
	}
	return EligibilityFor(res, e.policy.MinimumScore), err
}

// EligibilityFor summarizes a result for the eligibility check.
func EligibilityFor(res *Result, minimumScore int) *Eligibility {
	return &Eligibility{
		Eligible:      res.FinalScore >= minimumScore,
		MaxAmount:     res.ApprovedAmount,
		SuggestedRate: res.InterestRate,
		Reasons: []string{
			fmt.Sprintf("Credit score: %d", res.FinalScore),
			fmt.Sprintf("Category: %s", res.CategoryLabel),
			fmt.Sprintf("Status: %s", res.Status),
		},
		Source:  res.Source,
		Details: res,
	}
}

func (e *Engine) score(in Input) (*Result, error) {
	affordability := AffordabilityScore(in.LoanAmount, in.LoanTermMonths, in.MonthlyIncome)
	termRisk := TermRiskScore(in.LoanTermMonths)

	scores := in.Factors.ByName()
	scores[FactorAmountToIncomeRatio] = float64(affordability)
	scores[FactorTermRisk] = float64(termRisk)

	finalScore, contributions, err := Aggregate(scores, e.policy.Weights)
	if err != nil {
		return nil, err
	}
	terms, err := MapToTerms(finalScore, e.policy)
	if err != nil {
		return nil, err
	}
	approved := math.Round(in.LoanAmount * terms.ApprovedRatio)
	metrics, err := Amortize(approved, terms.InterestRate, in.LoanTermMonths, e.policy.ProfitShare)
	if err != nil {
		return nil, err
	}

	confidence := confidenceApproved
	if !terms.Status.Approved() {
		confidence = confidenceRejected
	}
	return &Result{
		FinalScore:          finalScore,
		Category:            terms.Category,
		CategoryLabel:       terms.Category.Label(),
		Status:              terms.Status,
		InterestRate:        terms.InterestRate,
		ApprovedRatio:       terms.ApprovedRatio,
		ApprovedAmount:      approved,
		MonthlyPaymentRatio: roundTo(MonthlyPaymentRatio(in.LoanAmount, in.LoanTermMonths, in.MonthlyIncome)*100, 1),
		AffordabilityScore:  affordability,
		TermRiskScore:       termRisk,
		Contributions:       contributions,
		Metrics:             metrics,
		Input:               in,
		ModelVersion:        e.policy.ModelVersion,
		Source:              SourceAdvanced,
		Confidence:          confidence,
		EvaluatedAt:         e.now(),
	}, nil
}

// fallback scores with flat bonuses over a base of 50. It never fails:
// comparisons against NaN are simply false.
func (e *Engine) fallback(in Input) *Result {
	score := 50
	if in.Profile.WalletAgeDays > 365 {
		score += 8
	}
	if in.Profile.TransactionCount > 100 {
		score += 5
	}
	if in.Profile.PreviousLoans > 0 && in.Profile.RepaymentRate == 100 {
		score += 15
	}
	if in.Profile.EducationLevel >= 3 {
		score += 6
	}
	if in.Profile.EmploymentType == "full_time" {
		score += 8
	}
	if in.Factors.PaymentPunctuality > 80 {
		score += 10
	}
	if in.Factors.FinancialRatios > 70 {
		score += 7
	}
	if in.Factors.KYCCompliance > 85 {
		score += 5
	}
	score = max(0, min(100, score))

	res := &Result{
		FinalScore:   score,
		Category:     CategoryRejected,
		Status:       StatusNotApproved,
		Input:        in,
		ModelVersion: e.policy.ModelVersion + "-fallback",
		Source:       SourceFallback,
		Confidence:   confidenceFallback,
		EvaluatedAt:  e.now(),
	}
	terms, err := MapToTerms(score, e.policy)
	if err == nil {
		res.Category = terms.Category
		res.Status = terms.Status
		res.InterestRate = terms.InterestRate
		res.ApprovedRatio = terms.ApprovedRatio
		res.ApprovedAmount = math.Round(in.LoanAmount * terms.ApprovedRatio)
		if metrics, err := Amortize(res.ApprovedAmount, res.InterestRate, in.LoanTermMonths, e.policy.ProfitShare); err == nil {
			res.Metrics = metrics
		}
	}
	res.CategoryLabel = res.Category.Label()
	return res
}
