package scoring

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Weights maps each factor to its weight in percentage points
type Weights map[Factor]int

// Sum returns the total of all weights.
func (w Weights) Sum() int {
	total := 0
	for _, v := range w {
		total += v
	}
	return total
}

func (w Weights) clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// FactorRangeMode controls what the validation layer does with factor
// scores outside [0,100].
type FactorRangeMode string

const (
	FactorRangeReject FactorRangeMode = "reject"
	FactorRangeClamp  FactorRangeMode = "clamp"
)

// Policy is the full set of scoring constants. Engines copy it on
// construction, so a Policy value never changes under a running engine.
type Policy struct {
	ModelVersion  string          `json:"model_version" yaml:"model_version"`
	MinRate       float64         `json:"min_rate" yaml:"min_rate"`
	MaxRate       float64         `json:"max_rate" yaml:"max_rate"`
	OptimalScore  int             `json:"optimal_score" yaml:"optimal_score"`
	MinimumScore  int             `json:"minimum_score" yaml:"minimum_score"`
	MaxTermMonths int             `json:"max_term_months" yaml:"max_term_months"`
	MinLoanAmount float64         `json:"min_loan_amount" yaml:"min_loan_amount"`
	ProfitShare   float64         `json:"profit_share" yaml:"profit_share"`
	FactorRange   FactorRangeMode `json:"factor_range" yaml:"factor_range"`
	Weights       Weights         `json:"weights" yaml:"weights"`
}

// DefaultPolicy returns the production scoring policy.
func DefaultPolicy() Policy {
	return Policy{
		ModelVersion:  "v2.0",
		MinRate:       20.0,
		MaxRate:       100.0,
		OptimalScore:  90,
		MinimumScore:  45,
		MaxTermMonths: 120,
		MinLoanAmount: 1000,
		ProfitShare:   0.65,
		FactorRange:   FactorRangeReject,
		Weights: Weights{
			FactorFinancialRatios:         22,
			FactorPaymentPunctuality:      18,
			FactorUtilityPaymentHistory:   13,
			FactorAmountToIncomeRatio:     12,
			FactorKYCCompliance:           10,
			FactorTermRisk:                8,
			FactorEstimatedIncome:         7,
			FactorAccountOpeningFrequency: 4,
			FactorEmploymentTenure:        3,
			FactorOccupation:              2,
			FactorCollateralType:          1,
		},
	}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	var errs []error
	if p.MinRate <= 0 || p.MinRate >= p.MaxRate {
		errs = append(errs, fmt.Errorf("rates must satisfy 0 < min_rate < max_rate, got %.2f and %.2f", p.MinRate, p.MaxRate))
	}
	if p.MinimumScore >= p.OptimalScore {
		errs = append(errs, fmt.Errorf("minimum_score %d must be below optimal_score %d", p.MinimumScore, p.OptimalScore))
	}
	if p.MaxTermMonths <= 0 {
		errs = append(errs, fmt.Errorf("max_term_months must be positive"))
	}
	if p.MinLoanAmount < 0 || math.IsNaN(p.MinLoanAmount) || math.IsInf(p.MinLoanAmount, 0) {
		errs = append(errs, fmt.Errorf("min_loan_amount must be a non-negative number, got %v", p.MinLoanAmount))
	}
	if p.ProfitShare < 0 || p.ProfitShare > 1 {
		errs = append(errs, fmt.Errorf("profit_share must be within [0,1], got %.2f", p.ProfitShare))
	}
	if p.FactorRange != FactorRangeReject && p.FactorRange != FactorRangeClamp {
		errs = append(errs, fmt.Errorf("unknown factor_range %q", p.FactorRange))
	}
	if len(p.Weights) != len(AllFactors) {
		errs = append(errs, fmt.Errorf("weights must name all %d factors, got %d", len(AllFactors), len(p.Weights)))
	}
	for _, f := range AllFactors {
		w, ok := p.Weights[f]
		if !ok {
			errs = append(errs, fmt.Errorf("missing weight for %s", f))
			continue
		}
		if w < 0 {
			errs = append(errs, fmt.Errorf("negative weight for %s", f))
		}
	}
	if sum := p.Weights.Sum(); sum != 100 {
		errs = append(errs, fmt.Errorf("weights must sum to 100, got %d", sum))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid scoring policy: %w", errors.Join(errs...))
	}
	return nil
}

// LoadPolicy reads a YAML policy file. Keys missing from the file keep their
// DefaultPolicy values; keys present override them, explicit zeros included.
// A weights block replaces the whole table.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	// yaml.v3 merges a mapping into an existing map, so the default table
	// is only restored when the file has no weights of its own.
	p.Weights = nil
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if p.Weights == nil {
		p.Weights = DefaultPolicy().Weights
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
