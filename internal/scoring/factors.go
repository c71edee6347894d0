package scoring

// Factor names a single input of the weighted score
type Factor string

const (
	FactorOccupation              Factor = "occupation"
	FactorEmploymentTenure        Factor = "employment_tenure"
	FactorEstimatedIncome         Factor = "estimated_income"
	FactorUtilityPaymentHistory   Factor = "utility_payment_history"
	FactorAccountOpeningFrequency Factor = "account_opening_frequency"
	FactorKYCCompliance           Factor = "kyc_compliance"
	FactorPaymentPunctuality      Factor = "payment_punctuality"
	FactorFinancialRatios         Factor = "financial_ratios"
	FactorCollateralType          Factor = "collateral_type"

	// Derived internally, never supplied by the caller
	FactorAmountToIncomeRatio Factor = "amount_to_income_ratio"
	FactorTermRisk            Factor = "term_risk"
)

// AllFactors lists every factor in weight order
var AllFactors = []Factor{
	FactorFinancialRatios,
	FactorPaymentPunctuality,
	FactorUtilityPaymentHistory,
	FactorAmountToIncomeRatio,
	FactorKYCCompliance,
	FactorTermRisk,
	FactorEstimatedIncome,
	FactorAccountOpeningFrequency,
	FactorEmploymentTenure,
	FactorOccupation,
	FactorCollateralType,
}

// FactorScores holds the nine caller-supplied factor scores, expected in [0,100]
type FactorScores struct {
	Occupation              float64 `json:"occupation" yaml:"occupation"`
	EmploymentTenure        float64 `json:"employment_tenure" yaml:"employment_tenure"`
	EstimatedIncome         float64 `json:"estimated_income" yaml:"estimated_income"`
	UtilityPaymentHistory   float64 `json:"utility_payment_history" yaml:"utility_payment_history"`
	AccountOpeningFrequency float64 `json:"account_opening_frequency" yaml:"account_opening_frequency"`
	KYCCompliance           float64 `json:"kyc_compliance" yaml:"kyc_compliance"`
	PaymentPunctuality      float64 `json:"payment_punctuality" yaml:"payment_punctuality"`
	FinancialRatios         float64 `json:"financial_ratios" yaml:"financial_ratios"`
	CollateralType          float64 `json:"collateral_type" yaml:"collateral_type"`
}

// ByName returns the caller-supplied scores keyed by factor name.
func (f FactorScores) ByName() map[Factor]float64 {
	return map[Factor]float64{
		FactorOccupation:              f.Occupation,
		FactorEmploymentTenure:        f.EmploymentTenure,
		FactorEstimatedIncome:         f.EstimatedIncome,
		FactorUtilityPaymentHistory:   f.UtilityPaymentHistory,
		FactorAccountOpeningFrequency: f.AccountOpeningFrequency,
		FactorKYCCompliance:           f.KYCCompliance,
		FactorPaymentPunctuality:      f.PaymentPunctuality,
		FactorFinancialRatios:         f.FinancialRatios,
		FactorCollateralType:          f.CollateralType,
	}
}

// With returns a copy with the named factor replaced. Unknown and derived
// factors are ignored.
func (f FactorScores) With(name Factor, score float64) FactorScores {
	switch name {
	case FactorOccupation:
		f.Occupation = score
	case FactorEmploymentTenure:
		f.EmploymentTenure = score
	case FactorEstimatedIncome:
		f.EstimatedIncome = score
	case FactorUtilityPaymentHistory:
		f.UtilityPaymentHistory = score
	case FactorAccountOpeningFrequency:
		f.AccountOpeningFrequency = score
	case FactorKYCCompliance:
		f.KYCCompliance = score
	case FactorPaymentPunctuality:
		f.PaymentPunctuality = score
	case FactorFinancialRatios:
		f.FinancialRatios = score
	case FactorCollateralType:
		f.CollateralType = score
	}
	return f
}

type band struct {
	upTo  float64
	score int
}

var affordabilityBands = []band{
	{0.15, 95},
	{0.25, 85},
	{0.35, 70},
	{0.45, 50},
	{0.60, 25},
}

const affordabilityFloor = 5

var termBands = []band{
	{6, 85},
	{12, 95},
	{24, 90},
	{36, 80},
	{48, 65},
	{60, 45},
}

const termFloor = 25

// AffordabilityScore maps the share of monthly income consumed by a flat
// principal repayment to a 0-100 score. Zero income yields 0: there is no
// affordability signal, which must not read as excellent.
func AffordabilityScore(loanAmount float64, termMonths int, monthlyIncome float64) int {
	if monthlyIncome <= 0 || termMonths <= 0 {
		return 0
	}
	return lookup(affordabilityBands, MonthlyPaymentRatio(loanAmount, termMonths, monthlyIncome), affordabilityFloor)
}

// TermRiskScore maps the loan term in months to a 0-100 score. Terms of
// 7-12 months score best; risk grows past 24 months.
func TermRiskScore(termMonths int) int {
	return lookup(termBands, float64(termMonths), termFloor)
}

// MonthlyPaymentRatio is (loanAmount / termMonths) / monthlyIncome, or 0
// when either divisor is not positive.
func MonthlyPaymentRatio(loanAmount float64, termMonths int, monthlyIncome float64) float64 {
	if monthlyIncome <= 0 || termMonths <= 0 {
		return 0
	}
	return (loanAmount / float64(termMonths)) / monthlyIncome
}

func lookup(bands []band, v float64, floor int) int {
	for _, b := range bands {
		if v <= b.upTo {
			return b.score
		}
	}
	return floor
}
