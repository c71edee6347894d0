package scoring

import (
	"fmt"
	"math"
)

// Category is the risk tier an application falls into
type Category string

const (
	CategoryPremium   Category = "premium"
	CategoryExcellent Category = "excellent"
	CategoryVeryGood  Category = "very_good"
	CategoryGood      Category = "good"
	CategoryHighRisk  Category = "high_risk"
	CategoryRejected  Category = "rejected"
)

var categoryLabels = map[Category]string{
	CategoryPremium:   "AAA - Premium",
	CategoryExcellent: "AA - Excellent",
	CategoryVeryGood:  "A - Very Good",
	CategoryGood:      "BBB - Good",
	CategoryHighRisk:  "BB - High Risk",
	CategoryRejected:  "C - Rejected",
}

// Label returns the display name shown to borrowers and investors.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

// Status is the approval decision
type Status string

const (
	StatusApprovedImmediately    Status = "APPROVED_IMMEDIATELY"
	StatusApproved               Status = "APPROVED"
	StatusApprovedVerification   Status = "APPROVED_WITH_VERIFICATION"
	StatusApprovedWithConditions Status = "APPROVED_WITH_CONDITIONS"
	StatusSpecializedReview      Status = "SPECIALIZED_REVIEW"
	StatusNotApproved            Status = "NOT_APPROVED"
)

// Approved reports whether the status funds any amount.
func (s Status) Approved() bool {
	return s != StatusNotApproved && s != ""
}

// Terms is the outcome of mapping a final score through the risk policy
type Terms struct {
	InterestRate  float64  `json:"interest_rate"`
	ApprovedRatio float64  `json:"approved_ratio"`
	Category      Category `json:"category"`
	Status        Status   `json:"status"`
}

type tier struct {
	minScore int
	ratio    float64
	category Category
	status   Status
}

// Descending; the last entry catches every approved score below it.
var tiers = []tier{
	{85, 1.0, CategoryPremium, StatusApprovedImmediately},
	{75, 0.95, CategoryExcellent, StatusApproved},
	{65, 0.90, CategoryVeryGood, StatusApprovedVerification},
	{55, 0.80, CategoryGood, StatusApprovedWithConditions},
	{math.MinInt, 0.65, CategoryHighRisk, StatusSpecializedReview},
}

// MapToTerms converts a final score into rate, approved ratio, category and
// status. Scores below MinimumScore are rejected; scores at or above
// OptimalScore get MinRate and full approval; everything between gets a
// rate on a logarithmic curve from MinRate up to MaxRate.
func MapToTerms(score int, p Policy) (Terms, error) {
	if score < p.MinimumScore {
		return Terms{Category: CategoryRejected, Status: StatusNotApproved}, nil
	}
	if score >= p.OptimalScore {
		return Terms{
			InterestRate:  p.MinRate,
			ApprovedRatio: 1.0,
			Category:      CategoryPremium,
			Status:        StatusApprovedImmediately,
		}, nil
	}

	rate, err := ContinuousRate(score, p)
	if err != nil {
		return Terms{}, err
	}
	for _, t := range tiers {
		if score >= t.minScore {
			return Terms{
				InterestRate:  rate,
				ApprovedRatio: t.ratio,
				Category:      t.category,
				Status:        t.status,
			}, nil
		}
	}
	// unreachable: the last tier has no lower bound
	return Terms{}, fmt.Errorf("no tier for score %d", score)
}

// ContinuousRate places a score on the logarithmic rate curve
//
//	risk   = clamp((optimal - score) / (optimal - minimum), 0, 1)
//	factor = ln(1 + risk*e) / ln(1 + e)
//	rate   = max(minRate, round2(minRate + (maxRate - minRate)*factor))
//
// The curve rises fast just below the optimum and flattens near the ceiling.
func ContinuousRate(score int, p Policy) (float64, error) {
	span := float64(p.OptimalScore - p.MinimumScore)
	if span <= 0 {
		return 0, fmt.Errorf("optimal score %d must exceed minimum score %d", p.OptimalScore, p.MinimumScore)
	}
	risk := math.Max(0, math.Min(1, float64(p.OptimalScore-score)/span))
	factor := math.Log(1+risk*math.E) / math.Log(1+math.E)
	rate := math.Max(p.MinRate, roundTo(p.MinRate+(p.MaxRate-p.MinRate)*factor, 2))
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, fmt.Errorf("interest rate for score %d is not finite", score)
	}
	return rate, nil
}
