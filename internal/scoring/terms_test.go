package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapToTerms_Ladder(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		score    int
		rate     float64
		ratio    float64
		category Category
		status   Status
	}{
		{0, 0, 0, CategoryRejected, StatusNotApproved},
		{44, 0, 0, CategoryRejected, StatusNotApproved},
		{45, 100.00, 0.65, CategoryHighRisk, StatusSpecializedReview},
		{54, 90.37, 0.65, CategoryHighRisk, StatusSpecializedReview},
		{55, 89.20, 0.80, CategoryGood, StatusApprovedWithConditions},
		{65, 76.06, 0.90, CategoryVeryGood, StatusApprovedVerification},
		{75, 59.29, 0.95, CategoryExcellent, StatusApproved},
		{85, 36.08, 1.0, CategoryPremium, StatusApprovedImmediately},
		{89, 23.57, 1.0, CategoryPremium, StatusApprovedImmediately},
		{90, 20.00, 1.0, CategoryPremium, StatusApprovedImmediately},
		{130, 20.00, 1.0, CategoryPremium, StatusApprovedImmediately},
	}
	for _, tt := range tests {
		terms, err := MapToTerms(tt.score, p)
		require.NoError(t, err)
		assert.InDelta(t, tt.rate, terms.InterestRate, 1e-9, "rate for score %d", tt.score)
		assert.Equal(t, tt.ratio, terms.ApprovedRatio, "ratio for score %d", tt.score)
		assert.Equal(t, tt.category, terms.Category, "category for score %d", tt.score)
		assert.Equal(t, tt.status, terms.Status, "status for score %d", tt.score)
	}
}

func TestMapToTerms_OptimalShortCircuits(t *testing.T) {
	p := DefaultPolicy()

	terms, err := MapToTerms(p.OptimalScore, p)
	require.NoError(t, err)

	assert.Equal(t, p.MinRate, terms.InterestRate)
	assert.Equal(t, 1.0, terms.ApprovedRatio)
	assert.Equal(t, StatusApprovedImmediately, terms.Status)
}

func TestMapToTerms_RateNeverIncreasesWithScore(t *testing.T) {
	p := DefaultPolicy()
	prev := p.MaxRate
	for score := p.MinimumScore; score <= 100; score++ {
		terms, err := MapToTerms(score, p)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, terms.InterestRate, p.MinRate, "score %d", score)
		assert.LessOrEqual(t, terms.InterestRate, prev, "score %d", score)
		prev = terms.InterestRate
	}
}

func TestContinuousRate_FloorsAtMinRate(t *testing.T) {
	p := DefaultPolicy()
	p.MinRate = 20.004

	rate, err := ContinuousRate(p.OptimalScore, p)
	require.NoError(t, err)
	assert.Equal(t, p.MinRate, rate)
}

func TestCategoryLabel(t *testing.T) {
	assert.Equal(t, "AAA - Premium", CategoryPremium.Label())
	assert.Equal(t, "C - Rejected", CategoryRejected.Label())
	assert.Equal(t, "custom", Category("custom").Label())
}
