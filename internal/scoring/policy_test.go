package scoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadPolicy_Empty(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestLoadPolicy_OverridesRates(t *testing.T) {
	path := writePolicy(t, `
model_version: v2.1-steep
min_rate: 15
max_rate: 80
factor_range: clamp
`)
	p, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, "v2.1-steep", p.ModelVersion)
	assert.Equal(t, 15.0, p.MinRate)
	assert.Equal(t, 80.0, p.MaxRate)
	assert.Equal(t, FactorRangeClamp, p.FactorRange)
	assert.Equal(t, 90, p.OptimalScore)
	assert.Equal(t, DefaultPolicy().Weights, p.Weights)
}

func TestLoadPolicy_ExplicitZeros(t *testing.T) {
	path := writePolicy(t, `
minimum_score: 0
profit_share: 0
min_loan_amount: 0
`)
	p, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, 0, p.MinimumScore)
	assert.Equal(t, 0.0, p.ProfitShare)
	assert.Equal(t, 0.0, p.MinLoanAmount)
	assert.Equal(t, 20.0, p.MinRate)
	assert.Equal(t, DefaultPolicy().Weights, p.Weights)
}

func TestLoadPolicy_WeightsReplaceTable(t *testing.T) {
	path := writePolicy(t, `
weights:
  financial_ratios: 30
  payment_punctuality: 18
  utility_payment_history: 13
  amount_to_income_ratio: 12
  kyc_compliance: 10
  term_risk: 8
  estimated_income: 7
  account_opening_frequency: 2
  employment_tenure: 0
  occupation: 0
  collateral_type: 0
`)
	p, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, 30, p.Weights[FactorFinancialRatios])
	assert.Equal(t, 0, p.Weights[FactorOccupation])
	assert.Len(t, p.Weights, len(AllFactors))
	assert.Equal(t, 22, DefaultPolicy().Weights[FactorFinancialRatios])
}

func TestLoadPolicy_RejectsBadWeights(t *testing.T) {
	path := writePolicy(t, `
weights:
  financial_ratios: 50
  payment_punctuality: 50
`)
	_, err := LoadPolicy(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing weight for term_risk")
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read policy file")
}

func TestPolicyValidate(t *testing.T) {
	p := DefaultPolicy()
	p.MinRate = 120
	p.MinimumScore = 95
	p.FactorRange = "ignore"
	p.MinLoanAmount = -1

	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0 < min_rate < max_rate")
	assert.Contains(t, err.Error(), "minimum_score 95 must be below optimal_score 90")
	assert.Contains(t, err.Error(), `unknown factor_range "ignore"`)
	assert.Contains(t, err.Error(), "min_loan_amount must be a non-negative number")
}
