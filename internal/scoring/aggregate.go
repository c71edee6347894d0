package scoring

import (
	"fmt"
	"math"
)

// Contribution is one factor's share of the final score
type Contribution struct {
	Score        float64 `json:"score"`
	Weight       int     `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Aggregate combines the factor scores with the weight table. Each factor
// contributes score*weight/100; the final score is the rounded sum. Scores
// are not clamped here, the validation layer owns input ranges.
//
// The returned map always carries every factor in AllFactors; a factor
// absent from scores contributes zero.
func Aggregate(scores map[Factor]float64, weights Weights) (int, map[Factor]Contribution, error) {
	contributions := make(map[Factor]Contribution, len(AllFactors))
	total := 0.0
	for _, f := range AllFactors {
		weight, ok := weights[f]
		if !ok {
			return 0, nil, fmt.Errorf("no weight for factor %s", f)
		}
		score := scores[f]
		c := score * float64(weight) / 100
		total += c
		contributions[f] = Contribution{
			Score:        score,
			Weight:       weight,
			Contribution: roundTo(c, 1),
		}
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, nil, fmt.Errorf("weighted score is not finite")
	}
	return int(math.Round(total)), contributions, nil
}

// roundTo rounds half away from zero to the given number of decimals.
func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
