package scoring

import (
	"math"

	"github.com/yourorg/credit-stake-ea/internal/model"
)

// Aggregate sums the sub-scores into the composite score.
// The result is floor(sum) capped at model.MaxScore.
func Aggregate(s SubScores) model.Score {
	var sum float64
	for _, v := range s {
		if math.IsNaN(v) || v < 0 {
			continue
		}
		sum += v
	}

	total := math.Floor(sum)
	if math.IsInf(total, 1) || total >= float64(model.MaxScore) {
		return model.MaxScore
	}
	return model.Score(total)
}

// Compute is the local, deterministic score of a set of metrics.
func Compute(m model.WalletMetrics) model.Score {
	return Aggregate(Normalize(m))
}

// Breakdown is a scored metrics set with its components, for display.
type Breakdown struct {
	SubScores SubScores   `json:"subScores"`
	Score     model.Score `json:"score"`
	Rate      float64     `json:"rate"`
}

// Explain returns the full breakdown of a local computation.
func Explain(m model.WalletMetrics) Breakdown {
	subs := Normalize(m)
	score := Aggregate(subs)
	return Breakdown{
		SubScores: subs,
		Score:     score,
		Rate:      ResolveRate(score),
	}
}
