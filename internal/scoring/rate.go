package scoring

import "github.com/yourorg/credit-stake-ea/internal/model"

// Tier is one interest-rate band.
type Tier struct {
	MinScore model.Score `json:"minScore"`
	Rate     float64     `json:"rate"` // Annual percentage, e.g. 12.5
}

// Tiers are checked in order; the first band whose MinScore the score reaches wins.
var Tiers = []Tier{
	{MinScore: 900, Rate: 15.0},
	{MinScore: 800, Rate: 12.5},
	{MinScore: 700, Rate: 10.0},
	{MinScore: 600, Rate: 8.0},
	{MinScore: 500, Rate: 6.0},
}

// BaseRate applies to every score below the lowest band.
const BaseRate = 4.0

// ResolveRate maps a score to its annual interest rate in percent.
// It is total over every Score value.
func ResolveRate(score model.Score) float64 {
	return TierFor(score).Rate
}

// TierFor returns the band a score falls into.
func TierFor(score model.Score) Tier {
	for _, t := range Tiers {
		if score >= t.MinScore {
			return t
		}
	}
	return Tier{MinScore: 0, Rate: BaseRate}
}
