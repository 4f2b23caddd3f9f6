// Package scoring turns wallet activity into a bounded composite score and maps
// that score to an interest-rate tier.
package scoring

import (
	"math"

	"github.com/yourorg/credit-stake-ea/internal/model"
)

// NumSubScores is the number of weighted components of a score.
const NumSubScores = 6

// Sub-score caps. They sum to exactly model.MaxScore.
const (
	WalletAgeCap        = 200.0
	TransactionCountCap = 300.0
	ETHBalanceCap       = 200.0
	GasUsedCap          = 150.0
	AvgTxValueCap       = 100.0
	UniqueContractsCap  = 50.0
)

// SubScores holds one capped component per metric, in the fixed order
// wallet age, transaction count, ETH balance, gas used, average value, unique contracts.
type SubScores [NumSubScores]float64

// Caps lists the cap of each sub-score in SubScores order.
var Caps = SubScores{
	WalletAgeCap,
	TransactionCountCap,
	ETHBalanceCap,
	GasUsedCap,
	AvgTxValueCap,
	UniqueContractsCap,
}

// Normalize converts raw metrics into weighted, capped sub-scores.
// Negative or non-finite inputs are clamped to zero before weighting.
func Normalize(m model.WalletMetrics) SubScores {
	return SubScores{
		capAt(float64(nonNegInt(m.WalletAgeDays))*0.27, WalletAgeCap),
		capAt(float64(nonNegInt(m.TransactionCount))*1.0, TransactionCountCap),
		capAt(nonNeg(m.ETHBalance)*100, ETHBalanceCap),
		capAt(float64(nonNegInt(m.TotalGasUsed))/20000, GasUsedCap),
		capAt(nonNeg(m.AverageTransactionValue)*500, AvgTxValueCap),
		capAt(float64(nonNegInt(m.UniqueContracts))*2.5, UniqueContractsCap),
	}
}

func capAt(v, limit float64) float64 {
	return math.Min(limit, v)
}

func nonNeg(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

func nonNegInt(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// ValueScale converts ETH-denominated metrics to the integer units the
// scoring contract expects (micro-ETH).
const ValueScale = 1e6

// ContractInputs returns the six raw metrics as unsigned integers in
// SubScores order, with ETH values scaled by ValueScale.
func ContractInputs(m model.WalletMetrics) [NumSubScores]uint64 {
	return [NumSubScores]uint64{
		uint64(nonNegInt(m.WalletAgeDays)),
		uint64(nonNegInt(m.TransactionCount)),
		scaleValue(m.ETHBalance),
		uint64(nonNegInt(m.TotalGasUsed)),
		scaleValue(m.AverageTransactionValue),
		uint64(nonNegInt(m.UniqueContracts)),
	}
}

func scaleValue(v float64) uint64 {
	v = math.Floor(nonNeg(v) * ValueScale)
	if v >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(v)
}
