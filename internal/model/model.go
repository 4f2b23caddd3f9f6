// Package model defines the core data structures for the credit-stake-ea.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxScore is the ceiling of the composite score.
const MaxScore Score = 1000

// Score is the composite 0-1000 creditworthiness score of a wallet.
type Score uint32

// WalletMetrics is the raw wallet activity a score is derived from.
// This is the input that flows from the metrics source through the scoring pipeline.
// Fields are signed so malformed upstream data can be detected and rejected.
type WalletMetrics struct {
	// WalletAgeDays is the number of days since the wallet's first transaction
	WalletAgeDays int64 `json:"walletAgeDays"`

	// TransactionCount is the number of transactions sent or received
	TransactionCount int64 `json:"transactionCount"`

	// ETHBalance is the native balance, in ETH
	ETHBalance float64 `json:"ethBalance"`

	// TotalGasUsed is the gas spent across all transactions
	TotalGasUsed int64 `json:"totalGasUsed"`

	// AverageTransactionValue is the mean transferred value per transaction, in ETH
	AverageTransactionValue float64 `json:"averageTransactionValue"`

	// UniqueContracts is the number of distinct counterparties interacted with
	UniqueContracts int64 `json:"uniqueContracts"`
}

// ScoreStatus reports whether a score has been committed for a user.
type ScoreStatus struct {
	HasScore bool  `json:"hasScore"`
	Score    Score `json:"score"`
}

// StakePosition is the per-user staking state.
type StakePosition struct {
	User string `json:"user"`

	// StakedAmount is the principal currently staked
	StakedAmount decimal.Decimal `json:"stakedAmount"`

	// LastClaimAt is the instant rewards were last claimed (or the stake was placed)
	LastClaimAt time.Time `json:"lastClaimAt"`

	// TotalEarned accumulates claimed rewards until the position is withdrawn
	TotalEarned decimal.Decimal `json:"totalEarned"`

	HasStaked bool `json:"hasStaked"`
}

// NewStakePosition returns the empty (unstaked) position for a user.
func NewStakePosition(user string) StakePosition {
	return StakePosition{
		User:         user,
		StakedAmount: decimal.Zero,
		TotalEarned:  decimal.Zero,
	}
}

// IsActive reports whether the position holds principal.
func (p StakePosition) IsActive() bool {
	return p.HasStaked && p.StakedAmount.IsPositive()
}

// ClaimResult describes a settled reward claim.
type ClaimResult struct {
	Reward   decimal.Decimal `json:"reward"`
	Rate     float64         `json:"rate"`
	Elapsed  time.Duration   `json:"elapsed"`
	Position StakePosition   `json:"position"`
}

// WithdrawResult describes a closed position.
type WithdrawResult struct {
	Principal decimal.Decimal `json:"principal"`

	// Settled is the accrued reward paid out with the principal (settle policy only)
	Settled decimal.Decimal `json:"settled"`

	// Forfeited is the accrued reward given up by the withdrawal (forfeit policy only)
	Forfeited decimal.Decimal `json:"forfeited"`

	// TotalEarned is the lifetime total of the position before it was reset
	TotalEarned decimal.Decimal `json:"totalEarned"`

	Position StakePosition `json:"position"`
}
