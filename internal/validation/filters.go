// Package validation rejects malformed inputs before any external call is made.
package validation

import (
	"fmt"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/credit-stake-ea/internal/model"
)

// ValidationOptions holds configuration for the validation process
type ValidationOptions struct {
	// MinStakeAmount is the smallest accepted deposit (exclusive of zero)
	MinStakeAmount decimal.Decimal

	// MaxStakeDecimals is the finest precision a deposit may carry (18 = wei)
	MaxStakeDecimals int32
}

// DefaultValidationOptions returns sensible defaults for validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MinStakeAmount:   decimal.New(1, -18),
		MaxStakeDecimals: 18,
	}
}

// ValidateMetrics rejects negative or non-finite metrics. Large values are
// accepted; scoring caps every component.
func ValidateMetrics(m model.WalletMetrics) error {
	var problems []string

	if m.WalletAgeDays < 0 {
		problems = append(problems, fmt.Sprintf("negative wallet age: %d", m.WalletAgeDays))
	}
	if m.TransactionCount < 0 {
		problems = append(problems, fmt.Sprintf("negative transaction count: %d", m.TransactionCount))
	}
	if !isNonNegativeFinite(m.ETHBalance) {
		problems = append(problems, fmt.Sprintf("invalid ETH balance: %v", m.ETHBalance))
	}
	if m.TotalGasUsed < 0 {
		problems = append(problems, fmt.Sprintf("negative gas used: %d", m.TotalGasUsed))
	}
	if !isNonNegativeFinite(m.AverageTransactionValue) {
		problems = append(problems, fmt.Sprintf("invalid average transaction value: %v", m.AverageTransactionValue))
	}
	if m.UniqueContracts < 0 {
		problems = append(problems, fmt.Sprintf("negative unique contracts: %d", m.UniqueContracts))
	}

	if len(problems) > 0 {
		logrus.WithField("problems", problems).Debug("Rejected wallet metrics")
		return fmt.Errorf("%w: %s", model.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

// Sanitize clamps every metric to a non-negative finite value.
// It is used for partial upstream data where missing or broken fields count as zero.
func Sanitize(m model.WalletMetrics) model.WalletMetrics {
	if m.WalletAgeDays < 0 {
		m.WalletAgeDays = 0
	}
	if m.TransactionCount < 0 {
		m.TransactionCount = 0
	}
	if !isNonNegativeFinite(m.ETHBalance) {
		m.ETHBalance = 0
	}
	if m.TotalGasUsed < 0 {
		m.TotalGasUsed = 0
	}
	if !isNonNegativeFinite(m.AverageTransactionValue) {
		m.AverageTransactionValue = 0
	}
	if m.UniqueContracts < 0 {
		m.UniqueContracts = 0
	}
	return m
}

// ValidateStakeAmount checks a deposit with the default options.
func ValidateStakeAmount(amount decimal.Decimal) error {
	return ValidateStakeAmountWithOptions(amount, DefaultValidationOptions())
}

// ValidateStakeAmountWithOptions rejects non-positive or over-precise deposits.
func ValidateStakeAmountWithOptions(amount decimal.Decimal, opts ValidationOptions) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: stake amount must be positive, got %s", model.ErrInvalidInput, amount)
	}
	if amount.LessThan(opts.MinStakeAmount) {
		return fmt.Errorf("%w: stake amount %s below minimum %s", model.ErrInvalidInput, amount, opts.MinStakeAmount)
	}
	if !amount.Equal(amount.Truncate(opts.MaxStakeDecimals)) {
		return fmt.Errorf("%w: stake amount %s exceeds %d decimals", model.ErrInvalidInput, amount, opts.MaxStakeDecimals)
	}
	return nil
}

// ParseAmount parses a decimal amount string such as "2.0".
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed amount %q", model.ErrInvalidInput, raw)
	}
	if err := ValidateStakeAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ValidateScore rejects scores outside [0, MaxScore].
func ValidateScore(score model.Score) error {
	if score > model.MaxScore {
		return fmt.Errorf("%w: score %d exceeds %d", model.ErrInvalidInput, score, model.MaxScore)
	}
	return nil
}

// NormalizeAddress validates a hex account address and returns its checksummed form.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: malformed address %q", model.ErrInvalidInput, addr)
	}
	normalized := common.HexToAddress(addr)
	if normalized == (common.Address{}) {
		return "", fmt.Errorf("%w: zero address", model.ErrInvalidInput)
	}
	return normalized.Hex(), nil
}

func isNonNegativeFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
