// Package ledger implements the per-user staking state machine:
// Unstaked -> Staked -> Unstaked, with reward accrual and claim eligibility.
//
// The ledger never talks to the outside world. Callers confirm an operation
// with the staking authority first and only then apply it here.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/credit-stake-ea/internal/model"
	"github.com/yourorg/credit-stake-ea/internal/scoring"
)

// RewardPrecision is the number of decimal places rewards are rounded to (wei).
const RewardPrecision = 18

var (
	daysPerYearPercent = decimal.NewFromInt(36500)
	nanosPerDay        = decimal.NewFromInt(int64(24 * time.Hour))
)

// Ledger applies staking transitions to positions held in a Store.
type Ledger struct {
	store  Store
	policy Policy
}

// New creates a ledger over the given store.
func New(store Store, policy Policy) *Ledger {
	if policy.ClaimPeriod <= 0 {
		policy.ClaimPeriod = DefaultClaimPeriod
	}
	return &Ledger{store: store, policy: policy}
}

// Policy returns the ledger's policy.
func (l *Ledger) Policy() Policy { return l.policy }

// Reward is the accrual of amount at an annual rate (percent) over elapsed time:
// amount * rate * days / 36500, with fractional days.
func Reward(amount decimal.Decimal, rate float64, elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 || !amount.IsPositive() || rate <= 0 {
		return decimal.Zero
	}
	numerator := amount.Mul(decimal.NewFromFloat(rate)).Mul(decimal.NewFromInt(int64(elapsed)))
	return numerator.DivRound(daysPerYearPercent.Mul(nanosPerDay), RewardPrecision)
}

// Position returns the user's current position.
func (l *Ledger) Position(ctx context.Context, user string) (model.StakePosition, error) {
	return l.store.Load(ctx, user)
}

// Restore overwrites a position with one read from the staking authority.
func (l *Ledger) Restore(ctx context.Context, pos model.StakePosition) (model.StakePosition, error) {
	return l.store.Update(ctx, pos.User, func(p *model.StakePosition) error {
		*p = pos
		if p.StakedAmount.IsNegative() {
			p.StakedAmount = decimal.Zero
		}
		if p.TotalEarned.IsNegative() {
			p.TotalEarned = decimal.Zero
		}
		return nil
	})
}

// CheckStake reports whether a stake of amount would be accepted.
func (l *Ledger) CheckStake(ctx context.Context, user string, amount decimal.Decimal) error {
	p, err := l.store.Load(ctx, user)
	if err != nil {
		return err
	}
	return l.checkStake(p, amount)
}

func (l *Ledger) checkStake(p model.StakePosition, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: stake amount must be positive, got %s", model.ErrInvalidInput, amount)
	}
	if p.HasStaked && l.policy.Stake == StakeRejectWhileStaked {
		return fmt.Errorf("%w: %s holds %s", model.ErrAlreadyStaked, p.User, p.StakedAmount)
	}
	return nil
}

// ApplyStake records a confirmed deposit made at the given instant.
// A top-up restarts the claim period.
func (l *Ledger) ApplyStake(ctx context.Context, user string, amount decimal.Decimal, at time.Time) (model.StakePosition, error) {
	return l.store.Update(ctx, user, func(p *model.StakePosition) error {
		if err := l.checkStake(*p, amount); err != nil {
			return err
		}
		p.StakedAmount = p.StakedAmount.Add(amount)
		p.HasStaked = true
		p.LastClaimAt = at
		logrus.WithFields(logrus.Fields{
			"user":   user,
			"amount": amount.String(),
			"staked": p.StakedAmount.String(),
		}).Debug("Applied stake")
		return nil
	})
}

// CheckClaim reports whether a claim at the given instant would be accepted.
func (l *Ledger) CheckClaim(ctx context.Context, user string, at time.Time) error {
	p, err := l.store.Load(ctx, user)
	if err != nil {
		return err
	}
	return l.checkClaim(p, at)
}

func (l *Ledger) checkClaim(p model.StakePosition, at time.Time) error {
	if !p.HasStaked {
		return fmt.Errorf("%w: %w", model.ErrNotEligible, model.ErrNotStaked)
	}
	if elapsed := at.Sub(p.LastClaimAt); elapsed < l.policy.ClaimPeriod {
		return fmt.Errorf("%w: next claim in %s", model.ErrNotEligible, (l.policy.ClaimPeriod - elapsed).Round(time.Second))
	}
	return nil
}

// CanClaim evaluates the claim-eligibility predicate.
func (l *Ledger) CanClaim(ctx context.Context, user string, at time.Time) (bool, error) {
	p, err := l.store.Load(ctx, user)
	if err != nil {
		return false, err
	}
	return l.checkClaim(p, at) == nil, nil
}

// Accrued is the reward earned since the last claim at the rate for score.
func (l *Ledger) Accrued(ctx context.Context, user string, score model.Score, at time.Time) (decimal.Decimal, error) {
	p, err := l.store.Load(ctx, user)
	if err != nil {
		return decimal.Zero, err
	}
	if !p.IsActive() {
		return decimal.Zero, nil
	}
	return Reward(p.StakedAmount, scoring.ResolveRate(score), at.Sub(p.LastClaimAt)), nil
}

// ApplyClaim settles the reward accrued up to at and restarts the claim period.
func (l *Ledger) ApplyClaim(ctx context.Context, user string, score model.Score, at time.Time) (model.ClaimResult, error) {
	var result model.ClaimResult
	pos, err := l.store.Update(ctx, user, func(p *model.StakePosition) error {
		if err := l.checkClaim(*p, at); err != nil {
			return err
		}
		result.Rate = scoring.ResolveRate(score)
		result.Elapsed = at.Sub(p.LastClaimAt)
		result.Reward = Reward(p.StakedAmount, result.Rate, result.Elapsed)

		p.TotalEarned = p.TotalEarned.Add(result.Reward)
		p.LastClaimAt = at
		return nil
	})
	if err != nil {
		return model.ClaimResult{}, err
	}
	result.Position = pos

	logrus.WithFields(logrus.Fields{
		"user":   user,
		"score":  score,
		"reward": result.Reward.String(),
	}).Debug("Applied claim")
	return result, nil
}

// CheckWithdraw reports whether a withdrawal would be accepted.
func (l *Ledger) CheckWithdraw(ctx context.Context, user string) error {
	p, err := l.store.Load(ctx, user)
	if err != nil {
		return err
	}
	return checkWithdraw(p)
}

func checkWithdraw(p model.StakePosition) error {
	if !p.IsActive() {
		return fmt.Errorf("%w: %w", model.ErrNothingToWithdraw, model.ErrNotStaked)
	}
	return nil
}

// ApplyWithdraw closes the position at the given instant. Reward accrued since
// the last claim is settled or forfeited according to the withdraw policy.
// The result carries the lifetime total earned before it is reset.
func (l *Ledger) ApplyWithdraw(ctx context.Context, user string, score model.Score, at time.Time) (model.WithdrawResult, error) {
	result := model.WithdrawResult{
		Principal:   decimal.Zero,
		Settled:     decimal.Zero,
		Forfeited:   decimal.Zero,
		TotalEarned: decimal.Zero,
	}
	pos, err := l.store.Update(ctx, user, func(p *model.StakePosition) error {
		if err := checkWithdraw(*p); err != nil {
			return err
		}
		accrued := Reward(p.StakedAmount, scoring.ResolveRate(score), at.Sub(p.LastClaimAt))

		result.Principal = p.StakedAmount
		total := p.TotalEarned
		if l.policy.Withdraw == WithdrawSettle {
			result.Settled = accrued
			total = total.Add(accrued)
		} else {
			result.Forfeited = accrued
		}
		result.TotalEarned = total

		p.StakedAmount = decimal.Zero
		p.HasStaked = false
		p.TotalEarned = decimal.Zero
		p.LastClaimAt = at
		return nil
	})
	if err != nil {
		return model.WithdrawResult{}, err
	}
	result.Position = pos

	logrus.WithFields(logrus.Fields{
		"user":      user,
		"principal": result.Principal.String(),
		"settled":   result.Settled.String(),
		"forfeited": result.Forfeited.String(),
	}).Debug("Applied withdrawal")
	return result, nil
}
