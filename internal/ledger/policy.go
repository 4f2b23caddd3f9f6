package ledger

import (
	"fmt"
	"strings"
	"time"
)

// StakeMode decides what a stake does when the user already holds a position.
type StakeMode int

const (
	// StakeAdditive adds the deposit to the existing principal.
	StakeAdditive StakeMode = iota
	// StakeRejectWhileStaked refuses a second deposit until the position is withdrawn.
	StakeRejectWhileStaked
)

func (m StakeMode) String() string {
	switch m {
	case StakeAdditive:
		return "additive"
	case StakeRejectWhileStaked:
		return "reject"
	default:
		return "unknown"
	}
}

// ParseStakeMode parses the STAKE_POLICY setting.
func ParseStakeMode(s string) (StakeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "additive":
		return StakeAdditive, nil
	case "reject":
		return StakeRejectWhileStaked, nil
	default:
		return 0, fmt.Errorf("unknown stake policy %q", s)
	}
}

// WithdrawMode decides what happens to reward accrued since the last claim.
type WithdrawMode int

const (
	// WithdrawForfeit drops unclaimed accrual.
	WithdrawForfeit WithdrawMode = iota
	// WithdrawSettle pays unclaimed accrual out with the principal.
	WithdrawSettle
)

func (m WithdrawMode) String() string {
	switch m {
	case WithdrawForfeit:
		return "forfeit"
	case WithdrawSettle:
		return "settle"
	default:
		return "unknown"
	}
}

// ParseWithdrawMode parses the WITHDRAW_POLICY setting.
func ParseWithdrawMode(s string) (WithdrawMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "forfeit":
		return WithdrawForfeit, nil
	case "settle":
		return WithdrawSettle, nil
	default:
		return 0, fmt.Errorf("unknown withdraw policy %q", s)
	}
}

// Policy configures the ledger's state machine.
type Policy struct {
	ClaimPeriod time.Duration
	Stake       StakeMode
	Withdraw    WithdrawMode
}

// DefaultClaimPeriod is the minimum time between two claims.
const DefaultClaimPeriod = 24 * time.Hour

// DefaultPolicy returns the reference policy: one-day claim period,
// additive stakes, and forfeiting withdrawals.
func DefaultPolicy() Policy {
	return Policy{
		ClaimPeriod: DefaultClaimPeriod,
		Stake:       StakeAdditive,
		Withdraw:    WithdrawForfeit,
	}
}
