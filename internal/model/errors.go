package model

import (
	"errors"
	"fmt"
)

// Errors returned by the scoring and staking core.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotEligible       = errors.New("not eligible to claim")
	ErrNotStaked         = errors.New("no active stake")
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
	ErrAlreadyStaked     = errors.New("already staked")
	ErrSubmissionFailed  = errors.New("submission failed")
	ErrResultUnparseable = errors.New("confirmation result unparseable")
	ErrOperationPending  = errors.New("operation pending confirmation")
)

// SubmissionError wraps a failure to reach the scoring/staking authority or a
// transaction it rejected.
type SubmissionError struct {
	Op     string // Operation that failed
	TxHash string // Transaction hash if one was issued
	Err    error  // Underlying error
}

func (e *SubmissionError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("%s submission failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("%s submission failed: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Is makes every SubmissionError match ErrSubmissionFailed.
func (e *SubmissionError) Is(target error) bool { return target == ErrSubmissionFailed }

// PendingError reports an operation that was submitted but whose confirmation
// has not been observed yet. No state has been applied.
type PendingError struct {
	Op     string
	TxHash string
	Err    error // Why waiting stopped (deadline or cancellation)
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%s pending confirmation (tx: %s): %v", e.Op, e.TxHash, e.Err)
}

func (e *PendingError) Unwrap() error { return e.Err }

func (e *PendingError) Is(target error) bool { return target == ErrOperationPending }
