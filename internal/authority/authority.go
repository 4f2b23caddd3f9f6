// Package authority defines the boundary to the external scoring and staking
// authority that owns committed scores and positions.
package authority

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/credit-stake-ea/internal/model"
	"github.com/yourorg/credit-stake-ea/internal/scoring"
	"github.com/yourorg/credit-stake-ea/internal/session"
)

// Op names a submitted operation.
type Op string

const (
	OpScore    Op = "score"
	OpStake    Op = "stake"
	OpClaim    Op = "claim"
	OpWithdraw Op = "withdraw"
)

// Submission identifies an operation handed to the authority and not yet confirmed.
type Submission struct {
	ID          uuid.UUID       `json:"id"`
	Op          Op              `json:"op"`
	User        string          `json:"user"`
	TxHash      string          `json:"txHash,omitempty"`
	SubmittedAt time.Time       `json:"submittedAt"`
	Amount      decimal.Decimal `json:"amount"`
	Score       model.Score     `json:"score"`
}

// NewSubmission stamps a new submission with a fresh ID.
func NewSubmission(op Op, user string, at time.Time) Submission {
	return Submission{
		ID:          uuid.New(),
		Op:          op,
		User:        user,
		SubmittedAt: at,
		Amount:      decimal.Zero,
	}
}

// Confirmation is the finalized result of a submission.
type Confirmation interface {
	Submission() Submission
	// Score returns the score the authority emitted. It fails with
	// model.ErrResultUnparseable when the result carries no usable score record.
	Score() (model.Score, error)
}

// ScoreRequest carries the metrics of a user to be scored. Encrypted is set
// when the inputs are submitted confidentially.
type ScoreRequest struct {
	User      string
	Metrics   model.WalletMetrics
	Inputs    [scoring.NumSubScores]uint64
	Encrypted *session.EncryptedInput
}

// Authority is the external party that computes scores and settles stakes.
//
// Submit methods return once the operation is accepted for processing. Confirm
// blocks until the submission is finalized or ctx is done; a rejected or failed
// submission is reported as a *model.SubmissionError.
type Authority interface {
	ScoreStatus(ctx context.Context, user string) (model.ScoreStatus, error)
	SubmitScore(ctx context.Context, req ScoreRequest) (Submission, error)
	SubmitStake(ctx context.Context, user string, amount decimal.Decimal) (Submission, error)
	SubmitClaim(ctx context.Context, user string, score model.Score) (Submission, error)
	SubmitWithdraw(ctx context.Context, user string) (Submission, error)
	Confirm(ctx context.Context, sub Submission) (Confirmation, error)
}

// PositionReader is implemented by authorities that expose stored positions.
type PositionReader interface {
	ReadPosition(ctx context.Context, user string) (model.StakePosition, error)
}

// Releaser is implemented by authorities that retain confirmations in memory.
// Release drops the retained result of sub once the caller has consumed it.
type Releaser interface {
	Release(sub Submission)
}

// Result is the standard Confirmation implementation.
type Result struct {
	sub      Submission
	score    model.Score
	scoreErr error
}

// NewScoreResult is a confirmation carrying an emitted score.
func NewScoreResult(sub Submission, score model.Score) *Result {
	if score > model.MaxScore {
		return NewUnparseableResult(sub, fmt.Errorf("score %d out of range", score))
	}
	return &Result{sub: sub, score: score}
}

// NewReceipt is a confirmation without a score record.
func NewReceipt(sub Submission) *Result {
	return &Result{sub: sub, scoreErr: fmt.Errorf("%w: no score record", model.ErrResultUnparseable)}
}

// NewUnparseableResult is a confirmation whose score record could not be decoded.
func NewUnparseableResult(sub Submission, reason error) *Result {
	return &Result{sub: sub, scoreErr: fmt.Errorf("%w: %w", model.ErrResultUnparseable, reason)}
}

func (r *Result) Submission() Submission { return r.sub }

func (r *Result) Score() (model.Score, error) {
	if r.scoreErr != nil {
		return 0, r.scoreErr
	}
	return r.score, nil
}
