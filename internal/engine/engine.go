// Package engine orchestrates scoring and staking for a user: it validates
// requests, serializes them per user, submits them to the authority, waits
// for confirmation, and only then applies the result to the ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/credit-stake-ea/internal/authority"
	"github.com/yourorg/credit-stake-ea/internal/circuitbreaker"
	"github.com/yourorg/credit-stake-ea/internal/fetch"
	"github.com/yourorg/credit-stake-ea/internal/ledger"
	"github.com/yourorg/credit-stake-ea/internal/metrics"
	"github.com/yourorg/credit-stake-ea/internal/model"
	"github.com/yourorg/credit-stake-ea/internal/otel"
	"github.com/yourorg/credit-stake-ea/internal/scoring"
	"github.com/yourorg/credit-stake-ea/internal/session"
	"github.com/yourorg/credit-stake-ea/internal/syncutil"
	"github.com/yourorg/credit-stake-ea/internal/validation"
)

// DefaultConfirmTimeout is how long an operation waits for confirmation
// before it is reported as pending.
const DefaultConfirmTimeout = 20 * time.Second

var (
	// ErrNoPendingOperation is returned by Resume when nothing awaits confirmation.
	ErrNoPendingOperation = errors.New("no pending operation")
	// ErrSyncUnsupported is returned by Sync when the authority cannot read positions.
	ErrSyncUnsupported = errors.New("authority does not expose positions")
	// ErrNoMetricsSource is returned by Analyze when no source is configured.
	ErrNoMetricsSource = errors.New("no metrics source configured")
)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	ConfirmTimeout time.Duration
	Now            func() time.Time
	Metrics        *metrics.Recorder
	Breaker        *circuitbreaker.CircuitBreaker
	Session        *session.Session
	Source         fetch.Source
}

// Engine is safe for concurrent use. Operations on different users run in
// parallel; operations on the same user are serialized.
type Engine struct {
	auth  authority.Authority
	book  *ledger.Ledger
	locks *syncutil.KeyedMutex

	confirmTimeout time.Duration
	now            func() time.Time
	metrics        *metrics.Recorder
	breaker        *circuitbreaker.CircuitBreaker
	session        *session.Session
	source         fetch.Source

	mu      sync.Mutex
	pending map[string]pendingOp
}

// pendingOp is a submission whose confirmation was not observed in time.
type pendingOp struct {
	sub     authority.Submission
	metrics model.WalletMetrics
}

// New creates an engine over an authority and a ledger.
func New(auth authority.Authority, book *ledger.Ledger, opts Options) *Engine {
	e := &Engine{
		auth:           auth,
		book:           book,
		locks:          syncutil.NewKeyedMutex(),
		confirmTimeout: opts.ConfirmTimeout,
		now:            opts.Now,
		metrics:        opts.Metrics,
		breaker:        opts.Breaker,
		session:        opts.Session,
		source:         opts.Source,
		pending:        make(map[string]pendingOp),
	}
	if e.confirmTimeout <= 0 {
		e.confirmTimeout = DefaultConfirmTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// GetScoreStatus reads the committed score of a user.
func (e *Engine) GetScoreStatus(ctx context.Context, user string) (model.ScoreStatus, error) {
	user, err := validation.NormalizeAddress(user)
	if err != nil {
		return model.ScoreStatus{}, err
	}
	status, err := e.auth.ScoreStatus(ctx, user)
	if err != nil {
		return model.ScoreStatus{}, asSubmissionError("score_status", err)
	}
	return status, nil
}

// ComputeScore returns the committed score of a user, submitting metrics for
// scoring first if none exists. A confirmed result without a usable score
// record falls back to the local computation.
func (e *Engine) ComputeScore(ctx context.Context, user string, m model.WalletMetrics) (score model.Score, err error) {
	const op = string(authority.OpScore)
	ctx, span := otel.StartSpan(ctx, "engine.ComputeScore", user)
	defer span.End()
	defer func() { e.finish(ctx, op, err) }()

	if user, err = validation.NormalizeAddress(user); err != nil {
		return 0, err
	}
	if err = validation.ValidateMetrics(m); err != nil {
		return 0, err
	}

	unlock, err := e.acquire(ctx, user)
	if err != nil {
		return 0, err
	}
	defer unlock()

	status, err := e.auth.ScoreStatus(ctx, user)
	if err != nil {
		return 0, asSubmissionError("score_status", err)
	}
	// A committed zero is treated as unscored so the wallet can be rescored.
	if status.HasScore && status.Score > 0 {
		logrus.WithFields(logrus.Fields{"user": user, "score": status.Score}).Debug("Score already committed")
		return status.Score, nil
	}

	req := authority.ScoreRequest{User: user, Metrics: m, Inputs: scoring.ContractInputs(m)}
	if e.session != nil && e.session.Encrypted() {
		enc, encErr := e.session.EncryptMetrics(ctx, user, req.Inputs)
		if encErr != nil {
			return 0, &model.SubmissionError{Op: op, Err: encErr}
		}
		req.Encrypted = enc
	}

	conf, err := e.submitAndConfirm(ctx, authority.OpScore, pendingOp{metrics: m}, func(ctx context.Context) (authority.Submission, error) {
		return e.auth.SubmitScore(ctx, req)
	})
	if err != nil {
		return 0, err
	}
	return e.applyScore(conf, m), nil
}

// applyScore extracts the emitted score or falls back to the local computation.
func (e *Engine) applyScore(conf authority.Confirmation, m model.WalletMetrics) model.Score {
	sub := conf.Submission()
	score, err := conf.Score()
	if err == nil {
		logrus.WithFields(logrus.Fields{"user": sub.User, "score": score, "tx_hash": sub.TxHash}).Info("Score committed")
		return score
	}

	score = scoring.Compute(m)
	e.metrics.ScoreFallback()
	logrus.WithFields(logrus.Fields{
		"user":    sub.User,
		"tx_hash": sub.TxHash,
		"score":   score,
	}).WithError(err).Warn("Score record unusable, using local computation")
	return score
}

// Stake deposits amount for user.
func (e *Engine) Stake(ctx context.Context, user string, amount decimal.Decimal) (pos model.StakePosition, err error) {
	const op = string(authority.OpStake)
	ctx, span := otel.StartSpan(ctx, "engine.Stake", user)
	defer span.End()
	defer func() { e.finish(ctx, op, err) }()

	if user, err = validation.NormalizeAddress(user); err != nil {
		return model.StakePosition{}, err
	}
	if err = validation.ValidateStakeAmount(amount); err != nil {
		return model.StakePosition{}, err
	}

	unlock, err := e.acquire(ctx, user)
	if err != nil {
		return model.StakePosition{}, err
	}
	defer unlock()

	if err = e.book.CheckStake(ctx, user, amount); err != nil {
		return model.StakePosition{}, err
	}

	conf, err := e.submitAndConfirm(ctx, authority.OpStake, pendingOp{}, func(ctx context.Context) (authority.Submission, error) {
		return e.auth.SubmitStake(ctx, user, amount)
	})
	if err != nil {
		return model.StakePosition{}, err
	}
	return e.applyStake(conf.Submission())
}

func (e *Engine) applyStake(sub authority.Submission) (model.StakePosition, error) {
	pos, err := e.book.ApplyStake(context.Background(), sub.User, sub.Amount, e.now())
	if err != nil {
		return model.StakePosition{}, err
	}
	logrus.WithFields(logrus.Fields{
		"user":    sub.User,
		"amount":  sub.Amount.String(),
		"staked":  pos.StakedAmount.String(),
		"tx_hash": sub.TxHash,
	}).Info("Stake applied")
	return pos, nil
}

// Claim settles the reward accrued by user at the rate for score.
func (e *Engine) Claim(ctx context.Context, user string, score model.Score) (res model.ClaimResult, err error) {
	const op = string(authority.OpClaim)
	ctx, span := otel.StartSpan(ctx, "engine.Claim", user)
	defer span.End()
	defer func() { e.finish(ctx, op, err) }()

	if user, err = validation.NormalizeAddress(user); err != nil {
		return model.ClaimResult{}, err
	}
	if err = validation.ValidateScore(score); err != nil {
		return model.ClaimResult{}, err
	}

	unlock, err := e.acquire(ctx, user)
	if err != nil {
		return model.ClaimResult{}, err
	}
	defer unlock()

	if err = e.book.CheckClaim(ctx, user, e.now()); err != nil {
		return model.ClaimResult{}, err
	}

	conf, err := e.submitAndConfirm(ctx, authority.OpClaim, pendingOp{}, func(ctx context.Context) (authority.Submission, error) {
		return e.auth.SubmitClaim(ctx, user, score)
	})
	if err != nil {
		return model.ClaimResult{}, err
	}
	return e.applyClaim(conf.Submission())
}

func (e *Engine) applyClaim(sub authority.Submission) (model.ClaimResult, error) {
	res, err := e.book.ApplyClaim(context.Background(), sub.User, sub.Score, e.now())
	if err != nil {
		return model.ClaimResult{}, err
	}
	reward, _ := res.Reward.Float64()
	e.metrics.RewardClaimed(reward)
	logrus.WithFields(logrus.Fields{
		"user":    sub.User,
		"score":   sub.Score,
		"reward":  res.Reward.String(),
		"tx_hash": sub.TxHash,
	}).Info("Claim applied")
	return res, nil
}

// Withdraw closes the position of user.
func (e *Engine) Withdraw(ctx context.Context, user string) (res model.WithdrawResult, err error) {
	const op = string(authority.OpWithdraw)
	ctx, span := otel.StartSpan(ctx, "engine.Withdraw", user)
	defer span.End()
	defer func() { e.finish(ctx, op, err) }()

	if user, err = validation.NormalizeAddress(user); err != nil {
		return model.WithdrawResult{}, err
	}

	unlock, err := e.acquire(ctx, user)
	if err != nil {
		return model.WithdrawResult{}, err
	}
	defer unlock()

	if err = e.book.CheckWithdraw(ctx, user); err != nil {
		return model.WithdrawResult{}, err
	}
	status, err := e.auth.ScoreStatus(ctx, user)
	if err != nil {
		return model.WithdrawResult{}, asSubmissionError("score_status", err)
	}

	conf, err := e.submitAndConfirm(ctx, authority.OpWithdraw, pendingOp{}, func(ctx context.Context) (authority.Submission, error) {
		return e.auth.SubmitWithdraw(ctx, user)
	})
	if err != nil {
		return model.WithdrawResult{}, err
	}
	sub := conf.Submission()
	sub.Score = status.Score
	return e.applyWithdraw(sub)
}

func (e *Engine) applyWithdraw(sub authority.Submission) (model.WithdrawResult, error) {
	res, err := e.book.ApplyWithdraw(context.Background(), sub.User, sub.Score, e.now())
	if err != nil {
		return model.WithdrawResult{}, err
	}
	logrus.WithFields(logrus.Fields{
		"user":      sub.User,
		"principal": res.Principal.String(),
		"settled":   res.Settled.String(),
		"forfeited": res.Forfeited.String(),
		"tx_hash":   sub.TxHash,
	}).Info("Withdrawal applied")
	return res, nil
}

// GetUserPosition returns the ledger position of user.
func (e *Engine) GetUserPosition(ctx context.Context, user string) (model.StakePosition, error) {
	user, err := validation.NormalizeAddress(user)
	if err != nil {
		return model.StakePosition{}, err
	}
	return e.book.Position(ctx, user)
}

// CanClaim reports whether user may claim now.
func (e *Engine) CanClaim(ctx context.Context, user string) (bool, error) {
	user, err := validation.NormalizeAddress(user)
	if err != nil {
		return false, err
	}
	return e.book.CanClaim(ctx, user, e.now())
}

// PendingReward previews the reward accrued by user since the last claim.
func (e *Engine) PendingReward(ctx context.Context, user string, score model.Score) (decimal.Decimal, error) {
	user, err := validation.NormalizeAddress(user)
	if err != nil {
		return decimal.Zero, err
	}
	if err := validation.ValidateScore(score); err != nil {
		return decimal.Zero, err
	}
	return e.book.Accrued(ctx, user, score, e.now())
}

// Sync reloads the position of user from the authority.
func (e *Engine) Sync(ctx context.Context, user string) (model.StakePosition, error) {
	user, err := validation.NormalizeAddress(user)
	if err != nil {
		return model.StakePosition{}, err
	}
	reader, ok := e.auth.(authority.PositionReader)
	if !ok {
		return model.StakePosition{}, ErrSyncUnsupported
	}

	unlock, err := e.acquire(ctx, user)
	if err != nil {
		return model.StakePosition{}, err
	}
	defer unlock()

	pos, err := reader.ReadPosition(ctx, user)
	if err != nil {
		return model.StakePosition{}, asSubmissionError("read_position", err)
	}
	pos.User = user
	return e.book.Restore(ctx, pos)
}

// Pending returns the submission of user that awaits confirmation, if any.
func (e *Engine) Pending(user string) (authority.Submission, bool) {
	user, err := validation.NormalizeAddress(user)
	if err != nil {
		return authority.Submission{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[user]
	return p.sub, ok
}

// ResumeResult is the outcome of a resumed operation. Exactly one of the
// result fields matching Op is set.
type ResumeResult struct {
	Op       authority.Op          `json:"op"`
	TxHash   string                `json:"txHash"`
	Score    *model.Score          `json:"score,omitempty"`
	Position *model.StakePosition  `json:"position,omitempty"`
	Claim    *model.ClaimResult    `json:"claim,omitempty"`
	Withdraw *model.WithdrawResult `json:"withdraw,omitempty"`
}

// Resume waits again for the pending operation of user and applies it once
// confirmed. A failed submission clears the pending marker.
func (e *Engine) Resume(ctx context.Context, user string) (res ResumeResult, err error) {
	ctx, span := otel.StartSpan(ctx, "engine.Resume", user)
	defer span.End()

	if user, err = validation.NormalizeAddress(user); err != nil {
		return ResumeResult{}, err
	}

	unlock, err := e.locks.LockContext(ctx, user)
	if err != nil {
		return ResumeResult{}, err
	}
	defer unlock()

	e.mu.Lock()
	p, ok := e.pending[user]
	e.mu.Unlock()
	if !ok {
		return ResumeResult{}, ErrNoPendingOperation
	}
	op := string(p.sub.Op)
	defer func() { e.finish(ctx, op, err) }()

	conf, err := e.confirm(ctx, p.sub)
	if err != nil {
		if !errors.Is(err, model.ErrOperationPending) {
			e.clearPending(user)
		}
		return ResumeResult{}, err
	}
	e.clearPending(user)

	sub := conf.Submission()
	res = ResumeResult{Op: sub.Op, TxHash: sub.TxHash}
	switch sub.Op {
	case authority.OpScore:
		score := e.applyScore(conf, p.metrics)
		res.Score = &score
	case authority.OpStake:
		pos, err := e.applyStake(sub)
		if err != nil {
			return ResumeResult{}, err
		}
		res.Position = &pos
	case authority.OpClaim:
		claim, err := e.applyClaim(sub)
		if err != nil {
			return ResumeResult{}, err
		}
		res.Claim = &claim
	case authority.OpWithdraw:
		status, err := e.auth.ScoreStatus(ctx, user)
		if err != nil {
			logrus.WithField("user", user).WithError(err).Warn("Score status unavailable, settling withdrawal at base rate")
		}
		sub.Score = status.Score
		w, err := e.applyWithdraw(sub)
		if err != nil {
			return ResumeResult{}, err
		}
		res.Withdraw = &w
	default:
		return ResumeResult{}, fmt.Errorf("unsupported pending operation %q", sub.Op)
	}
	return res, nil
}

// acquire takes the user lock and refuses to proceed while an earlier
// operation of the user awaits confirmation.
func (e *Engine) acquire(ctx context.Context, user string) (func(), error) {
	unlock, err := e.locks.LockContext(ctx, user)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	p, busy := e.pending[user]
	e.mu.Unlock()
	if busy {
		unlock()
		return nil, fmt.Errorf("%w: %s %s", model.ErrOperationPending, p.sub.Op, p.sub.TxHash)
	}
	return unlock, nil
}

// submitAndConfirm submits through the circuit breaker and waits for the
// confirmation. If it does not arrive in time the submission is parked as
// pending for the user.
func (e *Engine) submitAndConfirm(ctx context.Context, op authority.Op, p pendingOp, submit func(context.Context) (authority.Submission, error)) (authority.Confirmation, error) {
	if e.breaker != nil {
		if err := e.breaker.Allow(); err != nil {
			return nil, &model.SubmissionError{Op: string(op), Err: err}
		}
	}

	sub, err := submit(ctx)
	if err != nil {
		if e.breaker != nil {
			e.breaker.RecordFailure(err.Error())
		}
		return nil, asSubmissionError(string(op), err)
	}
	if e.breaker != nil {
		e.breaker.RecordSuccess()
	}

	conf, err := e.confirm(ctx, sub)
	if errors.Is(err, model.ErrOperationPending) {
		p.sub = sub
		e.mu.Lock()
		e.pending[sub.User] = p
		n := len(e.pending)
		e.mu.Unlock()
		e.metrics.PendingOperations(n)
		logrus.WithFields(logrus.Fields{
			"op":      sub.Op,
			"user":    sub.User,
			"tx_hash": sub.TxHash,
		}).Warn("Confirmation not observed in time, operation left pending")
	}
	return conf, err
}

// confirm waits up to the confirmation timeout.
func (e *Engine) confirm(ctx context.Context, sub authority.Submission) (authority.Confirmation, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	conf, err := e.auth.Confirm(waitCtx, sub)
	switch {
	case err == nil:
		e.metrics.Confirmed(string(sub.Op), e.now().Sub(sub.SubmittedAt))
		if r, ok := e.auth.(authority.Releaser); ok {
			r.Release(sub)
		}
		return conf, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return nil, &model.PendingError{Op: string(sub.Op), TxHash: sub.TxHash, Err: err}
	default:
		return nil, asSubmissionError(string(sub.Op), err)
	}
}

func (e *Engine) clearPending(user string) {
	e.mu.Lock()
	delete(e.pending, user)
	n := len(e.pending)
	e.mu.Unlock()
	e.metrics.PendingOperations(n)
}

// finish records the outcome of an operation on metrics and the span.
func (e *Engine) finish(ctx context.Context, op string, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, model.ErrOperationPending):
		status = "pending"
	case errors.Is(err, model.ErrSubmissionFailed):
		status = "submission_failed"
		e.metrics.SubmissionFailed(op)
	default:
		status = "rejected"
	}
	e.metrics.Operation(op, status)
	otel.RecordError(ctx, err)
}

// asSubmissionError makes sure an authority failure matches ErrSubmissionFailed.
func asSubmissionError(op string, err error) error {
	if errors.Is(err, model.ErrSubmissionFailed) {
		return err
	}
	return &model.SubmissionError{Op: op, Err: err}
}
