package authority

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/credit-stake-ea/internal/ledger"
	"github.com/yourorg/credit-stake-ea/internal/model"
	"github.com/yourorg/credit-stake-ea/internal/scoring"
)

// Local is an in-process authority. It keeps committed scores and positions
// in memory and finalizes submissions after a configurable delay. It backs
// the service when no chain endpoint is configured and serves as the test
// double for the engine.
type Local struct {
	mu        sync.Mutex
	scores    map[string]model.Score
	pending   map[uuid.UUID]localPending
	confirmed map[uuid.UUID]Confirmation
	requests  map[uuid.UUID]ScoreRequest

	book *ledger.Ledger

	delay       time.Duration
	submitErr   error
	omitScore   bool
	now         func() time.Time
	submissions atomic.Int64
	txCounter   atomic.Uint64
}

type localPending struct {
	sub     Submission
	readyAt time.Time
}

// LocalOption configures a Local authority.
type LocalOption func(*Local)

// WithConfirmDelay delays every confirmation by d.
func WithConfirmDelay(d time.Duration) LocalOption {
	return func(l *Local) { l.delay = d }
}

// WithSubmitError makes every submission fail with err.
func WithSubmitError(err error) LocalOption {
	return func(l *Local) { l.submitErr = err }
}

// WithoutScoreRecord confirms score submissions without emitting the score.
func WithoutScoreRecord() LocalOption {
	return func(l *Local) { l.omitScore = true }
}

// WithClock overrides the authority's clock.
func WithClock(now func() time.Time) LocalOption {
	return func(l *Local) { l.now = now }
}

// WithPolicy sets the staking rules the authority enforces.
func WithPolicy(p ledger.Policy) LocalOption {
	return func(l *Local) { l.book = ledger.New(ledger.NewMemoryStore(), p) }
}

// NewLocal creates an in-process authority.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		scores:    make(map[string]model.Score),
		pending:   make(map[uuid.UUID]localPending),
		confirmed: make(map[uuid.UUID]Confirmation),
		requests:  make(map[uuid.UUID]ScoreRequest),
		book:      ledger.New(ledger.NewMemoryStore(), ledger.DefaultPolicy()),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submissions reports how many operations were submitted.
func (l *Local) Submissions() int64 { return l.submissions.Load() }

// SetSubmitError changes the submission failure injected by the authority.
func (l *Local) SetSubmitError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitErr = err
}

// ScoreStatus implements Authority.
func (l *Local) ScoreStatus(ctx context.Context, user string) (model.ScoreStatus, error) {
	if err := ctx.Err(); err != nil {
		return model.ScoreStatus{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	score, ok := l.scores[user]
	return model.ScoreStatus{HasScore: ok, Score: score}, nil
}

// ReadPosition implements PositionReader.
func (l *Local) ReadPosition(ctx context.Context, user string) (model.StakePosition, error) {
	return l.book.Position(ctx, user)
}

func (l *Local) submit(ctx context.Context, sub Submission) (Submission, error) {
	if err := ctx.Err(); err != nil {
		return Submission{}, &model.SubmissionError{Op: string(sub.Op), Err: err}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.submitErr != nil {
		return Submission{}, &model.SubmissionError{Op: string(sub.Op), Err: l.submitErr}
	}
	l.submissions.Add(1)
	sub.TxHash = fmt.Sprintf("0x%064x", l.txCounter.Add(1))
	l.pending[sub.ID] = localPending{sub: sub, readyAt: l.now().Add(l.delay)}

	logrus.WithFields(logrus.Fields{
		"op":      sub.Op,
		"user":    sub.User,
		"tx_hash": sub.TxHash,
	}).Debug("Local authority accepted submission")
	return sub, nil
}

// SubmitScore implements Authority.
func (l *Local) SubmitScore(ctx context.Context, req ScoreRequest) (Submission, error) {
	sub, err := l.submit(ctx, NewSubmission(OpScore, req.User, l.now()))
	if err != nil {
		return Submission{}, err
	}
	l.mu.Lock()
	l.requests[sub.ID] = req
	l.mu.Unlock()
	return sub, nil
}

// SubmitStake implements Authority.
func (l *Local) SubmitStake(ctx context.Context, user string, amount decimal.Decimal) (Submission, error) {
	sub := NewSubmission(OpStake, user, l.now())
	sub.Amount = amount
	return l.submit(ctx, sub)
}

// SubmitClaim implements Authority.
func (l *Local) SubmitClaim(ctx context.Context, user string, score model.Score) (Submission, error) {
	sub := NewSubmission(OpClaim, user, l.now())
	sub.Score = score
	return l.submit(ctx, sub)
}

// SubmitWithdraw implements Authority.
func (l *Local) SubmitWithdraw(ctx context.Context, user string) (Submission, error) {
	return l.submit(ctx, NewSubmission(OpWithdraw, user, l.now()))
}

// Confirm implements Authority. Confirming an already finalized submission
// returns the original result until it is released.
func (l *Local) Confirm(ctx context.Context, sub Submission) (Confirmation, error) {
	l.mu.Lock()
	if c, ok := l.confirmed[sub.ID]; ok {
		l.mu.Unlock()
		return c, nil
	}
	p, ok := l.pending[sub.ID]
	l.mu.Unlock()
	if !ok {
		return nil, &model.SubmissionError{Op: string(sub.Op), TxHash: sub.TxHash, Err: errors.New("unknown submission")}
	}

	if wait := p.readyAt.Sub(l.now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.confirmed[sub.ID]; ok {
		return c, nil
	}

	c, err := l.finalize(ctx, p.sub)
	delete(l.pending, sub.ID)
	delete(l.requests, sub.ID)
	if err != nil {
		return nil, &model.SubmissionError{Op: string(sub.Op), TxHash: p.sub.TxHash, Err: err}
	}
	l.confirmed[sub.ID] = c
	return c, nil
}

// Release implements Releaser.
func (l *Local) Release(sub Submission) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.confirmed, sub.ID)
}

// finalize applies a submission to the authority's own state. Callers hold l.mu.
func (l *Local) finalize(ctx context.Context, sub Submission) (Confirmation, error) {
	at := l.now()
	switch sub.Op {
	case OpScore:
		req := l.requests[sub.ID]
		score, ok := l.scores[sub.User]
		if !ok || score == 0 {
			score = scoring.Compute(req.Metrics)
			l.scores[sub.User] = score
		}
		if l.omitScore {
			return NewReceipt(sub), nil
		}
		return NewScoreResult(sub, score), nil

	case OpStake:
		if _, err := l.book.ApplyStake(ctx, sub.User, sub.Amount, at); err != nil {
			return nil, fmt.Errorf("execution reverted: %w", err)
		}
	case OpClaim:
		if _, err := l.book.ApplyClaim(ctx, sub.User, sub.Score, at); err != nil {
			return nil, fmt.Errorf("execution reverted: %w", err)
		}
	case OpWithdraw:
		if _, err := l.book.ApplyWithdraw(ctx, sub.User, l.scores[sub.User], at); err != nil {
			return nil, fmt.Errorf("execution reverted: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported operation %q", sub.Op)
	}
	return NewReceipt(sub), nil
}
