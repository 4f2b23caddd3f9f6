package authority

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/credit-stake-ea/internal/model"
	"github.com/yourorg/credit-stake-ea/internal/scoring"
)

const user = "0x52908400098527886E0F7030069857D2E4169EE7"

func TestLocalScoreLifecycle(t *testing.T) {
	ctx := context.Background()
	a := NewLocal()

	status, err := a.ScoreStatus(ctx, user)
	require.NoError(t, err)
	assert.False(t, status.HasScore)

	metrics := model.WalletMetrics{TransactionCount: 300, ETHBalance: 2, WalletAgeDays: 1000}
	sub, err := a.SubmitScore(ctx, ScoreRequest{User: user, Metrics: metrics, Inputs: scoring.ContractInputs(metrics)})
	require.NoError(t, err)
	assert.Equal(t, OpScore, sub.Op)
	assert.NotEmpty(t, sub.TxHash)
	assert.EqualValues(t, 1, a.Submissions())

	conf, err := a.Confirm(ctx, sub)
	require.NoError(t, err)
	score, err := conf.Score()
	require.NoError(t, err)
	assert.Equal(t, model.Score(700), score)

	status, err = a.ScoreStatus(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, model.ScoreStatus{HasScore: true, Score: 700}, status)

	again, err := a.Confirm(ctx, sub)
	require.NoError(t, err)
	assert.Same(t, conf, again)
}

func TestLocalRecomputesZeroScore(t *testing.T) {
	ctx := context.Background()
	a := NewLocal()

	score := func(m model.WalletMetrics) model.Score {
		sub, err := a.SubmitScore(ctx, ScoreRequest{User: user, Metrics: m, Inputs: scoring.ContractInputs(m)})
		require.NoError(t, err)
		conf, err := a.Confirm(ctx, sub)
		require.NoError(t, err)
		s, err := conf.Score()
		require.NoError(t, err)
		return s
	}

	assert.Zero(t, score(model.WalletMetrics{}))
	metrics := model.WalletMetrics{TransactionCount: 300, ETHBalance: 2, WalletAgeDays: 1000}
	assert.Equal(t, model.Score(700), score(metrics))
	assert.Equal(t, model.Score(700), score(model.WalletMetrics{}))
}

func TestLocalWithoutScoreRecord(t *testing.T) {
	ctx := context.Background()
	a := NewLocal(WithoutScoreRecord())

	sub, err := a.SubmitScore(ctx, ScoreRequest{User: user})
	require.NoError(t, err)
	conf, err := a.Confirm(ctx, sub)
	require.NoError(t, err)

	_, err = conf.Score()
	assert.ErrorIs(t, err, model.ErrResultUnparseable)
}

func TestLocalSubmitError(t *testing.T) {
	ctx := context.Background()
	a := NewLocal(WithSubmitError(errors.New("connection refused")))

	_, err := a.SubmitStake(ctx, user, decimal.NewFromInt(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSubmissionFailed)

	var subErr *model.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "stake", subErr.Op)
	assert.EqualValues(t, 0, a.Submissions())
}

func TestLocalConfirmDelayRespectsContext(t *testing.T) {
	a := NewLocal(WithConfirmDelay(time.Hour))

	sub, err := a.SubmitStake(context.Background(), user, decimal.NewFromInt(1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Confirm(ctx, sub)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pos, err := a.ReadPosition(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, pos.HasStaked, "nothing applied before confirmation")
}

func TestLocalStakeClaimWithdraw(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewLocal(WithClock(func() time.Time { return now }))

	sub, err := a.SubmitStake(ctx, user, decimal.RequireFromString("2"))
	require.NoError(t, err)
	_, err = a.Confirm(ctx, sub)
	require.NoError(t, err)

	pos, err := a.ReadPosition(ctx, user)
	require.NoError(t, err)
	assert.True(t, pos.StakedAmount.Equal(decimal.RequireFromString("2")))

	early, err := a.SubmitClaim(ctx, user, 850)
	require.NoError(t, err)
	_, err = a.Confirm(ctx, early)
	assert.ErrorIs(t, err, model.ErrSubmissionFailed)
	assert.ErrorContains(t, err, "execution reverted")

	now = now.Add(24 * time.Hour)
	claim, err := a.SubmitClaim(ctx, user, 850)
	require.NoError(t, err)
	conf, err := a.Confirm(ctx, claim)
	require.NoError(t, err)
	_, err = conf.Score()
	assert.ErrorIs(t, err, model.ErrResultUnparseable, "staking receipts carry no score")

	w, err := a.SubmitWithdraw(ctx, user)
	require.NoError(t, err)
	_, err = a.Confirm(ctx, w)
	require.NoError(t, err)

	pos, err = a.ReadPosition(ctx, user)
	require.NoError(t, err)
	assert.False(t, pos.HasStaked)
}

func TestLocalConfirmUnknown(t *testing.T) {
	_, err := NewLocal().Confirm(context.Background(), NewSubmission(OpStake, user, time.Now()))
	assert.ErrorIs(t, err, model.ErrSubmissionFailed)
}

func TestNewScoreResultOutOfRange(t *testing.T) {
	r := NewScoreResult(NewSubmission(OpScore, user, time.Now()), 1001)
	_, err := r.Score()
	assert.ErrorIs(t, err, model.ErrResultUnparseable)
}

func TestLocalReleaseDropsConfirmation(t *testing.T) {
	ctx := context.Background()
	a := NewLocal()

	sub, err := a.SubmitStake(ctx, user, decimal.NewFromInt(1))
	require.NoError(t, err)
	_, err = a.Confirm(ctx, sub)
	require.NoError(t, err)
	assert.Len(t, a.confirmed, 1)

	a.Release(sub)
	a.Release(sub)
	assert.Empty(t, a.confirmed)
	assert.Empty(t, a.pending)
	assert.Empty(t, a.requests)

	_, err = a.Confirm(ctx, sub)
	assert.ErrorIs(t, err, model.ErrSubmissionFailed)
}
