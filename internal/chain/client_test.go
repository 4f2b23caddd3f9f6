package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/credit-stake-ea/internal/authority"
	"github.com/yourorg/credit-stake-ea/internal/model"
	"github.com/yourorg/credit-stake-ea/internal/scoring"
	"github.com/yourorg/credit-stake-ea/internal/session"
)

const contractAddr = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

type fakeEthClient struct {
	mu          sync.Mutex
	sent        []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	receiptFor  func(tx *types.Transaction) *types.Receipt
	callResults map[string][]byte
	sendErr     error
	estimateErr error
	calls       int
}

func newFakeEthClient() *fakeEthClient {
	return &fakeEthClient{
		receipts:    make(map[common.Hash]*types.Receipt),
		callResults: make(map[string][]byte),
	}
}

func (f *fakeEthClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeEthClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeEthClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 210000, nil
}

func (f *fakeEthClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	if f.receiptFor != nil {
		if r := f.receiptFor(tx); r != nil {
			f.receipts[tx.Hash()] = r
		}
	}
	return nil
}

func (f *fakeEthClient) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeEthClient) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out, ok := f.callResults[hexutil.Encode(call.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (f *fakeEthClient) Close() {}

func (f *fakeEthClient) lastSent() *types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type harness struct {
	client *Client
	eth    *fakeEthClient
	user   common.Address
}

func newHarness(t *testing.T) harness {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ring, err := NewKeyRing(hexutil.Encode(crypto.FromECDSA(key)))
	require.NoError(t, err)

	eth := newFakeEthClient()
	c, err := New(Config{ChainID: 11155111, Contract: contractAddr, PollInterval: 5 * time.Millisecond}, ring, WithEthClient(eth))
	require.NoError(t, err)

	return harness{client: c, eth: eth, user: crypto.PubkeyToAddress(key.PublicKey)}
}

func (h harness) selector(method string) string {
	return hexutil.Encode(h.client.abi.Methods[method].ID)
}

func (h harness) scoreLog(t *testing.T, user common.Address, score int64) *types.Log {
	t.Helper()
	data, err := h.client.abi.Events["ScoreCalculated"].Inputs.NonIndexed().Pack(big.NewInt(score))
	require.NoError(t, err)
	return &types.Log{
		Address: h.client.contract,
		Topics:  []common.Hash{h.client.scoreEventID, common.BytesToHash(user.Bytes())},
		Data:    data,
	}
}

func successReceipt(logs ...*types.Log) *types.Receipt {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(42), Logs: logs}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{ChainID: 1, Contract: "nope"}, &KeyRing{}, WithEthClient(newFakeEthClient()))
	assert.Error(t, err)

	_, err = New(Config{Contract: contractAddr}, &KeyRing{}, WithEthClient(newFakeEthClient()))
	assert.Error(t, err)

	_, err = New(Config{ChainID: 1, Contract: contractAddr}, &KeyRing{})
	assert.ErrorIs(t, err, ErrRPCConnection)
}

func TestSubmitScoreAndConfirm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.eth.receiptFor = func(*types.Transaction) *types.Receipt {
		return successReceipt(h.scoreLog(t, h.user, 873))
	}

	metrics := model.WalletMetrics{WalletAgeDays: 365, ETHBalance: 2.5}
	sub, err := h.client.SubmitScore(ctx, authority.ScoreRequest{
		User:    h.user.Hex(),
		Metrics: metrics,
		Inputs:  scoring.ContractInputs(metrics),
	})
	require.NoError(t, err)
	assert.Equal(t, authority.OpScore, sub.Op)

	tx := h.eth.lastSent()
	assert.Equal(t, sub.TxHash, tx.Hash().Hex())
	assert.Equal(t, h.client.abi.Methods["calculatePlainScore"].ID, tx.Data()[:4])

	args, err := h.client.abi.Methods["calculatePlainScore"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, uint64(365), args[0])
	assert.Equal(t, uint64(2_500_000), args[2])

	conf, err := h.client.Confirm(ctx, sub)
	require.NoError(t, err)
	score, err := conf.Score()
	require.NoError(t, err)
	assert.Equal(t, model.Score(873), score)
}

func TestSubmitEncryptedScore(t *testing.T) {
	h := newHarness(t)
	enc := &session.EncryptedInput{Handles: make([][32]byte, scoring.NumSubScores), InputProof: []byte{0xaa}}
	enc.Handles[5][0] = 0x07

	_, err := h.client.SubmitScore(context.Background(), authority.ScoreRequest{User: h.user.Hex(), Encrypted: enc})
	require.NoError(t, err)

	tx := h.eth.lastSent()
	method := h.client.abi.Methods["calculateEncryptedScore"]
	assert.Equal(t, method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, enc.Handles, args[0])
	assert.Equal(t, []byte{0xaa}, args[1])
}

func TestConfirmScoreRecordVariants(t *testing.T) {
	h := newHarness(t)
	other := common.HexToAddress("0x8617E340B3D01FA5F11F306F4090FD50E238070D")

	tests := []struct {
		name      string
		logs      func() []*types.Log
		wantScore model.Score
		wantErr   error
	}{
		{
			name:    "no record",
			logs:    func() []*types.Log { return nil },
			wantErr: model.ErrResultUnparseable,
		},
		{
			name:    "record for another user",
			logs:    func() []*types.Log { return []*types.Log{h.scoreLog(t, other, 500)} },
			wantErr: model.ErrResultUnparseable,
		},
		{
			name:    "out of range",
			logs:    func() []*types.Log { return []*types.Log{h.scoreLog(t, h.user, 5000)} },
			wantErr: model.ErrResultUnparseable,
		},
		{
			name: "truncated data",
			logs: func() []*types.Log {
				lg := h.scoreLog(t, h.user, 10)
				lg.Data = lg.Data[:8]
				return []*types.Log{lg}
			},
			wantErr: model.ErrResultUnparseable,
		},
		{
			name: "skips unrelated logs",
			logs: func() []*types.Log {
				return []*types.Log{{Address: h.client.contract, Topics: []common.Hash{{0x01}}}, h.scoreLog(t, h.user, 640)}
			},
			wantScore: 640,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := tt.logs()
			h.eth.receiptFor = func(*types.Transaction) *types.Receipt { return successReceipt(logs...) }

			sub, err := h.client.SubmitScore(context.Background(), authority.ScoreRequest{User: h.user.Hex()})
			require.NoError(t, err)
			conf, err := h.client.Confirm(context.Background(), sub)
			require.NoError(t, err)

			score, err := conf.Score()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, score)
		})
	}
}

func TestConfirmRevertedTransaction(t *testing.T) {
	h := newHarness(t)
	h.eth.receiptFor = func(*types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusFailed}
	}

	sub, err := h.client.SubmitClaim(context.Background(), h.user.Hex(), 850)
	require.NoError(t, err)

	_, err = h.client.Confirm(context.Background(), sub)
	assert.ErrorIs(t, err, model.ErrSubmissionFailed)
	assert.ErrorIs(t, err, ErrTransactionReverted)

	var subErr *model.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, sub.TxHash, subErr.TxHash)
}

func TestConfirmWaitsUntilContextDone(t *testing.T) {
	h := newHarness(t)

	sub, err := h.client.SubmitWithdraw(context.Background(), h.user.Hex())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = h.client.Confirm(ctx, sub)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	h.eth.mu.Lock()
	h.eth.receipts[common.HexToHash(sub.TxHash)] = successReceipt()
	h.eth.mu.Unlock()

	conf, err := h.client.Confirm(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, authority.OpWithdraw, conf.Submission().Op)
}

func TestSubmitStakeCarriesValue(t *testing.T) {
	h := newHarness(t)
	h.eth.estimateErr = errors.New("estimate failed")

	sub, err := h.client.SubmitStake(context.Background(), h.user.Hex(), decimal.RequireFromString("2.0"))
	require.NoError(t, err)
	assert.True(t, sub.Amount.Equal(decimal.RequireFromString("2")))

	tx := h.eth.lastSent()
	want, _ := new(big.Int).SetString("2000000000000000000", 10)
	assert.Equal(t, 0, tx.Value().Cmp(want))
	assert.Equal(t, DefaultGasLimit, tx.Gas())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(11155111)), tx)
	require.NoError(t, err)
	assert.Equal(t, h.user, from)
}

func TestSubmitErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.SubmitWithdraw(context.Background(), "0x8617E340B3D01FA5F11F306F4090FD50E238070D")
	assert.ErrorIs(t, err, model.ErrSubmissionFailed)
	assert.ErrorIs(t, err, ErrNoSigner)

	h.eth.sendErr = errors.New("insufficient funds")
	_, err = h.client.SubmitStake(context.Background(), h.user.Hex(), decimal.NewFromInt(1))
	var subErr *model.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "stake", subErr.Op)
	assert.NotEmpty(t, subErr.TxHash)
}

func TestViewCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	status, err := h.client.abi.Methods["getUserScoreStatus"].Outputs.Pack(true, big.NewInt(812))
	require.NoError(t, err)
	h.eth.callResults[h.selector("getUserScoreStatus")] = status

	wei, _ := new(big.Int).SetString("1500000000000000000", 10)
	data, err := h.client.abi.Methods["getUserData"].Outputs.Pack(wei, big.NewInt(1_700_000_000), big.NewInt(1_000_000_000_000_000), true)
	require.NoError(t, err)
	h.eth.callResults[h.selector("getUserData")] = data

	claim, err := h.client.abi.Methods["canClaim"].Outputs.Pack(true)
	require.NoError(t, err)
	h.eth.callResults[h.selector("canClaim")] = claim

	got, err := h.client.ScoreStatus(ctx, h.user.Hex())
	require.NoError(t, err)
	assert.Equal(t, model.ScoreStatus{HasScore: true, Score: 812}, got)

	pos, err := h.client.ReadPosition(ctx, h.user.Hex())
	require.NoError(t, err)
	assert.True(t, pos.StakedAmount.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, pos.TotalEarned.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, pos.HasStaked)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), pos.LastClaimAt)

	ok, err := h.client.CanClaim(ctx, h.user.Hex())
	require.NoError(t, err)
	assert.True(t, ok)

	delete(h.eth.callResults, h.selector("getUserScoreStatus"))
	_, err = h.client.ScoreStatus(ctx, h.user.Hex())
	assert.ErrorContains(t, err, "getUserScoreStatus")
}

func TestWeiConversion(t *testing.T) {
	wei := ToWei(decimal.RequireFromString("0.000000000000000001"))
	assert.Equal(t, int64(1), wei.Int64())

	assert.True(t, FromWei(big.NewInt(1)).Equal(decimal.New(1, -18)))
	assert.True(t, FromWei(nil).IsZero())
	assert.True(t, FromWei(ToWei(decimal.RequireFromString("12.345"))).Equal(decimal.RequireFromString("12.345")))
}

func TestKeyRing(t *testing.T) {
	_, err := NewKeyRing("abc")
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)

	ring, err := NewKeyRing("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	require.Len(t, ring.Addresses(), 1)

	_, err = ring.SignerFor(ring.Addresses()[0])
	assert.NoError(t, err)
}
