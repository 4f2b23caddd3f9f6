// Package chain talks to the EarnProtocol contract over JSON-RPC. It is the
// on-chain implementation of the scoring and staking authority.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/credit-stake-ea/internal/authority"
	"github.com/yourorg/credit-stake-ea/internal/model"
)

var (
	ErrRPCConnection       = errors.New("chain: RPC connection failed")
	ErrTransactionReverted = errors.New("chain: transaction reverted")
)

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

const (
	// DefaultGasLimit is used when gas estimation fails.
	DefaultGasLimit = uint64(500000)

	// DefaultPollInterval between receipt checks.
	DefaultPollInterval = 2 * time.Second
)

// Config for connecting to the contract.
type Config struct {
	RPCURL       string
	ChainID      int64
	Contract     string
	PollInterval time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithEthClient sets a custom Ethereum client.
func WithEthClient(ec EthClient) Option {
	return func(c *Client) { c.eth = ec }
}

// WithClock overrides the clock used to stamp submissions.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client is the EarnProtocol authority.
type Client struct {
	eth          EthClient
	signer       SignerResolver
	chainID      *big.Int
	contract     common.Address
	abi          abi.ABI
	scoreEventID common.Hash
	pollInterval time.Duration
	now          func() time.Time
}

var (
	_ authority.Authority      = (*Client)(nil)
	_ authority.PositionReader = (*Client)(nil)
)

// New creates a client bound to the configured contract.
func New(cfg Config, signer SignerResolver, opts ...Option) (*Client, error) {
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.Contract)
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("chain ID required")
	}
	parsed, err := ParseABI()
	if err != nil {
		return nil, err
	}

	c := &Client{
		signer:       signer,
		chainID:      big.NewInt(cfg.ChainID),
		contract:     common.HexToAddress(cfg.Contract),
		abi:          parsed,
		scoreEventID: crypto.Keccak256Hash([]byte(EventScoreCalculated)),
		pollInterval: cfg.PollInterval,
		now:          time.Now,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.eth == nil {
		if cfg.RPCURL == "" {
			return nil, fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
		}
		ec, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		c.eth = ec
	}
	return c, nil
}

// Close closes the RPC connection.
func (c *Client) Close() error {
	if c.eth != nil {
		c.eth.Close()
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return values, nil
}

// ScoreStatus implements authority.Authority.
func (c *Client) ScoreStatus(ctx context.Context, user string) (model.ScoreStatus, error) {
	values, err := c.call(ctx, "getUserScoreStatus", common.HexToAddress(user))
	if err != nil {
		return model.ScoreStatus{}, err
	}
	has, ok1 := values[0].(bool)
	raw, ok2 := values[1].(*big.Int)
	if !ok1 || !ok2 {
		return model.ScoreStatus{}, fmt.Errorf("unexpected getUserScoreStatus result %v", values)
	}
	if !raw.IsUint64() || raw.Uint64() > uint64(model.MaxScore) {
		return model.ScoreStatus{}, fmt.Errorf("%w: stored score %s out of range", model.ErrResultUnparseable, raw)
	}
	return model.ScoreStatus{HasScore: has, Score: model.Score(raw.Uint64())}, nil
}

// ReadPosition implements authority.PositionReader.
func (c *Client) ReadPosition(ctx context.Context, user string) (model.StakePosition, error) {
	addr := common.HexToAddress(user)
	values, err := c.call(ctx, "getUserData", addr)
	if err != nil {
		return model.StakePosition{}, err
	}
	staked, ok1 := values[0].(*big.Int)
	lastClaim, ok2 := values[1].(*big.Int)
	earned, ok3 := values[2].(*big.Int)
	hasStaked, ok4 := values[3].(bool)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return model.StakePosition{}, fmt.Errorf("unexpected getUserData result %v", values)
	}

	pos := model.NewStakePosition(addr.Hex())
	pos.StakedAmount = FromWei(staked)
	pos.TotalEarned = FromWei(earned)
	pos.HasStaked = hasStaked
	if lastClaim.Sign() > 0 && lastClaim.IsInt64() {
		pos.LastClaimAt = time.Unix(lastClaim.Int64(), 0).UTC()
	}
	return pos, nil
}

// CanClaim asks the contract whether user may claim now.
func (c *Client) CanClaim(ctx context.Context, user string) (bool, error) {
	values, err := c.call(ctx, "canClaim", common.HexToAddress(user))
	if err != nil {
		return false, err
	}
	ok, isBool := values[0].(bool)
	if !isBool {
		return false, fmt.Errorf("unexpected canClaim result %v", values)
	}
	return ok, nil
}

// SubmitScore implements authority.Authority. Encrypted requests go to
// calculateEncryptedScore; plain ones to calculatePlainScore.
func (c *Client) SubmitScore(ctx context.Context, req authority.ScoreRequest) (authority.Submission, error) {
	var (
		data []byte
		err  error
	)
	if req.Encrypted != nil {
		data, err = c.abi.Pack("calculateEncryptedScore", req.Encrypted.Handles, req.Encrypted.InputProof)
	} else {
		in := req.Inputs
		data, err = c.abi.Pack("calculatePlainScore", in[0], in[1], in[2], in[3], in[4], in[5])
	}
	if err != nil {
		return authority.Submission{}, &model.SubmissionError{Op: string(authority.OpScore), Err: err}
	}
	return c.transact(ctx, authority.NewSubmission(authority.OpScore, req.User, c.now()), data, nil)
}

// SubmitStake implements authority.Authority.
func (c *Client) SubmitStake(ctx context.Context, user string, amount decimal.Decimal) (authority.Submission, error) {
	sub := authority.NewSubmission(authority.OpStake, user, c.now())
	sub.Amount = amount
	data, err := c.abi.Pack("stake")
	if err != nil {
		return authority.Submission{}, &model.SubmissionError{Op: string(sub.Op), Err: err}
	}
	return c.transact(ctx, sub, data, ToWei(amount))
}

// SubmitClaim implements authority.Authority.
func (c *Client) SubmitClaim(ctx context.Context, user string, score model.Score) (authority.Submission, error) {
	sub := authority.NewSubmission(authority.OpClaim, user, c.now())
	sub.Score = score
	data, err := c.abi.Pack("claimRewards", new(big.Int).SetUint64(uint64(score)))
	if err != nil {
		return authority.Submission{}, &model.SubmissionError{Op: string(sub.Op), Err: err}
	}
	return c.transact(ctx, sub, data, nil)
}

// SubmitWithdraw implements authority.Authority.
func (c *Client) SubmitWithdraw(ctx context.Context, user string) (authority.Submission, error) {
	sub := authority.NewSubmission(authority.OpWithdraw, user, c.now())
	data, err := c.abi.Pack("withdraw")
	if err != nil {
		return authority.Submission{}, &model.SubmissionError{Op: string(sub.Op), Err: err}
	}
	return c.transact(ctx, sub, data, nil)
}

// transact signs and sends a contract call on behalf of sub.User.
func (c *Client) transact(ctx context.Context, sub authority.Submission, data []byte, value *big.Int) (authority.Submission, error) {
	op := string(sub.Op)
	from := common.HexToAddress(sub.User)
	if value == nil {
		value = big.NewInt(0)
	}

	key, err := c.signer.SignerFor(from)
	if err != nil {
		return authority.Submission{}, &model.SubmissionError{Op: op, Err: err}
	}

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return authority.Submission{}, &model.SubmissionError{Op: op, Err: fmt.Errorf("nonce: %w", err)}
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return authority.Submission{}, &model.SubmissionError{Op: op, Err: fmt.Errorf("gas price: %w", err)}
	}

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &c.contract,
		Value: value,
		Data:  data,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{"op": op, "user": sub.User}).WithError(err).
			Debug("Gas estimation failed, using default limit")
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return authority.Submission{}, &model.SubmissionError{Op: op, Err: fmt.Errorf("sign: %w", err)}
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return authority.Submission{}, &model.SubmissionError{Op: op, TxHash: signed.Hash().Hex(), Err: err}
	}

	sub.TxHash = signed.Hash().Hex()
	logrus.WithFields(logrus.Fields{
		"op":      op,
		"user":    sub.User,
		"tx_hash": sub.TxHash,
		"nonce":   nonce,
	}).Info("Transaction sent")
	return sub, nil
}

// Confirm implements authority.Authority. It polls for the receipt until it
// is mined or ctx is done; a missing receipt is treated as not yet mined.
func (c *Client) Confirm(ctx context.Context, sub authority.Submission) (authority.Confirmation, error) {
	hash := common.HexToHash(sub.TxHash)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return c.confirmation(sub, receipt)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) confirmation(sub authority.Submission, receipt *types.Receipt) (authority.Confirmation, error) {
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, &model.SubmissionError{Op: string(sub.Op), TxHash: sub.TxHash, Err: ErrTransactionReverted}
	}
	if sub.Op != authority.OpScore {
		return authority.NewReceipt(sub), nil
	}

	user := common.HexToAddress(sub.User)
	for _, lg := range receipt.Logs {
		if lg.Address != c.contract || len(lg.Topics) < 2 || lg.Topics[0] != c.scoreEventID {
			continue
		}
		if common.BytesToAddress(lg.Topics[1].Bytes()) != user {
			continue
		}
		values, err := c.abi.Unpack("ScoreCalculated", lg.Data)
		if err != nil || len(values) != 1 {
			return authority.NewUnparseableResult(sub, fmt.Errorf("malformed score record: %v", err)), nil
		}
		raw, ok := values[0].(*big.Int)
		if !ok || !raw.IsUint64() || raw.Uint64() > uint64(model.MaxScore) {
			return authority.NewUnparseableResult(sub, fmt.Errorf("score record value %v out of range", values[0])), nil
		}
		return authority.NewScoreResult(sub, model.Score(raw.Uint64())), nil
	}
	return authority.NewReceipt(sub), nil
}
