package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/yourorg/credit-stake-ea/internal/model"
)

const wallet = "0x52908400098527886E0F7030069857D2E4169EE7"

const balancesJSON = `{"data":{"items":[
	{"contract_ticker_symbol":"USDC","native_token":false,"balance":"5000000"},
	{"contract_ticker_symbol":"ETH","native_token":true,"balance":"2500000000000000000"}
]}}`

const transactionsJSON = `{"data":{"items":[
	{"block_signed_at":"2026-03-01T00:00:00Z","gas_spent":21000,"value":"1000000000000000000","from_address":"0x52908400098527886e0f7030069857d2e4169ee7","to_address":"0x1111111111111111111111111111111111111111"},
	{"block_signed_at":"2025-03-01T00:00:00Z","gas_spent":50000,"value":"0","from_address":"0x52908400098527886e0f7030069857d2e4169ee7","to_address":"0x2222222222222222222222222222222222222222"},
	{"block_signed_at":"2025-06-01T00:00:00Z","gas_spent":30000,"value":"500000000000000000","from_address":"0x3333333333333333333333333333333333333333","to_address":"0x52908400098527886e0f7030069857d2e4169ee7"},
	{"block_signed_at":"2025-09-01T00:00:00Z","gas_spent":null,"value":null,"from_address":"0x52908400098527886e0f7030069857d2e4169ee7","to_address":"0x1111111111111111111111111111111111111111"}
]}}`

func newTestClient(url string) *CovalentClient {
	c := NewCovalentClient(CovalentConfig{BaseURL: url, APIKey: "test-key", ChainName: "eth-mainnet", RetryMax: 0})
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestFetchWalletMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.True(t, strings.HasPrefix(r.URL.Path, "/v1/eth-mainnet/address/"+wallet+"/"), r.URL.Path)

		switch {
		case strings.HasSuffix(r.URL.Path, "/balances_v2/"):
			_, _ = w.Write([]byte(balancesJSON))
		case strings.HasSuffix(r.URL.Path, "/transactions_v2/"):
			assert.Equal(t, "1000", r.URL.Query().Get("page-size"))
			_, _ = w.Write([]byte(transactionsJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m, err := newTestClient(srv.URL).FetchWalletMetrics(context.Background(), strings.ToLower(wallet))
	require.NoError(t, err)

	assert.Equal(t, model.WalletMetrics{
		WalletAgeDays:           365,
		TransactionCount:        4,
		ETHBalance:              2.5,
		TotalGasUsed:            101000,
		AverageTransactionValue: 0.375,
		UniqueContracts:         2,
	}, m)
}

func TestFetchWalletMetricsEmptyWallet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"items":[]}}`))
	}))
	defer srv.Close()

	m, err := newTestClient(srv.URL).FetchWalletMetrics(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, model.WalletMetrics{}, m)
}

func TestFetchWalletMetricsBalanceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/balances_v2/") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(transactionsJSON))
	}))
	defer srv.Close()

	m, err := newTestClient(srv.URL).FetchWalletMetrics(context.Background(), wallet)
	require.NoError(t, err)
	assert.Zero(t, m.ETHBalance)
	assert.EqualValues(t, 4, m.TransactionCount)
}

func TestFetchWalletMetricsTransactionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/transactions_v2/") {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("invalid key"))
			return
		}
		_, _ = w.Write([]byte(balancesJSON))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchWalletMetrics(context.Background(), wallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestFetchWalletMetricsInvalidAddress(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchWalletMetrics(context.Background(), "0xnothex")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	assert.Zero(t, hits.Load())
}

func TestFetchWalletMetricsPacing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"data":{"items":[]}}`))
	}))
	defer srv.Close()

	c := NewCovalentClient(CovalentConfig{BaseURL: srv.URL, ChainName: "eth-mainnet", RPS: 1})
	require.NotNil(t, c.limiter)
	c.limiter = rate.NewLimiter(rate.Limit(0.001), 1)
	require.True(t, c.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.FetchWalletMetrics(ctx, wallet)
	assert.Error(t, err)
	assert.Zero(t, hits.Load())
}
