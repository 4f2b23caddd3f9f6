package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/credit-stake-ea/internal/model"
	"github.com/yourorg/credit-stake-ea/internal/validation"
)

// DefaultCovalentURL is the public Covalent API endpoint.
const DefaultCovalentURL = "https://api.covalenthq.com"

// DefaultPageSize is the number of transactions requested per wallet.
const DefaultPageSize = 1000

// CovalentConfig configures the Covalent client.
type CovalentConfig struct {
	BaseURL   string
	APIKey    string
	ChainName string // e.g. "eth-mainnet"
	PageSize  int
	RetryMax  int
	RPS       float64 // Requests per second; 0 disables pacing
}

// CovalentClient implements Source on top of the Covalent balances and
// transactions endpoints.
type CovalentClient struct {
	baseURL    string
	apiKey     string
	chainName  string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewCovalentClient creates a new Covalent API client
func NewCovalentClient(cfg CovalentConfig) *CovalentClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCovalentURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	c := &CovalentClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		chainName:  cfg.ChainName,
		pageSize:   cfg.PageSize,
		httpClient: StandardClient(NewRetryClient(cfg.RetryMax)),
		now:        time.Now,
	}
	if cfg.RPS > 0 {
		burst := int(math.Ceil(cfg.RPS))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return c
}

type balancesResponse struct {
	Data struct {
		Items []struct {
			ContractTickerSymbol string `json:"contract_ticker_symbol"`
			NativeToken          bool   `json:"native_token"`
			Balance              string `json:"balance"`
		} `json:"items"`
	} `json:"data"`
}

type transactionsResponse struct {
	Data struct {
		Items []covalentTx `json:"items"`
	} `json:"data"`
}

type covalentTx struct {
	BlockSignedAt time.Time `json:"block_signed_at"`
	GasSpent      int64     `json:"gas_spent"`
	Value         string    `json:"value"`
	FromAddress   string    `json:"from_address"`
	ToAddress     string    `json:"to_address"`
}

// FetchWalletMetrics implements Source. Balances and transactions are fetched
// concurrently. A transactions failure fails the fetch; a balances failure
// only zeroes the ETH balance.
func (c *CovalentClient) FetchWalletMetrics(ctx context.Context, address string) (model.WalletMetrics, error) {
	addr, err := validation.NormalizeAddress(address)
	if err != nil {
		return model.WalletMetrics{}, err
	}

	var (
		wg      sync.WaitGroup
		bal     balancesResponse
		txs     transactionsResponse
		balErr  error
		txErr   error
		base    = fmt.Sprintf("%s/v1/%s/address/%s", c.baseURL, url.PathEscape(c.chainName), addr)
		txQuery = url.Values{"page-size": {fmt.Sprint(c.pageSize)}, "quote-currency": {"USD"}}
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		balErr = c.get(ctx, base+"/balances_v2/", nil, &bal)
	}()
	go func() {
		defer wg.Done()
		txErr = c.get(ctx, base+"/transactions_v2/", txQuery, &txs)
	}()
	wg.Wait()

	if txErr != nil {
		return model.WalletMetrics{}, fmt.Errorf("error fetching transactions for %s: %w", addr, txErr)
	}

	metrics := c.deriveFromTransactions(addr, txs.Data.Items)
	if balErr != nil {
		logrus.WithField("user", addr).WithError(balErr).Warn("Balance fetch failed, using zero ETH balance")
	} else {
		metrics.ETHBalance = nativeBalance(bal)
	}

	metrics = validation.Sanitize(metrics)
	logrus.WithFields(logrus.Fields{
		"user":         addr,
		"transactions": metrics.TransactionCount,
		"age_days":     metrics.WalletAgeDays,
	}).Debug("Derived wallet metrics")
	return metrics, nil
}

func (c *CovalentClient) get(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	logrus.Debugf("Fetching wallet data from Covalent: %s", endpoint)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching data from Covalent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("Covalent API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

// deriveFromTransactions computes every metric except the ETH balance.
func (c *CovalentClient) deriveFromTransactions(addr string, items []covalentTx) model.WalletMetrics {
	var (
		m        model.WalletMetrics
		oldest   time.Time
		totalWei = decimal.Zero
		self     = strings.ToLower(addr)
		counter  = make(map[string]struct{})
	)

	m.TransactionCount = int64(len(items))
	for _, tx := range items {
		if !tx.BlockSignedAt.IsZero() && (oldest.IsZero() || tx.BlockSignedAt.Before(oldest)) {
			oldest = tx.BlockSignedAt
		}
		if tx.GasSpent > 0 {
			m.TotalGasUsed += tx.GasSpent
		}
		if v, err := decimal.NewFromString(tx.Value); err == nil && v.IsPositive() {
			totalWei = totalWei.Add(v)
		}
		if to := strings.ToLower(tx.ToAddress); to != "" && to != self {
			counter[to] = struct{}{}
		}
	}
	m.UniqueContracts = int64(len(counter))

	if !oldest.IsZero() {
		m.WalletAgeDays = int64(c.now().Sub(oldest) / (24 * time.Hour))
	}
	if m.TransactionCount > 0 {
		avg, _ := totalWei.Shift(-18).Div(decimal.NewFromInt(m.TransactionCount)).Float64()
		m.AverageTransactionValue = avg
	}
	return m
}

func nativeBalance(bal balancesResponse) float64 {
	for _, item := range bal.Data.Items {
		if !item.NativeToken && item.ContractTickerSymbol != "ETH" {
			continue
		}
		wei, err := decimal.NewFromString(item.Balance)
		if err != nil {
			return 0
		}
		eth, _ := wei.Shift(-18).Float64()
		return eth
	}
	return 0
}
