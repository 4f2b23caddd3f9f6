// Package fetch retrieves wallet activity from analytics providers and
// derives the metrics a score is computed from.
package fetch

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/yourorg/credit-stake-ea/internal/model"
)

// Source defines the interface that every metrics provider must implement.
type Source interface {
	// FetchWalletMetrics retrieves the activity metrics of a wallet.
	FetchWalletMetrics(ctx context.Context, address string) (model.WalletMetrics, error)
}

// NewRetryClient creates a new HTTP client with retry capabilities
func NewRetryClient(retryMax int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	return c
}

// StandardClient converts a retryablehttp.Client to a standard http.Client
func StandardClient(retryClient *retryablehttp.Client) *http.Client {
	return retryClient.StandardClient()
}
