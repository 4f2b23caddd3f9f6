package engine

import (
	"context"
	"fmt"

	"github.com/yourorg/credit-stake-ea/internal/model"
	"github.com/yourorg/credit-stake-ea/internal/scoring"
	"github.com/yourorg/credit-stake-ea/internal/validation"
)

// Analysis is a fetched metrics set together with the committed score.
type Analysis struct {
	User    string              `json:"user"`
	Metrics model.WalletMetrics `json:"metrics"`
	// Local is the breakdown of the local computation, for display
	Local scoring.Breakdown `json:"local"`
	Score model.Score       `json:"score"`
	Rate  float64           `json:"rate"`
}

// Analyze fetches the wallet metrics of user from the configured source and
// scores them.
func (e *Engine) Analyze(ctx context.Context, user string) (Analysis, error) {
	if e.source == nil {
		return Analysis{}, ErrNoMetricsSource
	}
	user, err := validation.NormalizeAddress(user)
	if err != nil {
		return Analysis{}, err
	}

	m, err := e.source.FetchWalletMetrics(ctx, user)
	if err != nil {
		return Analysis{}, fmt.Errorf("fetching metrics for %s: %w", user, err)
	}

	score, err := e.ComputeScore(ctx, user, m)
	if err != nil {
		return Analysis{}, err
	}
	return Analysis{
		User:    user,
		Metrics: m,
		Local:   scoring.Explain(m),
		Score:   score,
		Rate:    scoring.ResolveRate(score),
	}, nil
}
