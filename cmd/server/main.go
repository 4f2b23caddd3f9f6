// Package main is the entry point for the credit-stake service: it scores
// wallets, commits the scores through the scoring authority, and manages
// score-tiered staking positions over an HTTP JSON API.
package main

import (
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/credit-stake-ea/internal/authority"
	"github.com/yourorg/credit-stake-ea/internal/chain"
	"github.com/yourorg/credit-stake-ea/internal/circuitbreaker"
	"github.com/yourorg/credit-stake-ea/internal/config"
	"github.com/yourorg/credit-stake-ea/internal/engine"
	"github.com/yourorg/credit-stake-ea/internal/fetch"
	"github.com/yourorg/credit-stake-ea/internal/ledger"
	"github.com/yourorg/credit-stake-ea/internal/metrics"
	"github.com/yourorg/credit-stake-ea/internal/otel"
	"github.com/yourorg/credit-stake-ea/internal/security"
	"github.com/yourorg/credit-stake-ea/internal/session"
)

// main is the entry point for the application
func main() {
	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	setupLogging(cfg.LogFormat, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logrus.Fatal(err)
	}

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	rec := metrics.NewRecorder(prometheus.DefaultRegisterer)
	breaker := newBreaker(cfg, rec)

	auth, closeAuth, err := newAuthority(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize authority: %v", err)
	}
	defer closeAuth()

	sess, err := newSession(cfg)
	if err != nil {
		logrus.Fatalf("Failed to open encryption session: %v", err)
	}
	defer sess.Close()

	eng := engine.New(auth, ledger.New(ledger.NewMemoryStore(), cfg.Policy()), engine.Options{
		ConfirmTimeout: cfg.ConfirmationTimeout,
		Metrics:        rec,
		Breaker:        breaker,
		Session:        sess,
		Source:         newSource(cfg),
	})

	var attestor *security.Attestor
	if cfg.AttestationEnabled {
		if attestor, err = security.NewAttestor(cfg.AttestationKey, cfg.AttestationValidity); err != nil {
			logrus.Fatalf("Failed to initialize attestation: %v", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"port":            cfg.Port,
		"network":         cfg.Network,
		"on_chain":        cfg.RPCURL != "",
		"encrypted":       sess.Encrypted(),
		"stake_policy":    cfg.StakePolicy,
		"withdraw_policy": cfg.WithdrawPolicy,
		"claim_period":    cfg.ClaimPeriod,
		"attestation":     attestor != nil,
	}).Info("Server initialized")

	server := NewServer(ServerConfig{
		Port:           cfg.Port,
		RequestTimeout: cfg.RequestTimeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, eng, breaker, rec, prometheus.DefaultGatherer, attestor)
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging(format, level string) {
	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch strings.ToLower(level) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

func newBreaker(cfg config.Config, rec *metrics.Recorder) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(circuitbreaker.Thresholds{FailureThreshold: cfg.BreakerFailureThreshold}).
		WithResetDelay(cfg.CircuitResetDelay).
		WithStateCallback(func(s circuitbreaker.State) { rec.BreakerState(int(s)) }).
		WithTripCallback(func(reason string) {
			logrus.WithField("reason", reason).Error("Authority submissions suspended")
		})
}

// newAuthority connects to the staking contract when RPC_URL is set and
// otherwise runs the in-process authority.
func newAuthority(cfg config.Config) (authority.Authority, func(), error) {
	if cfg.RPCURL == "" {
		logrus.Warn("RPC_URL not set, using in-process authority")
		return authority.NewLocal(authority.WithPolicy(cfg.Policy())), func() {}, nil
	}

	keys, err := chain.NewKeyRing(cfg.SignerKeys...)
	if err != nil {
		return nil, nil, err
	}
	client, err := chain.New(chain.Config{
		RPCURL:       cfg.RPCURL,
		ChainID:      cfg.NetworkConfig().ChainID,
		Contract:     cfg.ContractAddress,
		PollInterval: cfg.ReceiptPollInterval,
	}, keys)
	if err != nil {
		return nil, nil, err
	}
	logrus.WithFields(logrus.Fields{
		"contract": cfg.ContractAddress,
		"signers":  len(keys.Addresses()),
	}).Info("Connected to staking contract")
	return client, func() { client.Close() }, nil
}

// newSession opens the encryption session; inputs are encrypted only when a
// gateway is configured.
func newSession(cfg config.Config) (*session.Session, error) {
	contract := cfg.ContractAddress
	if contract == "" {
		contract = "0x0000000000000000000000000000000000000000"
	}
	var enc session.Encryptor
	if cfg.GatewayURL != "" {
		enc = session.NewGatewayEncryptor(cfg.GatewayURL, cfg.NetworkConfig().ChainID, cfg.FetchRetryMax)
	}
	return session.Open(session.Config{
		ChainID:    cfg.NetworkConfig().ChainID,
		Contract:   contract,
		ACLAddress: cfg.ACLAddress,
		KMSAddress: cfg.KMSAddress,
		GatewayURL: cfg.GatewayURL,
	}, enc)
}

func newSource(cfg config.Config) fetch.Source {
	if cfg.CovalentAPIKey == "" {
		logrus.Warn("COVALENT_API_KEY not set, /analyze is disabled")
		return nil
	}
	return fetch.NewCovalentClient(fetch.CovalentConfig{
		BaseURL:   cfg.CovalentURL,
		APIKey:    cfg.CovalentAPIKey,
		ChainName: cfg.NetworkConfig().AnalyticsName,
		RetryMax:  cfg.FetchRetryMax,
		RPS:       cfg.FetchRPS,
	})
}
