// Package config provides configuration loading and management for the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/credit-stake-ea/internal/ledger"
	"github.com/yourorg/credit-stake-ea/internal/types"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port     string `json:"port"`
	LogLevel string `json:"log_level"`
	// LogFormat is "json" or "text"
	LogFormat string `json:"log_format"`

	// Network selects the chain ID and analytics chain name
	Network         string `json:"network"`
	RPCURL          string `json:"rpc_url"`
	ContractAddress string `json:"contract_address"`
	// SignerKeys are hex private keys that may sign for users; never read from a file
	SignerKeys []string `json:"-"`

	// Wallet analytics source
	CovalentURL    string  `json:"covalent_url"`
	CovalentAPIKey string  `json:"-"`
	FetchRetryMax  int     `json:"fetch_retry_max"`
	FetchRPS       float64 `json:"fetch_rps"`

	// Staking rules
	ClaimPeriod    time.Duration `json:"claim_period"`
	StakePolicy    string        `json:"stake_policy"`
	WithdrawPolicy string        `json:"withdraw_policy"`

	// Confirmation handling
	ConfirmationTimeout time.Duration `json:"confirmation_timeout"`
	ReceiptPollInterval time.Duration `json:"receipt_poll_interval"`

	// HTTP surface
	RequestTimeout time.Duration `json:"request_timeout"`
	RateLimitRPS   float64       `json:"rate_limit_rps"`
	RateLimitBurst int           `json:"rate_limit_burst"`

	// Circuit breaker settings
	BreakerFailureThreshold int           `json:"breaker_failure_threshold"`
	CircuitResetDelay       time.Duration `json:"circuit_reset_delay"`

	// OpenTelemetry endpoint for observability
	OtelEndpoint string `json:"otel_endpoint"`

	// Confidential-input settings; encryption is enabled when GatewayURL is set
	ACLAddress string `json:"fhe_acl_address"`
	KMSAddress string `json:"fhe_kms_address"`
	GatewayURL string `json:"fhe_gateway_url"`

	// Score attestation; an empty key signs with an ephemeral key
	AttestationEnabled  bool          `json:"attestation_enabled"`
	AttestationKey      string        `json:"-"`
	AttestationValidity time.Duration `json:"attestation_validity"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Port:                    "8080",
		LogLevel:                "info",
		LogFormat:               "json",
		Network:                 string(types.NetworkSepolia),
		CovalentURL:             "https://api.covalenthq.com/v1",
		FetchRetryMax:           3,
		ClaimPeriod:             ledger.DefaultClaimPeriod,
		StakePolicy:             ledger.StakeAdditive.String(),
		WithdrawPolicy:          ledger.WithdrawForfeit.String(),
		ConfirmationTimeout:     20 * time.Second,
		ReceiptPollInterval:     2 * time.Second,
		RequestTimeout:          30 * time.Second,
		RateLimitRPS:            20,
		RateLimitBurst:          40,
		BreakerFailureThreshold: 5,
		CircuitResetDelay:       30 * time.Second,
		AttestationValidity:     24 * time.Hour,
	}
}

// Load creates a new Config from environment variables. A .env file in the
// working directory is read first if present.
func Load() Config {
	loadDotEnv()
	return applyEnv(DefaultConfig())
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("Ignoring unreadable .env file")
	}
}

// applyEnv overlays every variable that is set onto cfg.
func applyEnv(cfg Config) Config {
	cfg.Port = GetEnvOrDefault("PORT", cfg.Port)
	cfg.LogLevel = strings.ToLower(GetEnvOrDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(GetEnvOrDefault("LOG_FORMAT", cfg.LogFormat))

	cfg.Network = strings.ToLower(GetEnvOrDefault("NETWORK", cfg.Network))
	cfg.RPCURL = GetEnvOrDefault("RPC_URL", cfg.RPCURL)
	cfg.ContractAddress = GetEnvOrDefault("CONTRACT_ADDRESS", cfg.ContractAddress)
	if raw, ok := GetEnv("SIGNER_PRIVATE_KEY"); ok {
		cfg.SignerKeys = splitList(raw)
	}

	cfg.CovalentURL = GetEnvOrDefault("COVALENT_URL", cfg.CovalentURL)
	cfg.CovalentAPIKey = GetEnvOrDefault("COVALENT_API_KEY", cfg.CovalentAPIKey)
	cfg.FetchRetryMax = GetEnvAsInt("FETCH_RETRY_MAX", cfg.FetchRetryMax)
	cfg.FetchRPS = GetEnvAsFloat("FETCH_RPS", cfg.FetchRPS)

	cfg.ClaimPeriod = GetEnvAsDuration("CLAIM_PERIOD", cfg.ClaimPeriod)
	cfg.StakePolicy = strings.ToLower(GetEnvOrDefault("STAKE_POLICY", cfg.StakePolicy))
	cfg.WithdrawPolicy = strings.ToLower(GetEnvOrDefault("WITHDRAW_POLICY", cfg.WithdrawPolicy))

	cfg.ConfirmationTimeout = GetEnvAsDuration("CONFIRMATION_TIMEOUT", cfg.ConfirmationTimeout)
	cfg.ReceiptPollInterval = GetEnvAsDuration("RECEIPT_POLL_INTERVAL", cfg.ReceiptPollInterval)

	cfg.RequestTimeout = GetEnvAsDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.RateLimitRPS = GetEnvAsFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = GetEnvAsInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)

	cfg.BreakerFailureThreshold = GetEnvAsInt("BREAKER_FAILURE_THRESHOLD", cfg.BreakerFailureThreshold)
	cfg.CircuitResetDelay = GetEnvAsDuration("CIRCUIT_RESET_DELAY", cfg.CircuitResetDelay)

	cfg.OtelEndpoint = GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OtelEndpoint)

	cfg.ACLAddress = GetEnvOrDefault("FHE_ACL_ADDRESS", cfg.ACLAddress)
	cfg.KMSAddress = GetEnvOrDefault("FHE_KMS_ADDRESS", cfg.KMSAddress)
	cfg.GatewayURL = GetEnvOrDefault("FHE_GATEWAY_URL", cfg.GatewayURL)

	cfg.AttestationEnabled = GetEnvAsBool("ATTESTATION_ENABLED", cfg.AttestationEnabled)
	cfg.AttestationKey = GetEnvOrDefault("ATTESTATION_KEY", cfg.AttestationKey)
	cfg.AttestationValidity = GetEnvAsDuration("ATTESTATION_VALIDITY", cfg.AttestationValidity)
	return cfg
}

// Validate rejects unknown policies and networks, malformed addresses, and
// non-positive durations.
func (c Config) Validate() error {
	var problems []string

	if _, err := types.Lookup(c.Network); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := ledger.ParseStakeMode(c.StakePolicy); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := ledger.ParseWithdrawMode(c.WithdrawPolicy); err != nil {
		problems = append(problems, err.Error())
	}
	if c.RPCURL != "" && !common.IsHexAddress(c.ContractAddress) {
		problems = append(problems, fmt.Sprintf("invalid contract address %q", c.ContractAddress))
	}
	for name, addr := range map[string]string{"FHE_ACL_ADDRESS": c.ACLAddress, "FHE_KMS_ADDRESS": c.KMSAddress} {
		if addr != "" && !common.IsHexAddress(addr) {
			problems = append(problems, fmt.Sprintf("invalid %s %q", name, addr))
		}
	}
	for name, d := range map[string]time.Duration{
		"CLAIM_PERIOD":          c.ClaimPeriod,
		"CONFIRMATION_TIMEOUT":  c.ConfirmationTimeout,
		"RECEIPT_POLL_INTERVAL": c.ReceiptPollInterval,
	} {
		if d <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive, got %s", name, d))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Policy builds the ledger policy. It assumes Validate has passed.
func (c Config) Policy() ledger.Policy {
	p := ledger.DefaultPolicy()
	p.ClaimPeriod = c.ClaimPeriod
	p.Stake, _ = ledger.ParseStakeMode(c.StakePolicy)
	p.Withdraw, _ = ledger.ParseWithdrawMode(c.WithdrawPolicy)
	return p
}

// NetworkConfig returns the parameters of the configured network.
func (c Config) NetworkConfig() types.NetworkConfig {
	n, _ := types.Lookup(c.Network)
	return n
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a bool with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
