package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// fileConfig mirrors Config with durations as strings ("24h", "20s").
type fileConfig struct {
	Port      *string `json:"port"`
	LogLevel  *string `json:"log_level"`
	LogFormat *string `json:"log_format"`

	Network         *string `json:"network"`
	RPCURL          *string `json:"rpc_url"`
	ContractAddress *string `json:"contract_address"`

	CovalentURL   *string  `json:"covalent_url"`
	FetchRetryMax *int     `json:"fetch_retry_max"`
	FetchRPS      *float64 `json:"fetch_rps"`

	ClaimPeriod    *string `json:"claim_period"`
	StakePolicy    *string `json:"stake_policy"`
	WithdrawPolicy *string `json:"withdraw_policy"`

	ConfirmationTimeout *string `json:"confirmation_timeout"`
	ReceiptPollInterval *string `json:"receipt_poll_interval"`

	RequestTimeout *string  `json:"request_timeout"`
	RateLimitRPS   *float64 `json:"rate_limit_rps"`
	RateLimitBurst *int     `json:"rate_limit_burst"`

	BreakerFailureThreshold *int    `json:"breaker_failure_threshold"`
	CircuitResetDelay       *string `json:"circuit_reset_delay"`

	OtelEndpoint *string `json:"otel_endpoint"`

	ACLAddress *string `json:"fhe_acl_address"`
	KMSAddress *string `json:"fhe_kms_address"`
	GatewayURL *string `json:"fhe_gateway_url"`

	AttestationEnabled  *bool   `json:"attestation_enabled"`
	AttestationValidity *string `json:"attestation_validity"`
}

// LoadFile loads configuration from a JSON file on top of the defaults, then
// applies environment variable overrides. Secrets are only read from the
// environment. An empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	loadDotEnv()
	cfg := DefaultConfig()
	if path == "" {
		return applyEnv(cfg), nil
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(fileData, &fc); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := fc.apply(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	logrus.Infof("Loaded configuration from %s", path)
	return applyEnv(cfg), nil
}

func (fc fileConfig) apply(cfg *Config) error {
	setString(&cfg.Port, fc.Port)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	setString(&cfg.Network, fc.Network)
	setString(&cfg.RPCURL, fc.RPCURL)
	setString(&cfg.ContractAddress, fc.ContractAddress)
	setString(&cfg.CovalentURL, fc.CovalentURL)
	setString(&cfg.StakePolicy, fc.StakePolicy)
	setString(&cfg.WithdrawPolicy, fc.WithdrawPolicy)
	setString(&cfg.OtelEndpoint, fc.OtelEndpoint)
	setString(&cfg.ACLAddress, fc.ACLAddress)
	setString(&cfg.KMSAddress, fc.KMSAddress)
	setString(&cfg.GatewayURL, fc.GatewayURL)

	if fc.FetchRetryMax != nil {
		cfg.FetchRetryMax = *fc.FetchRetryMax
	}
	if fc.FetchRPS != nil {
		cfg.FetchRPS = *fc.FetchRPS
	}
	if fc.RateLimitRPS != nil {
		cfg.RateLimitRPS = *fc.RateLimitRPS
	}
	if fc.RateLimitBurst != nil {
		cfg.RateLimitBurst = *fc.RateLimitBurst
	}
	if fc.BreakerFailureThreshold != nil {
		cfg.BreakerFailureThreshold = *fc.BreakerFailureThreshold
	}
	if fc.AttestationEnabled != nil {
		cfg.AttestationEnabled = *fc.AttestationEnabled
	}

	for _, d := range []struct {
		name string
		raw  *string
		dst  *time.Duration
	}{
		{"claim_period", fc.ClaimPeriod, &cfg.ClaimPeriod},
		{"confirmation_timeout", fc.ConfirmationTimeout, &cfg.ConfirmationTimeout},
		{"receipt_poll_interval", fc.ReceiptPollInterval, &cfg.ReceiptPollInterval},
		{"request_timeout", fc.RequestTimeout, &cfg.RequestTimeout},
		{"circuit_reset_delay", fc.CircuitResetDelay, &cfg.CircuitResetDelay},
		{"attestation_validity", fc.AttestationValidity, &cfg.AttestationValidity},
	} {
		if d.raw == nil {
			continue
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
