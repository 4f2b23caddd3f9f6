// Package types contains shared type definitions used across multiple packages
package types

import "fmt"

// Network identifies a blockchain network the staking contract can be deployed on
type Network string

// Supported blockchain networks
const (
	NetworkEthereum Network = "ethereum"
	NetworkSepolia  Network = "sepolia"
	NetworkBase     Network = "base"
	NetworkLocal    Network = "local"
)

// NetworkConfig holds the static parameters of a network
type NetworkConfig struct {
	ChainID       int64  `json:"chain_id"`
	AnalyticsName string `json:"analytics_name"` // Chain name used by the wallet analytics API
	RPCEndpoint   string `json:"rpc_endpoint,omitempty"`
}

// Networks maps each supported network to its defaults
var Networks = map[Network]NetworkConfig{
	NetworkEthereum: {ChainID: 1, AnalyticsName: "eth-mainnet"},
	NetworkSepolia:  {ChainID: 11155111, AnalyticsName: "eth-sepolia"},
	NetworkBase:     {ChainID: 8453, AnalyticsName: "base-mainnet"},
	NetworkLocal:    {ChainID: 31337, AnalyticsName: "eth-mainnet"},
}

// Lookup returns the configuration of a named network
func Lookup(name string) (NetworkConfig, error) {
	cfg, ok := Networks[Network(name)]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unsupported network %q", name)
	}
	return cfg, nil
}
