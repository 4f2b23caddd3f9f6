package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// earnProtocolABI is the subset of the EarnProtocol contract the service calls.
const earnProtocolABI = `[
	{"type":"function","name":"calculatePlainScore","stateMutability":"nonpayable","inputs":[
		{"name":"walletAge","type":"uint64"},
		{"name":"transactionCount","type":"uint64"},
		{"name":"ethBalance","type":"uint64"},
		{"name":"totalGasUsed","type":"uint64"},
		{"name":"averageTransactionValue","type":"uint64"},
		{"name":"uniqueContracts","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"calculateEncryptedScore","stateMutability":"nonpayable","inputs":[
		{"name":"handles","type":"bytes32[]"},
		{"name":"inputProof","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"getUserScoreStatus","stateMutability":"view","inputs":[
		{"name":"user","type":"address"}],"outputs":[
		{"name":"hasCalculated","type":"bool"},
		{"name":"score","type":"uint256"}]},
	{"type":"function","name":"getUserData","stateMutability":"view","inputs":[
		{"name":"user","type":"address"}],"outputs":[
		{"name":"stakedAmount","type":"uint256"},
		{"name":"lastClaimTime","type":"uint256"},
		{"name":"totalEarned","type":"uint256"},
		{"name":"hasStaked","type":"bool"}]},
	{"type":"function","name":"canClaim","stateMutability":"view","inputs":[
		{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"stake","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"claimRewards","stateMutability":"nonpayable","inputs":[
		{"name":"userScore","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"event","name":"ScoreCalculated","anonymous":false,"inputs":[
		{"indexed":true,"name":"user","type":"address"},
		{"indexed":false,"name":"score","type":"uint256"}]},
	{"type":"event","name":"Staked","anonymous":false,"inputs":[
		{"indexed":true,"name":"user","type":"address"},
		{"indexed":false,"name":"amount","type":"uint256"}]},
	{"type":"event","name":"RewardsClaimed","anonymous":false,"inputs":[
		{"indexed":true,"name":"user","type":"address"},
		{"indexed":false,"name":"amount","type":"uint256"}]},
	{"type":"event","name":"Withdrawn","anonymous":false,"inputs":[
		{"indexed":true,"name":"user","type":"address"},
		{"indexed":false,"name":"amount","type":"uint256"}]}
]`

// EventScoreCalculated is the signature of the score record.
const EventScoreCalculated = "ScoreCalculated(address,uint256)"

// ParseABI parses the EarnProtocol ABI.
func ParseABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(earnProtocolABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse EarnProtocol ABI: %w", err)
	}
	return parsed, nil
}
