package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/credit-stake-ea/internal/fetch"
)

// GatewayEncryptor obtains encrypted inputs and their proof from a relayer
// gateway that holds the network's public encryption key.
type GatewayEncryptor struct {
	baseURL    string
	chainID    int64
	httpClient *http.Client
}

// NewGatewayEncryptor creates an encryptor for the gateway at baseURL.
func NewGatewayEncryptor(baseURL string, chainID int64, retryMax int) *GatewayEncryptor {
	return &GatewayEncryptor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		chainID:    chainID,
		httpClient: fetch.StandardClient(fetch.NewRetryClient(retryMax)),
	}
}

type inputProofRequest struct {
	ChainID         int64    `json:"chainId"`
	ContractAddress string   `json:"contractAddress"`
	UserAddress     string   `json:"userAddress"`
	Values          []uint64 `json:"values"`
	Bits            int      `json:"bits"`
	PublicKey       string   `json:"publicKey,omitempty"`
}

type inputProofResponse struct {
	Handles    []string `json:"handles"`
	InputProof string   `json:"inputProof"`
}

// EncryptInputs implements Encryptor.
func (g *GatewayEncryptor) EncryptInputs(ctx context.Context, r InputRequest) (EncryptedInput, error) {
	payload := inputProofRequest{
		ChainID:         g.chainID,
		ContractAddress: r.Contract.Hex(),
		UserAddress:     r.User.Hex(),
		Values:          r.Values,
		Bits:            64,
	}
	if len(r.PublicKey) > 0 {
		payload.PublicKey = hexutil.Encode(r.PublicKey)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return EncryptedInput{}, fmt.Errorf("error encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/input-proof", bytes.NewReader(body))
	if err != nil {
		return EncryptedInput{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logrus.Debugf("Requesting input proof from gateway: %s", g.baseURL)
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return EncryptedInput{}, fmt.Errorf("error contacting gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return EncryptedInput{}, fmt.Errorf("gateway error: status %d, body: %s", resp.StatusCode, string(msg))
	}

	var out inputProofResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return EncryptedInput{}, fmt.Errorf("error decoding response: %w", err)
	}

	in := EncryptedInput{Handles: make([][32]byte, 0, len(out.Handles))}
	for i, h := range out.Handles {
		raw, err := hexutil.Decode(h)
		if err != nil || len(raw) != 32 {
			return EncryptedInput{}, fmt.Errorf("malformed handle %d: %q", i, h)
		}
		var handle [32]byte
		copy(handle[:], raw)
		in.Handles = append(in.Handles, handle)
	}
	if in.InputProof, err = hexutil.Decode(out.InputProof); err != nil {
		return EncryptedInput{}, fmt.Errorf("malformed input proof: %w", err)
	}
	return in, nil
}
