// Package security signs committed scores so that consumers of the service
// can verify a score was issued by this deployment.
package security

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/credit-stake-ea/internal/model"
)

// DefaultValidity is how long an attestation stays valid.
const DefaultValidity = 24 * time.Hour

var (
	ErrInvalidSignature   = errors.New("invalid attestation signature")
	ErrAttestationExpired = errors.New("attestation expired")
)

// Attestation is a signed statement that user holds score.
type Attestation struct {
	User       string      `json:"user"`
	Score      model.Score `json:"score"`
	IssuedAt   int64       `json:"issuedAt"`
	ValidUntil int64       `json:"validUntil"`
	Signer     string      `json:"signer"`
	Signature  string      `json:"signature"`
}

// Attestor signs attestations with a secp256k1 key.
type Attestor struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	validity   time.Duration
	now        func() time.Time
}

// NewAttestor loads the hex private key, or generates an ephemeral one when
// hexKey is empty.
func NewAttestor(hexKey string, validity time.Duration) (*Attestor, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if hexKey == "" {
		key, err = crypto.GenerateKey()
	} else {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attestation key: %w", err)
	}
	if validity <= 0 {
		validity = DefaultValidity
	}

	a := &Attestor{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		validity:   validity,
		now:        time.Now,
	}
	logrus.WithFields(logrus.Fields{
		"signer":    a.address.Hex(),
		"ephemeral": hexKey == "",
	}).Info("Score attestation enabled")
	return a, nil
}

// Address is the account attestations are signed by.
func (a *Attestor) Address() common.Address { return a.address }

// Attest signs a score for user.
func (a *Attestor) Attest(user string, score model.Score) (Attestation, error) {
	if !common.IsHexAddress(user) {
		return Attestation{}, fmt.Errorf("invalid user address %q", user)
	}
	issued := a.now()
	att := Attestation{
		User:       common.HexToAddress(user).Hex(),
		Score:      score,
		IssuedAt:   issued.Unix(),
		ValidUntil: issued.Add(a.validity).Unix(),
		Signer:     a.address.Hex(),
	}

	sig, err := crypto.Sign(digest(att), a.privateKey)
	if err != nil {
		return Attestation{}, fmt.Errorf("failed to sign attestation: %w", err)
	}
	att.Signature = hexutil.Encode(sig)
	return att, nil
}

// Verify checks that att was signed by its signer and is valid at now.
func Verify(att Attestation, now time.Time) error {
	sig, err := hexutil.Decode(att.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: malformed signature", ErrInvalidSignature)
	}
	pub, err := crypto.SigToPub(digest(att), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(att.Signer) {
		return fmt.Errorf("%w: signer mismatch", ErrInvalidSignature)
	}
	if now.Unix() > att.ValidUntil {
		return fmt.Errorf("%w at %s", ErrAttestationExpired, time.Unix(att.ValidUntil, 0).UTC().Format(time.RFC3339))
	}
	return nil
}

// digest is keccak256(user || score || issuedAt || validUntil), fixed width big-endian.
func digest(att Attestation) []byte {
	buf := make([]byte, 0, common.AddressLength+4+8+8)
	buf = append(buf, common.HexToAddress(att.User).Bytes()...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(att.Score))
	buf = binary.BigEndian.AppendUint64(buf, uint64(att.IssuedAt))
	buf = binary.BigEndian.AppendUint64(buf, uint64(att.ValidUntil))
	return crypto.Keccak256(buf)
}
