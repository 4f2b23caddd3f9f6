// Package session owns the encryption context used for confidential score
// submissions. A Session is opened by the caller, passed explicitly to the
// components that need it, and closed when no longer used.
package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/credit-stake-ea/internal/scoring"
)

// ErrSessionClosed is returned by every operation on a closed session.
var ErrSessionClosed = errors.New("session closed")

// ErrEncryptionUnavailable is returned when a session has no encryptor.
var ErrEncryptionUnavailable = errors.New("encryption unavailable")

// EncryptedInput is a batch of ciphertext handles plus the proof that binds
// them to a contract and user.
type EncryptedInput struct {
	Handles    [][32]byte
	InputProof []byte
}

// InputRequest describes the values to encrypt for one contract call.
// PublicKey is the user's session key that results are re-encrypted to.
type InputRequest struct {
	Contract  common.Address
	User      common.Address
	Values    []uint64
	PublicKey []byte
}

// Encryptor produces encrypted inputs for a contract call.
type Encryptor interface {
	EncryptInputs(ctx context.Context, req InputRequest) (EncryptedInput, error)
}

// Keypair is the per-(contract, user) key used to request re-encryption of results.
type Keypair struct {
	PublicKey  []byte
	privateKey *ecdsa.PrivateKey
	CreatedAt  time.Time
}

// PrivateKey returns the secret half of the keypair.
func (k Keypair) PrivateKey() *ecdsa.PrivateKey { return k.privateKey }

// Config describes the encryption environment.
type Config struct {
	ChainID    int64
	Contract   string
	ACLAddress string
	KMSAddress string
	GatewayURL string
}

// Validate checks that every configured address is well formed.
func (c Config) Validate() error {
	if !common.IsHexAddress(c.Contract) {
		return fmt.Errorf("invalid contract address %q", c.Contract)
	}
	for name, addr := range map[string]string{"ACL": c.ACLAddress, "KMS": c.KMSAddress} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s address %q", name, addr)
		}
	}
	return nil
}

type keyID struct {
	contract common.Address
	user     common.Address
}

// Session holds the encryption instance and a keypair cache.
type Session struct {
	cfg      Config
	contract common.Address
	enc      Encryptor

	mu     sync.Mutex
	keys   map[keyID]Keypair
	closed bool
	now    func() time.Time
}

// Open creates a session. A nil encryptor yields a session that only serves
// plain submissions.
func Open(cfg Config, enc Encryptor) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:      cfg,
		contract: common.HexToAddress(cfg.Contract),
		enc:      enc,
		keys:     make(map[keyID]Keypair),
		now:      time.Now,
	}
	logrus.WithFields(logrus.Fields{
		"contract":  s.contract.Hex(),
		"chain_id":  cfg.ChainID,
		"encrypted": enc != nil,
	}).Info("Opened encryption session")
	return s, nil
}

// Encrypted reports whether the session can produce encrypted inputs.
func (s *Session) Encrypted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc != nil && !s.closed
}

// Contract returns the contract the session is bound to.
func (s *Session) Contract() common.Address { return s.contract }

// EncryptMetrics encrypts the six contract inputs for user.
// An encryption failure is returned as is; callers must not fall back to a
// plain submission.
func (s *Session) EncryptMetrics(ctx context.Context, user string, inputs [scoring.NumSubScores]uint64) (*EncryptedInput, error) {
	s.mu.Lock()
	closed, enc := s.closed, s.enc
	s.mu.Unlock()

	if closed {
		return nil, ErrSessionClosed
	}
	if enc == nil {
		return nil, ErrEncryptionUnavailable
	}
	if !common.IsHexAddress(user) {
		return nil, fmt.Errorf("invalid user address %q", user)
	}

	kp, err := s.Keypair(user)
	if err != nil {
		return nil, err
	}

	in, err := enc.EncryptInputs(ctx, InputRequest{
		Contract:  s.contract,
		User:      common.HexToAddress(user),
		Values:    inputs[:],
		PublicKey: kp.PublicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("encrypting inputs: %w", err)
	}
	if len(in.Handles) != scoring.NumSubScores {
		return nil, fmt.Errorf("encrypting inputs: got %d handles, want %d", len(in.Handles), scoring.NumSubScores)
	}
	return &in, nil
}

// Keypair returns the cached keypair for user, generating one on first use.
func (s *Session) Keypair(user string) (Keypair, error) {
	if !common.IsHexAddress(user) {
		return Keypair{}, fmt.Errorf("invalid user address %q", user)
	}
	id := keyID{contract: s.contract, user: common.HexToAddress(user)}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Keypair{}, ErrSessionClosed
	}
	if kp, ok := s.keys[id]; ok {
		return kp, nil
	}

	priv, err := crypto.GenerateKey()
	if err != nil {
		return Keypair{}, fmt.Errorf("generating keypair: %w", err)
	}
	kp := Keypair{
		PublicKey:  crypto.FromECDSAPub(&priv.PublicKey),
		privateKey: priv,
		CreatedAt:  s.now(),
	}
	s.keys[id] = kp
	logrus.WithField("user", id.user.Hex()).Debug("Generated session keypair")
	return kp, nil
}

// Close tears the session down and drops every cached keypair.
// Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.enc = nil
	s.keys = nil
	logrus.WithField("contract", s.contract.Hex()).Info("Closed encryption session")
	return nil
}

// String implements fmt.Stringer without leaking key material.
func (k Keypair) String() string {
	pub := common.Bytes2Hex(k.PublicKey)
	if len(pub) > 16 {
		pub = pub[:16]
	}
	return "Keypair{" + pub + "...}"
}
