package chain

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidPrivateKey = errors.New("chain: invalid private key")
	ErrNoSigner          = errors.New("chain: no signing key for user")
)

// SignerResolver returns the key that signs transactions on behalf of a user.
type SignerResolver interface {
	SignerFor(user common.Address) (*ecdsa.PrivateKey, error)
}

// KeyRing holds signing keys indexed by their address.
type KeyRing struct {
	keys map[common.Address]*ecdsa.PrivateKey
}

// NewKeyRing loads hex-encoded private keys, with or without 0x prefix.
func NewKeyRing(hexKeys ...string) (*KeyRing, error) {
	k := &KeyRing{keys: make(map[common.Address]*ecdsa.PrivateKey, len(hexKeys))}
	for i, raw := range hexKeys {
		raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
		if len(raw) != 64 {
			return nil, fmt.Errorf("%w: key %d must be 64 hex characters", ErrInvalidPrivateKey, i)
		}
		priv, err := crypto.HexToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: key %d: %v", ErrInvalidPrivateKey, i, err)
		}
		k.keys[crypto.PubkeyToAddress(priv.PublicKey)] = priv
	}
	return k, nil
}

// SignerFor implements SignerResolver.
func (k *KeyRing) SignerFor(user common.Address) (*ecdsa.PrivateKey, error) {
	priv, ok := k.keys[user]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSigner, user.Hex())
	}
	return priv, nil
}

// Addresses lists the accounts the ring can sign for.
func (k *KeyRing) Addresses() []common.Address {
	out := make([]common.Address, 0, len(k.keys))
	for addr := range k.keys {
		out = append(out, addr)
	}
	return out
}
