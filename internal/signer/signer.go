// Package signer holds payer key material so nothing else has to.
package signer

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrUnknownSigner is returned when a transaction needs a key this signer lacks.
var ErrUnknownSigner = errors.New("transaction requires a signature this signer cannot provide")

// Signer signs transactions for a single payer.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(tx *solana.Transaction) error
}

// KeypairSigner signs with an in-memory ed25519 keypair.
type KeypairSigner struct {
	key solana.PrivateKey
}

// FromKeygenFile loads a solana-keygen JSON keypair file.
func FromKeygenFile(path string) (*KeypairSigner, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: load keypair %s: %w", path, err)
	}
	return &KeypairSigner{key: key}, nil
}

// Ephemeral creates a signer with a fresh random keypair, for devnet demos.
func Ephemeral() (*KeypairSigner, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("signer: generate keypair: %w", err)
	}
	return &KeypairSigner{key: key}, nil
}

func (s *KeypairSigner) PublicKey() solana.PublicKey { return s.key.PublicKey() }

// Sign adds the payer signature. It fails if any other signer is required.
func (s *KeypairSigner) Sign(tx *solana.Transaction) error {
	pub := s.key.PublicKey()
	var missing solana.PublicKey
	_, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(pub) {
			return &s.key
		}
		missing = k
		return nil
	})
	if err != nil {
		if !missing.IsZero() {
			return fmt.Errorf("signer: %w: %s", ErrUnknownSigner, missing)
		}
		return fmt.Errorf("signer: sign: %w", err)
	}
	return nil
}

// RandomAddress returns a fresh base58 address, for examples and tests.
func RandomAddress() string {
	return solana.NewWallet().PublicKey().String()
}
