// Package signer loads the operator's single trading keypair and signs
// transaction messages, per SPEC_FULL.md §4.11.
package signer

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"

	"github.com/algonius/hunter-copytrader/pkg/security"
)

// Signer wraps a single solana.PrivateKey and implements chain.Signer.
type Signer struct {
	key solana.PrivateKey
}

// FromEnv loads the signer's private key from the base58-encoded
// environment variable named keyEnv. If passEnv names a non-empty
// environment variable, the key is instead expected to be a JSON-encoded
// security.EncryptedData blob, decrypted with the passphrase from passEnv.
func FromEnv(keyEnv, passEnv string) (*Signer, error) {
	raw := os.Getenv(keyEnv)
	if raw == "" {
		return nil, fmt.Errorf("environment variable %s is not set", keyEnv)
	}

	passphrase := os.Getenv(passEnv)
	if passphrase != "" {
		var enc security.EncryptedData
		if err := json.Unmarshal([]byte(raw), &enc); err != nil {
			return nil, fmt.Errorf("failed to parse encrypted signer key: %w", err)
		}
		decoded, err := security.DecryptWithPassword(&enc, passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt signer key: %w", err)
		}
		raw = decoded
	}

	key, err := solana.PrivateKeyFromBase58(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer private key: %w", err)
	}
	return &Signer{key: key}, nil
}

// PublicKey returns the signer's public key.
func (s *Signer) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

// Sign signs an arbitrary message (a transaction's serialized Message)
// and returns the resulting ed25519 signature.
func (s *Signer) Sign(message []byte) (solana.Signature, error) {
	return s.key.Sign(message)
}
