// Package vault seals and opens provider secrets with XChaCha20-Poly1305.
// Disconnecting a connection overwrites its stored secret with a neutralized
// ciphertext, so the original credential is unrecoverable afterwards.
package vault

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyLen is the required vault key length in bytes.
const KeyLen = chacha20poly1305.KeySize

// Vault holds one symmetric key identified by a key id stored next to each
// ciphertext for future rotation.
type Vault struct {
	key   []byte
	keyID string
}

// New constructs a vault from a raw 32-byte key.
func New(key []byte, keyID string) (*Vault, error) {
	if len(key) != KeyLen {
		return nil, errors.New("vault: key must be 32 bytes")
	}
	if keyID == "" {
		return nil, errors.New("vault: empty key id")
	}
	return &Vault{key: append([]byte(nil), key...), keyID: keyID}, nil
}

// KeyID returns the identifier stored alongside ciphertexts.
func (v *Vault) KeyID() string { return v.keyID }

// Seal encrypts plaintext with a random nonce; output is nonce||ciphertext.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, nil)...)
	return out, nil
}

// Open decrypts a blob produced by Seal.
func (v *Vault) Open(blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("vault: blob too short")
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, err
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, nil)
}

// Neutralize returns a sealed empty payload used to overwrite a disconnected
// connection's secret.
func (v *Vault) Neutralize() ([]byte, error) {
	return v.Seal(nil)
}
