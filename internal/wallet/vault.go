package wallet

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Vault encrypts custodial secrets at rest and is the only way to open them.
type Vault struct {
	aead cipher.AEAD
}

func NewVault(key []byte) (*Vault, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("vault key rejected: %w", err)
	}
	return &Vault{aead: aead}, nil
}

func (v *Vault) EncryptString(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) DecryptString(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.New("ciphertext is not base64")
	}
	if len(raw) < v.aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.New("ciphertext authentication failed")
	}
	return string(plain), nil
}

// SigningCredential is an unlocked signing secret. It is opaque outside this
// package: only the gateway can consume it, and it never prints its value.
type SigningCredential struct {
	secret string
}

func (c SigningCredential) String() string { return "signing-credential(redacted)" }

// Empty reports whether the credential was never unlocked.
func (c SigningCredential) Empty() bool { return c.secret == "" }

// UnlockSigningCredential opens an encrypted signing credential for a single
// settlement operation.
func (v *Vault) UnlockSigningCredential(ciphertext string) (SigningCredential, error) {
	secret, err := v.DecryptString(ciphertext)
	if err != nil {
		return SigningCredential{}, fmt.Errorf("unlock signing credential: %w", err)
	}
	return SigningCredential{secret: secret}, nil
}
