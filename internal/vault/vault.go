// Package vault encrypts provider tokens and API keys at rest.
//
// Ciphertexts are self-describing "nonce:tag:payload" hex strings sealed with
// AES-256-GCM. A Vault holds an ordered secret list: the first secret seals,
// every secret is tried in order to open, which allows rotating secrets
// without downtime.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize = 32
	tagSize = 16
	sep     = ":"

	hkdfInfo = "esphub credential vault v1"
)

var (
	ErrVaultMisconfigured = errors.New("vault misconfigured: no secrets")
	ErrDecryptionFailed   = errors.New("decryption failed")
)

type Vault struct {
	aeads []cipher.AEAD
}

// New builds a vault from secrets ordered newest first. Empty entries are ignored.
func New(secrets []string) (*Vault, error) {
	v := &Vault{}
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		aead, err := newAEAD(s)
		if err != nil {
			return nil, err
		}
		v.aeads = append(v.aeads, aead)
	}
	if len(v.aeads) == 0 {
		return nil, ErrVaultMisconfigured
	}
	return v, nil
}

func newAEAD(secret string) (cipher.AEAD, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with the primary secret.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if v == nil || len(v.aeads) == 0 {
		return "", ErrVaultMisconfigured
	}
	aead := v.aeads[0]
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	payload, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return hex.EncodeToString(nonce) + sep + hex.EncodeToString(tag) + sep + hex.EncodeToString(payload), nil
}

// Decrypt opens a ciphertext with the first secret that authenticates it.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	plain, _, err := v.open(ciphertext)
	return plain, err
}

// NeedsRotation reports whether ciphertext is only readable by a demoted secret.
func (v *Vault) NeedsRotation(ciphertext string) bool {
	_, idx, err := v.open(ciphertext)
	return err == nil && idx > 0
}

// Reencrypt opens ciphertext with any configured secret and seals it again
// with the primary one.
func (v *Vault) Reencrypt(ciphertext string) (string, error) {
	plain, err := v.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return v.Encrypt(plain)
}

func (v *Vault) open(ciphertext string) (string, int, error) {
	if v == nil || len(v.aeads) == 0 {
		return "", -1, ErrVaultMisconfigured
	}
	nonce, sealed, err := split(ciphertext)
	if err != nil {
		return "", -1, err
	}
	for i, aead := range v.aeads {
		if len(nonce) != aead.NonceSize() {
			continue
		}
		plain, err := aead.Open(nil, nonce, sealed, nil)
		if err == nil {
			return string(plain), i, nil
		}
	}
	return "", -1, ErrDecryptionFailed
}

func split(ciphertext string) (nonce, sealed []byte, err error) {
	parts := strings.Split(ciphertext, sep)
	if len(parts) != 3 {
		return nil, nil, fmt.Errorf("%w: malformed ciphertext", ErrDecryptionFailed)
	}
	nonce, err = hex.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bad nonce", ErrDecryptionFailed)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, nil, fmt.Errorf("%w: bad tag", ErrDecryptionFailed)
	}
	payload, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bad payload", ErrDecryptionFailed)
	}
	return nonce, append(payload, tag...), nil
}
