package vault

import (
	"errors"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New([]string{"secret-a"})
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	ct, err := v.Encrypt("pit-123-token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if strings.Count(ct, ":") != 2 {
		t.Fatalf("expected nonce:tag:payload, got %q", ct)
	}
	if strings.Contains(ct, "pit-123-token") {
		t.Fatalf("ciphertext leaks plaintext")
	}
	pt, err := v.Decrypt(ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if pt != "pit-123-token" {
		t.Fatalf("expected round trip, got %q", pt)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	v, _ := New([]string{"secret-a"})
	a, _ := v.Encrypt("same")
	b, _ := v.Encrypt("same")
	if a == b {
		t.Fatalf("expected distinct ciphertexts for the same plaintext")
	}
}

func TestNoSecretsIsMisconfigured(t *testing.T) {
	for _, secrets := range [][]string{nil, {}, {"", "  "}} {
		if _, err := New(secrets); !errors.Is(err, ErrVaultMisconfigured) {
			t.Fatalf("secrets %q: expected ErrVaultMisconfigured, got %v", secrets, err)
		}
	}
	var v *Vault
	if _, err := v.Encrypt("x"); !errors.Is(err, ErrVaultMisconfigured) {
		t.Fatalf("nil vault: expected ErrVaultMisconfigured, got %v", err)
	}
}

func TestSecretRotation(t *testing.T) {
	before, _ := New([]string{"secret-a"})
	oldCT, err := before.Encrypt("refresh-token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// promote B, keep A for decryption
	rotated, _ := New([]string{"secret-b", "secret-a"})
	pt, err := rotated.Decrypt(oldCT)
	if err != nil || pt != "refresh-token" {
		t.Fatalf("old ciphertext must still decrypt after rotation: %q %v", pt, err)
	}
	if !rotated.NeedsRotation(oldCT) {
		t.Fatalf("expected old ciphertext to need rotation")
	}

	newCT, err := rotated.Encrypt("refresh-token")
	if err != nil {
		t.Fatalf("encrypt after rotation: %v", err)
	}
	if rotated.NeedsRotation(newCT) {
		t.Fatalf("primary ciphertext must not need rotation")
	}

	// drop B entirely: ciphertext sealed with B is unreadable
	onlyA, _ := New([]string{"secret-a"})
	if _, err := onlyA.Decrypt(newCT); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed without secret B, got %v", err)
	}

	reenc, err := rotated.Reencrypt(oldCT)
	if err != nil {
		t.Fatalf("reencrypt: %v", err)
	}
	onlyB, _ := New([]string{"secret-b"})
	if pt, err := onlyB.Decrypt(reenc); err != nil || pt != "refresh-token" {
		t.Fatalf("re-encrypted value must open with B alone: %q %v", pt, err)
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	v, _ := New([]string{"secret-a"})
	ct, _ := v.Encrypt("api-key")
	parts := strings.Split(ct, ":")

	flipped := []byte(parts[2])
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	tampered := parts[0] + ":" + parts[1] + ":" + string(flipped)

	cases := map[string]string{
		"payload":   tampered,
		"malformed": "not-a-ciphertext",
		"bad hex":   "zz:zz:zz",
		"short tag": parts[0] + ":abcd:" + parts[2],
	}
	for name, in := range cases {
		if _, err := v.Decrypt(in); !errors.Is(err, ErrDecryptionFailed) {
			t.Fatalf("%s: expected ErrDecryptionFailed, got %v", name, err)
		}
	}
}
