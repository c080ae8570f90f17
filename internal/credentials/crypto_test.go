// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package credentials

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestTokenCipherRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := NewTokenCipher("test-secret-with-sufficient-entropy")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}

	plaintext := "ya29.a0AfH6SMC-example-access-token"
	encrypted, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if encrypted == plaintext {
		t.Fatal("ciphertext equals plaintext")
	}

	decrypted, err := c.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("round trip = %q, want %q", decrypted, plaintext)
	}

	// Each encryption uses a fresh nonce.
	second, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt (second): %v", err)
	}
	if second == encrypted {
		t.Error("two encryptions produced identical ciphertext")
	}
}

func TestTokenCipherRejectsEmptyInputs(t *testing.T) {
	t.Parallel()

	if _, err := NewTokenCipher(""); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("empty secret error = %v, want ErrEmptySecret", err)
	}

	c, err := NewTokenCipher("secret")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}
	if _, err := c.Encrypt(""); !errors.Is(err, ErrEmptyPlaintext) {
		t.Errorf("empty plaintext error = %v, want ErrEmptyPlaintext", err)
	}
	if _, err := c.Decrypt(""); !errors.Is(err, ErrEmptyCiphertext) {
		t.Errorf("empty ciphertext error = %v, want ErrEmptyCiphertext", err)
	}
}

func TestTokenCipherDetectsTampering(t *testing.T) {
	t.Parallel()

	c, err := NewTokenCipher("secret")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}

	encrypted, err := c.Encrypt("sensitive-token")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		t.Fatalf("decode ciphertext: %v", err)
	}
	data[len(data)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(data)

	if _, err := c.Decrypt(tampered); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("tampered decrypt error = %v, want ErrDecryptionFailed", err)
	}

	if _, err := c.Decrypt("not-base64!!!"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("garbage decrypt error = %v, want ErrInvalidCiphertext", err)
	}

	short := base64.StdEncoding.EncodeToString([]byte("tiny"))
	if _, err := c.Decrypt(short); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("short decrypt error = %v, want ErrCiphertextTooShort", err)
	}
}

func TestTokenCipherKeyedBySecret(t *testing.T) {
	t.Parallel()

	a, err := NewTokenCipher("secret-a")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}
	b, err := NewTokenCipher("secret-b")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}

	encrypted, err := a.Encrypt("token")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(encrypted); err == nil {
		t.Error("cipher with different secret decrypted the token")
	}
}

func TestTokenCipherValidate(t *testing.T) {
	t.Parallel()

	c, err := NewTokenCipher("secret")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestMaskToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		token string
		want  string
	}{
		{"", ""},
		{"ab", "****"},
		{"abcd", "****"},
		{"1234567890", "****...7890"},
	}
	for _, tt := range tests {
		if got := MaskToken(tt.token); got != tt.want {
			t.Errorf("MaskToken(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}

	masked := MaskToken("super-secret-refresh-token")
	if strings.Contains(masked, "super-secret") {
		t.Errorf("masked token leaks prefix: %q", masked)
	}
}
