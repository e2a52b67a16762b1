package security

import (
	"strings"
	"testing"
)

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
	if strings.ContainsAny(token, "+/=") {
		t.Fatalf("expected URL-safe encoding, got %q", token)
	}

	other, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken: %v", err)
	}
	if token == other {
		t.Fatalf("two generated tokens must differ")
	}
}

func TestGenerateSecureTokenRejectsNonPositiveLength(t *testing.T) {
	if _, err := GenerateSecureToken(0); err == nil {
		t.Fatalf("expected error for zero length")
	}
	if _, err := GenerateSecureToken(-4); err == nil {
		t.Fatalf("expected error for negative length")
	}
}

func TestGenerateBackupCodeAlphabet(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := GenerateBackupCode(8)
		if err != nil {
			t.Fatalf("GenerateBackupCode: %v", err)
		}
		if len(code) != 8 {
			t.Fatalf("expected 8 characters, got %q", code)
		}
		for _, r := range code {
			if !strings.ContainsRune(backupCodeAlphabet, r) {
				t.Fatalf("character %q outside the recovery alphabet", r)
			}
		}
	}
}

func TestTokenHasherMatches(t *testing.T) {
	hasher, err := NewTokenHasher("unit-test-secret")
	if err != nil {
		t.Fatalf("NewTokenHasher: %v", err)
	}

	hash := hasher.Hash("raw-token-value")
	if hash == "raw-token-value" {
		t.Fatalf("hash must not equal the input")
	}
	if hash != hasher.Hash("raw-token-value") {
		t.Fatalf("hashing must be deterministic")
	}

	if !hasher.Matches("raw-token-value", hash) {
		t.Fatalf("expected matching token to verify")
	}
	if hasher.Matches("different-token", hash) {
		t.Fatalf("expected mismatching token to fail")
	}
}

func TestTokenHasherKeyedDigest(t *testing.T) {
	first, err := NewTokenHasher("secret-one")
	if err != nil {
		t.Fatalf("NewTokenHasher: %v", err)
	}
	second, err := NewTokenHasher("secret-two")
	if err != nil {
		t.Fatalf("NewTokenHasher: %v", err)
	}

	// The digest is keyed: the same input under another secret differs.
	if first.Hash("raw-token-value") == second.Hash("raw-token-value") {
		t.Fatalf("expected hashes under different secrets to differ")
	}
}

func TestNewTokenHasherRequiresSecret(t *testing.T) {
	if _, err := NewTokenHasher(""); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
