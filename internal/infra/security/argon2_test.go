package security

import (
	"errors"
	"strings"
	"testing"
)

func TestBackupCodeHashRoundTrip(t *testing.T) {
	encoded, err := HashBackupCode("K7MNPQ23")
	if err != nil {
		t.Fatalf("HashBackupCode: %v", err)
	}
	if !strings.HasPrefix(encoded, "argon2id$v=19$") {
		t.Fatalf("unexpected hash format: %q", encoded)
	}

	ok, err := VerifyBackupCode("K7MNPQ23", encoded)
	if err != nil {
		t.Fatalf("VerifyBackupCode: %v", err)
	}
	if !ok {
		t.Fatalf("expected the original code to verify")
	}

	ok, err = VerifyBackupCode("WRONG234", encoded)
	if err != nil {
		t.Fatalf("VerifyBackupCode: %v", err)
	}
	if ok {
		t.Fatalf("expected a wrong code to fail")
	}
}

func TestBackupCodeHashesAreSalted(t *testing.T) {
	first, err := HashBackupCode("K7MNPQ23")
	if err != nil {
		t.Fatalf("HashBackupCode: %v", err)
	}
	second, err := HashBackupCode("K7MNPQ23")
	if err != nil {
		t.Fatalf("HashBackupCode: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct salts to produce distinct hashes")
	}
}

func TestVerifyBackupCodeEmptyInputs(t *testing.T) {
	ok, err := VerifyBackupCode("", "whatever")
	if err != nil || ok {
		t.Fatalf("empty code must fail silently, got ok=%v err=%v", ok, err)
	}
	ok, err = VerifyBackupCode("K7MNPQ23", "")
	if err != nil || ok {
		t.Fatalf("empty hash must fail silently, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyBackupCodeMalformedHash(t *testing.T) {
	cases := []string{
		"argon2id$v=19$m=32768,t=2",
		"bcrypt$v=19$m=32768,t=2,p=2$c2FsdA$aGFzaA",
		"argon2id$v=18$m=32768,t=2,p=2$c2FsdA$aGFzaA",
		"argon2id$v=19$m=bad,t=2,p=2$c2FsdA$aGFzaA",
		"argon2id$v=19$m=32768,t=2,p=2$!!$aGFzaA",
	}

	for _, encoded := range cases {
		if _, err := VerifyBackupCode("K7MNPQ23", encoded); err == nil {
			t.Fatalf("expected error for malformed hash %q", encoded)
		}
	}
}

func TestArgon2ConfigValidation(t *testing.T) {
	cfg := DefaultArgon2Config()
	if err := validateArgon2Config(cfg); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	weak := cfg
	weak.Memory = 1024
	if err := validateArgon2Config(weak); !errors.Is(err, errInvalidConfig) {
		t.Fatalf("expected errInvalidConfig for weak memory, got %v", err)
	}

	zeroIter := cfg
	zeroIter.Iterations = 0
	if err := validateArgon2Config(zeroIter); !errors.Is(err, errInvalidConfig) {
		t.Fatalf("expected errInvalidConfig for zero iterations, got %v", err)
	}
}
