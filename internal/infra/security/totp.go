package security

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// totpPeriod is the RFC 6238 time-step size in seconds.
	totpPeriod = 30
	// totpSecretSize yields a 160-bit shared secret.
	totpSecretSize = 20
)

// TOTPEngine generates shared secrets and verifies time-step codes.
type TOTPEngine struct {
	issuer string
	skew   uint
}

// NewTOTPEngine constructs an engine accepting codes within ±skew steps.
func NewTOTPEngine(issuer string, skew uint) *TOTPEngine {
	if issuer == "" {
		issuer = "magiclink-service"
	}
	return &TOTPEngine{issuer: issuer, skew: skew}
}

// GenerateSecret creates a new random base32 secret and its otpauth:// URI.
func (e *TOTPEngine) GenerateSecret(accountName string) (secret, provisioningURI string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountName,
		SecretSize:  totpSecretSize,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp secret: %w", err)
	}

	return key.Secret(), key.URL(), nil
}

// VerifyCode checks a 6-digit code against the secret for the step window
// around at. Comparison inside the library is constant-time.
func (e *TOTPEngine) VerifyCode(code, secret string, at time.Time) (bool, error) {
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      e.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("validate totp code: %w", err)
	}
	return ok, nil
}

// GenerateCode produces the code for the step containing at. Used by tests
// and the enrollment confirmation flow.
func (e *TOTPEngine) GenerateCode(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, at.UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      e.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate totp code: %w", err)
	}
	return code, nil
}

// Step returns the RFC 6238 time-step counter for at.
func (e *TOTPEngine) Step(at time.Time) int64 {
	return at.UTC().Unix() / totpPeriod
}

// ReplayWindow is how long an accepted step must be remembered so codes
// inside the skew window cannot be replayed.
func (e *TOTPEngine) ReplayWindow() time.Duration {
	return time.Duration((int64(e.skew)+1)*totpPeriod) * time.Second
}
