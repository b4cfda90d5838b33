package auth

import (
	"errors"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var ErrInvalidCode = errors.New("invalid verification code")

type TOTP struct {
	issuer string
	now    func() time.Time
}

func NewTOTP(issuer string) *TOTP {
	return &TOTP{issuer: issuer, now: time.Now}
}

// Generate creates a new secret for account. The returned key carries both
// the base32 secret and the otpauth:// URL for authenticator apps.
func (t *TOTP) Generate(account string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: account,
	})
}

// Verify accepts codes from the current 30s step and one step either side.
func (t *TOTP) Verify(secret, code string) error {
	ok, err := totp.ValidateCustom(code, secret, t.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		return ErrInvalidCode
	}
	return nil
}
