package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const challengeAudience = "welfare-2fa"

var ErrInvalidChallenge = errors.New("invalid or expired challenge")

// Challenger issues short-lived tokens proving that a member passed the
// password step and still owes a TOTP code.
type Challenger struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewChallenger(secret []byte, ttl time.Duration) *Challenger {
	return &Challenger{secret: secret, ttl: ttl, now: time.Now}
}

func (c *Challenger) Issue(memberID int64) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatInt(memberID, 10),
		Audience:  jwt.ClaimStrings{challengeAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing challenge: %w", err)
	}
	return signed, nil
}

func (c *Challenger) Verify(token string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(challengeAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidChallenge, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidChallenge
	}
	return id, nil
}
