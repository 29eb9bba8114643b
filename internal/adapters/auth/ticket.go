// Package auth issues and verifies the signed join tickets a participant presents
// when opening the signaling socket.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/consult/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidTicket = errors.New("invalid join ticket")

type Claims struct {
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type Tickets struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTickets(secret, issuer string, ttl time.Duration) *Tickets {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Tickets{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Mint signs a ticket for p. The booking backend normally does this; the call
// client and tests use it with a shared dev secret.
func (t *Tickets) Mint(p domain.Participant) (string, error) {
	now := t.now()
	claims := Claims{
		SessionID: string(p.SessionID),
		Role:      string(p.Role),
		Name:      p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(p.ID),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify checks the signature, expiry and issuer, then builds the participant the
// ticket was issued to.
func (t *Tickets) Verify(raw string) (*domain.Participant, error) {
	var claims Claims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTicket, err)
	}
	p, err := domain.NewParticipant(claims.SessionID, claims.Subject, claims.Role, claims.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTicket, err)
	}
	return p, nil
}
