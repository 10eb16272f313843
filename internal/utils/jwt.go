// Package utils provides the signed token formats the service accepts:
// operator bearer tokens and payment provider webhook events.
package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role allowed to trigger settlement by hand.
const RoleAdmin = "ADMIN"

// EventAuthorizationConfirmed is the webhook event type that confirms a
// payment authorization for an order.
const EventAuthorizationConfirmed = "authorization.confirmed"

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// claim checks.
var ErrInvalidToken = errors.New("invalid token")

// OperatorClaims are carried by bearer tokens on internal routes.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AccessToken is a signed operator token and its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// NewAccessToken signs an HS256 operator token for subject with the given
// role, valid for ttl.
func NewAccessToken(secret, subject, role string, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := OperatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies raw and returns its claims.
func ParseAccessToken(secret, raw string) (OperatorClaims, error) {
	var claims OperatorClaims
	if err := parseHS256(secret, raw, &claims); err != nil {
		return OperatorClaims{}, err
	}
	return claims, nil
}

// WebhookEvent is the payload the payment provider signs when an
// authorization changes state.
type WebhookEvent struct {
	Type            string `json:"type"`
	OrderID         string `json:"order_id"`
	AuthorizationID string `json:"authorization_id"`
	jwt.RegisteredClaims
}

// SignWebhookEvent signs ev with the shared webhook secret.  The service
// only verifies events; signing exists for tests and local tooling.
func SignWebhookEvent(secret string, ev WebhookEvent) (string, error) {
	if ev.IssuedAt == nil {
		ev.IssuedAt = jwt.NewNumericDate(time.Now().UTC())
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, ev).SignedString([]byte(secret))
}

// ParseWebhookEvent verifies raw and checks that it carries an order and an
// authorization id.
func ParseWebhookEvent(secret, raw string) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := parseHS256(secret, raw, &ev); err != nil {
		return WebhookEvent{}, err
	}
	if ev.OrderID == "" || ev.AuthorizationID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing order_id or authorization_id", ErrInvalidToken)
	}
	return ev, nil
}

func parseHS256(secret, raw string, claims jwt.Claims) error {
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return ErrInvalidToken
	}
	return nil
}
