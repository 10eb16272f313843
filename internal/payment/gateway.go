// Package payment talks to the external payment provider that holds the
// buyers' pre-authorizations.  Capture and release are idempotent per
// authorization id at every layer: the provider contract, the HTTP client and
// the Redis memo in front of it.
package payment

import (
	"context"
	"errors"
)

var (
	// ErrTransient marks failures worth retrying on a later tick: timeouts,
	// connection errors and 5xx responses.
	ErrTransient = errors.New("payment: transient failure")
	// ErrRejected marks a definitive refusal by the provider (4xx).
	ErrRejected = errors.New("payment: rejected by provider")
)

// Gateway captures or releases a previously created authorization.
type Gateway interface {
	// Capture charges amount (minor units) against the authorization.  A
	// second call for an already captured authorization must not charge again.
	Capture(ctx context.Context, authID string, amount int64) error
	// Release cancels the authorization without charging.  Releasing an
	// already released authorization is not an error.
	Release(ctx context.Context, authID string) error
}
