// Package verifier is the verification delegate: it decides whether a passkey
// assertion is a valid signature over a dispatcher-derived challenge.
//
// The dispatcher never trusts a challenge supplied by the caller. Every
// Request carries the challenge the dispatcher derived itself, and a Verifier
// must accept the assertion only if the client data embeds exactly that value.
package verifier

import (
	"context"
	"errors"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/intent"
)

var (
	// ErrInvalidSignature means the assertion does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrMalformedContext means the assertion inputs could not be parsed.
	ErrMalformedContext = errors.New("malformed verification context")
	// ErrChallengeMismatch means the client data embeds a different challenge.
	ErrChallengeMismatch = errors.New("challenge mismatch")
	// ErrNotConfigured means a verifier reference names no known authority.
	ErrNotConfigured = errors.New("verifier not configured")
)

// Request is everything a verification authority needs to check one assertion.
type Request struct {
	// PublicKey is the 65 byte uncompressed SEC1 P-256 point.
	PublicKey         []byte
	AuthenticatorData []byte
	ClientDataJSON    []byte
	ExpectedChallenge intent.Challenge
	// RelyingPartyHash is SHA-256 of the relying party ID.
	RelyingPartyHash []byte
	// Signature is the raw 64 byte r||s signature.
	Signature []byte
}

// Verifier is a verification authority.
type Verifier interface {
	Verify(ctx context.Context, req Request) error
}

// Func adapts a function to Verifier.
type Func func(ctx context.Context, req Request) error

func (f Func) Verify(ctx context.Context, req Request) error {
	return f(ctx, req)
}
