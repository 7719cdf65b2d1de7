package verifier

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
)

// BuiltinWebAuthn is the reference under which WebAuthnVerifier is registered.
const BuiltinWebAuthn = "builtin:webauthn-es256"

const (
	minAuthDataLen = 37
	flagUP         = 0x01
	flagUV         = 0x04
)

// WebAuthnOptions tightens WebAuthnVerifier beyond the assertion checks
// every authority performs.
type WebAuthnOptions struct {
	RequireUserVerification bool
	// AllowedOrigins, when non-empty, restricts clientDataJSON.origin.
	AllowedOrigins []string
}

// WebAuthnVerifier verifies ES256 WebAuthn assertions locally.
type WebAuthnVerifier struct {
	opts WebAuthnOptions
}

func NewWebAuthnVerifier(opts WebAuthnOptions) *WebAuthnVerifier {
	return &WebAuthnVerifier{opts: opts}
}

type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

func (v *WebAuthnVerifier) Verify(_ context.Context, req Request) error {
	key, err := parsePublicKey(req.PublicKey)
	if err != nil {
		return err
	}
	if len(req.RelyingPartyHash) != sha256.Size {
		return fmt.Errorf("%w: relying party hash is %d bytes", ErrMalformedContext, len(req.RelyingPartyHash))
	}
	if len(req.Signature) != 64 {
		return fmt.Errorf("%w: signature is %d bytes", ErrMalformedContext, len(req.Signature))
	}
	if len(req.AuthenticatorData) < minAuthDataLen {
		return fmt.Errorf("%w: authenticator data is %d bytes", ErrMalformedContext, len(req.AuthenticatorData))
	}

	var cd clientData
	if err := json.Unmarshal(req.ClientDataJSON, &cd); err != nil {
		return fmt.Errorf("%w: client data: %v", ErrMalformedContext, err)
	}
	if cd.Type != "webauthn.get" {
		return fmt.Errorf("%w: client data type %q", ErrMalformedContext, cd.Type)
	}
	embedded, err := base64.RawURLEncoding.DecodeString(cd.Challenge)
	if err != nil {
		return fmt.Errorf("%w: client data challenge: %v", ErrMalformedContext, err)
	}
	if subtle.ConstantTimeCompare(embedded, req.ExpectedChallenge[:]) != 1 {
		return ErrChallengeMismatch
	}
	if len(v.opts.AllowedOrigins) > 0 && !slices.Contains(v.opts.AllowedOrigins, cd.Origin) {
		return fmt.Errorf("%w: origin %q not allowed", ErrInvalidSignature, cd.Origin)
	}

	// An assertion minted for another relying party is not a signature over
	// this request, whatever its cryptographic validity.
	if !bytes.Equal(req.AuthenticatorData[:32], req.RelyingPartyHash) {
		return fmt.Errorf("%w: relying party hash mismatch", ErrInvalidSignature)
	}
	flags := req.AuthenticatorData[32]
	if flags&flagUP == 0 {
		return fmt.Errorf("%w: user presence not asserted", ErrInvalidSignature)
	}
	if v.opts.RequireUserVerification && flags&flagUV == 0 {
		return fmt.Errorf("%w: user verification not asserted", ErrInvalidSignature)
	}

	cdHash := sha256.Sum256(req.ClientDataJSON)
	h := sha256.New()
	h.Write(req.AuthenticatorData)
	h.Write(cdHash[:])
	digest := h.Sum(nil)

	r := new(big.Int).SetBytes(req.Signature[:32])
	s := new(big.Int).SetBytes(req.Signature[32:])
	if !ecdsa.Verify(key, digest, r, s) {
		return ErrInvalidSignature
	}
	return nil
}

// ValidatePublicKey checks that raw is an uncompressed P-256 point on the
// curve.
func ValidatePublicKey(raw []byte) error {
	_, err := parsePublicKey(raw)
	return err
}

func parsePublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	if len(raw) != 65 || raw[0] != 0x04 {
		return nil, fmt.Errorf("%w: public key must be a 65 byte uncompressed point", ErrMalformedContext)
	}
	// NewPublicKey rejects points that are not on the curve.
	if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrMalformedContext, err)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(raw[1:33]),
		Y:     new(big.Int).SetBytes(raw[33:]),
	}, nil
}
