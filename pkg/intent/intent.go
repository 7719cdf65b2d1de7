// Package intent defines the signed call intent accepted by the dispatcher,
// its canonical wire encoding, and the challenge a passkey signs over.
//
// The byte layout produced by Encode is a published contract: off-system
// signers compute the same bytes before signing, so any change to field order,
// widths or prefixes requires a new DomainTag and Version.
package intent

import (
	"encoding/hex"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Version1 is the only protocol version this dispatcher accepts.
const Version1 uint32 = 1

// Structural limits. They bound the length prefixes used by Encode.
const (
	NonceSize       = 32
	MaxIdentLength  = 255
	MaxArgs         = 64
	MaxArgLength    = 64 << 10
	SignatureLength = 64
)

var (
	// ErrUnsupportedVersion is returned for any version other than Version1.
	ErrUnsupportedVersion = errors.New("unsupported intent version")
	// ErrMalformed is returned when an intent violates a structural rule.
	ErrMalformed = errors.New("malformed intent")
)

// Nonce is the per-signer replay token.
type Nonce [NonceSize]byte

// String returns the lowercase hex form of the nonce.
func (n Nonce) String() string {
	return hex.EncodeToString(n[:])
}

func (n Nonce) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *Nonce) UnmarshalText(text []byte) error {
	parsed, err := ParseNonce(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// ParseNonce decodes a 64 character hex nonce.
func ParseNonce(s string) (Nonce, error) {
	var n Nonce
	raw, err := hex.DecodeString(s)
	if err != nil {
		return n, fmt.Errorf("nonce: %w", err)
	}
	if len(raw) != NonceSize {
		return n, fmt.Errorf("nonce: want %d bytes, got %d", NonceSize, len(raw))
	}
	copy(n[:], raw)
	return n, nil
}

// Intent is a signed request to call Function on Target with Args, on behalf
// of Signer. IssuedAt and ExpiresAt are unix seconds.
type Intent struct {
	Version   uint32   `json:"v"`
	Target    string   `json:"contract_id"`
	Function  string   `json:"fn_name"`
	Args      [][]byte `json:"args"`
	Signer    string   `json:"signer"`
	Nonce     Nonce    `json:"nonce"`
	IssuedAt  uint64   `json:"iat"`
	ExpiresAt uint64   `json:"exp"`
}

// SignatureBundle is the proof produced by the signer's authenticator.
type SignatureBundle struct {
	// Signature is the raw r||s P-256 signature.
	Signature         []byte `json:"signature"`
	AuthenticatorData []byte `json:"authenticator_data"`
	ClientDataJSON    []byte `json:"client_data_json"`
	// SignedPayload is the intent encoding the signer hashed into its
	// challenge. Optional; when present it must reduce to the derived challenge.
	SignedPayload []byte `json:"signature_payload,omitempty"`
}

// Validate checks the structural rules that must hold before an intent is
// considered for dispatch. It never consults time or storage.
func (in *Intent) Validate() error {
	if in.Version != Version1 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, in.Version)
	}
	if err := checkIdent("contract_id", in.Target); err != nil {
		return err
	}
	if err := checkIdent("fn_name", in.Function); err != nil {
		return err
	}
	if err := checkIdent("signer", in.Signer); err != nil {
		return err
	}
	if len(in.Args) > MaxArgs {
		return fmt.Errorf("%w: %d args exceeds limit %d", ErrMalformed, len(in.Args), MaxArgs)
	}
	for i, arg := range in.Args {
		if len(arg) > MaxArgLength {
			return fmt.Errorf("%w: arg %d is %d bytes, limit %d", ErrMalformed, i, len(arg), MaxArgLength)
		}
	}
	if in.ExpiresAt < in.IssuedAt {
		return fmt.Errorf("%w: exp %d precedes iat %d", ErrMalformed, in.ExpiresAt, in.IssuedAt)
	}
	return nil
}

// checkIdent rejects identifiers whose encoding could vary between
// semantically equal values.
func checkIdent(field, v string) error {
	switch {
	case v == "":
		return fmt.Errorf("%w: %s is required", ErrMalformed, field)
	case len(v) > MaxIdentLength:
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrMalformed, field, len(v), MaxIdentLength)
	case !utf8.ValidString(v):
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrMalformed, field)
	case !norm.NFC.IsNormalString(v):
		return fmt.Errorf("%w: %s is not in NFC form", ErrMalformed, field)
	}
	return nil
}
