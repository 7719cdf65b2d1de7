package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync/atomic"
)

// Authenticator data flag bits.
const (
	FlagUserPresent  byte = 0x01
	FlagUserVerified byte = 0x04
)

// Passkey is a software P-256 credential that emits WebAuthn-shaped
// assertions. It exists for development, demos and tests; production
// signers use a platform authenticator.
type Passkey struct {
	priv    *ecdsa.PrivateKey
	rpID    string
	origin  string
	counter atomic.Uint32
}

// Assertion is what an authenticator returns from navigator.credentials.get.
type Assertion struct {
	AuthenticatorData []byte
	ClientDataJSON    []byte
	// Signature is the raw 64 byte r||s form.
	Signature []byte
}

func NewPasskey(rpID string) (*Passkey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("passkey generation failed: %w", err)
	}
	return &Passkey{priv: priv, rpID: rpID, origin: "https://" + rpID}, nil
}

// ParsePasskey restores a passkey from the hex scalar produced by PrivateHex.
func ParsePasskey(privHex, rpID string) (*Passkey, error) {
	d, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("invalid passkey hex: %w", err)
	}
	ek, err := ecdh.P256().NewPrivateKey(d)
	if err != nil {
		return nil, fmt.Errorf("invalid passkey scalar: %w", err)
	}
	pub := ek.PublicKey().Bytes()
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(pub[1:33]),
			Y:     new(big.Int).SetBytes(pub[33:]),
		},
		D: new(big.Int).SetBytes(d),
	}
	return &Passkey{priv: priv, rpID: rpID, origin: "https://" + rpID}, nil
}

// PrivateHex returns the 32 byte private scalar in hex.
func (p *Passkey) PrivateHex() string {
	return hex.EncodeToString(p.priv.D.FillBytes(make([]byte, 32)))
}

// PublicKey returns the 65 byte uncompressed SEC1 point.
func (p *Passkey) PublicKey() []byte {
	ek, err := p.priv.PublicKey.ECDH()
	if err != nil {
		// Only reachable for keys not on P-256, which this type never holds.
		panic(err)
	}
	return ek.Bytes()
}

// RelyingPartyHash returns SHA-256 of the relying party ID.
func (p *Passkey) RelyingPartyHash() []byte {
	h := sha256.Sum256([]byte(p.rpID))
	return h[:]
}

// Assert signs challenge the way a WebAuthn authenticator would: the client
// data embeds the base64url challenge and the signature covers
// authenticatorData || SHA-256(clientDataJSON).
func (p *Passkey) Assert(challenge []byte) (*Assertion, error) {
	clientData, err := json.Marshal(map[string]any{
		"type":        "webauthn.get",
		"challenge":   base64.RawURLEncoding.EncodeToString(challenge),
		"origin":      p.origin,
		"crossOrigin": false,
	})
	if err != nil {
		return nil, err
	}
	return p.AssertRaw(p.authenticatorData(), clientData)
}

// AssertRaw signs caller supplied authenticator and client data unchanged.
// Tests use it to produce correctly signed but semantically wrong assertions.
func (p *Passkey) AssertRaw(authData, clientDataJSON []byte) (*Assertion, error) {
	cdHash := sha256.Sum256(clientDataJSON)
	signed := make([]byte, 0, len(authData)+len(cdHash))
	signed = append(signed, authData...)
	signed = append(signed, cdHash[:]...)
	digest := sha256.Sum256(signed)

	r, s, err := ecdsa.Sign(rand.Reader, p.priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("passkey sign failed: %w", err)
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	return &Assertion{
		AuthenticatorData: append([]byte{}, authData...),
		ClientDataJSON:    clientDataJSON,
		Signature:         sig,
	}, nil
}

// authenticatorData is rpIdHash || flags || signCount.
func (p *Passkey) authenticatorData() []byte {
	out := make([]byte, 0, 37)
	out = append(out, p.RelyingPartyHash()...)
	out = append(out, FlagUserPresent|FlagUserVerified)
	return binary.BigEndian.AppendUint32(out, p.counter.Add(1))
}
