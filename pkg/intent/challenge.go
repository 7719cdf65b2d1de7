package intent

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// Challenge is the SHA-256 digest of an intent encoding. It is the value a
// passkey assertion must embed in its client data.
type Challenge [sha256.Size]byte

// DeriveChallenge hashes an encoding produced by Encode.
func DeriveChallenge(encoded []byte) Challenge {
	return Challenge(sha256.Sum256(encoded))
}

// ChallengeFor encodes in and derives its challenge.
func ChallengeFor(in *Intent) (Challenge, []byte, error) {
	encoded, err := Encode(in)
	if err != nil {
		return Challenge{}, nil, err
	}
	return DeriveChallenge(encoded), encoded, nil
}

// Base64URL is the unpadded base64url form used in WebAuthn client data.
func (c Challenge) Base64URL() string {
	return base64.RawURLEncoding.EncodeToString(c[:])
}

func (c Challenge) Hex() string {
	return hex.EncodeToString(c[:])
}

func (c Challenge) String() string {
	return c.Hex()
}

// Equal compares in constant time.
func (c Challenge) Equal(other Challenge) bool {
	return subtle.ConstantTimeCompare(c[:], other[:]) == 1
}

func (c Challenge) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}
