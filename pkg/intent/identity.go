package intent

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignerPrefix marks signer identities derived from a passkey public key.
const SignerPrefix = "pk:"

// SignerID is the self-certifying signer identity of an uncompressed P-256
// public key: SignerPrefix followed by unpadded base64url SHA-256 of the point.
// Such a signer needs no enrollment; only its own key can speak for it.
func SignerID(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return SignerPrefix + base64.RawURLEncoding.EncodeToString(sum[:])
}

// IsDerivedSigner reports whether signer has the SignerID form.
func IsDerivedSigner(signer string) bool {
	return strings.HasPrefix(signer, SignerPrefix)
}
