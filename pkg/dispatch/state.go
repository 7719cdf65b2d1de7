package dispatch

// State is a dispatch lifecycle position. A dispatch moves forward only:
// Received, ExpirationChecked, NonceReserved, SignatureVerified, Routed,
// Completed. Any failure ends it in Rejected.
type State string

const (
	StateReceived          State = "RECEIVED"
	StateExpirationChecked State = "EXPIRATION_CHECKED"
	StateNonceReserved     State = "NONCE_RESERVED"
	StateSignatureVerified State = "SIGNATURE_VERIFIED"
	StateRouted            State = "ROUTED"
	StateCompleted         State = "COMPLETED"
	StateRejected          State = "REJECTED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRejected
}
