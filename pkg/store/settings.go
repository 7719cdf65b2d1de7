// Package store holds the dispatcher's durable state other than the replay
// ledger: the settings cell that carries the verifier reference, and the
// SQL receipt store.
package store

import (
	"context"
	"errors"
)

// KeyVerifierRef is the settings key of the verifier reference singleton.
const KeyVerifierRef = "verifier_ref"

// CredentialKey is the settings key holding the hex public key enrolled
// for signer.
func CredentialKey(signer string) string {
	return "credential/" + signer
}

// ErrNotSet is returned by Get for a key that has never been written.
var ErrNotSet = errors.New("setting not set")

// Settings is a durable key/value cell store with write-once semantics.
type Settings interface {
	// Get returns the value of key, or ErrNotSet.
	Get(ctx context.Context, key string) (string, error)
	// PutIfAbsent stores value when key is unset. It returns the value that
	// is stored after the call and whether this call wrote it.
	PutIfAbsent(ctx context.Context, key, value string) (current string, stored bool, err error)
	// CompareAndSwap replaces old with value. It reports false if the stored
	// value was not old.
	CompareAndSwap(ctx context.Context, key, old, value string) (bool, error)
}
