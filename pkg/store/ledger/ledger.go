// Package ledger records consumed (signer, nonce) pairs. A pair, once
// consumed, stays consumed: no implementation exposes a way to release it.
package ledger

import (
	"context"
)

// Ledger is the durable replay ledger consulted by the dispatcher.
type Ledger interface {
	// IsConsumed reports whether the pair has been consumed. Read only.
	IsConsumed(ctx context.Context, signer string, nonce [32]byte) (bool, error)

	// Consume atomically marks the pair consumed. If the pair is already
	// consumed it returns ErrAlreadyConsumed and changes nothing. Two
	// concurrent calls for the same pair never both succeed.
	Consume(ctx context.Context, signer string, nonce [32]byte) error
}
