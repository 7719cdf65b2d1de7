package ledger

import (
	"encoding/hex"
	"errors"
	"time"
)

// ErrAlreadyConsumed is returned by Consume for a pair that was consumed before.
var ErrAlreadyConsumed = errors.New("nonce already consumed")

// Record is the durable replay fact for one (signer, nonce) pair.
type Record struct {
	Signer     string    `json:"signer"`
	Nonce      string    `json:"nonce"`
	ConsumedAt time.Time `json:"consumed_at"`
}

// recordKey is the map and file key for a pair. The hex nonce has a fixed
// width, so the key splits back into exactly one pair.
func recordKey(signer string, nonce [32]byte) string {
	return signer + "\x00" + hex.EncodeToString(nonce[:])
}
