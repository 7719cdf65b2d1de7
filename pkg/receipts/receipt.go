// Package receipts produces the dispatcher's audit trail: one signed,
// hash-chained receipt per dispatch that reached the replay ledger.
// Receipts are output only; dispatch never reads them back.
package receipts

import (
	"context"
	"errors"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/canonicalize"
)

// GenesisHash is the prev_hash of the first receipt in a chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ErrNotFound is returned when a receipt does not exist.
var ErrNotFound = errors.New("receipt not found")

// Receipt records the outcome of one dispatch.
type Receipt struct {
	ReceiptID  string    `json:"receipt_id"`
	Sequence   uint64    `json:"sequence"`
	Challenge  string    `json:"challenge"`
	Signer     string    `json:"signer"`
	Nonce      string    `json:"nonce"`
	Target     string    `json:"target"`
	Function   string    `json:"function"`
	State      string    `json:"state"`
	Code       string    `json:"code,omitempty"`
	OutputHash string    `json:"output_hash,omitempty"`
	PrevHash   string    `json:"prev_hash"`
	Timestamp  time.Time `json:"timestamp"`

	// Filled by Chain.Emit; not part of the signed payload.
	Hash      string `json:"hash"`
	KeyID     string `json:"key_id"`
	Signature string `json:"signature"`
	// ArchiveRef is the content address of the archived copy, if any.
	ArchiveRef string `json:"archive_ref,omitempty"`
}

// signedFields is the subset of Receipt covered by Hash and Signature.
type signedFields struct {
	ReceiptID  string `json:"receipt_id"`
	Sequence   uint64 `json:"sequence"`
	Challenge  string `json:"challenge"`
	Signer     string `json:"signer"`
	Nonce      string `json:"nonce"`
	Target     string `json:"target"`
	Function   string `json:"function"`
	State      string `json:"state"`
	Code       string `json:"code,omitempty"`
	OutputHash string `json:"output_hash,omitempty"`
	PrevHash   string `json:"prev_hash"`
	Timestamp  string `json:"timestamp"`
}

// Payload returns the JCS bytes that are hashed and signed.
func (r *Receipt) Payload() ([]byte, error) {
	return canonicalize.JCS(signedFields{
		ReceiptID:  r.ReceiptID,
		Sequence:   r.Sequence,
		Challenge:  r.Challenge,
		Signer:     r.Signer,
		Nonce:      r.Nonce,
		Target:     r.Target,
		Function:   r.Function,
		State:      r.State,
		Code:       r.Code,
		OutputHash: r.OutputHash,
		PrevHash:   r.PrevHash,
		Timestamp:  r.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// Store persists receipts in chain order.
type Store interface {
	Append(ctx context.Context, r *Receipt) error
	Get(ctx context.Context, receiptID string) (*Receipt, error)
	// Last returns the receipt with the highest sequence, or nil for an empty chain.
	Last(ctx context.Context) (*Receipt, error)
	// List returns up to limit receipts, newest first.
	List(ctx context.Context, limit int) ([]*Receipt, error)
}

// Archiver keeps a content-addressed copy of each receipt.
type Archiver interface {
	Store(ctx context.Context, data []byte) (string, error)
}
