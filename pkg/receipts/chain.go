package receipts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/canonicalize"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/crypto"
)

// Chain appends signed receipts, each linked to its predecessor by hash.
// A Chain serializes its own appends; run one Chain per store.
type Chain struct {
	mu       sync.Mutex
	store    Store
	signer   crypto.Signer
	archiver Archiver
	clock    func() time.Time
	logger   *slog.Logger
}

type Option func(*Chain)

// WithArchiver copies every receipt into a content-addressed store.
func WithArchiver(a Archiver) Option {
	return func(c *Chain) { c.archiver = a }
}

func WithClock(clock func() time.Time) Option {
	return func(c *Chain) { c.clock = clock }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) { c.logger = l }
}

func NewChain(store Store, signer crypto.Signer, opts ...Option) *Chain {
	c := &Chain{
		store:  store,
		signer: signer,
		clock:  time.Now,
		logger: slog.Default().With("component", "receipts"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Emit completes r (id, sequence, link, hash, signature) and appends it.
func (c *Chain) Emit(ctx context.Context, r *Receipt) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, err := c.store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("receipts: read chain head: %w", err)
	}
	r.PrevHash = GenesisHash
	r.Sequence = 1
	if last != nil {
		r.PrevHash = last.Hash
		r.Sequence = last.Sequence + 1
	}
	if r.ReceiptID == "" {
		r.ReceiptID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = c.clock().UTC()
	}

	payload, err := r.Payload()
	if err != nil {
		return nil, fmt.Errorf("receipts: canonicalize: %w", err)
	}
	r.Hash = canonicalize.HashBytes(payload)
	r.Signature, err = c.signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("receipts: sign: %w", err)
	}
	r.KeyID = c.signer.KeyID()

	if c.archiver != nil {
		// Archival is best effort; the store is the system of record.
		if blob, err := json.Marshal(r); err == nil {
			if ref, err := c.archiver.Store(ctx, blob); err != nil {
				c.logger.WarnContext(ctx, "receipt archive failed", "receipt_id", r.ReceiptID, "error", err)
			} else {
				r.ArchiveRef = ref
			}
		}
	}

	if err := c.store.Append(ctx, r); err != nil {
		return nil, fmt.Errorf("receipts: append: %w", err)
	}
	return r, nil
}
