package receipts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/crypto"
)

type fakeArchiver struct {
	blobs [][]byte
	err   error
}

func (f *fakeArchiver) Store(_ context.Context, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.blobs = append(f.blobs, data)
	return "sha256:fake", nil
}

func newChain(t *testing.T, opts ...Option) (*Chain, *MemoryStore, *crypto.Ed25519Verifier) {
	t.Helper()
	signer, err := crypto.NewEd25519Signer("receipts")
	require.NoError(t, err)
	v, err := crypto.NewEd25519Verifier(signer.PublicKeyBytes())
	require.NoError(t, err)

	store := NewMemoryStore()
	clock := func() time.Time { return time.Unix(1700000000, 0) }
	return NewChain(store, signer, append([]Option{WithClock(clock)}, opts...)...), store, v
}

func emit(t *testing.T, c *Chain, fn, state string) *Receipt {
	t.Helper()
	r, err := c.Emit(context.Background(), &Receipt{
		Challenge: "1a62a12a",
		Signer:    "GSIGNER",
		Nonce:     "00",
		Target:    "location-nft",
		Function:  fn,
		State:     state,
	})
	require.NoError(t, err)
	return r
}

func TestChain_LinksAndSigns(t *testing.T) {
	c, store, v := newChain(t)

	r1 := emit(t, c, "mint", "Completed")
	r2 := emit(t, c, "transfer", "Rejected")
	r3 := emit(t, c, "owner_of", "Completed")

	assert.Equal(t, GenesisHash, r1.PrevHash)
	assert.Equal(t, r1.Hash, r2.PrevHash)
	assert.Equal(t, r2.Hash, r3.PrevHash)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{r1.Sequence, r2.Sequence, r3.Sequence})
	assert.Equal(t, "receipts", r3.KeyID)
	assert.NotEmpty(t, r1.ReceiptID)

	all, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, r3.ReceiptID, all[0].ReceiptID, "newest first")

	report := Audit(all, v)
	assert.True(t, report.Verified)
	assert.Equal(t, 3, report.Checked)
}

func TestAudit_DetectsTampering(t *testing.T) {
	c, store, v := newChain(t)
	emit(t, c, "mint", "Completed")
	r2 := emit(t, c, "transfer", "Rejected")
	emit(t, c, "owner_of", "Completed")

	all, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	for _, r := range all {
		if r.ReceiptID == r2.ReceiptID {
			r.State = "Completed"
		}
	}

	report := Audit(all, v)
	assert.False(t, report.Verified)

	failed := map[string]bool{}
	for _, chk := range report.Checks {
		if !chk.Pass {
			assert.Equal(t, r2.ReceiptID, chk.ReceiptID)
			failed[chk.Name] = true
		}
	}
	assert.True(t, failed["hash"])
	assert.True(t, failed["signature"])
}

func TestAudit_DetectsDroppedReceipt(t *testing.T) {
	c, store, v := newChain(t)
	emit(t, c, "mint", "Completed")
	r2 := emit(t, c, "transfer", "Completed")
	emit(t, c, "owner_of", "Completed")

	all, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	var kept []*Receipt
	for _, r := range all {
		if r.ReceiptID != r2.ReceiptID {
			kept = append(kept, r)
		}
	}
	assert.False(t, Audit(kept, v).Verified)
}

func TestChain_Archive(t *testing.T) {
	arch := &fakeArchiver{}
	c, _, _ := newChain(t, WithArchiver(arch))
	r := emit(t, c, "mint", "Completed")
	assert.Equal(t, "sha256:fake", r.ArchiveRef)
	assert.Len(t, arch.blobs, 1)

	failing := &fakeArchiver{err: errors.New("bucket gone")}
	c2, store, _ := newChain(t, WithArchiver(failing))
	r = emit(t, c2, "mint", "Completed")
	assert.Empty(t, r.ArchiveRef)
	got, err := store.Get(context.Background(), r.ReceiptID)
	require.NoError(t, err, "archive failure must not lose the receipt")
	assert.Equal(t, r.Hash, got.Hash)
}

func TestMemoryStore_NotFound(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	last, err := NewMemoryStore().Last(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}
