package receipts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/crypto"
)

func TestFileStore_ChainSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "receipts.jsonl")
	signer, err := crypto.NewEd25519Signer("receipts")
	require.NoError(t, err)
	v, err := crypto.NewEd25519Verifier(signer.PublicKeyBytes())
	require.NoError(t, err)

	fs, err := NewFileStore(path)
	require.NoError(t, err)
	first := emit(t, NewChain(fs, signer), "mint", "COMPLETED")
	emit(t, NewChain(fs, signer), "transfer", "COMPLETED")
	require.NoError(t, fs.Close())

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get(ctx, first.ReceiptID)
	require.NoError(t, err)
	assert.Equal(t, first.Hash, got.Hash)

	third := emit(t, NewChain(reopened, signer), "update_location", "COMPLETED")
	assert.Equal(t, uint64(3), third.Sequence, "chain continues instead of restarting at genesis")

	all, err := reopened.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.ReceiptID, all[0].ReceiptID)

	report := Audit(all, v)
	assert.True(t, report.Verified, "%+v", report)
}

func TestFileStore_TruncatesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")
	signer, err := crypto.NewEd25519Signer("receipts")
	require.NoError(t, err)

	fs, err := NewFileStore(path)
	require.NoError(t, err)
	emit(t, NewChain(fs, signer), "mint", "COMPLETED")
	require.NoError(t, fs.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"receipt_id":"torn`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	next := emit(t, NewChain(reopened, signer), "transfer", "COMPLETED")
	assert.Equal(t, uint64(2), next.Sequence)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "torn")
}

func TestFileStore_RejectsCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0o600))
	_, err := NewFileStore(path)
	assert.ErrorContains(t, err, "line 1")
}
