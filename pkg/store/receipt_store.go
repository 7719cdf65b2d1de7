package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/database"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/receipts"
)

// SQLReceiptStore is a durable receipts.Store for SQLite and Postgres.
type SQLReceiptStore struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewSQLReceiptStore(ctx context.Context, db *sql.DB, dialect database.Dialect) (*SQLReceiptStore, error) {
	s := &SQLReceiptStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLReceiptStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS dispatch_receipts (
		receipt_id TEXT PRIMARY KEY,
		sequence BIGINT NOT NULL UNIQUE,
		challenge TEXT NOT NULL,
		signer TEXT NOT NULL,
		nonce TEXT NOT NULL,
		target TEXT NOT NULL,
		function_name TEXT NOT NULL,
		state TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		output_hash TEXT NOT NULL DEFAULT '',
		prev_hash TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		hash TEXT NOT NULL,
		key_id TEXT NOT NULL,
		signature TEXT NOT NULL,
		archive_ref TEXT NOT NULL DEFAULT ''
	);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

const receiptColumns = `receipt_id, sequence, challenge, signer, nonce, target, function_name, state, code, output_hash, prev_hash, timestamp, hash, key_id, signature, archive_ref`

func (s *SQLReceiptStore) Append(ctx context.Context, r *receipts.Receipt) error {
	query := database.Rebind(s.dialect, `INSERT INTO dispatch_receipts (`+receiptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		r.ReceiptID, int64(r.Sequence), r.Challenge, r.Signer, r.Nonce, r.Target, r.Function, r.State,
		r.Code, r.OutputHash, r.PrevHash, r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Hash, r.KeyID, r.Signature, r.ArchiveRef,
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

func (s *SQLReceiptStore) Get(ctx context.Context, receiptID string) (*receipts.Receipt, error) {
	query := database.Rebind(s.dialect, `SELECT `+receiptColumns+` FROM dispatch_receipts WHERE receipt_id = ?`)
	r, err := scanReceipt(s.db.QueryRowContext(ctx, query, receiptID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, receipts.ErrNotFound
	}
	return r, err
}

func (s *SQLReceiptStore) Last(ctx context.Context) (*receipts.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM dispatch_receipts ORDER BY sequence DESC LIMIT 1`
	r, err := scanReceipt(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // genesis
	}
	return r, err
}

func (s *SQLReceiptStore) List(ctx context.Context, limit int) ([]*receipts.Receipt, error) {
	query := database.Rebind(s.dialect, `SELECT `+receiptColumns+` FROM dispatch_receipts ORDER BY sequence DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*receipts.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row scanner) (*receipts.Receipt, error) {
	var (
		r         receipts.Receipt
		seq       int64
		timestamp string
	)
	err := row.Scan(&r.ReceiptID, &seq, &r.Challenge, &r.Signer, &r.Nonce, &r.Target, &r.Function, &r.State,
		&r.Code, &r.OutputHash, &r.PrevHash, &timestamp, &r.Hash, &r.KeyID, &r.Signature, &r.ArchiveRef)
	if err != nil {
		return nil, err
	}
	r.Sequence = uint64(seq)
	r.Timestamp = parseTime(timestamp)
	return &r, nil
}

func parseTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
