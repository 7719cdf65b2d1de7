package ledger

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/database"
)

// SQLLedger implements Ledger using database/sql.
// It supports both Postgres (lib/pq) and SQLite (modernc.org/sqlite).
type SQLLedger struct {
	db      *sql.DB
	dialect database.Dialect
	clock   func() time.Time
}

func NewSQLLedger(db *sql.DB, dialect database.Dialect) *SQLLedger {
	return &SQLLedger{db: db, dialect: dialect, clock: time.Now}
}

const schema = `
CREATE TABLE IF NOT EXISTS consumed_nonces (
	signer TEXT NOT NULL,
	nonce TEXT NOT NULL,
	consumed_at BIGINT NOT NULL,
	PRIMARY KEY (signer, nonce)
);
`

func (s *SQLLedger) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLLedger) rebind(query string) string {
	return database.Rebind(s.dialect, query)
}

func (s *SQLLedger) IsConsumed(ctx context.Context, signer string, nonce [32]byte) (bool, error) {
	query := s.rebind(`SELECT 1 FROM consumed_nonces WHERE signer = ? AND nonce = ?`)
	rows, err := s.db.QueryContext(ctx, query, signer, hex.EncodeToString(nonce[:]))
	if err != nil {
		return false, fmt.Errorf("query consumed nonce: %w", err)
	}
	defer func() { _ = rows.Close() }()

	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}

// Consume relies on the primary key for atomicity: the insert is a no-op
// for an existing pair, which RowsAffected reports as zero.
func (s *SQLLedger) Consume(ctx context.Context, signer string, nonce [32]byte) error {
	query := s.rebind(`
		INSERT INTO consumed_nonces (signer, nonce, consumed_at)
		VALUES (?, ?, ?)
		ON CONFLICT (signer, nonce) DO NOTHING
	`)
	res, err := s.db.ExecContext(ctx, query, signer, hex.EncodeToString(nonce[:]), s.clock().Unix())
	if err != nil {
		return fmt.Errorf("insert consumed nonce: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyConsumed
	}
	return nil
}

// ListBySigner returns the pairs consumed by signer, oldest first.
func (s *SQLLedger) ListBySigner(ctx context.Context, signer string) ([]Record, error) {
	query := s.rebind(`SELECT signer, nonce, consumed_at FROM consumed_nonces WHERE signer = ? ORDER BY consumed_at, nonce`)
	rows, err := s.db.QueryContext(ctx, query, signer)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]Record, 0)
	for rows.Next() {
		var (
			rec Record
			at  int64
		)
		if err := rows.Scan(&rec.Signer, &rec.Nonce, &at); err != nil {
			return nil, err
		}
		rec.ConsumedAt = time.Unix(at, 0).UTC()
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
