package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/database"
)

// SQLSettings stores settings in the dispatcher_settings table.
type SQLSettings struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewSQLSettings(db *sql.DB, dialect database.Dialect) *SQLSettings {
	return &SQLSettings{db: db, dialect: dialect}
}

const settingsSchema = `
CREATE TABLE IF NOT EXISTS dispatcher_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at BIGINT NOT NULL
);
`

func (s *SQLSettings) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, settingsSchema)
	return err
}

func (s *SQLSettings) Get(ctx context.Context, key string) (string, error) {
	query := database.Rebind(s.dialect, `SELECT value FROM dispatcher_settings WHERE key = ?`)
	var v string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotSet
	}
	if err != nil {
		return "", fmt.Errorf("read setting %s: %w", key, err)
	}
	return v, nil
}

func (s *SQLSettings) PutIfAbsent(ctx context.Context, key, value string) (string, bool, error) {
	query := database.Rebind(s.dialect, `
		INSERT INTO dispatcher_settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO NOTHING
	`)
	res, err := s.db.ExecContext(ctx, query, key, value, time.Now().Unix())
	if err != nil {
		return "", false, fmt.Errorf("write setting %s: %w", key, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 1 {
		return value, true, nil
	}
	current, err := s.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	return current, false, nil
}

func (s *SQLSettings) CompareAndSwap(ctx context.Context, key, old, value string) (bool, error) {
	query := database.Rebind(s.dialect, `UPDATE dispatcher_settings SET value = ?, updated_at = ? WHERE key = ? AND value = ?`)
	res, err := s.db.ExecContext(ctx, query, value, time.Now().Unix(), key, old)
	if err != nil {
		return false, fmt.Errorf("swap setting %s: %w", key, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows == 1, nil
}
