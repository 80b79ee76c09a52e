package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/avolkov/mxauth/internal/dbx"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
  user_id      TEXT PRIMARY KEY,
  name         TEXT NOT NULL,
  homeserver   TEXT NOT NULL,
  device_id    TEXT NOT NULL,
  access_token TEXT NOT NULL
);
`

// SQLiteStore is the sqlite-backed AccountStore.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) the accounts database at dsn and
// bootstraps the schema.
func Open(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open account store: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap account store schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) GetAccountInfo(ctx context.Context, userID string) (*AccountInfo, error) {
	var info AccountInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, name, homeserver, device_id, access_token FROM accounts WHERE user_id = ?`,
		userID,
	).Scan(&info.UserID, &info.Name, &info.Homeserver, &info.DeviceID, &info.AccessToken)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	return &info, nil
}

func (s *SQLiteStore) SaveAccountInfo(ctx context.Context, info AccountInfo) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (user_id, name, homeserver, device_id, access_token)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
			  name = excluded.name,
			  homeserver = excluded.homeserver,
			  device_id = excluded.device_id,
			  access_token = excluded.access_token
		`, info.UserID, info.Name, info.Homeserver, info.DeviceID, info.AccessToken)
		if err != nil {
			return fmt.Errorf("save account %s: %w", info.UserID, err)
		}
		return nil
	})
}

func (s *SQLiteStore) List(ctx context.Context) ([]AccountInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, name, homeserver, device_id, access_token FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []AccountInfo
	for rows.Next() {
		var info AccountInfo
		if err := rows.Scan(&info.UserID, &info.Name, &info.Homeserver, &info.DeviceID, &info.AccessToken); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", userID, err)
	}
	return nil
}
