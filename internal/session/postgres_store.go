package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTokensTable = `CREATE TABLE IF NOT EXISTS session_tokens (
    namespace  TEXT        NOT NULL,
    key        TEXT        NOT NULL,
    value      TEXT        NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (namespace, key)
)`

// PostgresStore keeps tokens as rows keyed by (namespace, key).
type PostgresStore struct {
	db        *pgxpool.Pool
	namespace string
}

// NewPostgresStore builds a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool, namespace string) *PostgresStore {
	return &PostgresStore{db: db, namespace: namespace}
}

// Init creates the token table when missing.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createTokensTable); err != nil {
		return fmt.Errorf("create session_tokens: %w", err)
	}
	return nil
}

// SetTokens replaces the namespace rows inside one transaction.
func (s *PostgresStore) SetTokens(ctx context.Context, access, refresh string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin set tokens: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM session_tokens WHERE namespace = $1`, s.namespace); err != nil {
		return fmt.Errorf("delete tokens: %w", err)
	}
	for key, value := range map[string]string{KeyAccessToken: access, KeyRefreshToken: refresh} {
		if value == "" {
			continue
		}
		if _, err := tx.Exec(ctx, `INSERT INTO session_tokens (namespace, key, value, updated_at)
        VALUES ($1, $2, $3, now())`, s.namespace, key, value); err != nil {
			return fmt.Errorf("insert %s: %w", key, err)
		}
	}
	return tx.Commit(ctx)
}

// ClearTokens deletes the namespace rows.
func (s *PostgresStore) ClearTokens(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM session_tokens WHERE namespace = $1`, s.namespace); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return nil
}

// AccessToken returns the stored access token or "".
func (s *PostgresStore) AccessToken(ctx context.Context) (string, error) {
	return s.value(ctx, KeyAccessToken)
}

// RefreshToken returns the stored refresh token or "".
func (s *PostgresStore) RefreshToken(ctx context.Context) (string, error) {
	return s.value(ctx, KeyRefreshToken)
}

func (s *PostgresStore) value(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRow(ctx, `SELECT value FROM session_tokens WHERE namespace = $1 AND key = $2`, s.namespace, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("select %s: %w", key, err)
	}
	return v, nil
}
