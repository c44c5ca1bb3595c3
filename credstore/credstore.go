// Package credstore persists the backend API key in SQLite.
//
// The stored key wins over a fallback supplied at startup (typically the
// GEMINI_API_KEY environment variable).
package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/livepage/dbopen"
)

// KeyAPI is the storage key of the backend credential.
const KeyAPI = "gemini_api_key"

// ErrMissingCredential is returned when no credential is stored and no
// fallback was configured.
var ErrMissingCredential = errors.New("credstore: no API key configured")

// Schema creates the credentials table. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS credentials (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);`

// Source tells where a credential came from.
type Source string

const (
	SourceNone   Source = ""
	SourceStored Source = "stored"
	SourceEnv    Source = "env"
)

// Store reads and writes the credential.
type Store struct {
	db       *sql.DB
	fallback string
}

// Option configures a Store.
type Option func(*Store)

// WithFallback sets the credential used when none is stored.
func WithFallback(v string) Option {
	return func(s *Store) { s.fallback = strings.TrimSpace(v) }
}

// New applies the schema and returns a Store.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("credstore: schema: %w", err)
	}
	s := &Store{db: db}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// APIKey returns the credential.
func (s *Store) APIKey(ctx context.Context) (string, error) {
	v, _, err := s.Lookup(ctx)
	return v, err
}

// Lookup returns the credential and where it came from.
func (s *Store) Lookup(ctx context.Context) (string, Source, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM credentials WHERE key = ?`, KeyAPI).Scan(&v)
	switch {
	case err == nil && v != "":
		return v, SourceStored, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return "", SourceNone, fmt.Errorf("credstore: read: %w", err)
	}
	if s.fallback != "" {
		return s.fallback, SourceEnv, nil
	}
	return "", SourceNone, ErrMissingCredential
}

// SetAPIKey stores v. A blank value removes the stored credential.
func (s *Store) SetAPIKey(ctx context.Context, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		_, err := dbopen.Exec(ctx, s.db, `DELETE FROM credentials WHERE key = ?`, KeyAPI)
		if err != nil {
			return fmt.Errorf("credstore: delete: %w", err)
		}
		return nil
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		KeyAPI, v, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("credstore: write: %w", err)
	}
	return nil
}
