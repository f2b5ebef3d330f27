// Package store persists users and invoice records in SQLite. Invoice
// writes are idempotent: the (user_id, access_key) uniqueness invariant
// turns re-processing of the same document into a detectable duplicate
// instead of a second row.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrDuplicate marks an invoice write rejected by the uniqueness
// invariant. This is the dedup mechanism working, not a failure.
var ErrDuplicate = errors.New("invoice already recorded")

// ErrNotFound marks a missing row.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. An empty path opens an
// in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" || trimmed == ":memory:" || strings.Contains(trimmed, "mode=memory") {
		trimmed = ":memory:"
		inMemory = true
	}

	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema applies the schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            email TEXT NOT NULL UNIQUE,
            refresh_credential TEXT NOT NULL DEFAULT '',
            last_sync_at INTEGER,
            created_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS invoices (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id TEXT NOT NULL,
            access_key TEXT NOT NULL,
            issuer_tax_id TEXT NOT NULL,
            issuer_name TEXT NOT NULL,
            issue_date TEXT NOT NULL,
            total_amount REAL NOT NULL,
            doc_type_code TEXT NOT NULL,
            category TEXT NOT NULL,
            deductible INTEGER NOT NULL,
            source TEXT NOT NULL,
            receipt_count INTEGER NOT NULL,
            created_at INTEGER NOT NULL,
            UNIQUE(user_id, access_key),
            FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_user ON invoices(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_user_date ON invoices(user_id, issue_date);`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_user_category ON invoices(user_id, category);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// User is an account holding a stored refresh credential.
type User struct {
	ID                string
	Email             string
	RefreshCredential string
	LastSyncAt        *time.Time
	CreatedAt         time.Time
}

// CreateUser registers a user with a stored refresh credential and
// returns the generated id.
func (s *Store) CreateUser(ctx context.Context, email, refreshCredential string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, refresh_credential, created_at) VALUES (?, ?, ?, ?);`,
		id, email, refreshCredential, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUser fetches one user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, refresh_credential, last_sync_at, created_at FROM users WHERE id = ?;`, id)
	return scanUser(row)
}

// ListUsersWithCredential returns every user holding a stored refresh
// credential, in creation order. This is the fan-out population.
func (s *Store) ListUsersWithCredential(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, refresh_credential, last_sync_at, created_at
         FROM users WHERE refresh_credential != '' ORDER BY created_at, id;`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// ListUsers returns every registered user in creation order.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, refresh_credential, last_sync_at, created_at
         FROM users ORDER BY created_at, id;`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var lastSync sql.NullInt64
	var createdAt int64
	err := row.Scan(&u.ID, &u.Email, &u.RefreshCredential, &lastSync, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = time.Unix(createdAt, 0)
	if lastSync.Valid {
		t := time.Unix(lastSync.Int64, 0)
		u.LastSyncAt = &t
	}
	return &u, nil
}

// TouchLastSync records the completion time of a user's sync run.
func (s *Store) TouchLastSync(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_sync_at = ? WHERE id = ?;`, at.Unix(), userID)
	if err != nil {
		return fmt.Errorf("touch last sync: %w", err)
	}
	return nil
}
