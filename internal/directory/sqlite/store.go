package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"charging-kiosk/internal/directory"
	"charging-kiosk/internal/domain"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	card_id TEXT UNIQUE,
	balance REAL NOT NULL DEFAULT 0,
	phone_number TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
`

// Store keeps the user directory in a local sqlite file.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a sqlite database at the given path and ensures directories exist.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// reasonable defaults for sqlite with concurrent readers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createUsersTable); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FetchAll(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, card_id, balance, phone_number, created_at
FROM users
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		var cardID sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &cardID, &u.Balance, &u.PhoneNumber, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.CardID = cardID.String
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *Store) WriteBalance(ctx context.Context, cardID string, balance float64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE users SET balance = ? WHERE card_id = ?`,
		balance,
		cardID,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update balance rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no user with card %s", cardID)
	}
	return nil
}

func (s *Store) Provision(ctx context.Context, user domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, name, card_id, balance, phone_number, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Name,
		user.CardID,
		user.Balance,
		user.PhoneNumber,
		user.CreatedAt,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return fmt.Errorf("user already exists: %w", err)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// SeedDemo inserts sample accounts for a fresh kiosk so the UI has something
// to show. Existing rows are left alone.
func (s *Store) SeedDemo(ctx context.Context) error {
	existing, err := s.FetchAll(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	demo := []domain.User{
		{ID: "1", Name: "Demo One", CardID: "CARD001", Balance: 100, PhoneNumber: "+00 0000000001"},
		{ID: "2", Name: "Demo Two", CardID: "CARD002", Balance: 150, PhoneNumber: "+00 0000000002"},
		{ID: "3", Name: "Demo Three", CardID: "CARD003", Balance: 90, PhoneNumber: "+00 0000000003"},
	}
	for _, u := range demo {
		if err := s.Provision(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ directory.Store       = (*Store)(nil)
	_ directory.Provisioner = (*Store)(nil)
)
