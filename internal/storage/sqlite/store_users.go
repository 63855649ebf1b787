package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/passkeyd/passkeyd/internal/storage"
)

// CreateUser persists a new identity record.
func (s *Store) CreateUser(ctx context.Context, u storage.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("username is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, username, display_name, created_at)
VALUES (?, ?, ?, ?)
`, u.ID, u.Username, u.DisplayName, toMillis(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser fetches an identity record by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return storage.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, username, display_name, created_at
FROM users
WHERE id = ?
`, userID)
	return scanUser(row)
}

// GetUserByName fetches an identity record by its unique username.
func (s *Store) GetUserByName(ctx context.Context, username string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(username) == "" {
		return storage.User{}, fmt.Errorf("username is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, username, display_name, created_at
FROM users
WHERE username = ?
`, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (storage.User, error) {
	var u storage.User
	var createdAt int64
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}
