package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/passkeyd/passkeyd/internal/storage"
)

// CreateCredential persists a newly registered credential.
func (s *Store) CreateCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(credential.PublicKey) == "" {
		return fmt.Errorf("public key is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO credentials (
	credential_id, user_id, public_key, algorithm, sign_count,
	backup_eligible, verified, created_at, updated_at, last_used_at
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		credential.CredentialID,
		credential.UserID,
		credential.PublicKey,
		credential.Algorithm,
		credential.SignCount,
		boolToInt(credential.BackupEligible),
		boolToInt(credential.Verified),
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		nullMillis(credential.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

// GetCredential fetches a credential by its wire-encoded ID.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.Credential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT credential_id, user_id, public_key, algorithm, sign_count,
       backup_eligible, verified, created_at, updated_at, last_used_at
FROM credentials
WHERE credential_id = ?
`, credentialID)

	credential, err := scanCredential(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return credential, nil
}

// ListCredentialsByUser returns every credential registered to a user, oldest
// first.
func (s *Store) ListCredentialsByUser(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT credential_id, user_id, public_key, algorithm, sign_count,
       backup_eligible, verified, created_at, updated_at, last_used_at
FROM credentials
WHERE user_id = ?
ORDER BY created_at ASC, credential_id ASC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []storage.Credential
	for rows.Next() {
		credential, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// AdvanceCounter moves the signature counter forward with an optimistic
// compare-and-swap against the last observed value. Losing the race reports
// storage.ErrConflict so the caller can treat the attempt as replayed.
func (s *Store) AdvanceCounter(ctx context.Context, credentialID string, observed, next uint32, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	usedAtMillis := toMillis(usedAt)
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE credentials
SET sign_count = ?, updated_at = ?, last_used_at = ?
WHERE credential_id = ? AND sign_count = ?
`, next, usedAtMillis, usedAtMillis, credentialID, observed)
	if err != nil {
		return fmt.Errorf("advance counter: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance counter: %w", err)
	}
	if affected == 0 {
		// Either the credential vanished or another assertion advanced the
		// counter first. Distinguish so callers can report accurately.
		var exists int
		row := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM credentials WHERE credential_id = ?`, credentialID)
		if err := row.Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("advance counter: %w", err)
		}
		return storage.ErrConflict
	}
	return nil
}

func scanCredential(scan func(dest ...any) error) (storage.Credential, error) {
	var credential storage.Credential
	var backupEligible, verified int
	var createdAt, updatedAt int64
	var lastUsedAt sql.NullInt64
	err := scan(
		&credential.CredentialID,
		&credential.UserID,
		&credential.PublicKey,
		&credential.Algorithm,
		&credential.SignCount,
		&backupEligible,
		&verified,
		&createdAt,
		&updatedAt,
		&lastUsedAt,
	)
	if err != nil {
		return storage.Credential{}, err
	}
	credential.BackupEligible = backupEligible != 0
	credential.Verified = verified != 0
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	if lastUsedAt.Valid {
		used := fromMillis(lastUsedAt.Int64)
		credential.LastUsedAt = &used
	}
	return credential, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}
