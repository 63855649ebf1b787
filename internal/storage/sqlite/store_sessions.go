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

// PutChallengeSession persists a freshly issued challenge session.
func (s *Store) PutChallengeSession(ctx context.Context, session storage.ChallengeSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.Kind) == "" {
		return fmt.Errorf("session kind is required")
	}
	if strings.TrimSpace(session.Challenge) == "" {
		return fmt.Errorf("challenge is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO challenge_sessions (id, kind, username, challenge, issued_at, expires_at, consumed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		session.ID,
		session.Kind,
		session.Username,
		session.Challenge,
		toMillis(session.IssuedAt),
		toMillis(session.ExpiresAt),
		nullMillis(session.ConsumedAt),
	)
	if err != nil {
		return fmt.Errorf("put challenge session: %w", err)
	}
	return nil
}

// ConsumeChallengeSession marks a pending session consumed and returns its
// stored state. The conditional update is the single-use gate: only the one
// caller whose UPDATE lands on the unconsumed row wins, every other caller
// sees storage.ErrNotFound regardless of timing.
func (s *Store) ConsumeChallengeSession(ctx context.Context, id, kind string, now time.Time) (storage.ChallengeSession, error) {
	if err := ctx.Err(); err != nil {
		return storage.ChallengeSession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ChallengeSession{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return storage.ChallengeSession{}, fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(kind) == "" {
		return storage.ChallengeSession{}, fmt.Errorf("session kind is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE challenge_sessions
SET consumed_at = ?
WHERE id = ? AND kind = ? AND consumed_at IS NULL
`, toMillis(now), id, kind)
	if err != nil {
		return storage.ChallengeSession{}, fmt.Errorf("consume challenge session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.ChallengeSession{}, fmt.Errorf("consume challenge session: %w", err)
	}
	if affected == 0 {
		return storage.ChallengeSession{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, kind, username, challenge, issued_at, expires_at, consumed_at
FROM challenge_sessions
WHERE id = ?
`, id)

	var session storage.ChallengeSession
	var issuedAt, expiresAt int64
	var consumedAt sql.NullInt64
	err = row.Scan(&session.ID, &session.Kind, &session.Username, &session.Challenge, &issuedAt, &expiresAt, &consumedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ChallengeSession{}, storage.ErrNotFound
		}
		return storage.ChallengeSession{}, fmt.Errorf("consume challenge session: %w", err)
	}
	session.IssuedAt = fromMillis(issuedAt)
	session.ExpiresAt = fromMillis(expiresAt)
	if consumedAt.Valid {
		consumed := fromMillis(consumedAt.Int64)
		session.ConsumedAt = &consumed
	}
	return session, nil
}

// DeleteExpiredChallengeSessions removes sessions whose deadline has passed.
// Consumed rows older than the deadline go too, they only exist for audit
// until cleanup runs.
func (s *Store) DeleteExpiredChallengeSessions(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM challenge_sessions
WHERE expires_at <= ?
`, toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired challenge sessions: %w", err)
	}
	return nil
}
