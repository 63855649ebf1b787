package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/passkeyd/passkeyd/internal/storage"
)

// AppendTelemetryEvent records one ceremony outcome.
func (s *Store) AppendTelemetryEvent(ctx context.Context, event storage.TelemetryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("event id is required")
	}
	if strings.TrimSpace(event.Ceremony) == "" {
		return fmt.Errorf("ceremony is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO ceremony_telemetry (id, ceremony, session_id, username, code, message, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		event.ID,
		event.Ceremony,
		event.SessionID,
		event.Username,
		event.Code,
		event.Message,
		toMillis(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}
