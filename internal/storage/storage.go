// Package storage defines the persistence contracts for users, credentials,
// challenge sessions, and ceremony telemetry.
package storage

import (
	"context"
	"time"

	"github.com/passkeyd/passkeyd/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrConflict indicates a compare-and-swap update lost against a concurrent
// writer.
var ErrConflict = errors.New(errors.CodeWriteConflict, "concurrent update conflict")

// User is an identity record. Usernames are unique and immutable once
// created.
type User struct {
	ID          string
	Username    string
	DisplayName string
	CreatedAt   time.Time
}

// Credential stores one registered authenticator for a user. The credential
// ID and public key are held in their wire-encoded text forms.
type Credential struct {
	CredentialID   string
	UserID         string
	PublicKey      string
	Algorithm      int64
	SignCount      uint32
	BackupEligible bool
	Verified       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// ChallengeSession is a pending ceremony challenge bound to server-side
// state. The challenge value is held wire-encoded.
type ChallengeSession struct {
	ID         string
	Kind       string
	Username   string
	Challenge  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// TelemetryEvent records the internal outcome of one ceremony attempt.
type TelemetryEvent struct {
	ID        string
	Ceremony  string
	SessionID string
	Username  string
	Code      string
	Message   string
	CreatedAt time.Time
}

// UserStore persists identity records.
type UserStore interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserByName(ctx context.Context, username string) (User, error)
}

// CredentialStore persists registered credentials.
type CredentialStore interface {
	CreateCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	ListCredentialsByUser(ctx context.Context, userID string) ([]Credential, error)
	// AdvanceCounter moves a credential's signature counter from the
	// observed value to a new one. It fails with ErrConflict when the stored
	// counter no longer matches the observed value.
	AdvanceCounter(ctx context.Context, credentialID string, observed, next uint32, usedAt time.Time) error
}

// ChallengeStore persists pending ceremony challenges.
type ChallengeStore interface {
	PutChallengeSession(ctx context.Context, session ChallengeSession) error
	// ConsumeChallengeSession atomically marks the pending session consumed
	// and returns it. A missing or already-consumed session reports
	// ErrNotFound. At most one caller ever receives a given session.
	ConsumeChallengeSession(ctx context.Context, id, kind string, now time.Time) (ChallengeSession, error)
	DeleteExpiredChallengeSessions(ctx context.Context, now time.Time) error
}

// TelemetryStore records ceremony outcomes.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, event TelemetryEvent) error
}
