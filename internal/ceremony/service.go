package ceremony

import (
	"context"
	"crypto/rand"
	"io"
	"time"

	apperrors "github.com/passkeyd/passkeyd/internal/platform/errors"
	"github.com/passkeyd/passkeyd/internal/platform/id"
	"github.com/passkeyd/passkeyd/internal/storage"
	"github.com/passkeyd/passkeyd/internal/telemetry"
	"github.com/passkeyd/passkeyd/internal/webauthn"
)

// Service runs passkey ceremonies against the configured relying party and
// the backing stores.
type Service struct {
	users       storage.UserStore
	credentials storage.CredentialStore
	challenges  storage.ChallengeStore

	rp        *webauthn.RelyingParty
	policy    webauthn.AttestationPolicy
	authority webauthn.AttestationAuthority
	telemetry *telemetry.Emitter
	config    Config

	clock       func() time.Time
	idGenerator func() (string, error)
	randReader  io.Reader
}

// Stores groups the persistence dependencies of the service.
type Stores struct {
	Users       storage.UserStore
	Credentials storage.CredentialStore
	Challenges  storage.ChallengeStore
}

// Option customizes service construction.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(generate func() (string, error)) Option {
	return func(s *Service) { s.idGenerator = generate }
}

// WithRandReader overrides the challenge entropy source.
func WithRandReader(r io.Reader) Option {
	return func(s *Service) { s.randReader = r }
}

// WithAttestationAuthority wires the trust-chain validator used by the full
// attestation policy.
func WithAttestationAuthority(authority webauthn.AttestationAuthority) Option {
	return func(s *Service) { s.authority = authority }
}

// WithTelemetry wires the ceremony outcome emitter.
func WithTelemetry(emitter *telemetry.Emitter) Option {
	return func(s *Service) { s.telemetry = emitter }
}

// NewService builds a ceremony service from configuration and stores.
func NewService(cfg Config, stores Stores, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rp, err := webauthn.NewRelyingParty(cfg.RPID, cfg.RPOrigin)
	if err != nil {
		return nil, err
	}
	policy, err := webauthn.ParseAttestationPolicy(cfg.AttestationPolicy)
	if err != nil {
		return nil, err
	}

	s := &Service{
		users:       stores.Users,
		credentials: stores.Credentials,
		challenges:  stores.Challenges,
		rp:          rp,
		policy:      policy,
		config:      cfg,
		clock:       time.Now,
		idGenerator: id.NewID,
		randReader:  rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RelyingPartyID reports the configured relying party identifier.
func (s *Service) RelyingPartyID() string {
	return s.rp.ID
}

// SweepExpiredSessions deletes challenge sessions past their deadline.
func (s *Service) SweepExpiredSessions(ctx context.Context) error {
	if s.challenges == nil {
		return apperrors.New(apperrors.CodeRepositoryFailure, "challenge store is not configured")
	}
	if err := s.challenges.DeleteExpiredChallengeSessions(ctx, s.clock().UTC()); err != nil {
		return apperrors.Wrap(apperrors.CodeRepositoryFailure, "sweep expired sessions", err)
	}
	return nil
}

// issueChallenge creates and persists a fresh single-use challenge session.
func (s *Service) issueChallenge(ctx context.Context, kind Kind, username string) (storage.ChallengeSession, error) {
	challenge := make([]byte, s.config.ChallengeLength)
	if _, err := io.ReadFull(s.randReader, challenge); err != nil {
		return storage.ChallengeSession{}, apperrors.Wrap(apperrors.CodeRepositoryFailure, "generate challenge", err)
	}
	sessionID, err := s.idGenerator()
	if err != nil {
		return storage.ChallengeSession{}, apperrors.Wrap(apperrors.CodeRepositoryFailure, "generate session id", err)
	}

	now := s.clock().UTC()
	session := storage.ChallengeSession{
		ID:        sessionID,
		Kind:      string(kind),
		Username:  username,
		Challenge: webauthn.Encode(challenge),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.ChallengeTTL),
	}
	if err := s.challenges.PutChallengeSession(ctx, session); err != nil {
		return storage.ChallengeSession{}, apperrors.Wrap(apperrors.CodeRepositoryFailure, "store challenge session", err)
	}
	return session, nil
}

// recordFailure stores the internal failure cause. Emission failures are
// dropped; telemetry never changes a ceremony verdict.
func (s *Service) recordFailure(ctx context.Context, kind Kind, sessionID, username string, cause error) {
	_ = s.telemetry.CeremonyFailure(ctx, string(kind), sessionID, username, cause)
}

func (s *Service) recordSuccess(ctx context.Context, kind Kind, sessionID, username string) {
	_ = s.telemetry.CeremonySuccess(ctx, string(kind), sessionID, username)
}

// consumeChallenge atomically claims the pending session and enforces its
// TTL. Expiry is checked after the claim so an expired session is burned
// either way.
func (s *Service) consumeChallenge(ctx context.Context, sessionID string, kind Kind) (storage.ChallengeSession, error) {
	now := s.clock().UTC()
	session, err := s.challenges.ConsumeChallengeSession(ctx, sessionID, string(kind), now)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return storage.ChallengeSession{}, apperrors.New(apperrors.CodeNoPendingChallenge, "no pending challenge for session")
		}
		return storage.ChallengeSession{}, apperrors.Wrap(apperrors.CodeRepositoryFailure, "consume challenge session", err)
	}
	if !now.Before(session.ExpiresAt) {
		return storage.ChallengeSession{}, apperrors.New(apperrors.CodeChallengeExpired, "challenge session expired")
	}
	return session, nil
}
