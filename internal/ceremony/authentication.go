package ceremony

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/passkeyd/passkeyd/internal/platform/errors"
	"github.com/passkeyd/passkeyd/internal/storage"
	"github.com/passkeyd/passkeyd/internal/webauthn"
)

// AuthenticationOptions is handed to the client to drive an assertion.
type AuthenticationOptions struct {
	SessionID        string                 `json:"sessionId"`
	Challenge        string                 `json:"challenge"`
	RPID             string                 `json:"rpId"`
	Timeout          int64                  `json:"timeout"`
	AllowCredentials []CredentialDescriptor `json:"allowCredentials"`
	UserVerification string                 `json:"userVerification"`
}

// FinishAuthenticationInput is the single accepted response shape for an
// authentication ceremony. All byte fields arrive already decoded from the
// wire encoding; the credential ID stays in its wire form, which is the
// storage key.
type FinishAuthenticationInput struct {
	SessionID         string
	CredentialID      string
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Signature         []byte
}

// AuthenticationResult reports a completed authentication.
type AuthenticationResult struct {
	UserID       string
	Username     string
	CredentialID string
	SignCount    uint32
}

// errAuthenticationFailed is the only failure ever surfaced by a finished
// authentication ceremony. The precise cause is recorded in telemetry.
var errAuthenticationFailed = apperrors.New(apperrors.CodeAuthenticationFailed, "authentication failed")

// BeginAuthentication issues an authentication challenge for the given
// identity. Unknown identities and identities without verified credentials
// fail with the same generic error as a bad assertion, so the begin call
// cannot be used to probe which usernames exist.
func (s *Service) BeginAuthentication(ctx context.Context, username string) (*AuthenticationOptions, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperrors.New(apperrors.CodeMalformedResponse, "username is required")
	}

	user, err := s.users.GetUserByName(ctx, username)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			s.recordFailure(ctx, KindAuthentication, "", username, apperrors.New(apperrors.CodeCredentialNotFound, "unknown identity"))
			return nil, errAuthenticationFailed
		}
		return nil, apperrors.Wrap(apperrors.CodeRepositoryFailure, "look up user", err)
	}

	credentials, err := s.credentials.ListCredentialsByUser(ctx, user.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRepositoryFailure, "list credentials", err)
	}
	var allowed []CredentialDescriptor
	for _, credential := range credentials {
		if !credential.Verified {
			continue
		}
		allowed = append(allowed, CredentialDescriptor{Type: "public-key", ID: credential.CredentialID})
	}
	if len(allowed) == 0 {
		s.recordFailure(ctx, KindAuthentication, "", username, apperrors.New(apperrors.CodeCredentialNotFound, "identity has no verified credentials"))
		return nil, errAuthenticationFailed
	}

	session, err := s.issueChallenge(ctx, KindAuthentication, username)
	if err != nil {
		return nil, err
	}

	userVerification := "preferred"
	if s.config.RequireUserVerification {
		userVerification = "required"
	}
	return &AuthenticationOptions{
		SessionID:        session.ID,
		Challenge:        session.Challenge,
		RPID:             s.rp.ID,
		Timeout:          s.config.CeremonyTimeout.Milliseconds(),
		AllowCredentials: allowed,
		UserVerification: userVerification,
	}, nil
}

// FinishAuthentication consumes the pending session and verifies the
// assertion. Every failure surfaces as the same generic error; the internal
// cause goes to telemetry only.
func (s *Service) FinishAuthentication(ctx context.Context, in FinishAuthenticationInput) (*AuthenticationResult, error) {
	if strings.TrimSpace(in.SessionID) == "" ||
		strings.TrimSpace(in.CredentialID) == "" ||
		len(in.ClientDataJSON) == 0 ||
		len(in.AuthenticatorData) == 0 ||
		len(in.Signature) == 0 {
		return nil, apperrors.New(apperrors.CodeMalformedResponse, "incomplete authentication response")
	}

	session, err := s.consumeChallenge(ctx, in.SessionID, KindAuthentication)
	if err != nil {
		s.recordFailure(ctx, KindAuthentication, in.SessionID, "", err)
		return nil, s.collapseAuthFailure(err)
	}

	result, err := s.finishAuthentication(ctx, session, in)
	if err != nil {
		s.recordFailure(ctx, KindAuthentication, session.ID, session.Username, err)
		return nil, s.collapseAuthFailure(err)
	}
	s.recordSuccess(ctx, KindAuthentication, session.ID, session.Username)
	return result, nil
}

func (s *Service) finishAuthentication(ctx context.Context, session storage.ChallengeSession, in FinishAuthenticationInput) (*AuthenticationResult, error) {
	user, err := s.users.GetUserByName(ctx, session.Username)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return nil, apperrors.New(apperrors.CodeCredentialNotFound, "identity bound to session no longer exists")
		}
		return nil, apperrors.Wrap(apperrors.CodeRepositoryFailure, "look up user", err)
	}

	credential, err := s.credentials.GetCredential(ctx, in.CredentialID)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return nil, apperrors.New(apperrors.CodeCredentialNotFound, "credential not registered")
		}
		return nil, apperrors.Wrap(apperrors.CodeRepositoryFailure, "look up credential", err)
	}
	if credential.UserID != user.ID {
		// Cross-account credential use is indistinguishable from an unknown
		// credential to the caller.
		return nil, apperrors.New(apperrors.CodeCredentialNotFound, "credential not registered to identity")
	}
	if !credential.Verified {
		return nil, apperrors.New(apperrors.CodeCredentialNotFound, "credential never completed registration")
	}

	publicKeyDER, err := webauthn.Decode(credential.PublicKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRepositoryFailure, "decode stored public key", err)
	}
	publicKey, err := webauthn.ParsePublicKey(publicKeyDER)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRepositoryFailure, "parse stored public key", err)
	}
	challenge, err := webauthn.Decode(session.Challenge)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRepositoryFailure, "decode stored challenge", err)
	}

	assertion, err := s.rp.VerifyAssertion(publicKey, webauthn.Algorithm(credential.Algorithm), challenge, in.ClientDataJSON, in.AuthenticatorData, in.Signature)
	if err != nil {
		return nil, err
	}
	if !assertion.Flags.UserPresent() {
		return nil, apperrors.New(apperrors.CodeAssertionRejected, "authenticator did not report user presence")
	}
	if s.config.RequireUserVerification && !assertion.Flags.UserVerified() {
		return nil, apperrors.New(apperrors.CodeAssertionRejected, "authenticator did not report user verification")
	}

	next, err := nextSignCount(credential, assertion.Counter)
	if err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	if err := s.credentials.AdvanceCounter(ctx, credential.CredentialID, credential.SignCount, next, now); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost the CAS: another assertion for this credential landed
			// between the read and the update. Treat as replayed.
			return nil, apperrors.Wrap(apperrors.CodePossibleCredentialClone, "signature counter advanced concurrently", err)
		}
		return nil, apperrors.Wrap(apperrors.CodeRepositoryFailure, "advance signature counter", err)
	}

	return &AuthenticationResult{
		UserID:       user.ID,
		Username:     user.Username,
		CredentialID: credential.CredentialID,
		SignCount:    next,
	}, nil
}

// nextSignCount enforces counter monotonicity. A nonzero presented counter
// must strictly exceed the stored value. A presented zero against a nonzero
// stored value is tolerated only for backup-eligible credentials, whose
// authenticators may not maintain counters; the stored value is then kept.
func nextSignCount(credential storage.Credential, presented uint32) (uint32, error) {
	if presented == 0 {
		if credential.SignCount == 0 {
			return 0, nil
		}
		if credential.BackupEligible {
			return credential.SignCount, nil
		}
		return 0, apperrors.New(apperrors.CodePossibleCredentialClone, "signature counter reset on a counter-bearing credential")
	}
	if presented <= credential.SignCount {
		return 0, apperrors.New(apperrors.CodePossibleCredentialClone, "signature counter did not advance")
	}
	return presented, nil
}

// collapseAuthFailure hides the specific verification failure cause from
// callers. Session state errors and repository failures stay visible: the
// former tell a legitimate client to start a fresh ceremony, the latter mean
// no verdict was rendered at all. Neither reveals anything about credentials.
func (s *Service) collapseAuthFailure(err error) error {
	switch apperrors.GetCode(err) {
	case apperrors.CodeNoPendingChallenge,
		apperrors.CodeChallengeExpired,
		apperrors.CodeRepositoryFailure:
		return err
	}
	return errAuthenticationFailed
}
