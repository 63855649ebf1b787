package ceremony

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/passkeyd/passkeyd/internal/platform/errors"
	"github.com/passkeyd/passkeyd/internal/storage"
	"github.com/passkeyd/passkeyd/internal/webauthn"
)

// CredentialParameter advertises an acceptable credential algorithm.
type CredentialParameter struct {
	Type      string `json:"type"`
	Algorithm int64  `json:"alg"`
}

// CredentialDescriptor references an already registered credential.
type CredentialDescriptor struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// RelyingPartyEntity is the relying party block of creation options.
type RelyingPartyEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserEntity is the user block of creation options. The ID is an opaque
// handle, never the username.
type UserEntity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// RegistrationOptions is handed to the client to drive credential creation.
// The session ID is the only value the client must echo back.
type RegistrationOptions struct {
	SessionID          string                 `json:"sessionId"`
	Challenge          string                 `json:"challenge"`
	RP                 RelyingPartyEntity     `json:"rp"`
	User               UserEntity             `json:"user"`
	PubKeyCredParams   []CredentialParameter  `json:"pubKeyCredParams"`
	Timeout            int64                  `json:"timeout"`
	ExcludeCredentials []CredentialDescriptor `json:"excludeCredentials,omitempty"`
	Attestation        string                 `json:"attestation"`
}

// FinishRegistrationInput is the single accepted response shape for a
// registration ceremony. All byte fields arrive already decoded from the
// wire encoding.
type FinishRegistrationInput struct {
	SessionID         string
	ClientDataJSON    []byte
	AttestationObject []byte
}

// RegistrationResult reports a completed registration.
type RegistrationResult struct {
	UserID       string
	Username     string
	CredentialID string
}

// supportedParams lists the algorithms the verification engine accepts, in
// preference order.
var supportedParams = []CredentialParameter{
	{Type: "public-key", Algorithm: int64(webauthn.ES256)},
	{Type: "public-key", Algorithm: int64(webauthn.EdDSA)},
	{Type: "public-key", Algorithm: int64(webauthn.ES384)},
	{Type: "public-key", Algorithm: int64(webauthn.ES512)},
	{Type: "public-key", Algorithm: int64(webauthn.RS256)},
	{Type: "public-key", Algorithm: int64(webauthn.RS384)},
	{Type: "public-key", Algorithm: int64(webauthn.RS512)},
}

// BeginRegistration issues a registration challenge for the given identity.
// Identities that already own a verified credential are rejected before any
// session state is created.
func (s *Service) BeginRegistration(ctx context.Context, username, displayName string) (*RegistrationOptions, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperrors.New(apperrors.CodeMalformedResponse, "username is required")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = username
	}

	var excluded []CredentialDescriptor
	userHandle := ""
	existing, err := s.users.GetUserByName(ctx, username)
	switch {
	case err == nil:
		userHandle = existing.ID
		credentials, err := s.credentials.ListCredentialsByUser(ctx, existing.ID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeRepositoryFailure, "list credentials", err)
		}
		for _, credential := range credentials {
			if credential.Verified {
				return nil, apperrors.New(apperrors.CodeIdentityAlreadyRegistered, "identity already owns a verified credential")
			}
			excluded = append(excluded, CredentialDescriptor{Type: "public-key", ID: credential.CredentialID})
		}
	case apperrors.GetCode(err) == apperrors.CodeNotFound:
		// New identity. The user record is created when registration
		// finishes; the handle issued here is provisional.
		userHandle, err = s.idGenerator()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeRepositoryFailure, "generate user handle", err)
		}
	default:
		return nil, apperrors.Wrap(apperrors.CodeRepositoryFailure, "look up user", err)
	}

	session, err := s.issueChallenge(ctx, KindRegistration, username)
	if err != nil {
		return nil, err
	}

	return &RegistrationOptions{
		SessionID: session.ID,
		Challenge: session.Challenge,
		RP: RelyingPartyEntity{
			ID:   s.rp.ID,
			Name: s.config.RPDisplayName,
		},
		User: UserEntity{
			ID:          webauthn.Encode([]byte(userHandle)),
			Name:        username,
			DisplayName: displayName,
		},
		PubKeyCredParams:   supportedParams,
		Timeout:            s.config.CeremonyTimeout.Milliseconds(),
		ExcludeCredentials: excluded,
		Attestation:        attestationConveyance(s.policy),
	}, nil
}

// FinishRegistration consumes the pending session and verifies the
// authenticator's creation response. The session stays consumed whatever the
// outcome; a failed attempt needs a fresh ceremony.
func (s *Service) FinishRegistration(ctx context.Context, in FinishRegistrationInput) (*RegistrationResult, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, apperrors.New(apperrors.CodeMalformedResponse, "session id is required")
	}
	if len(in.ClientDataJSON) == 0 {
		return nil, apperrors.New(apperrors.CodeMalformedResponse, "client data is required")
	}
	if len(in.AttestationObject) == 0 {
		return nil, apperrors.New(apperrors.CodeMalformedResponse, "attestation object is required")
	}

	session, err := s.consumeChallenge(ctx, in.SessionID, KindRegistration)
	if err != nil {
		s.recordFailure(ctx, KindRegistration, in.SessionID, "", err)
		return nil, err
	}

	result, err := s.finishRegistration(ctx, session, in)
	if err != nil {
		s.recordFailure(ctx, KindRegistration, session.ID, session.Username, err)
		return nil, err
	}
	s.recordSuccess(ctx, KindRegistration, session.ID, session.Username)
	return result, nil
}

func (s *Service) finishRegistration(ctx context.Context, session storage.ChallengeSession, in FinishRegistrationInput) (*RegistrationResult, error) {
	challenge, err := webauthn.Decode(session.Challenge)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRepositoryFailure, "decode stored challenge", err)
	}

	attested, err := s.rp.VerifyAttestation(challenge, in.ClientDataJSON, in.AttestationObject, s.policy, s.authority)
	if err != nil {
		return nil, err
	}
	if !attested.Flags.UserPresent() {
		return nil, apperrors.New(apperrors.CodeAttestationRejected, "authenticator did not report user presence")
	}
	if s.config.RequireUserVerification && !attested.Flags.UserVerified() {
		return nil, apperrors.New(apperrors.CodeAttestationRejected, "authenticator did not report user verification")
	}

	publicKeyDER, err := webauthn.MarshalPublicKey(attested.PublicKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMalformedResponse, "encode credential public key", err)
	}
	credentialID := webauthn.Encode(attested.CredentialID)

	now := s.clock().UTC()
	user, err := s.ensureUser(ctx, session.Username, now)
	if err != nil {
		return nil, err
	}

	credential := storage.Credential{
		CredentialID:   credentialID,
		UserID:         user.ID,
		PublicKey:      webauthn.Encode(publicKeyDER),
		Algorithm:      int64(attested.Algorithm),
		SignCount:      attested.Counter,
		BackupEligible: attested.Flags.BackupEligible(),
		Verified:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.credentials.CreateCredential(ctx, credential); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRepositoryFailure, "store credential", err)
	}

	return &RegistrationResult{
		UserID:       user.ID,
		Username:     user.Username,
		CredentialID: credentialID,
	}, nil
}

// ensureUser fetches the identity bound to the session, creating it on first
// registration.
func (s *Service) ensureUser(ctx context.Context, username string, now time.Time) (storage.User, error) {
	user, err := s.users.GetUserByName(ctx, username)
	if err == nil {
		return user, nil
	}
	if apperrors.GetCode(err) != apperrors.CodeNotFound {
		return storage.User{}, apperrors.Wrap(apperrors.CodeRepositoryFailure, "look up user", err)
	}

	userID, err := s.idGenerator()
	if err != nil {
		return storage.User{}, apperrors.Wrap(apperrors.CodeRepositoryFailure, "generate user id", err)
	}
	user = storage.User{
		ID:          userID,
		Username:    username,
		DisplayName: username,
		CreatedAt:   now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return storage.User{}, apperrors.Wrap(apperrors.CodeRepositoryFailure, "create user", err)
	}
	return user, nil
}

func attestationConveyance(policy webauthn.AttestationPolicy) string {
	if policy == webauthn.PolicyNone {
		return "none"
	}
	return "direct"
}
