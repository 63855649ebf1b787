package webauthn

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	apperrors "github.com/passkeyd/passkeyd/internal/platform/errors"
)

// Ceremony types embedded in client data by the browser agent.
const (
	ceremonyTypeCreate = "webauthn.create"
	ceremonyTypeGet    = "webauthn.get"
)

// RelyingParty identifies the server validating passkey ceremonies.
type RelyingParty struct {
	// ID uniquely identifies the server, typically the effective domain of
	// the origin, e.g. "login.example.com".
	ID string

	// Origin is the base URL the browser reports during ceremonies,
	// e.g. "https://login.example.com:8443".
	Origin string
}

// NewRelyingParty builds a relying party for the given origin. When id is
// empty it is derived from the origin hostname. A trailing slash on the
// origin is stripped before comparison.
func NewRelyingParty(id, origin string) (*RelyingParty, error) {
	origin = strings.TrimSuffix(strings.TrimSpace(origin), "/")
	if origin == "" {
		return nil, fmt.Errorf("origin is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		parsed, err := url.Parse(origin)
		if err != nil {
			return nil, fmt.Errorf("parse origin: %w", err)
		}
		id = parsed.Hostname()
		if id == "" {
			return nil, fmt.Errorf("origin %q has no hostname", origin)
		}
	}
	return &RelyingParty{ID: id, Origin: origin}, nil
}

// clientDataChallenge is the wire-encoded challenge embedded in client data.
type clientDataChallenge []byte

// Equal compares the challenge value against a set of bytes in constant time.
func (c clientDataChallenge) Equal(b []byte) bool {
	return subtle.ConstantTimeCompare([]byte(c), b) == 1
}

// UnmarshalJSON implements the challenge encoding used by clientDataJSON.
func (c *clientDataChallenge) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("challenge value doesn't parse into string: %w", err)
	}
	decoded, err := Decode(s)
	if err != nil {
		return err
	}
	*c = clientDataChallenge(decoded)
	return nil
}

// clientData holds information passed to the authenticator for both
// registration and authentication ceremonies.
type clientData struct {
	Type        string              `json:"type"`
	Challenge   clientDataChallenge `json:"challenge"`
	Origin      string              `json:"origin"`
	CrossOrigin bool                `json:"crossOrigin"`
}

// verifyClientData parses the raw client data structure and checks its
// ceremony type, embedded challenge, and origin. Type and challenge
// mismatches report rejectCode; origin mismatches are always terminal
// origin errors.
func (rp *RelyingParty) verifyClientData(raw []byte, ceremonyType string, challenge []byte, rejectCode apperrors.Code) error {
	var data clientData
	if err := json.Unmarshal(raw, &data); err != nil {
		return apperrors.Wrap(apperrors.CodeMalformedResponse, "parse client data", err)
	}
	if data.Type != ceremonyType {
		return apperrors.WithMetadata(rejectCode, "unexpected client data ceremony type", map[string]string{
			"expected": ceremonyType,
			"got":      data.Type,
		})
	}
	if !data.Challenge.Equal(challenge) {
		return apperrors.New(rejectCode, "client data challenge does not match issued challenge")
	}
	if strings.TrimSuffix(data.Origin, "/") != rp.Origin {
		return apperrors.WithMetadata(apperrors.CodeOriginMismatch, "client data origin mismatch", map[string]string{
			"expected": rp.Origin,
			"got":      data.Origin,
		})
	}
	return nil
}
