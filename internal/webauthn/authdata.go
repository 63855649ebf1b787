package webauthn

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	apperrors "github.com/passkeyd/passkeyd/internal/platform/errors"
)

// Flags represents authenticator data flags.
type Flags byte

// UserPresent identifies if the authenticator performed a successful user
// presence test.
func (f Flags) UserPresent() bool {
	return (byte(f) & 1) != 0
}

// UserVerified identifies if the authenticator performed additional
// authorization, such as a PIN entry or biometric challenge.
func (f Flags) UserVerified() bool {
	return (byte(f) & (1 << 2)) != 0
}

// BackupEligible identifies if a credential can be synced to external
// storage, or if the credential is single-device.
func (f Flags) BackupEligible() bool {
	return (byte(f) & (1 << 3)) != 0
}

// BackedUp identifies if a credential has been synced to external storage.
func (f Flags) BackedUp() bool {
	return (byte(f) & (1 << 4)) != 0
}

// AttestedCredentialData identifies if the authenticator data carries an
// attested credential data section.
func (f Flags) AttestedCredentialData() bool {
	return (byte(f) & (1 << 6)) != 0
}

// Extensions identifies if the authenticator data contains extensions.
func (f Flags) Extensions() bool {
	return (byte(f) & (1 << 7)) != 0
}

// String returns a human readable representation of the flags.
func (f Flags) String() string {
	var vals []string
	if f.UserPresent() {
		vals = append(vals, "UP")
	}
	if f.UserVerified() {
		vals = append(vals, "UV")
	}
	if f.BackupEligible() {
		vals = append(vals, "BE")
	}
	if f.BackedUp() {
		vals = append(vals, "BS")
	}
	if f.AttestedCredentialData() {
		vals = append(vals, "AT")
	}
	if f.Extensions() {
		vals = append(vals, "ED")
	}
	if len(vals) == 0 {
		return "Flags()"
	}
	return fmt.Sprintf("Flags(%s)", strings.Join(vals, "|"))
}

// Attestation holds the credential material extracted from a registration
// ceremony's authenticator data.
type Attestation struct {
	Flags   Flags
	Counter uint32

	// AAGUID identifies the authenticator model or service storing the
	// credential.
	AAGUID [16]byte

	// CredentialID is the raw opaque identifier generated by the
	// authenticator.
	CredentialID []byte

	// Algorithm the credential signs challenges with.
	Algorithm Algorithm

	// PublicKey parsed from the attested credential data. Serialize with
	// MarshalPublicKey for storage.
	PublicKey crypto.PublicKey

	// Extensions carries raw extension data when present.
	Extensions []byte
}

// parseAuthData parses the authenticator data of a registration ceremony,
// including the attested credential data section.
func parseAuthData(b []byte, rpid string) (*Attestation, error) {
	if len(b) < 37 {
		return nil, apperrors.New(apperrors.CodeMalformedResponse, "authenticator data too short")
	}

	wantRPID := sha256.Sum256([]byte(rpid))
	if !bytes.Equal(wantRPID[:], b[:32]) {
		return nil, apperrors.New(apperrors.CodeRPIDMismatch, "authenticator data issued for a different relying party")
	}

	var ad Attestation
	ad.Flags = Flags(b[32])
	ad.Counter = binary.BigEndian.Uint32(b[33:37])

	if !ad.Flags.AttestedCredentialData() {
		return nil, apperrors.New(apperrors.CodeMalformedResponse, "authenticator data has no attested credential data")
	}

	b = b[37:]
	if len(b) < 16 {
		return nil, apperrors.New(apperrors.CodeMalformedResponse, "not enough bytes for aaguid")
	}
	copy(ad.AAGUID[:], b[:16])
	b = b[16:]

	if len(b) < 2 {
		return nil, apperrors.New(apperrors.CodeMalformedResponse, "not enough bytes for credential id length")
	}
	credIDSize := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < credIDSize {
		return nil, apperrors.New(apperrors.CodeMalformedResponse, "not enough bytes for credential id")
	}
	ad.CredentialID = b[:credIDSize]
	b = b[credIDSize:]

	pub, rest, err := parseCOSEKey(b)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMalformedResponse, "parse credential public key", err)
	}
	ad.Algorithm = Algorithm(pub.Algorithm)
	ad.PublicKey = pub.Public
	if len(rest) > 0 {
		ad.Extensions = rest
	}
	return &ad, nil
}

// Assertion holds the authenticator data fields of an authentication
// ceremony that the caller still needs after signature verification.
type Assertion struct {
	Flags Flags

	// Counter is incremented by the authenticator on every signature. Zero
	// for authenticators that do not maintain signing counters.
	Counter uint32
}

// parseAssertionAuthData parses the fixed header of assertion authenticator
// data and checks the relying party binding.
func parseAssertionAuthData(b []byte, rpid string) (*Assertion, error) {
	if len(b) < 37 {
		return nil, apperrors.New(apperrors.CodeMalformedResponse, "authenticator data too short")
	}
	wantRPID := sha256.Sum256([]byte(rpid))
	if !bytes.Equal(wantRPID[:], b[:32]) {
		return nil, apperrors.New(apperrors.CodeRPIDMismatch, "assertion issued for a different relying party")
	}
	return &Assertion{
		Flags:   Flags(b[32]),
		Counter: binary.BigEndian.Uint32(b[33:37]),
	}, nil
}
