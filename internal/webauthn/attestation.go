package webauthn

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	apperrors "github.com/passkeyd/passkeyd/internal/platform/errors"
)

// Attestation formats recognized by this package.
const (
	FormatNone   = "none"
	FormatPacked = "packed"
)

// AttestationPolicy selects how strictly attestation statements are
// validated during registration.
type AttestationPolicy string

const (
	// PolicyNone requires a structurally well-formed attestation object and
	// performs no statement verification.
	PolicyNone AttestationPolicy = "none"

	// PolicySelf additionally verifies self-attested packed statements with
	// the credential's own key. Statements carrying certificate chains are
	// rejected since no trust roots are configured.
	PolicySelf AttestationPolicy = "self"

	// PolicyFull delegates certificate chain validation to an
	// AttestationAuthority collaborator.
	PolicyFull AttestationPolicy = "full"
)

// ParseAttestationPolicy validates a configured policy value.
func ParseAttestationPolicy(value string) (AttestationPolicy, error) {
	switch AttestationPolicy(value) {
	case PolicyNone, PolicySelf, PolicyFull:
		return AttestationPolicy(value), nil
	}
	return "", fmt.Errorf("unknown attestation policy %q", value)
}

// AttestationAuthority validates full attestation statements against trust
// roots. Chain validation is outside this package; implementations usually
// consult the FIDO metadata service.
type AttestationAuthority interface {
	VerifyAttestationChain(format string, statement []byte, authData []byte, clientDataHash [32]byte) error
}

// attestationObject is the CBOR layout of a registration response's
// attestation object.
type attestationObject struct {
	Format    string          `cbor:"fmt"`
	Statement cbor.RawMessage `cbor:"attStmt"`
	AuthData  []byte          `cbor:"authData"`
}

// packedStatement is the CBOR layout of a packed attestation statement.
type packedStatement struct {
	Algorithm int64    `cbor:"alg"`
	Signature []byte   `cbor:"sig"`
	X5C       [][]byte `cbor:"x5c,omitempty"`
}

func parseAttestationObject(b []byte) (*attestationObject, error) {
	var obj attestationObject
	if err := cbor.Unmarshal(b, &obj); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMalformedResponse, "parse attestation object", err)
	}
	if len(obj.AuthData) == 0 {
		return nil, apperrors.New(apperrors.CodeMalformedResponse, "attestation object has no authenticator data")
	}
	return &obj, nil
}

// VerifyAttestation validates a credential creation response against the
// issued challenge and the configured attestation policy. It returns the
// attested credential material on success.
func (rp *RelyingParty) VerifyAttestation(challenge, clientDataJSON, rawAttestation []byte, policy AttestationPolicy, authority AttestationAuthority) (*Attestation, error) {
	if err := rp.verifyClientData(clientDataJSON, ceremonyTypeCreate, challenge, apperrors.CodeAttestationRejected); err != nil {
		return nil, err
	}

	obj, err := parseAttestationObject(rawAttestation)
	if err != nil {
		return nil, err
	}

	attested, err := parseAuthData(obj.AuthData, rp.ID)
	if err != nil {
		return nil, err
	}

	clientDataHash := sha256.Sum256(clientDataJSON)
	if err := verifyAttestationPolicy(obj, attested, clientDataHash, policy, authority); err != nil {
		return nil, err
	}
	return attested, nil
}

func verifyAttestationPolicy(obj *attestationObject, attested *Attestation, clientDataHash [32]byte, policy AttestationPolicy, authority AttestationAuthority) error {
	switch policy {
	case PolicyNone:
		return nil

	case PolicySelf:
		if obj.Format == FormatNone {
			return nil
		}
		if obj.Format != FormatPacked {
			return apperrors.WithMetadata(apperrors.CodeAttestationPolicyViolation, "attestation format not allowed by policy", map[string]string{
				"format": obj.Format,
			})
		}
		var stmt packedStatement
		if err := cbor.Unmarshal(obj.Statement, &stmt); err != nil {
			return apperrors.Wrap(apperrors.CodeMalformedResponse, "parse packed attestation statement", err)
		}
		if len(stmt.X5C) > 0 {
			return apperrors.New(apperrors.CodeAttestationPolicyViolation, "certificate attestation requires the full policy")
		}
		if len(stmt.Signature) == 0 {
			return apperrors.New(apperrors.CodeMalformedResponse, "packed attestation statement has no signature")
		}
		if Algorithm(stmt.Algorithm) != attested.Algorithm {
			return apperrors.New(apperrors.CodeAttestationPolicyViolation, "self attestation algorithm does not match credential key")
		}
		signed := append([]byte{}, obj.AuthData...)
		signed = append(signed, clientDataHash[:]...)
		if err := verifySignature(attested.PublicKey, attested.Algorithm, signed, stmt.Signature); err != nil {
			return apperrors.Wrap(apperrors.CodeAttestationPolicyViolation, "verify self attestation signature", err)
		}
		return nil

	case PolicyFull:
		if authority == nil {
			return apperrors.New(apperrors.CodeAttestationPolicyViolation, "full attestation policy requires a trust authority")
		}
		if err := authority.VerifyAttestationChain(obj.Format, obj.Statement, obj.AuthData, clientDataHash); err != nil {
			return apperrors.Wrap(apperrors.CodeAttestationPolicyViolation, "verify attestation chain", err)
		}
		return nil

	default:
		return apperrors.WithMetadata(apperrors.CodeAttestationPolicyViolation, "unknown attestation policy", map[string]string{
			"policy": string(policy),
		})
	}
}
