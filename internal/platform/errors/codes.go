// Package errors provides structured error handling for ceremony outcomes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Protocol errors: rejected before any state mutation.
	CodeMalformedEncoding Code = "MALFORMED_ENCODING"
	CodeMalformedResponse Code = "MALFORMED_RESPONSE"

	// Ceremony state errors: safe to retry with a fresh ceremony.
	CodeNoPendingChallenge        Code = "NO_PENDING_CHALLENGE"
	CodeChallengeExpired          Code = "CHALLENGE_EXPIRED"
	CodeIdentityAlreadyRegistered Code = "IDENTITY_ALREADY_REGISTERED"

	// Crypto validation errors: terminal, never retried automatically.
	CodeOriginMismatch             Code = "ORIGIN_MISMATCH"
	CodeRPIDMismatch               Code = "RP_ID_MISMATCH"
	CodeAttestationRejected        Code = "ATTESTATION_REJECTED"
	CodeAttestationPolicyViolation Code = "ATTESTATION_POLICY_VIOLATION"
	CodeAssertionRejected          Code = "ASSERTION_REJECTED"
	CodeSignatureInvalid           Code = "SIGNATURE_INVALID"
	CodePossibleCredentialClone    Code = "POSSIBLE_CREDENTIAL_CLONE"
	CodeCredentialNotFound         Code = "CREDENTIAL_NOT_FOUND"

	// CodeAuthenticationFailed is the single externally visible outcome for
	// any failed authentication ceremony.
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"

	// Storage errors.
	CodeNotFound          Code = "NOT_FOUND"
	CodeWriteConflict     Code = "WRITE_CONFLICT"
	CodeRepositoryFailure Code = "REPOSITORY_FAILURE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeMalformedEncoding,
		CodeMalformedResponse:
		return http.StatusBadRequest

	case CodeNoPendingChallenge,
		CodeChallengeExpired,
		CodeIdentityAlreadyRegistered,
		CodeWriteConflict:
		return http.StatusConflict

	case CodeOriginMismatch,
		CodeRPIDMismatch,
		CodeAttestationRejected,
		CodeAttestationPolicyViolation,
		CodeAssertionRejected,
		CodeSignatureInvalid,
		CodePossibleCredentialClone:
		return http.StatusForbidden

	case CodeAuthenticationFailed:
		return http.StatusUnauthorized

	case CodeNotFound,
		CodeCredentialNotFound:
		return http.StatusNotFound

	case CodeRepositoryFailure:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
