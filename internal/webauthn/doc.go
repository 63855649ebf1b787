// Package webauthn implements wire-level verification for passkey
// ceremonies: base64url wire codec, client data and authenticator data
// parsing, COSE public key decoding, attestation policy checks, and
// assertion signature verification.
//
// The package is stateless. Challenge lifecycle and credential persistence
// belong to the ceremony and storage packages.
package webauthn
