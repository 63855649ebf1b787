package webauthn

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	apperrors "github.com/passkeyd/passkeyd/internal/platform/errors"
)

// VerifyAssertion validates an authentication response. The public key and
// algorithm come from the stored credential. The signed payload is the raw
// authenticator data concatenated with the SHA-256 hash of clientDataJSON.
func (rp *RelyingParty) VerifyAssertion(pub crypto.PublicKey, alg Algorithm, challenge, clientDataJSON, authData, sig []byte) (*Assertion, error) {
	if err := rp.verifyClientData(clientDataJSON, ceremonyTypeGet, challenge, apperrors.CodeAssertionRejected); err != nil {
		return nil, err
	}

	assertion, err := parseAssertionAuthData(authData, rp.ID)
	if err != nil {
		return nil, err
	}

	clientDataHash := sha256.Sum256(clientDataJSON)
	signed := append([]byte{}, authData...)
	signed = append(signed, clientDataHash[:]...)
	if err := verifySignature(pub, alg, signed, sig); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSignatureInvalid, "verify assertion signature", err)
	}

	return assertion, nil
}

func verifySignature(pub crypto.PublicKey, alg Algorithm, data, sig []byte) error {
	switch alg {
	case ES256:
		ecdsaPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("invalid public key type for ES256 algorithm: %T", pub)
		}
		digest := sha256.Sum256(data)
		if !ecdsa.VerifyASN1(ecdsaPub, digest[:], sig) {
			return fmt.Errorf("invalid ES256 signature")
		}
	case ES384:
		ecdsaPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("invalid public key type for ES384 algorithm: %T", pub)
		}
		digest := sha512.Sum384(data)
		if !ecdsa.VerifyASN1(ecdsaPub, digest[:], sig) {
			return fmt.Errorf("invalid ES384 signature")
		}
	case ES512:
		ecdsaPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("invalid public key type for ES512 algorithm: %T", pub)
		}
		digest := sha512.Sum512(data)
		if !ecdsa.VerifyASN1(ecdsaPub, digest[:], sig) {
			return fmt.Errorf("invalid ES512 signature")
		}
	case EdDSA:
		edPub, ok := pub.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("invalid public key type for EdDSA algorithm: %T", pub)
		}
		if !ed25519.Verify(edPub, data, sig) {
			return fmt.Errorf("invalid EdDSA signature")
		}
	case RS256:
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("invalid public key type for RS256 algorithm: %T", pub)
		}
		digest := sha256.Sum256(data)
		if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest[:], sig); err != nil {
			return fmt.Errorf("invalid RS256 signature: %w", err)
		}
	case RS384:
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("invalid public key type for RS384 algorithm: %T", pub)
		}
		digest := sha512.Sum384(data)
		if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA384, digest[:], sig); err != nil {
			return fmt.Errorf("invalid RS384 signature: %w", err)
		}
	case RS512:
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("invalid public key type for RS512 algorithm: %T", pub)
		}
		digest := sha512.Sum512(data)
		if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA512, digest[:], sig); err != nil {
			return fmt.Errorf("invalid RS512 signature: %w", err)
		}
	default:
		return fmt.Errorf("unsupported signing algorithm: %d", alg)
	}
	return nil
}
