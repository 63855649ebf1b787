package webauthn

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	apperrors "github.com/passkeyd/passkeyd/internal/platform/errors"
)

const (
	testRPID   = "login.example.com"
	testOrigin = "https://login.example.com"
)

func testRelyingParty(t *testing.T) *RelyingParty {
	t.Helper()
	rp, err := NewRelyingParty(testRPID, testOrigin)
	if err != nil {
		t.Fatalf("new relying party: %v", err)
	}
	return rp
}

// testAuthenticator synthesizes authenticator responses for a single ES256
// credential.
type testAuthenticator struct {
	key          *ecdsa.PrivateKey
	credentialID []byte
	aaguid       [16]byte
}

func newTestAuthenticator(t *testing.T) *testAuthenticator {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &testAuthenticator{
		key:          key,
		credentialID: []byte("test-credential-0001"),
	}
}

func (a *testAuthenticator) coseKey(t *testing.T) []byte {
	t.Helper()
	encoded, err := cbor.Marshal(map[int64]any{
		1:  coseKeyTypeEC2,
		3:  int64(ES256),
		-1: coseCurveP256,
		-2: a.key.PublicKey.X.FillBytes(make([]byte, 32)),
		-3: a.key.PublicKey.Y.FillBytes(make([]byte, 32)),
	})
	if err != nil {
		t.Fatalf("marshal cose key: %v", err)
	}
	return encoded
}

func (a *testAuthenticator) attestedAuthData(t *testing.T, rpid string, flags byte, counter uint32) []byte {
	t.Helper()
	rpidHash := sha256.Sum256([]byte(rpid))
	data := append([]byte{}, rpidHash[:]...)
	data = append(data, flags)
	data = binary.BigEndian.AppendUint32(data, counter)
	data = append(data, a.aaguid[:]...)
	data = binary.BigEndian.AppendUint16(data, uint16(len(a.credentialID)))
	data = append(data, a.credentialID...)
	data = append(data, a.coseKey(t)...)
	return data
}

func (a *testAuthenticator) assertionAuthData(t *testing.T, rpid string, flags byte, counter uint32) []byte {
	t.Helper()
	rpidHash := sha256.Sum256([]byte(rpid))
	data := append([]byte{}, rpidHash[:]...)
	data = append(data, flags)
	data = binary.BigEndian.AppendUint32(data, counter)
	return data
}

func (a *testAuthenticator) sign(t *testing.T, authData, clientDataJSON []byte) []byte {
	t.Helper()
	clientDataHash := sha256.Sum256(clientDataJSON)
	signed := append([]byte{}, authData...)
	signed = append(signed, clientDataHash[:]...)
	digest := sha256.Sum256(signed)
	sig, err := ecdsa.SignASN1(rand.Reader, a.key, digest[:])
	if err != nil {
		t.Fatalf("sign assertion: %v", err)
	}
	return sig
}

func clientDataJSON(t *testing.T, ceremonyType string, challenge []byte, origin string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"type":      ceremonyType,
		"challenge": Encode(challenge),
		"origin":    origin,
	})
	if err != nil {
		t.Fatalf("marshal client data: %v", err)
	}
	return raw
}

func attestationObjectBytes(t *testing.T, format string, statement any, authData []byte) []byte {
	t.Helper()
	encoded, err := cbor.Marshal(map[string]any{
		"fmt":      format,
		"attStmt":  statement,
		"authData": authData,
	})
	if err != nil {
		t.Fatalf("marshal attestation object: %v", err)
	}
	return encoded
}

func TestNewRelyingPartyDerivesIDFromOrigin(t *testing.T) {
	rp, err := NewRelyingParty("", "https://login.example.com:8443/")
	if err != nil {
		t.Fatalf("new relying party: %v", err)
	}
	if rp.ID != "login.example.com" {
		t.Fatalf("expected derived rp id, got %q", rp.ID)
	}
	if rp.Origin != "https://login.example.com:8443" {
		t.Fatalf("expected trailing slash stripped, got %q", rp.Origin)
	}
}

func TestNewRelyingPartyRequiresOrigin(t *testing.T) {
	if _, err := NewRelyingParty("example.com", ""); err == nil {
		t.Fatal("expected error for empty origin")
	}
}

func TestVerifyAttestationNonePolicy(t *testing.T) {
	rp := testRelyingParty(t)
	auth := newTestAuthenticator(t)
	challenge := []byte("0123456789abcdef0123456789abcdef")

	authData := auth.attestedAuthData(t, testRPID, 0x45, 0)
	obj := attestationObjectBytes(t, FormatNone, map[string]any{}, authData)
	cdj := clientDataJSON(t, "webauthn.create", challenge, testOrigin)

	attested, err := rp.VerifyAttestation(challenge, cdj, obj, PolicyNone, nil)
	if err != nil {
		t.Fatalf("verify attestation: %v", err)
	}
	if string(attested.CredentialID) != string(auth.credentialID) {
		t.Fatalf("unexpected credential id %x", attested.CredentialID)
	}
	if attested.Algorithm != ES256 {
		t.Fatalf("expected ES256, got %v", attested.Algorithm)
	}
	if attested.Counter != 0 {
		t.Fatalf("expected initial counter 0, got %d", attested.Counter)
	}
	if !attested.Flags.UserPresent() || !attested.Flags.UserVerified() {
		t.Fatalf("unexpected flags %v", attested.Flags)
	}
	if _, ok := attested.PublicKey.(*ecdsa.PublicKey); !ok {
		t.Fatalf("expected ecdsa public key, got %T", attested.PublicKey)
	}
}

func TestVerifyAttestationRejectsChallengeMismatch(t *testing.T) {
	rp := testRelyingParty(t)
	auth := newTestAuthenticator(t)
	challenge := []byte("0123456789abcdef0123456789abcdef")

	authData := auth.attestedAuthData(t, testRPID, 0x45, 0)
	obj := attestationObjectBytes(t, FormatNone, map[string]any{}, authData)
	cdj := clientDataJSON(t, "webauthn.create", []byte("a different challenge value!!!!!"), testOrigin)

	_, err := rp.VerifyAttestation(challenge, cdj, obj, PolicyNone, nil)
	if apperrors.GetCode(err) != apperrors.CodeAttestationRejected {
		t.Fatalf("expected attestation rejected, got %v", err)
	}
}

func TestVerifyAttestationRejectsCeremonyType(t *testing.T) {
	rp := testRelyingParty(t)
	auth := newTestAuthenticator(t)
	challenge := []byte("0123456789abcdef0123456789abcdef")

	authData := auth.attestedAuthData(t, testRPID, 0x45, 0)
	obj := attestationObjectBytes(t, FormatNone, map[string]any{}, authData)
	cdj := clientDataJSON(t, "webauthn.get", challenge, testOrigin)

	_, err := rp.VerifyAttestation(challenge, cdj, obj, PolicyNone, nil)
	if apperrors.GetCode(err) != apperrors.CodeAttestationRejected {
		t.Fatalf("expected attestation rejected, got %v", err)
	}
}

func TestVerifyAttestationRejectsOriginMismatch(t *testing.T) {
	rp := testRelyingParty(t)
	auth := newTestAuthenticator(t)
	challenge := []byte("0123456789abcdef0123456789abcdef")

	authData := auth.attestedAuthData(t, testRPID, 0x45, 0)
	obj := attestationObjectBytes(t, FormatNone, map[string]any{}, authData)
	cdj := clientDataJSON(t, "webauthn.create", challenge, "https://evil.example.com")

	_, err := rp.VerifyAttestation(challenge, cdj, obj, PolicyNone, nil)
	if apperrors.GetCode(err) != apperrors.CodeOriginMismatch {
		t.Fatalf("expected origin mismatch, got %v", err)
	}
}

func TestVerifyAttestationRejectsRPIDMismatch(t *testing.T) {
	rp := testRelyingParty(t)
	auth := newTestAuthenticator(t)
	challenge := []byte("0123456789abcdef0123456789abcdef")

	authData := auth.attestedAuthData(t, "other.example.com", 0x45, 0)
	obj := attestationObjectBytes(t, FormatNone, map[string]any{}, authData)
	cdj := clientDataJSON(t, "webauthn.create", challenge, testOrigin)

	_, err := rp.VerifyAttestation(challenge, cdj, obj, PolicyNone, nil)
	if apperrors.GetCode(err) != apperrors.CodeRPIDMismatch {
		t.Fatalf("expected rp id mismatch, got %v", err)
	}
}

func TestVerifyAttestationSelfPolicy(t *testing.T) {
	rp := testRelyingParty(t)
	auth := newTestAuthenticator(t)
	challenge := []byte("0123456789abcdef0123456789abcdef")

	authData := auth.attestedAuthData(t, testRPID, 0x45, 0)
	cdj := clientDataJSON(t, "webauthn.create", challenge, testOrigin)
	sig := auth.sign(t, authData, cdj)
	obj := attestationObjectBytes(t, FormatPacked, map[string]any{
		"alg": int64(ES256),
		"sig": sig,
	}, authData)

	if _, err := rp.VerifyAttestation(challenge, cdj, obj, PolicySelf, nil); err != nil {
		t.Fatalf("verify self attestation: %v", err)
	}
}

func TestVerifyAttestationSelfPolicyRejectsBadSignature(t *testing.T) {
	rp := testRelyingParty(t)
	auth := newTestAuthenticator(t)
	challenge := []byte("0123456789abcdef0123456789abcdef")

	authData := auth.attestedAuthData(t, testRPID, 0x45, 0)
	cdj := clientDataJSON(t, "webauthn.create", challenge, testOrigin)
	sig := auth.sign(t, authData, cdj)
	sig[len(sig)-1] ^= 0xff
	obj := attestationObjectBytes(t, FormatPacked, map[string]any{
		"alg": int64(ES256),
		"sig": sig,
	}, authData)

	_, err := rp.VerifyAttestation(challenge, cdj, obj, PolicySelf, nil)
	if apperrors.GetCode(err) != apperrors.CodeAttestationPolicyViolation {
		t.Fatalf("expected policy violation, got %v", err)
	}
}

func TestVerifyAttestationSelfPolicyRejectsCertificateChains(t *testing.T) {
	rp := testRelyingParty(t)
	auth := newTestAuthenticator(t)
	challenge := []byte("0123456789abcdef0123456789abcdef")

	authData := auth.attestedAuthData(t, testRPID, 0x45, 0)
	cdj := clientDataJSON(t, "webauthn.create", challenge, testOrigin)
	sig := auth.sign(t, authData, cdj)
	obj := attestationObjectBytes(t, FormatPacked, map[string]any{
		"alg": int64(ES256),
		"sig": sig,
		"x5c": [][]byte{{0x30, 0x00}},
	}, authData)

	_, err := rp.VerifyAttestation(challenge, cdj, obj, PolicySelf, nil)
	if apperrors.GetCode(err) != apperrors.CodeAttestationPolicyViolation {
		t.Fatalf("expected policy violation, got %v", err)
	}
}

type fakeAuthority struct {
	err    error
	called bool
	format string
}

func (a *fakeAuthority) VerifyAttestationChain(format string, statement []byte, authData []byte, clientDataHash [32]byte) error {
	a.called = true
	a.format = format
	return a.err
}

func TestVerifyAttestationFullPolicyDelegates(t *testing.T) {
	rp := testRelyingParty(t)
	auth := newTestAuthenticator(t)
	challenge := []byte("0123456789abcdef0123456789abcdef")

	authData := auth.attestedAuthData(t, testRPID, 0x45, 0)
	obj := attestationObjectBytes(t, FormatPacked, map[string]any{}, authData)
	cdj := clientDataJSON(t, "webauthn.create", challenge, testOrigin)

	authority := &fakeAuthority{}
	if _, err := rp.VerifyAttestation(challenge, cdj, obj, PolicyFull, authority); err != nil {
		t.Fatalf("verify full attestation: %v", err)
	}
	if !authority.called {
		t.Fatal("expected authority to be consulted")
	}
	if authority.format != FormatPacked {
		t.Fatalf("expected packed format, got %q", authority.format)
	}

	if _, err := rp.VerifyAttestation(challenge, cdj, obj, PolicyFull, nil); apperrors.GetCode(err) != apperrors.CodeAttestationPolicyViolation {
		t.Fatalf("expected policy violation without authority, got %v", err)
	}
}

func TestVerifyAssertion(t *testing.T) {
	rp := testRelyingParty(t)
	auth := newTestAuthenticator(t)
	challenge := []byte("fedcba9876543210fedcba9876543210")

	authData := auth.assertionAuthData(t, testRPID, 0x05, 7)
	cdj := clientDataJSON(t, "webauthn.get", challenge, testOrigin)
	sig := auth.sign(t, authData, cdj)

	assertion, err := rp.VerifyAssertion(&auth.key.PublicKey, ES256, challenge, cdj, authData, sig)
	if err != nil {
		t.Fatalf("verify assertion: %v", err)
	}
	if assertion.Counter != 7 {
		t.Fatalf("expected counter 7, got %d", assertion.Counter)
	}
	if !assertion.Flags.UserPresent() {
		t.Fatalf("expected user present flag, got %v", assertion.Flags)
	}
}

func TestVerifyAssertionRejectsBadSignature(t *testing.T) {
	rp := testRelyingParty(t)
	auth := newTestAuthenticator(t)
	challenge := []byte("fedcba9876543210fedcba9876543210")

	authData := auth.assertionAuthData(t, testRPID, 0x05, 7)
	cdj := clientDataJSON(t, "webauthn.get", challenge, testOrigin)
	sig := auth.sign(t, authData, cdj)
	sig[0] ^= 0x01

	_, err := rp.VerifyAssertion(&auth.key.PublicKey, ES256, challenge, cdj, authData, sig)
	if apperrors.GetCode(err) != apperrors.CodeSignatureInvalid {
		t.Fatalf("expected signature invalid, got %v", err)
	}
}

func TestVerifyAssertionRejectsTamperedAuthData(t *testing.T) {
	rp := testRelyingParty(t)
	auth := newTestAuthenticator(t)
	challenge := []byte("fedcba9876543210fedcba9876543210")

	authData := auth.assertionAuthData(t, testRPID, 0x05, 7)
	cdj := clientDataJSON(t, "webauthn.get", challenge, testOrigin)
	sig := auth.sign(t, authData, cdj)

	// Bump the counter after signing.
	tampered := append([]byte{}, authData...)
	tampered[36]++

	_, err := rp.VerifyAssertion(&auth.key.PublicKey, ES256, challenge, cdj, tampered, sig)
	if apperrors.GetCode(err) != apperrors.CodeSignatureInvalid {
		t.Fatalf("expected signature invalid, got %v", err)
	}
}

func TestVerifyAssertionEd25519(t *testing.T) {
	rp := testRelyingParty(t)
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	challenge := []byte("fedcba9876543210fedcba9876543210")

	rpidHash := sha256.Sum256([]byte(testRPID))
	authData := append([]byte{}, rpidHash[:]...)
	authData = append(authData, 0x01)
	authData = binary.BigEndian.AppendUint32(authData, 1)

	cdj := clientDataJSON(t, "webauthn.get", challenge, testOrigin)
	clientDataHash := sha256.Sum256(cdj)
	signed := append([]byte{}, authData...)
	signed = append(signed, clientDataHash[:]...)
	sig := ed25519.Sign(priv, signed)

	assertion, err := rp.VerifyAssertion(pub, EdDSA, challenge, cdj, authData, sig)
	if err != nil {
		t.Fatalf("verify ed25519 assertion: %v", err)
	}
	if assertion.Counter != 1 {
		t.Fatalf("expected counter 1, got %d", assertion.Counter)
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	auth := newTestAuthenticator(t)
	der, err := MarshalPublicKey(&auth.key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	restored, err := ParsePublicKey(der)
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}
	restoredECDSA, ok := restored.(*ecdsa.PublicKey)
	if !ok {
		t.Fatalf("expected ecdsa key, got %T", restored)
	}
	if !restoredECDSA.Equal(&auth.key.PublicKey) {
		t.Fatal("restored key does not match original")
	}
}

func TestParseCOSEKeyEd25519(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	encoded, err := cbor.Marshal(map[int64]any{
		1:  coseKeyTypeOKP,
		3:  int64(EdDSA),
		-1: coseCurveEd25519,
		-2: []byte(pub),
	})
	if err != nil {
		t.Fatalf("marshal cose key: %v", err)
	}

	parsed, rest, err := parseCOSEKey(encoded)
	if err != nil {
		t.Fatalf("parse cose key: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes, got %d", len(rest))
	}
	if Algorithm(parsed.Algorithm) != EdDSA {
		t.Fatalf("expected EdDSA, got %v", Algorithm(parsed.Algorithm))
	}
	if restored, ok := parsed.Public.(ed25519.PublicKey); !ok || !restored.Equal(pub) {
		t.Fatalf("restored ed25519 key mismatch")
	}
}
