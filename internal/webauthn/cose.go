package webauthn

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// Algorithm identifies the scheme a key signs values with, covering both the
// public key type and the associated hash function.
//
// Values follow the IANA COSE algorithm registry.
type Algorithm int

// The set of algorithms recognized and supported by this package.
const (
	ES256 Algorithm = -7
	ES384 Algorithm = -35
	ES512 Algorithm = -36
	EdDSA Algorithm = -8
	RS256 Algorithm = -257
	RS384 Algorithm = -258
	RS512 Algorithm = -259
)

var algStrings = map[Algorithm]string{
	ES256: "ES256",
	ES384: "ES384",
	ES512: "ES512",
	EdDSA: "EdDSA",
	RS256: "RS256",
	RS384: "RS384",
	RS512: "RS512",
}

// String returns a human readable representation of the algorithm.
func (a Algorithm) String() string {
	if s, ok := algStrings[a]; ok {
		return s
	}
	return fmt.Sprintf("Algorithm(0x%x)", int(a))
}

// COSE key type and curve registry values.
const (
	coseKeyTypeOKP = 1
	coseKeyTypeEC2 = 2
	coseKeyTypeRSA = 3

	coseCurveP256    = 1
	coseCurveP384    = 2
	coseCurveP521    = 3
	coseCurveEd25519 = 6
)

// coseKey is the CBOR layout of a COSE_Key structure. The meaning of the
// negative-label parameters depends on the key type: for EC2 and OKP keys
// -1 is the curve and -2/-3 are coordinates; for RSA keys -1 is the modulus
// and -2 the public exponent.
type coseKey struct {
	KeyType   int64           `cbor:"1,keyasint"`
	KeyID     []byte          `cbor:"2,keyasint,omitempty"`
	Algorithm int64           `cbor:"3,keyasint,omitempty"`
	Param1    cbor.RawMessage `cbor:"-1,keyasint,omitempty"`
	Param2    []byte          `cbor:"-2,keyasint,omitempty"`
	Param3    []byte          `cbor:"-3,keyasint,omitempty"`
}

// publicKey is a decoded COSE public key.
type publicKey struct {
	Algorithm int64
	Public    crypto.PublicKey
}

// parseCOSEKey decodes a COSE public key from the head of b and returns the
// remaining bytes, which hold extension data when present.
func parseCOSEKey(b []byte) (*publicKey, []byte, error) {
	dec := cbor.NewDecoder(bytes.NewReader(b))
	var key coseKey
	if err := dec.Decode(&key); err != nil {
		return nil, nil, fmt.Errorf("decode cose key: %w", err)
	}
	rest := b[dec.NumBytesRead():]

	var pub crypto.PublicKey
	switch key.KeyType {
	case coseKeyTypeEC2:
		curveID, err := decodeCOSEInt(key.Param1)
		if err != nil {
			return nil, nil, fmt.Errorf("decode ec curve: %w", err)
		}
		var curve elliptic.Curve
		switch curveID {
		case coseCurveP256:
			curve = elliptic.P256()
		case coseCurveP384:
			curve = elliptic.P384()
		case coseCurveP521:
			curve = elliptic.P521()
		default:
			return nil, nil, fmt.Errorf("unsupported curve id: %d", curveID)
		}
		if len(key.Param2) == 0 {
			return nil, nil, fmt.Errorf("no x coordinate for ec key")
		}
		if len(key.Param3) == 0 {
			return nil, nil, fmt.Errorf("no y coordinate for ec key")
		}
		pub = &ecdsa.PublicKey{
			Curve: curve,
			X:     big.NewInt(0).SetBytes(key.Param2),
			Y:     big.NewInt(0).SetBytes(key.Param3),
		}
	case coseKeyTypeRSA:
		var modulus []byte
		if err := cbor.Unmarshal(key.Param1, &modulus); err != nil {
			return nil, nil, fmt.Errorf("decode rsa modulus: %w", err)
		}
		if len(modulus) == 0 {
			return nil, nil, fmt.Errorf("no modulus for rsa key")
		}
		if len(key.Param2) == 0 {
			return nil, nil, fmt.Errorf("no public exponent for rsa key")
		}
		exponent := big.NewInt(0).SetBytes(key.Param2)
		pub = &rsa.PublicKey{N: big.NewInt(0).SetBytes(modulus), E: int(exponent.Int64())}
	case coseKeyTypeOKP:
		curveID, err := decodeCOSEInt(key.Param1)
		if err != nil {
			return nil, nil, fmt.Errorf("decode okp curve: %w", err)
		}
		if curveID != coseCurveEd25519 {
			return nil, nil, fmt.Errorf("unsupported curve %d for octet key pair", curveID)
		}
		if len(key.Param2) != ed25519.PublicKeySize {
			return nil, nil, fmt.Errorf("invalid Ed25519 public key length %d", len(key.Param2))
		}
		pub = ed25519.PublicKey(key.Param2)
	default:
		return nil, nil, fmt.Errorf("unsupported key type: %d", key.KeyType)
	}

	return &publicKey{Algorithm: key.Algorithm, Public: pub}, rest, nil
}

func decodeCOSEInt(raw cbor.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing value")
	}
	var value int64
	if err := cbor.Unmarshal(raw, &value); err != nil {
		return 0, err
	}
	return value, nil
}

// MarshalPublicKey serializes a credential public key in its canonical
// stored form, PKIX DER.
func MarshalPublicKey(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return der, nil
}

// ParsePublicKey restores a credential public key from its canonical stored
// form.
func ParsePublicKey(der []byte) (crypto.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}
