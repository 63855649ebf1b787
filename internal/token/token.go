// Package token issues and validates post-authentication session tokens.
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/passkeyd/passkeyd/internal/platform/config"
	"github.com/passkeyd/passkeyd/internal/platform/id"
)

// Config controls session token signing.
type Config struct {
	Issuer     string        `env:"PASSKEYD_TOKEN_ISSUER"      envDefault:"passkeyd"`
	Audience   string        `env:"PASSKEYD_TOKEN_AUDIENCE"    envDefault:"passkeyd"`
	PrivateKey string        `env:"PASSKEYD_TOKEN_PRIVATE_KEY"`
	TTL        time.Duration `env:"PASSKEYD_TOKEN_TTL"         envDefault:"15m"`
}

// LoadConfigFromEnv returns token configuration with defaults.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("load token config: %w", err)
	}
	if cfg.TTL <= 0 {
		return Config{}, fmt.Errorf("token ttl must be positive")
	}
	return cfg, nil
}

// Claims are the session token claims.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Issuer signs and validates EdDSA session tokens.
type Issuer struct {
	issuer    string
	audience  string
	ttl       time.Duration
	key       ed25519.PrivateKey
	pub       ed25519.PublicKey
	ephemeral bool

	clock       func() time.Time
	idGenerator func() (string, error)
}

// Ephemeral reports whether the signing key was generated at startup rather
// than loaded from configuration. Ephemeral keys invalidate all tokens on
// restart.
func (i *Issuer) Ephemeral() bool {
	return i.ephemeral
}

// NewIssuer builds a token issuer from configuration. An empty private key
// yields a process-local ephemeral key.
func NewIssuer(cfg Config) (*Issuer, error) {
	issuer := strings.TrimSpace(cfg.Issuer)
	audience := strings.TrimSpace(cfg.Audience)
	if issuer == "" || audience == "" {
		return nil, errors.New("token issuer and audience are required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}

	var key ed25519.PrivateKey
	ephemeral := false
	if raw := strings.TrimSpace(cfg.PrivateKey); raw != "" {
		keyBytes, err := decodeBase64(raw)
		if err != nil {
			return nil, fmt.Errorf("decode token private key: %w", err)
		}
		if len(keyBytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("token private key must be %d bytes", ed25519.PrivateKeySize)
		}
		key = ed25519.PrivateKey(keyBytes)
	} else {
		_, generated, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate token key: %w", err)
		}
		key = generated
		ephemeral = true
	}

	return &Issuer{
		issuer:      issuer,
		audience:    audience,
		ttl:         cfg.TTL,
		key:         key,
		pub:         key.Public().(ed25519.PublicKey),
		ephemeral:   ephemeral,
		clock:       time.Now,
		idGenerator: id.NewID,
	}, nil
}

// Issue signs a session token for an authenticated user.
func (i *Issuer) Issue(userID, username string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id is required")
	}
	jti, err := i.idGenerator()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}

	now := i.clock().UTC()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    i.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a session token.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return i.pub, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return i.clock().UTC() }),
	)
	if err != nil {
		return nil, fmt.Errorf("validate token: %w", err)
	}
	return claims, nil
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
