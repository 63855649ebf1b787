package ceremony

import (
	"fmt"
	"time"

	"github.com/passkeyd/passkeyd/internal/platform/config"
)

// Kind describes the ceremony a challenge session belongs to.
type Kind string

const (
	KindRegistration   Kind = "registration"
	KindAuthentication Kind = "authentication"
)

const (
	// minChallengeLength is the smallest challenge size accepted by
	// configuration. Shorter challenges are guessable.
	minChallengeLength = 16

	defaultChallengeLength = 32
)

// Config controls relying party identity and challenge issuance.
type Config struct {
	RPID                    string        `env:"PASSKEYD_RP_ID"`
	RPDisplayName           string        `env:"PASSKEYD_RP_DISPLAY_NAME"       envDefault:"passkeyd"`
	RPOrigin                string        `env:"PASSKEYD_RP_ORIGIN"             envDefault:"http://localhost:8085"`
	AttestationPolicy       string        `env:"PASSKEYD_ATTESTATION_POLICY"    envDefault:"self"`
	ChallengeTTL            time.Duration `env:"PASSKEYD_CHALLENGE_TTL"         envDefault:"2m"`
	ChallengeLength         int           `env:"PASSKEYD_CHALLENGE_LENGTH"      envDefault:"32"`
	CeremonyTimeout         time.Duration `env:"PASSKEYD_CEREMONY_TIMEOUT"      envDefault:"60s"`
	RequireUserVerification bool          `env:"PASSKEYD_REQUIRE_USER_VERIFICATION" envDefault:"false"`
}

// LoadConfigFromEnv returns ceremony configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{
			RPDisplayName:     "passkeyd",
			RPOrigin:          "http://localhost:8085",
			AttestationPolicy: "self",
			ChallengeTTL:      2 * time.Minute,
			ChallengeLength:   defaultChallengeLength,
			CeremonyTimeout:   60 * time.Second,
		}
	}
	return cfg
}

// Validate checks configuration bounds before the service starts.
func (c Config) Validate() error {
	if c.ChallengeLength < minChallengeLength {
		return fmt.Errorf("challenge length %d is below the minimum of %d", c.ChallengeLength, minChallengeLength)
	}
	if c.ChallengeTTL <= 0 {
		return fmt.Errorf("challenge ttl must be positive")
	}
	return nil
}
