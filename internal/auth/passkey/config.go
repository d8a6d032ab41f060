// Package passkey holds relying-party configuration for WebAuthn ceremonies.
package passkey

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// CeremonyKind describes the purpose of a pending ceremony.
type CeremonyKind string

const (
	KindRegistration CeremonyKind = "registration"
	KindLogin        CeremonyKind = "login"
	KindRecovery     CeremonyKind = "recovery"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"REPSET_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Repset"`
	RPID          string        `env:"REPSET_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"REPSET_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	ChallengeTTL  time.Duration `env:"REPSET_WEBAUTHN_CHALLENGE_TTL"   envDefault:"5m"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			RPDisplayName: "Repset",
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:8080"},
			ChallengeTTL:  5 * time.Minute,
		}
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	return cfg
}
