package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/caarlos0/env/v11"
)

// ErrMisconfigured wraps every startup-time configuration violation. Secret
// policy failures are fatal in main, never handled per request.
var ErrMisconfigured = errors.New("config: invalid configuration")

const envLocal = "local"

// Config holds everything the auth core needs, loaded once at process start
// and passed by reference. Nothing in this struct is mutated after Load.
type Config struct {
	Addr        string `env:"GATEKIT_ADDR" envDefault:":8080"`
	Environment string `env:"GATEKIT_ENV" envDefault:"local"`

	PostgresDSN string `env:"GATEKIT_PG_DSN"`

	RedisAddr     string `env:"GATEKIT_REDIS_ADDR"`
	RedisPassword string `env:"GATEKIT_REDIS_PASSWORD"`
	RedisDB       int    `env:"GATEKIT_REDIS_DB" envDefault:"0"`

	AccessSecret  string        `env:"GATEKIT_ACCESS_SECRET,required"`
	RefreshSecret string        `env:"GATEKIT_REFRESH_SECRET,required"`
	Issuer        string        `env:"GATEKIT_ISSUER" envDefault:"gatekit"`
	Audience      string        `env:"GATEKIT_AUDIENCE" envDefault:"gatekit-api"`
	AccessTTL     time.Duration `env:"GATEKIT_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"GATEKIT_REFRESH_TTL" envDefault:"168h"`

	BcryptCost int `env:"GATEKIT_BCRYPT_COST" envDefault:"12"`

	LoginMaxAttempts int           `env:"GATEKIT_LOGIN_MAX_ATTEMPTS" envDefault:"3"`
	LoginWindow      time.Duration `env:"GATEKIT_LOGIN_WINDOW" envDefault:"1h"`
	ResetMaxAttempts int           `env:"GATEKIT_RESET_MAX_ATTEMPTS" envDefault:"3"`
	ResetWindow      time.Duration `env:"GATEKIT_RESET_WINDOW" envDefault:"1h"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsLocal reports whether the relaxed local secret policy applies.
func (c Config) IsLocal() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), envLocal)
}

// Validate enforces the startup-time invariants: distinct signing secrets,
// secret strength outside local deployments, sane TTLs and hash cost.
func (c Config) Validate() error {
	if strings.TrimSpace(c.AccessSecret) == "" || strings.TrimSpace(c.RefreshSecret) == "" {
		return fmt.Errorf("%w: signing secrets are required", ErrMisconfigured)
	}
	if c.AccessSecret == c.RefreshSecret {
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrMisconfigured)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("%w: token TTLs must be positive", ErrMisconfigured)
	}
	if c.AccessTTL >= c.RefreshTTL {
		return fmt.Errorf("%w: access TTL must be shorter than refresh TTL", ErrMisconfigured)
	}
	if c.LoginMaxAttempts <= 0 || c.ResetMaxAttempts <= 0 || c.LoginWindow <= 0 || c.ResetWindow <= 0 {
		return fmt.Errorf("%w: rate limit policy values must be positive", ErrMisconfigured)
	}
	if !c.IsLocal() {
		if c.BcryptCost < 12 {
			return fmt.Errorf("%w: bcrypt cost must be at least 12", ErrMisconfigured)
		}
		if reason := weakSecretReason(c.AccessSecret); reason != "" {
			return fmt.Errorf("%w: access secret %s", ErrMisconfigured, reason)
		}
		if reason := weakSecretReason(c.RefreshSecret); reason != "" {
			return fmt.Errorf("%w: refresh secret %s", ErrMisconfigured, reason)
		}
	}
	return nil
}

// knownWeakSubstrings are rejected regardless of length or character mix.
var knownWeakSubstrings = []string{
	"password", "secret", "qwerty", "letmein", "admin", "welcome", "changeme",
}

func weakSecretReason(secret string) string {
	if len(secret) < 32 {
		return "is shorter than 32 characters"
	}
	var lower, upper, digit, symbol bool
	for _, r := range secret {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	classes := 0
	for _, ok := range []bool{lower, upper, digit, symbol} {
		if ok {
			classes++
		}
	}
	if classes < 3 {
		return "must mix at least 3 character classes"
	}
	folded := strings.ToLower(secret)
	for _, weak := range knownWeakSubstrings {
		if strings.Contains(folded, weak) {
			return fmt.Sprintf("contains known-weak substring %q", weak)
		}
	}
	if hasLongRun(secret, 4) {
		return "contains a long run of repeated characters"
	}
	if hasNumericSequence(secret, 6) {
		return "contains a numeric sequence"
	}
	return ""
}

func hasLongRun(s string, limit int) bool {
	run := 0
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			run++
			if run+1 >= limit {
				return true
			}
		} else {
			run = 0
		}
		prev = r
	}
	return false
}

func hasNumericSequence(s string, limit int) bool {
	asc, desc := 1, 1
	var prev rune
	for i, r := range s {
		if i > 0 && unicode.IsDigit(r) && unicode.IsDigit(prev) {
			switch r - prev {
			case 1:
				asc++
				desc = 1
			case -1:
				desc++
				asc = 1
			default:
				asc, desc = 1, 1
			}
			if asc >= limit || desc >= limit {
				return true
			}
		} else {
			asc, desc = 1, 1
		}
		prev = r
	}
	return false
}
