package duoflow

import (
	"errors"
	"time"
)

// DefaultStateTTL bounds how long a pending or completed login attempt can
// be resumed. Every auth state key is written with this lifetime from
// creation; it is not extended by later writes in the same attempt.
const DefaultStateTTL = 48 * time.Hour

// Failmode selects what happens when the second factor cannot be started:
// allow the login anyway or deny it.
type Failmode string

const (
	// FailmodeOpen allows the login without a second factor when Duo is
	// unreachable or misconfigured.
	FailmodeOpen Failmode = "open"
	// FailmodeClosed denies the login when the second factor is
	// unavailable.
	FailmodeClosed Failmode = "closed"
)

// Config defines the engine's behavior. Instances are cloned at build time
// and treated as immutable afterwards.
type Config struct {
	Duo     DuoConfig
	Roles   RolesConfig
	State   StateConfig
	Audit   AuditConfig
	Metrics MetricsConfig

	// Debug enables verbose flow logging. Off by default.
	Debug bool
}

// DuoConfig carries the provider credentials and policy. The engine
// abstains from every decision while ClientID, ClientSecret, or APIHost is
// empty.
type DuoConfig struct {
	ClientID     string
	ClientSecret string
	APIHost      string
	Failmode     Failmode

	// XMLRPCBypass lets XML-RPC requests skip the second factor for
	// remote-publishing compatibility. Requests are flagged via
	// [WithXMLRPCRequest].
	XMLRPCBypass bool
}

// RolesConfig selects which roles require the second factor.
//
// RequireMFA nil means every known role requires it (the directory's
// KnownRoles set). An empty non-nil slice means no role requires it. A user
// whose roles cannot be resolved requires it regardless.
type RolesConfig struct {
	RequireMFA []string
}

// StateConfig controls the Redis-backed auth state store.
type StateConfig struct {
	// RedisPrefix is prepended to every key. Empty by default; the key
	// names themselves follow the duo_auth_* layout.
	RedisPrefix string
	// TTL is the lifetime of every state key. Defaults to
	// [DefaultStateTTL].
	TTL time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the configuration a [Builder] starts from:
// fail-open, the default state TTL, audit disabled, metrics enabled.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Duo: DuoConfig{
			Failmode: FailmodeOpen,
		},
		State: StateConfig{
			TTL: DefaultStateTTL,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for values the engine cannot operate
// with. Missing Duo credentials are not an error: they disable the second
// factor rather than failing the build.
func (c *Config) Validate() error {
	switch c.Duo.Failmode {
	case FailmodeOpen, FailmodeClosed:
	default:
		return errors.New("duo failmode must be \"open\" or \"closed\"")
	}
	if c.State.TTL <= 0 {
		return errors.New("state TTL must be positive")
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 0 {
		return errors.New("audit buffer size must not be negative")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	cloned := cfg
	if cfg.Roles.RequireMFA != nil {
		cloned.Roles.RequireMFA = append([]string(nil), cfg.Roles.RequireMFA...)
	}
	return cloned
}
