package duoflow

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine] from its collaborators. A Builder is used
// once; the built Engine is immutable.
type Builder struct {
	config Config
	redis  *redis.Client

	duo       DuoClient
	primary   PrimaryAuthenticator
	directory UserDirectory
	sessions  SessionManager
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client backing the auth state store.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithDuoClient supplies the OIDC provider client.
func (b *Builder) WithDuoClient(client DuoClient) *Builder {
	b.duo = client
	return b
}

// WithPrimaryAuthenticator supplies the first-factor verifier.
func (b *Builder) WithPrimaryAuthenticator(p PrimaryAuthenticator) *Builder {
	b.primary = p
	return b
}

// WithUserDirectory supplies identity and role resolution.
func (b *Builder) WithUserDirectory(d UserDirectory) *Builder {
	b.directory = d
	return b
}

// WithSessionManager supplies the host application's session boundary.
func (b *Builder) WithSessionManager(s SessionManager) *Builder {
	b.sessions = s
	return b
}

// WithAuditSink supplies the destination for flow events. Ignored unless
// Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and collaborators and returns the
// Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.duo == nil {
		return nil, errors.New("duo client required")
	}
	if b.primary == nil {
		return nil, errors.New("primary authenticator required")
	}
	if b.directory == nil {
		return nil, errors.New("user directory required")
	}
	if b.sessions == nil {
		return nil, errors.New("session manager required")
	}

	b.built = true
	return &Engine{
		config:    cfg,
		state:     newAuthStateStore(b.redis, cfg.State),
		duo:       b.duo,
		primary:   b.primary,
		directory: b.directory,
		sessions:  b.sessions,
		audit:     newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:   NewMetrics(cfg.Metrics),
	}, nil
}
