package duoflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// authStateStore persists per-user second-factor progress in Redis with a
// fixed TTL. The key layout is load-bearing for operators inspecting
// state:
//
//	duo_auth_<user>_status        in-progress | authenticated
//	duo_auth_<user>_redirect_url  post-prompt return target
//	duo_auth_<user>_oidc_state    last issued correlation token
//	duo_auth_state_<token>        reverse index: token -> user
//
// Reads fail soft: a missing key is "absent", not an error. Write and
// delete failures surface as ErrStateUnavailable for the caller to log.
type authStateStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func newAuthStateStore(redisClient *redis.Client, cfg StateConfig) *authStateStore {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &authStateStore{
		redis:  redisClient,
		prefix: cfg.RedisPrefix,
		ttl:    ttl,
	}
}

func (s *authStateStore) statusKey(user string) string {
	return s.prefix + "duo_auth_" + user + "_status"
}

func (s *authStateStore) redirectKey(user string) string {
	return s.prefix + "duo_auth_" + user + "_redirect_url"
}

func (s *authStateStore) stateKey(user string) string {
	return s.prefix + "duo_auth_" + user + "_oidc_state"
}

func (s *authStateStore) indexKey(oidcState string) string {
	return s.prefix + "duo_auth_state_" + oidcState
}

// SetStatus upserts the user's status. A non-empty redirectURL is stored
// alongside it; a non-empty oidcState is stored twice, once under the user
// and once in the reverse index so the provider callback can recover the
// user from the opaque token. Every write uses the full TTL.
func (s *authStateStore) SetStatus(
	ctx context.Context,
	user string,
	status AuthStatus,
	redirectURL string,
	oidcState string,
) error {
	if err := s.redis.Set(ctx, s.statusKey(user), string(status), s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set status: %v", ErrStateUnavailable, err)
	}
	if redirectURL != "" {
		if err := s.redis.Set(ctx, s.redirectKey(user), redirectURL, s.ttl).Err(); err != nil {
			return fmt.Errorf("%w: set redirect url: %v", ErrStateUnavailable, err)
		}
	}
	if oidcState != "" {
		// Tracked in two places so Clear can remove the index entry later.
		if err := s.redis.Set(ctx, s.stateKey(user), oidcState, s.ttl).Err(); err != nil {
			return fmt.Errorf("%w: set oidc state: %v", ErrStateUnavailable, err)
		}
		if err := s.redis.Set(ctx, s.indexKey(oidcState), user, s.ttl).Err(); err != nil {
			return fmt.Errorf("%w: set state index: %v", ErrStateUnavailable, err)
		}
	}
	return nil
}

// GetStatus returns the user's status, or "" when no attempt is recorded.
func (s *authStateStore) GetStatus(ctx context.Context, user string) (AuthStatus, error) {
	value, err := s.redis.Get(ctx, s.statusKey(user)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: get status: %v", ErrStateUnavailable, err)
	}
	return AuthStatus(value), nil
}

// GetUserByState resolves a correlation token back to the user that issued
// it, or "" when the token is unknown or expired.
func (s *authStateStore) GetUserByState(ctx context.Context, oidcState string) (string, error) {
	user, err := s.redis.Get(ctx, s.indexKey(oidcState)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: get state index: %v", ErrStateUnavailable, err)
	}
	return user, nil
}

// GetRedirectURL returns the stored post-prompt return target, or "".
func (s *authStateStore) GetRedirectURL(ctx context.Context, user string) (string, error) {
	url, err := s.redis.Get(ctx, s.redirectKey(user)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: get redirect url: %v", ErrStateUnavailable, err)
	}
	return url, nil
}

// Clear removes the user's status, redirect URL, state token, and the
// reverse index entry for the last known token. The deletes are
// independent: a failure on one does not stop the others, and the joined
// error is reported only after all four ran. A dangling index entry left by
// a partial failure expires via TTL and never blocks a future login.
func (s *authStateStore) Clear(ctx context.Context, user string) error {
	var errs []error

	oidcState, err := s.redis.Get(ctx, s.stateKey(user)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		errs = append(errs, fmt.Errorf("read oidc state: %v", err))
	}

	if err := s.redis.Del(ctx, s.statusKey(user)).Err(); err != nil {
		errs = append(errs, fmt.Errorf("delete status: %v", err))
	}
	if err := s.redis.Del(ctx, s.stateKey(user)).Err(); err != nil {
		errs = append(errs, fmt.Errorf("delete oidc state: %v", err))
	}
	if oidcState != "" {
		if err := s.redis.Del(ctx, s.indexKey(oidcState)).Err(); err != nil {
			errs = append(errs, fmt.Errorf("delete state index: %v", err))
		}
	}
	if err := s.redis.Del(ctx, s.redirectKey(user)).Err(); err != nil {
		errs = append(errs, fmt.Errorf("delete redirect url: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrStateUnavailable, errors.Join(errs...))
	}
	return nil
}
