package duoflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// ---------------------------------------------------------------------------
// Shared test fixtures: fake collaborators and an engine constructor backed
// by miniredis.
// ---------------------------------------------------------------------------

const (
	testClientID     = "DIXXXXXXXXXXXXXXXXXX"
	testClientSecret = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	testAPIHost      = "api-test.duosecurity.com"
	testState        = "state-token-state-token-state-token-"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Duo.ClientID = testClientID
	cfg.Duo.ClientSecret = testClientSecret
	cfg.Duo.APIHost = testAPIHost
	return cfg
}

type fakeDuo struct {
	mu sync.Mutex

	healthErr   error
	stateToken  string
	stateErr    error
	authURLErr  error
	exchangeErr error

	healthChecks int
	authURLs     int
	exchanges    int
	redirectURLs []string

	// onExchange, when set, replaces the default exchange behavior.
	onExchange func(ctx context.Context, code, username string) (*SecondFactorResult, error)
}

func (d *fakeDuo) HealthCheck(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.healthChecks++
	return d.healthErr
}

func (d *fakeDuo) GenerateState() (string, error) {
	if d.stateErr != nil {
		return "", d.stateErr
	}
	if d.stateToken != "" {
		return d.stateToken, nil
	}
	return testState, nil
}

func (d *fakeDuo) SetRedirectURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.redirectURLs = append(d.redirectURLs, url)
}

func (d *fakeDuo) lastRedirectURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.redirectURLs) == 0 {
		return ""
	}
	return d.redirectURLs[len(d.redirectURLs)-1]
}

func (d *fakeDuo) CreateAuthURL(username, state string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.authURLs++
	if d.authURLErr != nil {
		return "", d.authURLErr
	}
	return "https://" + testAPIHost + "/oauth/v1/authorize?state=" + state, nil
}

func (d *fakeDuo) ExchangeAuthorizationCode(ctx context.Context, code, username string) (*SecondFactorResult, error) {
	d.mu.Lock()
	d.exchanges++
	d.mu.Unlock()
	if d.onExchange != nil {
		return d.onExchange(ctx, code, username)
	}
	if d.exchangeErr != nil {
		return nil, d.exchangeErr
	}
	return &SecondFactorResult{Username: username}, nil
}

// fakeUsers implements both PrimaryAuthenticator and UserDirectory over an
// in-memory map.
type fakeUsers struct {
	identities map[string]*Identity
	passwords  map[string]string

	lookupErr error
	knownErr  error
	known     []string
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		identities: make(map[string]*Identity),
		passwords:  make(map[string]string),
		known:      []string{"administrator", "editor", "subscriber"},
	}
}

func (u *fakeUsers) put(username, password string, roles []string) {
	u.identities[username] = &Identity{
		UserID:   "id-" + username,
		Username: username,
		Roles:    roles,
	}
	u.passwords[username] = password
}

func (u *fakeUsers) LookupUser(_ context.Context, username string) (*Identity, error) {
	if u.lookupErr != nil {
		return nil, u.lookupErr
	}
	id, ok := u.identities[username]
	if !ok {
		return nil, errors.New("user not found")
	}
	return id, nil
}

func (u *fakeUsers) KnownRoles(context.Context) ([]string, error) {
	if u.knownErr != nil {
		return nil, u.knownErr
	}
	return u.known, nil
}

func (u *fakeUsers) VerifyUsernamePassword(_ context.Context, username, password string) (*Identity, error) {
	want, ok := u.passwords[username]
	if !ok || want != password {
		return nil, errors.New("invalid username or password")
	}
	return u.identities[username], nil
}

func (u *fakeUsers) VerifyEmailPassword(ctx context.Context, email, password string) (*Identity, error) {
	return u.VerifyUsernamePassword(ctx, email, password)
}

type fakeSessions struct {
	mu sync.Mutex

	current    *Identity
	currentErr error
	logoutErr  error
	logouts    int

	// onLogout runs inside Logout, letting tests observe ordering.
	onLogout func()
}

func (s *fakeSessions) CurrentUser(context.Context) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentErr != nil {
		return nil, s.currentErr
	}
	return s.current, nil
}

func (s *fakeSessions) Logout(context.Context) error {
	s.mu.Lock()
	s.logouts++
	hook := s.onLogout
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return s.logoutErr
}

func (s *fakeSessions) logoutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

func newTestEngine(
	t *testing.T,
	cfg Config,
	duo *fakeDuo,
	users *fakeUsers,
	sessions *fakeSessions,
) (*Engine, *redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDuoClient(duo).
		WithPrimaryAuthenticator(users).
		WithUserDirectory(users).
		WithSessionManager(sessions).
		Build()
	if err != nil {
		rdb.Close()
		mr.Close()
		t.Fatalf("engine build: %v", err)
	}

	done := func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	}
	return engine, rdb, mr, done
}
