package duoflow

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestVerifyAuthAbstainsWithoutSession(t *testing.T) {
	engine, _, _, done := newTestEngine(t, testConfig(), &fakeDuo{}, newFakeUsers(), &fakeSessions{})
	defer done()

	out, err := engine.VerifyAuth(context.Background(), "https://blog.example/wp-admin")
	if err != nil {
		t.Fatalf("VerifyAuth failed: %v", err)
	}
	if out.Action != ActionAbstain {
		t.Fatalf("expected abstain without a session, got %+v", out)
	}
}

func TestVerifyAuthAbstainsWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Duo.APIHost = ""
	sessions := &fakeSessions{current: &Identity{Username: "alice", Roles: []string{"administrator"}}}
	engine, _, _, done := newTestEngine(t, cfg, &fakeDuo{}, newFakeUsers(), sessions)
	defer done()

	out, err := engine.VerifyAuth(context.Background(), "https://blog.example/wp-admin")
	if err != nil {
		t.Fatalf("VerifyAuth failed: %v", err)
	}
	if out.Action != ActionAbstain {
		t.Fatalf("expected abstain with incomplete credentials, got %+v", out)
	}
}

func TestVerifyAuthAllowsAuthenticatedUser(t *testing.T) {
	alice := &Identity{Username: "alice", Roles: []string{"administrator"}}
	sessions := &fakeSessions{current: alice}
	duo := &fakeDuo{}
	engine, _, _, done := newTestEngine(t, testConfig(), duo, newFakeUsers(), sessions)
	defer done()
	ctx := context.Background()

	if err := engine.state.SetStatus(ctx, "alice", StatusAuthenticated, "", ""); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	out, err := engine.VerifyAuth(ctx, "https://blog.example/wp-admin")
	if err != nil {
		t.Fatalf("VerifyAuth failed: %v", err)
	}
	if out.Action != ActionAllow || out.Identity != alice {
		t.Fatalf("expected allow for the session user, got %+v", out)
	}
	if duo.healthChecks != 0 {
		t.Fatal("completed second factor must not re-enter the flow")
	}
}

func TestVerifyAuthRedirectsPendingUser(t *testing.T) {
	sessions := &fakeSessions{current: &Identity{Username: "alice", Roles: []string{"administrator"}}}
	engine, rdb, _, done := newTestEngine(t, testConfig(), &fakeDuo{}, newFakeUsers(), sessions)
	defer done()
	ctx := context.Background()

	out, err := engine.VerifyAuth(ctx, "https://blog.example/wp-admin")
	if err != nil {
		t.Fatalf("VerifyAuth failed: %v", err)
	}
	if out.Action != ActionRedirect {
		t.Fatalf("a session that skipped the prompt must be redirected, got %+v", out)
	}
	if !strings.Contains(out.RedirectURL, "state="+testState) {
		t.Fatalf("prompt URL %q does not carry the state token", out.RedirectURL)
	}
	if got := rdb.Get(ctx, "duo_auth_alice_status").Val(); got != "in-progress" {
		t.Fatalf("status = %q, want in-progress after re-entry", got)
	}
	if got := rdb.Get(ctx, "duo_auth_alice_redirect_url").Val(); got != "https://blog.example/wp-admin" {
		t.Fatalf("stored redirect url = %q", got)
	}
	if sessions.logoutCount() != 1 {
		t.Fatal("re-entry must end the session before redirecting")
	}
}

func TestVerifyAuthExemptRoleAllowed(t *testing.T) {
	cfg := testConfig()
	cfg.Roles.RequireMFA = []string{"administrator"}
	bob := &Identity{Username: "bob", Roles: []string{"subscriber"}}
	sessions := &fakeSessions{current: bob}
	duo := &fakeDuo{}
	engine, _, _, done := newTestEngine(t, cfg, duo, newFakeUsers(), sessions)
	defer done()

	out, err := engine.VerifyAuth(context.Background(), "https://blog.example/")
	if err != nil {
		t.Fatalf("VerifyAuth failed: %v", err)
	}
	if out.Action != ActionAllow || out.Identity != bob {
		t.Fatalf("exempt role must pass, got %+v", out)
	}
	if duo.healthChecks != 0 {
		t.Fatal("exempt role must not contact the provider")
	}
}

func TestVerifyAuthRolesResolvedThroughDirectory(t *testing.T) {
	cfg := testConfig()
	cfg.Roles.RequireMFA = []string{"administrator"}
	users := newFakeUsers()
	users.put("bob", "pw", []string{"subscriber"})

	// The session identity arrives with roles unresolved.
	sessions := &fakeSessions{current: &Identity{Username: "bob"}}
	engine, _, _, done := newTestEngine(t, cfg, &fakeDuo{}, users, sessions)
	defer done()

	out, err := engine.VerifyAuth(context.Background(), "https://blog.example/")
	if err != nil {
		t.Fatalf("VerifyAuth failed: %v", err)
	}
	if out.Action != ActionAllow {
		t.Fatalf("directory-resolved exempt role must pass, got %+v", out)
	}
}

func TestVerifyAuthSessionLookupErrorAbstains(t *testing.T) {
	sessions := &fakeSessions{currentErr: errors.New("session backend down")}
	engine, _, _, done := newTestEngine(t, testConfig(), &fakeDuo{}, newFakeUsers(), sessions)
	defer done()

	out, err := engine.VerifyAuth(context.Background(), "https://blog.example/")
	if err != nil {
		t.Fatalf("VerifyAuth failed: %v", err)
	}
	if out.Action != ActionAbstain {
		t.Fatalf("expected abstain on session lookup failure, got %+v", out)
	}
}

func TestVerifyAuthFailmodeClosedDenies(t *testing.T) {
	cfg := testConfig()
	cfg.Duo.Failmode = FailmodeClosed
	sessions := &fakeSessions{current: &Identity{Username: "alice", Roles: []string{"administrator"}}}
	duo := &fakeDuo{healthErr: errors.New("connect: timeout")}
	engine, _, _, done := newTestEngine(t, cfg, duo, newFakeUsers(), sessions)
	defer done()

	out, err := engine.VerifyAuth(context.Background(), "https://blog.example/wp-admin")
	if err != nil {
		t.Fatalf("VerifyAuth failed: %v", err)
	}
	if out.Action != ActionDeny || out.Message != MsgSecondFactorUnavailable {
		t.Fatalf("expected fail-closed deny, got %+v", out)
	}
}

func TestVerifyAuthFailmodeOpenAllows(t *testing.T) {
	alice := &Identity{Username: "alice", Roles: []string{"administrator"}}
	sessions := &fakeSessions{current: alice}
	duo := &fakeDuo{healthErr: errors.New("connect: timeout")}
	engine, rdb, _, done := newTestEngine(t, testConfig(), duo, newFakeUsers(), sessions)
	defer done()
	ctx := context.Background()

	out, err := engine.VerifyAuth(ctx, "https://blog.example/wp-admin")
	if err != nil {
		t.Fatalf("VerifyAuth failed: %v", err)
	}
	if out.Action != ActionAllow {
		t.Fatalf("expected fail-open allow, got %+v", out)
	}
	if got := rdb.Get(ctx, "duo_auth_alice_status").Val(); got != "authenticated" {
		t.Fatalf("status = %q, want authenticated under fail-open", got)
	}

	// The flag prevents a redirect loop on the next request.
	duo.mu.Lock()
	duo.healthErr = nil
	duo.mu.Unlock()
	out, err = engine.VerifyAuth(ctx, "https://blog.example/wp-admin")
	if err != nil {
		t.Fatalf("VerifyAuth failed: %v", err)
	}
	if out.Action != ActionAllow {
		t.Fatalf("expected allow on the follow-up request, got %+v", out)
	}
}
