package duoflow

import (
	"context"
	"time"
)

// AuthStatus is the persisted second-factor progress for a user. An absent
// or expired entry means the flow has not started.
type AuthStatus string

const (
	// StatusInProgress marks a login whose primary factor succeeded and
	// whose second factor is pending at the provider.
	StatusInProgress AuthStatus = "in-progress"
	// StatusAuthenticated marks a login whose second factor completed, or
	// whose role is exempt from the second factor.
	StatusAuthenticated AuthStatus = "authenticated"
)

// Identity is a resolved user. Roles carries the distinction between
// "no roles" and "roles unknown": a nil slice means roles could not be
// resolved (for example mid-login on a multisite install), an empty
// non-nil slice means the user genuinely has none. Both cases require the
// second factor.
type Identity struct {
	UserID   string
	Username string
	Roles    []string
}

// Action is the decision carried by an [AuthOutcome].
type Action uint8

const (
	// ActionAbstain means the engine has no opinion; the caller's normal
	// authentication chain should continue.
	ActionAbstain Action = iota
	// ActionAllow means the identity is fully authenticated.
	ActionAllow
	// ActionDeny means the attempt failed with a user-facing message.
	ActionDeny
	// ActionRedirect means the browser must be sent to RedirectURL and
	// request processing must stop.
	ActionRedirect
)

// AuthOutcome is the single result type of every flow decision. Exactly the
// fields implied by Action are set: Identity for allow, Message for deny,
// RedirectURL for redirect.
type AuthOutcome struct {
	Action      Action
	Identity    *Identity
	Message     string
	RedirectURL string
}

func abstain() *AuthOutcome                { return &AuthOutcome{Action: ActionAbstain} }
func allow(id *Identity) *AuthOutcome      { return &AuthOutcome{Action: ActionAllow, Identity: id} }
func deny(message string) *AuthOutcome     { return &AuthOutcome{Action: ActionDeny, Message: message} }
func redirectTo(url string) *AuthOutcome   { return &AuthOutcome{Action: ActionRedirect, RedirectURL: url} }

// CallbackParams are the query parameters Duo appends when it returns the
// browser from the hosted prompt.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// AuthRequest is the input to [Engine.AuthenticateUser]. Existing is a
// pass-through slot for an identity already resolved by an upstream
// authenticator. PageURL is the canonical absolute URL of the current
// request, used as the post-prompt return target.
type AuthRequest struct {
	Existing *Identity
	Username string
	Password string
	Callback CallbackParams
	PageURL  string
}

// SecondFactorResult is the decoded outcome of a successful authorization
// code exchange.
type SecondFactorResult struct {
	Username string
	IssuedAt time.Time
	Raw      map[string]any
}

// DuoClient is the OIDC provider contract. SetRedirectURL mutates the
// redirect target used by CreateAuthURL and ExchangeAuthorizationCode; the
// engine sets it before each call that needs it.
type DuoClient interface {
	HealthCheck(ctx context.Context) error
	GenerateState() (string, error)
	SetRedirectURL(url string)
	CreateAuthURL(username, state string) (string, error)
	ExchangeAuthorizationCode(ctx context.Context, code, username string) (*SecondFactorResult, error)
}

// PrimaryAuthenticator verifies the first factor. The engine tries the
// username form first and falls back to the email form, matching the host
// login pipeline.
type PrimaryAuthenticator interface {
	VerifyUsernamePassword(ctx context.Context, username, password string) (*Identity, error)
	VerifyEmailPassword(ctx context.Context, email, password string) (*Identity, error)
}

// UserDirectory resolves usernames to identities and supplies the set of
// known role names used when no explicit require-MFA list is configured.
type UserDirectory interface {
	LookupUser(ctx context.Context, username string) (*Identity, error)
	KnownRoles(ctx context.Context) ([]string, error)
}

// SessionManager is the host application's session boundary. CurrentUser
// returns (nil, nil) when no session is active. Logout ends the provisional
// session established by primary auth so it cannot be reused to skip the
// second factor.
type SessionManager interface {
	CurrentUser(ctx context.Context) (*Identity, error)
	Logout(ctx context.Context) error
}
