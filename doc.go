// Package duoflow implements the Duo Universal second-factor login flow:
// primary credential verification, redirect to Duo's hosted prompt via an
// OIDC authorization-code request, and validation of the callback that
// completes the second factor.
//
// The package is the public surface. It exposes [Engine], [Builder],
// [Config], and the value/outcome types. The Engine orchestrates the flow;
// per-attempt state (status, redirect URL, correlation token) is persisted
// in Redis with a bounded lifetime so a pending login can survive the
// round-trip through the identity provider but cannot be resumed forever.
//
// # Architecture boundaries
//
// External systems are narrow interfaces supplied at build time:
// [DuoClient] (the OIDC provider), [PrimaryAuthenticator] (credential
// verification), [UserDirectory] (identity and role resolution), and
// [SessionManager] (the host application's session). A working DuoClient
// lives in the duoapi subpackage; an HTTP adapter lives in middleware.
//
// # Failure policy
//
// Provider and storage failures never escape Engine methods as panics or
// raw errors. Every login attempt resolves to one of four outcomes:
// abstain (no opinion, let the caller's auth chain continue), allow,
// deny (typed failure with a user-facing message), or redirect (send the
// browser to the Duo prompt). Provider unavailability during second-factor
// initiation is routed through the configured fail-open/fail-closed mode.
package duoflow
