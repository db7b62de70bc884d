package duoflow

import (
	"context"
	"log"
)

// Engine orchestrates the second-factor login flow. Instances are built
// through [Builder] and are safe for concurrent use: all mutable state
// lives in the Redis-backed auth state store, never on the struct.
type Engine struct {
	config    Config
	state     *authStateStore
	duo       DuoClient
	primary   PrimaryAuthenticator
	directory UserDirectory
	sessions  SessionManager
	audit     *auditDispatcher
	metrics   *Metrics
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the flow counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) debug(msg string) {
	if e == nil || !e.config.Debug {
		return
	}
	log.Print("duoflow: " + msg)
}

func (e *Engine) warn(msg string) {
	log.Print("duoflow: " + msg)
}

// secondFactorEnabled reports whether the engine should take part in
// authentication at all. It is false while the Duo credentials are
// incomplete, and false for flagged XML-RPC requests when the bypass is
// configured.
func (e *Engine) secondFactorEnabled(ctx context.Context) bool {
	if xmlrpcRequestFromContext(ctx) && e.config.Duo.XMLRPCBypass {
		e.debug("XML-RPC request and bypass is allowed, skipping second factor")
		return false
	}
	if e.config.Duo.ClientID == "" || e.config.Duo.ClientSecret == "" || e.config.Duo.APIHost == "" {
		return false
	}
	return true
}

// ClearUserAuth removes the user's persisted auth state, best effort. It is
// meant to run on logout: storage failures are logged and swallowed so a
// logout can never fail because cleanup did.
func (e *Engine) ClearUserAuth(ctx context.Context, username string) {
	if e == nil || e.state == nil || username == "" {
		return
	}

	err := e.state.Clear(ctx, username)
	if err != nil {
		e.warn("auth state cleanup failed for " + username + ": " + err.Error())
	}
	e.metricInc(MetricStateCleared)
	e.emitAudit(ctx, auditEventStateCleared, err == nil, username, err, nil)
}

// ClearCurrentUserAuth clears auth state for the active session's user, if
// any.
func (e *Engine) ClearCurrentUserAuth(ctx context.Context) {
	if e == nil || e.sessions == nil {
		return
	}

	user, err := e.sessions.CurrentUser(ctx)
	if err != nil || user == nil {
		return
	}
	e.ClearUserAuth(ctx, user.Username)
}
