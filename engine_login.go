package duoflow

import "context"

// AuthenticateUser runs one step of the login flow for the ambient request.
// It inspects the request in priority order: an identity already resolved
// upstream passes through untouched, a provider callback completes the
// second factor, a submitted username runs the primary phase, and anything
// else is the initial page view. The returned outcome is always one of
// abstain, allow, deny, or redirect; provider errors never propagate.
func (e *Engine) AuthenticateUser(ctx context.Context, req AuthRequest) (*AuthOutcome, error) {
	if e == nil || e.state == nil || e.duo == nil || e.primary == nil || e.directory == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	// Play nicely with other providers if they resolved the user first.
	if req.Existing != nil {
		return allow(req.Existing), nil
	}

	if !e.secondFactorEnabled(ctx) {
		e.debug("Duo not enabled, skipping 2FA")
		return abstain(), nil
	}

	if req.Callback.Code != "" {
		return e.completeSecondFactor(ctx, req.Callback), nil
	}

	if req.Username != "" {
		return e.primaryPhase(ctx, req), nil
	}

	// Initial unauthenticated page view.
	e.debug("Starting primary authentication")
	return abstain(), nil
}

// completeSecondFactor handles the browser's return from the Duo prompt.
// The correlation token lookup is the replay defense: only a callback
// carrying a token that is still indexed can complete a login.
func (e *Engine) completeSecondFactor(ctx context.Context, cb CallbackParams) *AuthOutcome {
	if cb.Error != "" {
		msg := cb.Error + ":" + cb.ErrorDescription
		e.debug(msg)
		e.metricInc(MetricCallbackRejected)
		e.emitAudit(ctx, auditEventCallbackRejected, false, "", ErrCallbackRejected, func() map[string]string {
			return map[string]string{
				"provider_error":             cb.Error,
				"provider_error_description": cb.ErrorDescription,
			}
		})
		return deny(msg)
	}

	if cb.State == "" {
		e.debug(MsgMissingState)
		e.metricInc(MetricCallbackRejected)
		e.emitAudit(ctx, auditEventCallbackRejected, false, "", ErrCallbackRejected, func() map[string]string {
			return map[string]string{"reason": "missing_state"}
		})
		return deny(MsgMissingState)
	}

	e.debug("Doing secondary auth")

	user, err := e.state.GetUserByState(ctx, cb.State)
	if err != nil {
		e.warn(err.Error())
	}
	if user == "" {
		e.debug(MsgNoSavedState)
		e.metricInc(MetricCallbackRejected)
		e.emitAudit(ctx, auditEventCallbackRejected, false, "", ErrCallbackRejected, func() map[string]string {
			return map[string]string{"reason": "unknown_state"}
		})
		return deny(MsgNoSavedState)
	}

	// The exchange must use the redirect URL of the initial request.
	redirectURL, err := e.state.GetRedirectURL(ctx, user)
	if err != nil {
		e.warn(err.Error())
	}
	e.duo.SetRedirectURL(redirectURL)

	if _, err := e.duo.ExchangeAuthorizationCode(ctx, cb.Code, user); err != nil {
		e.debug(err.Error())
		e.metricInc(MetricCallbackRejected)
		e.emitAudit(ctx, auditEventCallbackRejected, false, user, ErrCallbackRejected, func() map[string]string {
			return map[string]string{"reason": "exchange_failed"}
		})
		return deny(MsgExchangeFailed)
	}

	e.debug("Completed secondary auth for " + user)
	if err := e.state.SetStatus(ctx, user, StatusAuthenticated, "", ""); err != nil {
		// The per-request gate re-enters the flow when the flag is missing,
		// so a failed write costs the user a second prompt, not access.
		e.warn(err.Error())
	}

	identity, err := e.directory.LookupUser(ctx, user)
	if err != nil || identity == nil {
		identity = &Identity{Username: user}
	}

	e.metricInc(MetricSecondFactorSuccess)
	e.emitAudit(ctx, auditEventSecondFactorSuccess, true, user, nil, nil)
	return allow(identity)
}

// primaryPhase verifies the first factor and, when the role requires it,
// hands off to the second factor.
func (e *Engine) primaryPhase(ctx context.Context, req AuthRequest) *AuthOutcome {
	user, err := e.directory.LookupUser(ctx, req.Username)
	if err != nil || user == nil {
		e.warn("failed to retrieve user " + req.Username)
		return abstain()
	}

	if !e.roleRequiresMFA(ctx, user) {
		e.debug("Skipping 2FA for user: " + req.Username)
		if err := e.state.SetStatus(ctx, user.Username, StatusAuthenticated, "", ""); err != nil {
			e.warn(err.Error())
		}
		e.metricInc(MetricRoleExempt)
		e.emitAudit(ctx, auditEventRoleExempt, true, user.Username, nil, nil)
		// Abstaining lets the host's own primary pipeline finish the login.
		return abstain()
	}

	e.debug("Doing primary authentication")
	verified, verr := e.primary.VerifyUsernamePassword(ctx, req.Username, req.Password)
	if verr != nil || verified == nil {
		// Maybe we got an email.
		verified, verr = e.primary.VerifyEmailPassword(ctx, req.Username, req.Password)
	}
	if verr != nil || verified == nil {
		e.metricInc(MetricPrimaryAuthFailure)
		e.emitAudit(ctx, auditEventPrimaryFailure, false, req.Username, ErrPrimaryAuthFailed, nil)
		msg := "invalid credentials"
		if verr != nil {
			msg = verr.Error()
		}
		// The verifier's failure is returned unchanged and ends the chain.
		return deny(msg)
	}

	e.debug("Primary auth succeeded, starting second factor for " + req.Username)
	e.metricInc(MetricPrimaryAuthSuccess)
	e.emitAudit(ctx, auditEventPrimarySuccess, true, verified.Username, nil, nil)

	if err := e.state.SetStatus(ctx, verified.Username, StatusInProgress, "", ""); err != nil {
		e.warn(err.Error())
	}

	out, err := e.StartSecondFactor(ctx, verified, req.PageURL)
	if err != nil {
		e.debug(err.Error())
		return e.applyFailmode(ctx, verified, err)
	}
	return out
}

// StartSecondFactor begins the redirect leg of the flow: health check,
// fresh correlation token, durable in-progress state, session teardown,
// prompt URL. Any provider or storage error is returned for the caller to
// route through the fail-open/fail-closed policy.
//
// The side effects are strictly ordered: state is persisted before the
// provisional session is ended and before the redirect is produced, so a
// crash between steps cannot leave a session without recoverable state.
func (e *Engine) StartSecondFactor(ctx context.Context, user *Identity, pageURL string) (*AuthOutcome, error) {
	if err := e.duo.HealthCheck(ctx); err != nil {
		return nil, err
	}

	oidcState, err := e.duo.GenerateState()
	if err != nil {
		return nil, err
	}
	e.duo.SetRedirectURL(pageURL)

	if err := e.state.SetStatus(ctx, user.Username, StatusInProgress, pageURL, oidcState); err != nil {
		return nil, err
	}

	// End the provisional session established by primary auth; otherwise it
	// could be reused to skip the prompt.
	if err := e.sessions.Logout(ctx); err != nil {
		return nil, err
	}

	promptURL, err := e.duo.CreateAuthURL(user.Username, oidcState)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSecondFactorStarted)
	e.emitAudit(ctx, auditEventSecondFactorStarted, true, user.Username, nil, nil)
	return redirectTo(promptURL), nil
}

// applyFailmode resolves a failed second-factor start according to policy.
func (e *Engine) applyFailmode(ctx context.Context, user *Identity, cause error) *AuthOutcome {
	if e.config.Duo.Failmode == FailmodeOpen {
		e.warn("login succeeded but 2FA was not performed; confirm Duo client/secret/host values are correct")
		if err := e.state.SetStatus(ctx, user.Username, StatusAuthenticated, "", ""); err != nil {
			e.warn(err.Error())
		}
		e.metricInc(MetricFailOpen)
		e.emitAudit(ctx, auditEventFailOpen, true, user.Username, cause, nil)
		return allow(user)
	}

	e.ClearUserAuth(ctx, user.Username)
	e.metricInc(MetricFailClosed)
	e.emitAudit(ctx, auditEventFailClosed, false, user.Username, ErrSecondFactorUnavailable, nil)
	return deny(MsgSecondFactorUnavailable)
}

// roleRequiresMFA decides whether the identity must complete the second
// factor. Unresolvable roles fail closed: a user that appears to have no
// roles (a multisite login in transition, for example) always requires it.
func (e *Engine) roleRequiresMFA(ctx context.Context, user *Identity) bool {
	required, ok := e.effectiveMFARoles(ctx)
	if !ok {
		return true
	}

	roles := user.Roles
	if roles == nil {
		if resolved, err := e.directory.LookupUser(ctx, user.Username); err == nil && resolved != nil {
			roles = resolved.Roles
		}
	}
	if len(roles) == 0 {
		return true
	}

	for _, role := range roles {
		if _, require := required[role]; require {
			return true
		}
	}
	return false
}

// effectiveMFARoles returns the set of roles requiring the second factor.
// The second result is false when the set could not be resolved.
func (e *Engine) effectiveMFARoles(ctx context.Context) (map[string]struct{}, bool) {
	if e.config.Roles.RequireMFA != nil {
		return resolveMFARoles(e.config.Roles.RequireMFA, nil), true
	}

	known, err := e.directory.KnownRoles(ctx)
	if err != nil {
		e.warn("known roles lookup failed: " + err.Error())
		return nil, false
	}
	return resolveMFARoles(nil, known), true
}

// resolveMFARoles is the pure policy: an explicit list wins, a nil list
// means every known role requires the second factor.
func resolveMFARoles(configured, known []string) map[string]struct{} {
	src := configured
	if src == nil {
		src = known
	}

	set := make(map[string]struct{}, len(src))
	for _, role := range src {
		set[role] = struct{}{}
	}
	return set
}
