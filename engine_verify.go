package duoflow

import "context"

// VerifyAuth is the stateless per-request gate, meant to run on every page
// load. It abstains when the second factor is disabled or no session is
// active; when the session's user requires the second factor and has not
// completed it, the flow is re-entered and the browser is redirected to
// the prompt.
func (e *Engine) VerifyAuth(ctx context.Context, pageURL string) (*AuthOutcome, error) {
	if e == nil || e.state == nil || e.duo == nil || e.directory == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	if !e.secondFactorEnabled(ctx) {
		e.debug("Duo not enabled, skip auth check")
		return abstain(), nil
	}

	user, err := e.sessions.CurrentUser(ctx)
	if err != nil {
		e.warn("current user lookup failed: " + err.Error())
		return abstain(), nil
	}
	if user == nil {
		return abstain(), nil
	}

	e.debug("Verifying auth state for user: " + user.Username)
	if e.roleRequiresMFA(ctx, user) {
		status, serr := e.state.GetStatus(ctx, user.Username)
		if serr != nil {
			// Fail-soft read: an unreachable store reads as "not started"
			// and the user is routed back through the flow.
			e.warn(serr.Error())
		}
		if status != StatusAuthenticated {
			e.debug("User not authenticated with Duo. Starting second factor for: " + user.Username)
			out, err := e.StartSecondFactor(ctx, user, pageURL)
			if err != nil {
				e.debug(err.Error())
				return e.applyFailmode(ctx, user, err), nil
			}
			return out, nil
		}
	}

	e.debug("User " + user.Username + " allowed")
	return allow(user), nil
}
