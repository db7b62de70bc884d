package duoflow

import "errors"

var (
	// ErrEngineNotReady is returned when an Engine method is called before
	// the required collaborators were supplied through the Builder.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrStateUnavailable wraps auth state backend failures.
	ErrStateUnavailable = errors.New("auth state backend unavailable")
	// ErrSecondFactorUnavailable is the cause recorded when second-factor
	// initiation fails and the fail-open/fail-closed policy is applied.
	ErrSecondFactorUnavailable = errors.New("second factor unavailable")
	// ErrCallbackRejected is the cause recorded when a provider callback is
	// refused (provider error, missing state, unknown state, or a failed
	// code exchange).
	ErrCallbackRejected = errors.New("callback rejected")
	// ErrPrimaryAuthFailed is the cause recorded when primary credential
	// verification fails.
	ErrPrimaryAuthFailed = errors.New("primary authentication failed")
)

// User-facing deny messages. The strings are part of the login-form
// contract and are kept stable.
const (
	// MsgMissingState is shown when the callback lacks the state parameter.
	MsgMissingState = "Missing state"
	// MsgNoSavedState is shown when the callback state is unknown, expired,
	// or replayed.
	MsgNoSavedState = "No saved state please login again"
	// MsgExchangeFailed is shown when the authorization code exchange fails.
	MsgExchangeFailed = "Error decoding Duo result. Confirm device clock is correct."
	// MsgSecondFactorUnavailable is shown under fail-closed when the second
	// factor cannot be started.
	MsgSecondFactorUnavailable = "2FA Unavailable. Confirm Duo client/secret/host values are correct"
)
