package duoflow

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventPrimarySuccess      = "primary_auth_success"
	auditEventPrimaryFailure      = "primary_auth_failure"
	auditEventRoleExempt          = "role_exempt"
	auditEventSecondFactorStarted = "second_factor_started"
	auditEventSecondFactorSuccess = "second_factor_success"
	auditEventCallbackRejected    = "callback_rejected"
	auditEventFailOpen            = "fail_open_used"
	auditEventFailClosed          = "fail_closed_denied"
	auditEventStateCleared        = "auth_state_cleared"
)

// AuditErrorCode is the normalized error tag carried on audit events.
type AuditErrorCode string

const (
	auditErrPrimaryAuthFailed AuditErrorCode = "invalid_credentials"
	auditErrCallbackRejected  AuditErrorCode = "callback_rejected"
	auditErrStateUnavailable  AuditErrorCode = "state_backend_unavailable"
	auditErrSecondFactor      AuditErrorCode = "second_factor_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	username string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Username:  username,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrPrimaryAuthFailed):
		return auditErrPrimaryAuthFailed
	case errors.Is(err, ErrCallbackRejected):
		return auditErrCallbackRejected
	case errors.Is(err, ErrStateUnavailable):
		return auditErrStateUnavailable
	case errors.Is(err, ErrSecondFactorUnavailable):
		return auditErrSecondFactor
	default:
		return auditErrInternal
	}
}
