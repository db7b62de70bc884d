package middleware

import (
	"net"
	"net/http"

	"github.com/loginshield/duoflow"
)

// LoginHandler drives duoflow.Engine.AuthenticateUser from a login
// endpoint. It reads the host login form fields ("log", "pwd") and the
// provider callback query parameters, and translates the outcome into an
// HTTP response.
type LoginHandler struct {
	Engine *duoflow.Engine

	// Success runs when the flow fully authenticates the user; the host
	// establishes its session here. When nil, the browser is sent to "/".
	Success func(w http.ResponseWriter, r *http.Request, id *duoflow.Identity)

	// Fallback handles abstain outcomes, typically by rendering the login
	// form or deferring to the host's own authentication. When nil an
	// abstain answers 401.
	Fallback http.Handler
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Engine == nil {
		http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
		return
	}

	ctx := duoflow.WithClientIP(r.Context(), remoteIP(r))
	req := duoflow.AuthRequest{
		Username: r.PostFormValue("log"),
		Password: r.PostFormValue("pwd"),
		Callback: CallbackParamsFromRequest(r),
		PageURL:  PageURL(r),
	}

	out, err := h.Engine.AuthenticateUser(ctx, req)
	if err != nil {
		http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
		return
	}

	switch out.Action {
	case duoflow.ActionRedirect:
		http.Redirect(w, r, out.RedirectURL, http.StatusFound)
	case duoflow.ActionDeny:
		http.Error(w, out.Message, http.StatusUnauthorized)
	case duoflow.ActionAllow:
		if h.Success != nil {
			h.Success(w, r, out.Identity)
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
	default:
		if h.Fallback != nil {
			h.Fallback.ServeHTTP(w, r)
			return
		}
		http.Error(w, "authentication required", http.StatusUnauthorized)
	}
}

// RequireSecondFactor gates every request behind Engine.VerifyAuth. A
// session that still owes the second factor is redirected to the prompt;
// a fail-closed denial answers 403; everything else passes through.
func RequireSecondFactor(engine *duoflow.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
				return
			}

			ctx := duoflow.WithClientIP(r.Context(), remoteIP(r))
			out, err := engine.VerifyAuth(ctx, PageURL(r))
			if err != nil {
				http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
				return
			}

			switch out.Action {
			case duoflow.ActionRedirect:
				http.Redirect(w, r, out.RedirectURL, http.StatusFound)
			case duoflow.ActionDeny:
				http.Error(w, out.Message, http.StatusForbidden)
			default:
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

// CallbackParamsFromRequest extracts the provider callback query
// parameters.
func CallbackParamsFromRequest(r *http.Request) duoflow.CallbackParams {
	query := r.URL.Query()
	return duoflow.CallbackParams{
		Code:             query.Get("duo_code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
