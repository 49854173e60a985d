package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gatekit.org/internal/audit"
	"gatekit.org/internal/auth"
	"gatekit.org/internal/obs"
)

// storeTimeout bounds credential-store calls made on behalf of a single
// request. A timed-out lookup is an internal failure, never evidence of an
// invalid credential.
const storeTimeout = 5 * time.Second

// WrapWithAuth decorates a handler with the authentication state machine:
// extract bearer token, verify it, load the account, check its status,
// attach the verified principal. Failure at any stage short-circuits with a
// 401, except store failures which are a 500.
//
// Verification failures all collapse into one generic message; the internal
// kind (expired, malformed, signature mismatch) is only logged.
func WrapWithAuth(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgAuthRequired)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
			principal, err := svc.Authenticate(ctx, token)
			cancel()
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrInvalidToken):
					obs.Logger().Debug().Err(err).
						Str("request_id", audit.RequestIDFromContext(r.Context())).
						Msg("token verification failed")
					writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgInvalidToken)
				case errors.Is(err, auth.ErrAccountNotFound):
					writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgAccountNotFound)
				case errors.Is(err, auth.ErrAccountInactive):
					// Same status as token failures so an observer probing
					// the API cannot tell a bad token from a suspended
					// account.
					writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgAccountInactive)
				default:
					obs.Logger().Error().Err(err).
						Str("request_id", audit.RequestIDFromContext(r.Context())).
						Msg("authentication error")
					writeFailure(w, r, http.StatusInternalServerError, codeInternal, msgAuthError)
				}
				return
			}

			reqCtx := auth.ContextWithPrincipal(r.Context(), principal)
			reqCtx = audit.WithActor(reqCtx, principal.SubjectID)
			next.ServeHTTP(w, r.WithContext(reqCtx))
		})
	}
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return WrapWithAuth(a.auth)(next)
}
