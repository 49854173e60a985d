package httpapi

import (
	"errors"
	"net/http"
	"time"

	"gatekit.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type tokensPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type accountSummary struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Role          auth.Role  `json:"role"`
	TenantID      string     `json:"tenant_id"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

type credentialsPayload struct {
	Tokens tokensPayload  `json:"tokens"`
	User   accountSummary `json:"user"`
}

func credentialsFrom(res *auth.LoginResult) credentialsPayload {
	return credentialsPayload{
		Tokens: tokensPayload{
			AccessToken:  res.Pair.AccessToken,
			RefreshToken: res.Pair.RefreshToken,
			ExpiresIn:    res.Pair.ExpiresIn,
		},
		User: accountSummary{
			ID:            res.Account.ID,
			Email:         res.Account.Email,
			Role:          res.Account.Role,
			TenantID:      res.Account.TenantID,
			EmailVerified: res.Account.EmailVerified,
			LastLoginAt:   res.Account.LastLoginAt,
		},
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeFailure(w, r, http.StatusBadRequest, codeValidation, "email and password are required")
		return
	}

	res, err := a.auth.Login(r.Context(), auth.LoginInput{
		Email:             req.Email,
		Password:          req.Password,
		DeviceFingerprint: r.UserAgent(),
		OriginAddress:     clientIP(r),
	})
	if err != nil {
		a.writeLoginError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, credentialsFrom(res))
}

func (a *API) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	var rle *auth.RateLimitError
	switch {
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", retryAfterSeconds(rle.ResetAt))
		writeFailure(w, r, http.StatusTooManyRequests, codeRateLimited, msgRateLimited)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgInvalidCredentials)
	case errors.Is(err, auth.ErrEmailNotVerified):
		writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgVerifyEmail)
	case errors.Is(err, auth.ErrAccountInactive):
		writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgAccountSuspended)
	default:
		writeFailure(w, r, http.StatusInternalServerError, codeInternal, msgInternal)
	}
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeFailure(w, r, http.StatusBadRequest, codeValidation, "refresh_token is required")
		return
	}

	res, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgInvalidToken)
		case errors.Is(err, auth.ErrAccountInactive):
			writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgAccountInactive)
		default:
			writeFailure(w, r, http.StatusInternalServerError, codeInternal, msgInternal)
		}
		return
	}
	writeSuccess(w, r, http.StatusOK, credentialsFrom(res))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgAuthRequired)
		return
	}

	// The body is optional: with no refresh token there is nothing to
	// delete server-side and the logout still succeeds.
	var req logoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeFailure(w, r, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
	}

	_ = a.auth.Logout(r.Context(), principal.SubjectID, req.RefreshToken)
	writeSuccess(w, r, http.StatusOK, map[string]any{"message": "Logged out"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgAuthRequired)
		return
	}
	if err := a.auth.LogoutAll(r.Context(), principal.SubjectID); err != nil {
		writeFailure(w, r, http.StatusInternalServerError, codeInternal, msgInternal)
		return
	}
	writeSuccess(w, r, http.StatusOK, map[string]any{"message": "All sessions revoked"})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgAuthRequired)
		return
	}
	sessions, err := a.auth.Sessions(r.Context(), principal.SubjectID)
	if err != nil {
		writeFailure(w, r, http.StatusInternalServerError, codeInternal, msgInternal)
		return
	}
	if sessions == nil {
		sessions = []*auth.Session{}
	}
	writeSuccess(w, r, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgAuthRequired)
		return
	}
	var req passwordChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeFailure(w, r, http.StatusBadRequest, codeValidation, "current_password and new_password are required")
		return
	}

	if err := a.auth.ChangePassword(r.Context(), principal.SubjectID, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeFailure(w, r, http.StatusUnauthorized, codeUnauthorized, msgInvalidCredentials)
		case errors.Is(err, auth.ErrInvalidInput):
			writeFailure(w, r, http.StatusBadRequest, codeValidation, "new password does not meet requirements")
		default:
			writeFailure(w, r, http.StatusInternalServerError, codeInternal, msgInternal)
		}
		return
	}
	// All sessions were revoked; the client must sign in again.
	writeSuccess(w, r, http.StatusOK, map[string]any{"message": "Password updated"})
}

func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if req.Email == "" {
		writeFailure(w, r, http.StatusBadRequest, codeValidation, "email is required")
		return
	}

	if err := a.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		var rle *auth.RateLimitError
		switch {
		case errors.As(err, &rle):
			w.Header().Set("Retry-After", retryAfterSeconds(rle.ResetAt))
			writeFailure(w, r, http.StatusTooManyRequests, codeRateLimited, msgRateLimited)
		case errors.Is(err, auth.ErrInvalidInput):
			writeFailure(w, r, http.StatusBadRequest, codeValidation, "email is required")
		default:
			writeFailure(w, r, http.StatusInternalServerError, codeInternal, msgInternal)
		}
		return
	}
	// Identical response whether or not the account exists.
	writeSuccess(w, r, http.StatusOK, map[string]any{
		"message": "If the account exists, reset instructions have been sent",
	})
}
