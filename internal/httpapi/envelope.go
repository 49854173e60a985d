package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"gatekit.org/internal/audit"
)

// Stable machine-readable error codes carried by every failure envelope.
const (
	codeValidation   = "VALIDATION_ERROR"
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "AUTHORIZATION_DENIED"
	codeRateLimited  = "RATE_LIMIT_EXCEEDED"
	codeInternal     = "INTERNAL_ERROR"
)

// The fixed message vocabulary. Token and account-state failures are
// deliberately collapsed so an external observer cannot distinguish them;
// the specific reason lives in logs and audit events only.
const (
	msgAuthRequired       = "Authentication required"
	msgInvalidToken       = "Invalid or expired authentication token"
	msgAccountNotFound    = "User account not found"
	msgAccountInactive    = "User account is not active"
	msgAuthError          = "Authentication error"
	msgAccessDenied       = "Access denied"
	msgResourceDenied     = "Access denied to resource"
	msgInvalidCredentials = "Invalid email or password"
	msgVerifyEmail        = "Please verify your email address before signing in"
	msgAccountSuspended   = "Account suspended"
	msgRateLimited        = "Too many attempts, please try again later"
	msgInternal           = "Internal server error"
)

type responseMeta struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *errorBody   `json:"error,omitempty"`
	Meta    responseMeta `json:"meta"`
}

func newMeta(r *http.Request) responseMeta {
	return responseMeta{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: audit.RequestIDFromContext(r.Context()),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, r *http.Request, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data, Meta: newMeta(r)})
}

func writeFailure(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, envelope{
		Success: false,
		Error:   &errorBody{Code: code, Message: msg},
		Meta:    newMeta(r),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeFailure(w, r, http.StatusMethodNotAllowed, codeValidation, "method not allowed")
}

// decodeJSON strictly decodes a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
