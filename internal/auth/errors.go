package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")

	// ErrInvalidToken covers every token verification failure. The specific
	// kind below is kept for telemetry and audit only; callers at the HTTP
	// boundary collapse all of them into one generic message.
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrTokenExpired   = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrTokenMalformed = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrTokenSignature = fmt.Errorf("%w: signature mismatch", ErrInvalidToken)

	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountNotFound    = errors.New("auth: account not found")
	ErrAccountInactive    = errors.New("auth: account is not active")
	ErrEmailNotVerified   = errors.New("auth: email not verified")
	ErrSessionNotFound    = errors.New("auth: session not found")
	ErrRateLimited        = errors.New("auth: rate limit exceeded")
)

// RateLimitError carries the window reset time so the transport layer can
// emit a Retry-After header. It matches ErrRateLimited under errors.Is.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string { return ErrRateLimited.Error() }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
