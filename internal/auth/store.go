package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations the auth core requires. The
// concrete engine is an external collaborator; all operations are atomic at
// single-key granularity.
type Store interface {
	Accounts() AccountStore
	Sessions() SessionStore
	Audit() AuditStore
}

// AccountStore manages identity records.
type AccountStore interface {
	Create(ctx context.Context, account *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	// FindByEmail matches on the normalized (case-folded) email.
	FindByEmail(ctx context.Context, email string) (*Account, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// SessionStore manages persisted session records. ListByAccount reads a
// secondary index and may be briefly stale; Find and UpdateRefreshToken
// operate on the primary key path.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Session, error)
	// UpdateRefreshToken replaces the stored refresh token only if oldToken
	// is still the currently bound value. Returns ErrSessionNotFound when
	// the condition fails, so a losing concurrent rotation observes a clean
	// failure instead of silently succeeding.
	UpdateRefreshToken(ctx context.Context, sessionID, oldToken, newToken string, lastUsedAt time.Time) error
	Delete(ctx context.Context, sessionID string) error
}

// AuditStore appends immutable entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
}
