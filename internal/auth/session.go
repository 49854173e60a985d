package auth

import (
	"context"
	"crypto/subtle"
	"time"
	"unicode/utf8"

	"gatekit.org/internal/ids"
	"gatekit.org/internal/obs"
)

// maxFingerprintLen bounds the stored device fingerprint (truncated
// user-agent).
const maxFingerprintLen = 120

// SessionManager binds refresh credentials to recoverable, revocable,
// queryable records. Multi-device login is intentional: no uniqueness
// constraint exists across an account's sessions.
type SessionManager struct {
	sessions SessionStore
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionManager constructs a SessionManager whose sessions expire ttl
// after creation.
func NewSessionManager(store SessionStore, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	return &SessionManager{sessions: store, ttl: ttl, now: time.Now}
}

// Create writes a new session record bound to the given refresh token.
func (m *SessionManager) Create(ctx context.Context, accountID, fingerprint, origin, refreshToken string) (*Session, error) {
	fingerprint = truncateFingerprint(fingerprint)
	now := m.now().UTC()
	sess := &Session{
		ID:                ids.New(),
		AccountID:         accountID,
		DeviceFingerprint: fingerprint,
		OriginAddress:     origin,
		RefreshToken:      refreshToken,
		CreatedAt:         now,
		LastUsedAt:        now,
		ExpiresAt:         now.Add(m.ttl),
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// FindByRefreshToken scans the account's sessions for one currently bound
// to the presented token. O(sessions-per-account); bounded by device count.
func (m *SessionManager) FindByRefreshToken(ctx context.Context, accountID, refreshToken string) (*Session, error) {
	sessions, err := m.sessions.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if subtle.ConstantTimeCompare([]byte(sess.RefreshToken), []byte(refreshToken)) == 1 {
			return sess, nil
		}
	}
	return nil, ErrSessionNotFound
}

// Rotate replaces the session's refresh token, conditioned on oldToken still
// being the bound value. This is the replay-resistance boundary: a token
// rotated away is invalid even if resubmitted, and of two concurrent
// rotations only one wins while the loser gets ErrSessionNotFound.
func (m *SessionManager) Rotate(ctx context.Context, sessionID, oldToken, newToken string) error {
	return m.sessions.UpdateRefreshToken(ctx, sessionID, oldToken, newToken, m.now().UTC())
}

// Revoke deletes a single session, invalidating its refresh token.
func (m *SessionManager) Revoke(ctx context.Context, sessionID string) error {
	return m.sessions.Delete(ctx, sessionID)
}

// RevokeAll deletes every session for the account. Individual failures are
// logged and do not abort the remaining deletions.
func (m *SessionManager) RevokeAll(ctx context.Context, accountID string) error {
	sessions, err := m.sessions.ListByAccount(ctx, accountID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := m.sessions.Delete(ctx, sess.ID); err != nil {
			obs.Logger().Warn().Err(err).
				Str("session_id", sess.ID).
				Str("account_id", accountID).
				Msg("session delete failed during bulk revoke")
		}
	}
	return nil
}

// ListByAccount returns every session for the account.
func (m *SessionManager) ListByAccount(ctx context.Context, accountID string) ([]*Session, error) {
	return m.sessions.ListByAccount(ctx, accountID)
}

// truncateFingerprint caps the fingerprint at maxFingerprintLen bytes
// without cutting through a multi-byte rune; the stored value must stay
// valid UTF-8.
func truncateFingerprint(fingerprint string) string {
	if len(fingerprint) <= maxFingerprintLen {
		return fingerprint
	}
	cut := maxFingerprintLen
	for cut > 0 && !utf8.RuneStart(fingerprint[cut]) {
		cut--
	}
	return fingerprint[:cut]
}

// Expired reports whether the session has passed its expiry at the given
// time.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
