package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func newSessionManager(t *testing.T) (*SessionManager, *MemStore) {
	t.Helper()
	store := NewMemStore()
	return NewSessionManager(store.Sessions(), time.Hour), store
}

func TestSessionCreateTruncatesFingerprint(t *testing.T) {
	m, _ := newSessionManager(t)

	long := strings.Repeat("x", maxFingerprintLen+50)
	sess, err := m.Create(context.Background(), "acct-1", long, "203.0.113.7", "tok-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(sess.DeviceFingerprint) != maxFingerprintLen {
		t.Errorf("fingerprint length = %d, want %d", len(sess.DeviceFingerprint), maxFingerprintLen)
	}
	if sess.ID == "" {
		t.Error("expected a generated session id")
	}
	if !sess.ExpiresAt.After(sess.CreatedAt) {
		t.Error("expiry must be after creation")
	}
}

func TestSessionCreateFingerprintStaysValidUTF8(t *testing.T) {
	m, _ := newSessionManager(t)

	// 2-byte runes arranged so a byte-wise cut at maxFingerprintLen would
	// land mid-rune.
	long := "x" + strings.Repeat("é", maxFingerprintLen)
	sess, err := m.Create(context.Background(), "acct-1", long, "203.0.113.7", "tok-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(sess.DeviceFingerprint) > maxFingerprintLen {
		t.Errorf("fingerprint length = %d, want <= %d", len(sess.DeviceFingerprint), maxFingerprintLen)
	}
	if !utf8.ValidString(sess.DeviceFingerprint) {
		t.Error("truncated fingerprint is not valid UTF-8")
	}
}

func TestFindByRefreshToken(t *testing.T) {
	m, _ := newSessionManager(t)
	ctx := context.Background()

	first, err := m.Create(ctx, "acct-1", "laptop", "203.0.113.7", "tok-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(ctx, "acct-1", "phone", "203.0.113.8", "tok-2"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	found, err := m.FindByRefreshToken(ctx, "acct-1", "tok-1")
	if err != nil {
		t.Fatalf("FindByRefreshToken: %v", err)
	}
	if found.ID != first.ID {
		t.Errorf("found session %q, want %q", found.ID, first.ID)
	}

	if _, err := m.FindByRefreshToken(ctx, "acct-1", "tok-unknown"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown token: %v, want ErrSessionNotFound", err)
	}
	// Another account's token is invisible.
	if _, err := m.FindByRefreshToken(ctx, "acct-2", "tok-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("wrong account: %v, want ErrSessionNotFound", err)
	}
}

func TestRotateIsConditionalOnOldToken(t *testing.T) {
	m, _ := newSessionManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, "acct-1", "laptop", "203.0.113.7", "tok-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Rotate(ctx, sess.ID, "tok-1", "tok-2"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	// The old token no longer matches; a second rotation with it must fail.
	if err := m.Rotate(ctx, sess.ID, "tok-1", "tok-3"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("stale rotation: %v, want ErrSessionNotFound", err)
	}
	if err := m.Rotate(ctx, sess.ID, "tok-2", "tok-3"); err != nil {
		t.Fatalf("current rotation: %v", err)
	}
}

func TestRevokeAllDeletesEverySession(t *testing.T) {
	m, _ := newSessionManager(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := m.Create(ctx, "acct-1", "dev", "203.0.113.7", "tok"); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := m.Create(ctx, "acct-2", "dev", "203.0.113.9", "other"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.RevokeAll(ctx, "acct-1"); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}

	mine, err := m.ListByAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ListByAccount: %v", err)
	}
	if len(mine) != 0 {
		t.Errorf("sessions after RevokeAll = %d, want 0", len(mine))
	}
	theirs, err := m.ListByAccount(ctx, "acct-2")
	if err != nil {
		t.Fatalf("ListByAccount: %v", err)
	}
	if len(theirs) != 1 {
		t.Errorf("other account's sessions = %d, want 1", len(theirs))
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	sess := &Session{ExpiresAt: now}
	if sess.Expired(now) {
		t.Error("session at exact expiry is not yet expired")
	}
	if !sess.Expired(now.Add(time.Second)) {
		t.Error("session past expiry must report expired")
	}
	if sess.Expired(now.Add(-time.Second)) {
		t.Error("session before expiry must not report expired")
	}
}
