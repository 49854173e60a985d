package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"gatekit.org/internal/ids"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store used in tests and single-process local
// runs. All operations are atomic at single-key granularity, matching the
// guarantees the Postgres store provides.
type MemStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	byEmail  map[string]string
	sessions map[string]*Session
	audits   []*AuditEntry
}

func NewMemStore() *MemStore {
	return &MemStore{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
		sessions: make(map[string]*Session),
	}
}

func (s *MemStore) Accounts() AccountStore { return (*memAccounts)(s) }
func (s *MemStore) Sessions() SessionStore { return (*memSessions)(s) }
func (s *MemStore) Audit() AuditStore      { return (*memAudit)(s) }

// AuditEntries returns a snapshot of appended audit entries.
func (s *MemStore) AuditEntries() []*AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*AuditEntry, len(s.audits))
	copy(out, s.audits)
	return out
}

// PutSession force-writes a session record, bypassing Create defaults.
func (s *MemStore) PutSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
}

type memAccounts MemStore

func (s *memAccounts) Create(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = ids.New()
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if _, ok := s.byEmail[a.Email]; ok {
		return ErrConflict
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	s.accounts[a.ID] = &cp
	s.byEmail[a.Email] = a.ID
	return nil
}

func (s *memAccounts) Find(ctx context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.accounts[id]
	return &cp, nil
}

func (s *memAccounts) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	a.LastLoginAt = &t
	a.UpdatedAt = at
	return nil
}

func (s *memAccounts) UpdateStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memAccounts) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = passwordHash
	a.UpdatedAt = time.Now().UTC()
	return nil
}

type memSessions MemStore

func (s *memSessions) Create(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memSessions) Find(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessions) ListByAccount(ctx context.Context, accountID string) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.AccountID == accountID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memSessions) UpdateRefreshToken(ctx context.Context, sessionID, oldToken, newToken string, lastUsedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.RefreshToken != oldToken {
		return ErrSessionNotFound
	}
	sess.RefreshToken = newToken
	sess.LastUsedAt = lastUsedAt
	return nil
}

func (s *memSessions) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

type memAudit MemStore

func (s *memAudit) Append(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	cp := *entry
	s.audits = append(s.audits, &cp)
	return nil
}
