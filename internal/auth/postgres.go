package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"gatekit.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Accounts() AccountStore { return &accountStore{db: s.db} }
func (s *PGStore) Sessions() SessionStore { return &sessionStore{db: s.db} }
func (s *PGStore) Audit() AuditStore      { return &auditStore{db: s.db} }

// Account store ------------------------------------------------------------
type accountStore struct{ db *sql.DB }

const accountColumns = `id, email, password_hash, role, status, tenant_id, email_verified, last_login_at, created_at, updated_at`

func (s *accountStore) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	_, err := s.db.ExecContext(ctx,
		`insert into accounts(id, email, password_hash, role, status, tenant_id, email_verified)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.Email, a.PasswordHash, a.Role, a.Status, a.TenantID, a.EmailVerified,
	)
	return err
}

func (s *accountStore) Find(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id)
	return scanAccount(row)
}

func (s *accountStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=$1`, email)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*Account, error) {
	var (
		a         Account
		lastLogin sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.Status,
		&a.TenantID, &a.EmailVerified, &lastLogin, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLoginAt = &t
	}
	return &a, nil
}

func (s *accountStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update accounts set last_login_at=$1, updated_at=now() where id=$2`, at, id)
	return err
}

func (s *accountStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set status=$1, updated_at=now() where id=$2`, status, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *accountStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set password_hash=$1, updated_at=now() where id=$2`, passwordHash, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Session store ------------------------------------------------------------
type sessionStore struct{ db *sql.DB }

const sessionColumns = `id, account_id, device_fingerprint, origin_address, refresh_token, created_at, last_used_at, expires_at`

func (s *sessionStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, account_id, device_fingerprint, origin_address, refresh_token, last_used_at, expires_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		sess.ID, sess.AccountID, sess.DeviceFingerprint, sess.OriginAddress,
		sess.RefreshToken, sess.LastUsedAt, sess.ExpiresAt,
	)
	return err
}

func (s *sessionStore) Find(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id=$1`, id)
	var sess Session
	err := row.Scan(&sess.ID, &sess.AccountID, &sess.DeviceFingerprint, &sess.OriginAddress,
		&sess.RefreshToken, &sess.CreatedAt, &sess.LastUsedAt, &sess.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *sessionStore) ListByAccount(ctx context.Context, accountID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions where account_id=$1 order by created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.AccountID, &sess.DeviceFingerprint, &sess.OriginAddress,
			&sess.RefreshToken, &sess.CreatedAt, &sess.LastUsedAt, &sess.ExpiresAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

func (s *sessionStore) UpdateRefreshToken(ctx context.Context, sessionID, oldToken, newToken string, lastUsedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set refresh_token=$1, last_used_at=$2 where id=$3 and refresh_token=$4`,
		newToken, lastUsedAt, sessionID, oldToken,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *sessionStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where id=$1`, sessionID)
	return err
}

// Audit store --------------------------------------------------------------
type auditStore struct{ db *sql.DB }

func (s *auditStore) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	meta, _ := json.Marshal(entry.Metadata)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, occurred_at, actor_account_id, tenant_id, action, reason, metadata, request_id)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.ID, entry.OccurredAt, entry.ActorAccountID, entry.TenantID,
		entry.Action, entry.Reason, meta, entry.RequestID,
	)
	return err
}
