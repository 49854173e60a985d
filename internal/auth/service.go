package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekit.org/internal/audit"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/ratelimit"
)

// RatePolicy bounds one throttled action. Exact numbers are a configuration
// concern, not part of the core contract.
type RatePolicy struct {
	Max    int
	Window time.Duration
}

const (
	actionLogin         = "login"
	actionPasswordReset = "password_reset"
)

// minPasswordLen is the floor for new passwords set through ChangePassword.
const minPasswordLen = 8

// Service orchestrates the login, refresh and logout protocols on top of
// the token service, session manager and rate limiter.
type Service struct {
	store        Store
	tokens       *TokenService
	sessions     *SessionManager
	loginLimiter ratelimit.Limiter
	resetLimiter ratelimit.Limiter
	loginPolicy  RatePolicy
	resetPolicy  RatePolicy
	bcryptCost   int
	now          func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithLoginLimiter throttles login attempts per normalized email.
func WithLoginLimiter(lim ratelimit.Limiter, policy RatePolicy) ServiceOption {
	return func(s *Service) error {
		if policy.Max <= 0 || policy.Window <= 0 {
			return errors.New("auth: login rate policy must be positive")
		}
		s.loginLimiter = lim
		s.loginPolicy = policy
		return nil
	}
}

// WithResetLimiter throttles password-reset requests per normalized email.
func WithResetLimiter(lim ratelimit.Limiter, policy RatePolicy) ServiceOption {
	return func(s *Service) error {
		if policy.Max <= 0 || policy.Window <= 0 {
			return errors.New("auth: reset rate policy must be positive")
		}
		s.resetLimiter = lim
		s.resetPolicy = policy
		return nil
	}
}

// WithBcryptCost sets the adaptive hash cost used for new password hashes.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) error {
		if cost > 0 {
			s.bcryptCost = cost
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
			s.sessions.now = fn
		}
		return nil
	}
}

// NewService constructs the auth service. Session expiry tracks the refresh
// token TTL.
func NewService(store Store, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	svc := &Service{
		store:       store,
		tokens:      tokens,
		sessions:    NewSessionManager(store.Sessions(), tokens.RefreshTTL()),
		loginPolicy: RatePolicy{Max: 3, Window: time.Hour},
		resetPolicy: RatePolicy{Max: 3, Window: time.Hour},
		bcryptCost:  12,
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Tokens exposes the token service for bearer extraction at the transport
// layer.
func (s *Service) Tokens() *TokenService { return s.tokens }

// LoginInput carries everything the login protocol needs from the request.
type LoginInput struct {
	Email             string
	Password          string
	DeviceFingerprint string
	OriginAddress     string
}

// LoginResult is returned on successful login or refresh.
type LoginResult struct {
	Pair    TokenPair
	Account *Account
	Session *Session
}

// Login authenticates credentials and establishes a new session. Unknown
// email and wrong password produce the same error so the caller cannot
// enumerate accounts; the real reason lands in the audit trail only.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		obs.ObserveLogin("invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	if err := s.checkLimit(ctx, s.loginLimiter, s.loginPolicy, actionLogin, email); err != nil {
		obs.ObserveLogin("rate_limited")
		s.audit(ctx, "auth.login.rate_limited", "", "", "too many attempts", map[string]string{"email": email})
		return nil, err
	}

	account, err := s.store.Accounts().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveLogin("invalid_credentials")
			s.audit(ctx, "auth.login.failed", "", "", "unknown email", map[string]string{"email": email})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: account lookup: %w", err)
	}

	switch account.Status {
	case StatusActive:
	case StatusPending:
		obs.ObserveLogin("inactive")
		s.audit(ctx, "auth.login.failed", account.ID, account.TenantID, "email not verified", nil)
		return nil, ErrEmailNotVerified
	default:
		obs.ObserveLogin("inactive")
		s.audit(ctx, "auth.login.failed", account.ID, account.TenantID, "account "+string(account.Status), nil)
		return nil, ErrAccountInactive
	}

	if err := VerifyPassword(account.PasswordHash, in.Password); err != nil {
		obs.ObserveLogin("invalid_credentials")
		s.audit(ctx, "auth.login.failed", account.ID, account.TenantID, "wrong password", nil)
		return nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(account)
	if err != nil {
		return nil, fmt.Errorf("auth: issue credentials: %w", err)
	}

	sess, err := s.sessions.Create(ctx, account.ID, in.DeviceFingerprint, in.OriginAddress, pair.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("auth: create session: %w", err)
	}

	now := s.now().UTC()
	if err := s.store.Accounts().UpdateLastLogin(ctx, account.ID, now); err != nil {
		obs.Logger().Warn().Err(err).Str("account_id", account.ID).Msg("last-login update failed")
	}
	account.LastLoginAt = &now

	obs.ObserveLogin("success")
	s.audit(ctx, "auth.login.success", account.ID, account.TenantID, "", map[string]string{"session_id": sess.ID})
	return &LoginResult{Pair: pair, Account: account, Session: sess}, nil
}

// Refresh exchanges a refresh token for a new credential pair and rotates
// the session. A token that was already rotated away matches no session;
// that miss is the replay-detection signal and is audited as such.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		s.audit(ctx, "auth.refresh.failed", "", "", internalTokenReason(err), nil)
		return nil, ErrInvalidToken
	}

	account, err := s.store.Accounts().Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.audit(ctx, "auth.refresh.failed", claims.Subject, "", "account not found", nil)
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("auth: account lookup: %w", err)
	}
	if account.Status != StatusActive {
		s.audit(ctx, "auth.refresh.failed", account.ID, account.TenantID, "account "+string(account.Status), nil)
		return nil, ErrAccountInactive
	}

	sess, err := s.sessions.FindByRefreshToken(ctx, account.ID, refreshToken)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.audit(ctx, "auth.refresh.replay_detected", account.ID, account.TenantID, "token not bound to any session", nil)
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("auth: session lookup: %w", err)
	}

	if sess.Expired(s.now().UTC()) {
		if err := s.sessions.Revoke(ctx, sess.ID); err != nil {
			obs.Logger().Warn().Err(err).Str("session_id", sess.ID).Msg("expired session delete failed")
		}
		s.audit(ctx, "auth.refresh.failed", account.ID, account.TenantID, "session expired", map[string]string{"session_id": sess.ID})
		return nil, ErrInvalidToken
	}

	pair, err := s.tokens.IssuePair(account)
	if err != nil {
		return nil, fmt.Errorf("auth: issue credentials: %w", err)
	}

	if err := s.sessions.Rotate(ctx, sess.ID, refreshToken, pair.RefreshToken); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			// A concurrent rotation won; this attempt must fail cleanly.
			s.audit(ctx, "auth.refresh.replay_detected", account.ID, account.TenantID, "lost rotation race", map[string]string{"session_id": sess.ID})
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("auth: rotate session: %w", err)
	}
	sess.RefreshToken = pair.RefreshToken

	s.audit(ctx, "auth.refresh.success", account.ID, account.TenantID, "", map[string]string{"session_id": sess.ID})
	return &LoginResult{Pair: pair, Account: account, Session: sess}, nil
}

// Logout deletes the session bound to the presented refresh token. With no
// token there is nothing to delete; the call still succeeds. Store failures
// are logged, never surfaced — a "forget my session" action must not fail
// loudly.
func (s *Service) Logout(ctx context.Context, accountID, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	sess, err := s.sessions.FindByRefreshToken(ctx, accountID, refreshToken)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			obs.Logger().Warn().Err(err).Str("account_id", accountID).Msg("logout session lookup failed")
		}
		return nil
	}
	if err := s.sessions.Revoke(ctx, sess.ID); err != nil {
		obs.Logger().Warn().Err(err).Str("session_id", sess.ID).Msg("logout session delete failed")
		return nil
	}
	s.audit(ctx, "auth.logout", accountID, "", "", map[string]string{"session_id": sess.ID})
	return nil
}

// LogoutAll revokes every session for the account: logout-all, password
// reset and suspicious-activity response all funnel through here.
func (s *Service) LogoutAll(ctx context.Context, accountID string) error {
	if err := s.sessions.RevokeAll(ctx, accountID); err != nil {
		return fmt.Errorf("auth: revoke sessions: %w", err)
	}
	s.audit(ctx, "auth.logout_all", accountID, "", "", nil)
	return nil
}

// Authenticate verifies a bearer access token and returns the principal
// carried in its claims, gated on current account status. The permission
// set is the issuance-time snapshot from the token.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.tokens.VerifyAccess(token)
	if err != nil {
		obs.ObserveTokenVerification(internalTokenReason(err))
		return Principal{}, err
	}
	role := Role(claims.Role)
	if !role.Valid() {
		// A token minted under a role scheme this build no longer knows.
		obs.ObserveTokenVerification("malformed")
		return Principal{}, ErrTokenMalformed
	}
	obs.ObserveTokenVerification("ok")

	account, err := s.store.Accounts().Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrAccountNotFound
		}
		return Principal{}, fmt.Errorf("auth: account lookup: %w", err)
	}
	if account.Status != StatusActive {
		return Principal{}, ErrAccountInactive
	}

	return Principal{
		SubjectID:     claims.Subject,
		Email:         claims.Email,
		TenantID:      claims.TenantID,
		Role:          role,
		Permissions:   claims.Permissions,
		EmailVerified: claims.EmailVerified,
	}, nil
}

// ChangePassword verifies the current password and replaces the stored hash
// with one computed at the configured bcrypt cost. Every session is revoked
// afterwards: a credential change invalidates all outstanding refresh
// lineages.
func (s *Service) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}

	account, err := s.store.Accounts().Find(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("auth: account lookup: %w", err)
	}

	if err := VerifyPassword(account.PasswordHash, currentPassword); err != nil {
		s.audit(ctx, "auth.password_change.failed", account.ID, account.TenantID, "wrong password", nil)
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	if err := s.store.Accounts().UpdatePassword(ctx, account.ID, hash); err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}

	if err := s.sessions.RevokeAll(ctx, account.ID); err != nil {
		obs.Logger().Warn().Err(err).Str("account_id", account.ID).Msg("session revoke after password change failed")
	}
	s.audit(ctx, "auth.password_change.success", account.ID, account.TenantID, "", nil)
	return nil
}

// Sessions lists the account's sessions for "list/kill all sessions" UIs.
func (s *Service) Sessions(ctx context.Context, accountID string) ([]*Session, error) {
	return s.sessions.ListByAccount(ctx, accountID)
}

// RequestPasswordReset throttles reset requests per email over a sliding
// window. The response is identical whether or not the account exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	if err := s.checkLimit(ctx, s.resetLimiter, s.resetPolicy, actionPasswordReset, email); err != nil {
		s.audit(ctx, "auth.password_reset.rate_limited", "", "", "too many attempts", map[string]string{"email": email})
		return err
	}

	known := "false"
	if _, err := s.store.Accounts().FindByEmail(ctx, email); err == nil {
		known = "true"
	}
	s.audit(ctx, "auth.password_reset.requested", "", "", "", map[string]string{"email": email, "known_account": known})
	return nil
}

// ResetAttempts returns the timestamps of recent reset requests for the
// email, when the configured limiter keeps a log.
func (s *Service) ResetAttempts(ctx context.Context, email string) ([]time.Time, error) {
	inspector, ok := s.resetLimiter.(ratelimit.Inspector)
	if !ok {
		return nil, nil
	}
	return inspector.Attempts(ctx, actionPasswordReset+":"+NormalizeEmail(email), s.resetPolicy.Window)
}

// checkLimit consults the limiter. A limiter backend failure fails open:
// availability is prioritized over throttling precision, and the failure is
// logged, not surfaced.
func (s *Service) checkLimit(ctx context.Context, lim ratelimit.Limiter, policy RatePolicy, action, key string) error {
	if lim == nil {
		return nil
	}
	res, err := lim.CheckAndIncrement(ctx, action+":"+key, policy.Window, policy.Max)
	if err != nil {
		obs.Logger().Warn().Err(err).Str("action", action).Msg("rate limiter unavailable, failing open")
		return nil
	}
	if !res.Allowed {
		obs.ObserveRateLimited(action)
		return &RateLimitError{ResetAt: res.ResetAt}
	}
	return nil
}

// audit records the event in the structured log and, best-effort, in the
// persistent audit store.
func (s *Service) audit(ctx context.Context, action, accountID, tenantID, reason string, meta map[string]string) {
	fields := map[string]any{}
	for k, v := range meta {
		fields[k] = v
	}
	if accountID != "" {
		fields["account_id"] = accountID
	}
	if reason != "" {
		fields["reason"] = reason
	}
	_ = audit.LogEvent(ctx, action, fields)

	entry := &AuditEntry{
		OccurredAt:     s.now().UTC(),
		ActorAccountID: accountID,
		TenantID:       tenantID,
		Action:         action,
		Reason:         reason,
		Metadata:       meta,
		RequestID:      audit.RequestIDFromContext(ctx),
	}
	if err := s.store.Audit().Append(ctx, entry); err != nil {
		obs.Logger().Warn().Err(err).Str("action", action).Msg("audit append failed")
	}
}

// NormalizeEmail case-folds and trims an email address; the store keys
// accounts on this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func internalTokenReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenSignature):
		return "signature"
	default:
		return "malformed"
	}
}
