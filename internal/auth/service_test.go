package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gatekit.org/internal/ratelimit"
)

const testPassword = "correct horse battery staple"

type serviceFixture struct {
	svc     *Service
	store   *MemStore
	account *Account
}

func newServiceFixture(t *testing.T, opts ...ServiceOption) *serviceFixture {
	t.Helper()

	store := NewMemStore()
	tokens := newTestTokenService(t)

	svc, err := NewService(store, tokens, append([]ServiceOption{WithBcryptCost(bcrypt.MinCost)}, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	hash, err := HashPassword(testPassword, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	account := &Account{
		Email:         "alice@example.com",
		PasswordHash:  hash,
		Role:          RoleUser,
		Status:        StatusActive,
		TenantID:      "tenant-1",
		EmailVerified: true,
	}
	if err := store.Accounts().Create(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	return &serviceFixture{svc: svc, store: store, account: account}
}

func TestLoginSuccess(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	res, err := fx.svc.Login(ctx, LoginInput{
		Email:             "Alice@Example.COM ",
		Password:          testPassword,
		DeviceFingerprint: "test-agent/1.0",
		OriginAddress:     "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Session == nil || res.Session.AccountID != fx.account.ID {
		t.Fatal("expected a session bound to the account")
	}
	if res.Session.RefreshToken != res.Pair.RefreshToken {
		t.Error("session must be bound to the issued refresh token")
	}
	if res.Account.LastLoginAt == nil {
		t.Error("expected last login timestamp to be set")
	}

	if _, err := fx.svc.Tokens().VerifyAccess(res.Pair.AccessToken); err != nil {
		t.Errorf("issued access token does not verify: %v", err)
	}

	stored, err := fx.store.Accounts().Find(ctx, fx.account.ID)
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	if stored.LastLoginAt == nil {
		t.Error("last login not persisted")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	_, unknownErr := fx.svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: testPassword})
	_, wrongErr := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: "wrong password"})

	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("unknown email: %v, want ErrInvalidCredentials", unknownErr)
	}
	if !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v, want ErrInvalidCredentials", wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Errorf("error text differs: %q vs %q", unknownErr, wrongErr)
	}
}

func TestLoginStatusGates(t *testing.T) {
	tests := []struct {
		status Status
		want   error
	}{
		{StatusPending, ErrEmailNotVerified},
		{StatusSuspended, ErrAccountInactive},
		{StatusInactive, ErrAccountInactive},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			fx := newServiceFixture(t)
			ctx := context.Background()
			if err := fx.store.Accounts().UpdateStatus(ctx, fx.account.ID, tt.status); err != nil {
				t.Fatalf("update status: %v", err)
			}
			_, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: testPassword})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Login = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoginRateLimited(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter()
	fx := newServiceFixture(t,
		WithLoginLimiter(limiter, RatePolicy{Max: 3, Window: time.Hour}),
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v, want ErrInvalidCredentials", i+1, err)
		}
	}

	_, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: testPassword})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("fourth attempt: %v, want ErrRateLimited", err)
	}
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatal("expected *RateLimitError for Retry-After derivation")
	}
	if rle.ResetAt.IsZero() {
		t.Error("expected a reset time")
	}
}

func TestLoginFailsOpenWhenLimiterDown(t *testing.T) {
	fx := newServiceFixture(t,
		WithLoginLimiter(failingLimiter{}, RatePolicy{Max: 3, Window: time.Hour}),
	)
	_, err := fx.svc.Login(context.Background(), LoginInput{Email: fx.account.Email, Password: testPassword})
	if err != nil {
		t.Fatalf("Login with broken limiter: %v, want success (fail open)", err)
	}
}

type failingLimiter struct{}

func (failingLimiter) CheckAndIncrement(ctx context.Context, key string, window time.Duration, max int) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("backend unavailable")
}

func TestRefreshRotatesAndRejectsReplay(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	login, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	old := login.Pair.RefreshToken

	refreshed, err := fx.svc.Refresh(ctx, old)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.Pair.RefreshToken == old {
		t.Fatal("refresh must rotate the refresh token")
	}
	if refreshed.Session.ID != login.Session.ID {
		t.Errorf("rotation replaced the session: %q vs %q", refreshed.Session.ID, login.Session.ID)
	}

	// The rotated-away token must be dead.
	if _, err := fx.svc.Refresh(ctx, old); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("replayed token: %v, want ErrInvalidToken", err)
	}

	// The new token still works.
	if _, err := fx.svc.Refresh(ctx, refreshed.Pair.RefreshToken); err != nil {
		t.Fatalf("current token: %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	login, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fx.svc.Refresh(ctx, login.Pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInvalidToken):
			losses++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1 (losses = %d)", wins, losses)
	}
}

func TestRefreshExpiredSessionIsRevoked(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	login, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	expired := *login.Session
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	fx.store.PutSession(&expired)

	if _, err := fx.svc.Refresh(ctx, login.Pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Refresh = %v, want ErrInvalidToken", err)
	}
	if _, err := fx.store.Sessions().Find(ctx, login.Session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expired session should be deleted, Find = %v", err)
	}
}

func TestRefreshRejectsInactiveAccount(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	login, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := fx.store.Accounts().UpdateStatus(ctx, fx.account.ID, StatusSuspended); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if _, err := fx.svc.Refresh(ctx, login.Pair.RefreshToken); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("Refresh = %v, want ErrAccountInactive", err)
	}
}

func TestLogoutRevokesOnlyThatSession(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: testPassword, DeviceFingerprint: "laptop"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	second, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: testPassword, DeviceFingerprint: "phone"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := fx.svc.Logout(ctx, fx.account.ID, first.Pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := fx.svc.Refresh(ctx, first.Pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("revoked session token: %v, want ErrInvalidToken", err)
	}
	if _, err := fx.svc.Refresh(ctx, second.Pair.RefreshToken); err != nil {
		t.Fatalf("unrelated session token: %v", err)
	}
}

func TestLogoutWithoutTokenSucceeds(t *testing.T) {
	fx := newServiceFixture(t)
	if err := fx.svc.Logout(context.Background(), fx.account.ID, "  "); err != nil {
		t.Fatalf("Logout with empty token: %v", err)
	}
}

func TestLogoutAllThenRefreshFails(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		res, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: testPassword})
		if err != nil {
			t.Fatalf("Login %d: %v", i, err)
		}
		tokens = append(tokens, res.Pair.RefreshToken)
	}

	if err := fx.svc.LogoutAll(ctx, fx.account.ID); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}

	sessions, err := fx.svc.Sessions(ctx, fx.account.ID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions after LogoutAll = %d, want 0", len(sessions))
	}
	for i, token := range tokens {
		if _, err := fx.svc.Refresh(ctx, token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("token %d after LogoutAll: %v, want ErrInvalidToken", i, err)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	login, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	principal, err := fx.svc.Authenticate(ctx, login.Pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.SubjectID != fx.account.ID {
		t.Errorf("subject = %q, want %q", principal.SubjectID, fx.account.ID)
	}
	if principal.TenantID != fx.account.TenantID {
		t.Errorf("tenant = %q, want %q", principal.TenantID, fx.account.TenantID)
	}
	if principal.Role != RoleUser {
		t.Errorf("role = %q, want %q", principal.Role, RoleUser)
	}
	if !principal.HasPermission(PermDocumentsRead) {
		t.Error("expected the documents read permission in the snapshot")
	}

	if _, err := fx.svc.Authenticate(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token: %v, want ErrInvalidToken", err)
	}

	if err := fx.store.Accounts().UpdateStatus(ctx, fx.account.ID, StatusSuspended); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if _, err := fx.svc.Authenticate(ctx, login.Pair.AccessToken); !errors.Is(err, ErrAccountInactive) {
		t.Errorf("suspended account: %v, want ErrAccountInactive", err)
	}
}

func TestAuthenticateRejectsRefreshToken(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	login, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := fx.svc.Authenticate(ctx, login.Pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Authenticate(refresh token) = %v, want ErrInvalidToken", err)
	}
}

func TestRequestPasswordResetIdenticalForUnknownEmail(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter()
	fx := newServiceFixture(t,
		WithResetLimiter(limiter, RatePolicy{Max: 3, Window: time.Hour}),
	)
	ctx := context.Background()

	if err := fx.svc.RequestPasswordReset(ctx, fx.account.Email); err != nil {
		t.Fatalf("known account: %v", err)
	}
	if err := fx.svc.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("unknown account: %v", err)
	}

	if err := fx.svc.RequestPasswordReset(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty email: %v, want ErrInvalidInput", err)
	}
}

func TestRequestPasswordResetRateLimitAndInspection(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter()
	fx := newServiceFixture(t,
		WithResetLimiter(limiter, RatePolicy{Max: 2, Window: time.Hour}),
	)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := fx.svc.RequestPasswordReset(ctx, fx.account.Email); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if err := fx.svc.RequestPasswordReset(ctx, fx.account.Email); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third request: %v, want ErrRateLimited", err)
	}

	attempts, err := fx.svc.ResetAttempts(ctx, fx.account.Email)
	if err != nil {
		t.Fatalf("ResetAttempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
}

func TestChangePassword(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	login, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const newPassword = "a brand new passphrase"
	if err := fx.svc.ChangePassword(ctx, fx.account.ID, "wrong current", newPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current password: %v, want ErrInvalidCredentials", err)
	}
	if err := fx.svc.ChangePassword(ctx, fx.account.ID, testPassword, "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short new password: %v, want ErrInvalidInput", err)
	}

	if err := fx.svc.ChangePassword(ctx, fx.account.ID, testPassword, newPassword); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// The stored hash was produced at the service's configured cost.
	stored, err := fx.store.Accounts().Find(ctx, fx.account.ID)
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(stored.PasswordHash))
	if err != nil {
		t.Fatalf("bcrypt.Cost: %v", err)
	}
	if cost != bcrypt.MinCost {
		t.Errorf("hash cost = %d, want configured %d", cost, bcrypt.MinCost)
	}

	// Old credentials and old sessions are both dead.
	if _, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password after change: %v, want ErrInvalidCredentials", err)
	}
	if _, err := fx.svc.Refresh(ctx, login.Pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("pre-change refresh token: %v, want ErrInvalidToken", err)
	}
	if _, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: newPassword}); err != nil {
		t.Errorf("new password: %v", err)
	}
}

func TestChangePasswordUnknownAccount(t *testing.T) {
	fx := newServiceFixture(t)
	err := fx.svc.ChangePassword(context.Background(), "missing", testPassword, "a brand new passphrase")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("ChangePassword = %v, want ErrAccountNotFound", err)
	}
}

func TestAuthenticateRejectsUnknownRole(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	hash, err := HashPassword(testPassword, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	rogue := &Account{
		Email:         "root@example.com",
		PasswordHash:  hash,
		Role:          Role("superuser"),
		Status:        StatusActive,
		TenantID:      "tenant-1",
		EmailVerified: true,
	}
	if err := fx.store.Accounts().Create(ctx, rogue); err != nil {
		t.Fatalf("create account: %v", err)
	}

	login, err := fx.svc.Login(ctx, LoginInput{Email: rogue.Email, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := fx.svc.Authenticate(ctx, login.Pair.AccessToken); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("Authenticate = %v, want ErrTokenMalformed", err)
	}
}

func TestAuditTrailRecordsLoginOutcomes(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login: %v", err)
	}
	if _, err := fx.svc.Login(ctx, LoginInput{Email: fx.account.Email, Password: testPassword}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	var actions []string
	for _, entry := range fx.store.AuditEntries() {
		actions = append(actions, entry.Action)
	}
	want := []string{"auth.login.failed", "auth.login.success"}
	if len(actions) != len(want) {
		t.Fatalf("audit actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("audit actions = %v, want %v", actions, want)
		}
	}
}
