package auth

import "time"

// Role is the coarse access level assigned to an account.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleViewer Role = "viewer"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleViewer:
		return true
	}
	return false
}

// Status is the lifecycle state of an account. Transitions are
// one-directional except admin-initiated reactivation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusInactive  Status = "inactive"
)

// Account is the identity record. PasswordHash never crosses the store
// boundary in serialized form.
type Account struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	Role          Role       `json:"role"`
	Status        Status     `json:"status"`
	TenantID      string     `json:"tenant_id"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Session binds one refresh credential lineage to one device/login instance.
// It is the unit of revocation: deleting it invalidates the bound refresh
// token immediately.
type Session struct {
	ID                string    `json:"id"`
	AccountID         string    `json:"account_id"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	OriginAddress     string    `json:"origin_address"`
	RefreshToken      string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	LastUsedAt        time.Time `json:"last_used_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// Principal is the verified identity attached to a request after successful
// authentication. Permissions are a snapshot taken at token issuance.
type Principal struct {
	SubjectID     string   `json:"subject_id"`
	Email         string   `json:"email"`
	TenantID      string   `json:"tenant_id"`
	Role          Role     `json:"role"`
	Permissions   []string `json:"permissions"`
	EmailVerified bool     `json:"email_verified"`
}

// HasPermission reports whether the snapshot includes the given key.
func (p Principal) HasPermission(key string) bool {
	for _, perm := range p.Permissions {
		if perm == key {
			return true
		}
	}
	return false
}

// TokenPair carries freshly issued credentials. ExpiresIn is the access
// token lifetime in seconds.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AuditEntry is an append-only record of an authentication/session event.
type AuditEntry struct {
	ID             string
	OccurredAt     time.Time
	ActorAccountID string
	TenantID       string
	Action         string
	Reason         string
	Metadata       map[string]string
	RequestID      string
}
