package store

import (
	"context"
	"time"
)

// Store defines the interface for database operations.
type Store interface {
	// Lifecycle.
	Start(ctx context.Context) error
	Stop() error
	Ping(ctx context.Context) error

	// Users.
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByGitHubID(ctx context.Context, githubID string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error

	// Sessions.
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByToken(ctx context.Context, tokenHash string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context) error

	// OAuth states.
	CreateOAuthState(ctx context.Context, state *OAuthState) error
	GetOAuthState(ctx context.Context, state string) (*OAuthState, error)
	DeleteOAuthState(ctx context.Context, state string) error
	DeleteExpiredOAuthStates(ctx context.Context) error

	// Audit.
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, opts AuditQueryOpts) ([]*AuditEntry, int, error)

	// Migrations.
	Migrate(ctx context.Context) error
}

// AuthProvider represents the authentication provider for a user.
type AuthProvider string

const (
	AuthProviderBasic  AuthProvider = "basic"
	AuthProviderGitHub AuthProvider = "github"
)

// Role represents an operator's access level.
type Role string

const (
	RoleReadOnly Role = "readonly"
	RoleAdmin    Role = "admin"
)

// User represents an operator account.
type User struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	PasswordHash string       `json:"-"`
	Role         Role         `json:"role"`
	AuthProvider AuthProvider `json:"auth_provider"`
	GitHubID     string       `json:"github_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Session represents an active operator session.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// OAuthState is a single-use CSRF token for the GitHub login flow.
type OAuthState struct {
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	AuditActionJenkinsConnect    AuditAction = "jenkins_connect"
	AuditActionJenkinsDisconnect AuditAction = "jenkins_disconnect"
	AuditActionJobConfigUpdated  AuditAction = "job_config_updated"
	AuditActionUserLogin         AuditAction = "user_login"
	AuditActionUserLogout        AuditAction = "user_logout"
)

// AuditEntityType represents the type of entity being audited.
type AuditEntityType string

const (
	AuditEntityJenkins AuditEntityType = "jenkins"
	AuditEntityJob     AuditEntityType = "job"
	AuditEntityUser    AuditEntityType = "user"
)

// AuditEntry represents an audit log entry.
type AuditEntry struct {
	ID         string          `json:"id"`
	Action     AuditAction     `json:"action"`
	EntityType AuditEntityType `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Actor      string          `json:"actor"`
	Details    string          `json:"details"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditQueryOpts contains options for querying audit entries.
type AuditQueryOpts struct {
	EntityType *AuditEntityType
	EntityID   *string
	Action     *AuditAction
	Actor      *string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}
