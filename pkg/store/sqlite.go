package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	log  logrus.FieldLogger
	path string
	db   *sql.DB
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(log logrus.FieldLogger, path string) Store {
	return &SQLiteStore{
		log:  log.WithField("component", "store"),
		path: path,
	}
}

// Start opens the database connection.
func (s *SQLiteStore) Start(ctx context.Context) error {
	s.log.WithField("path", s.path).Info("Opening SQLite database")

	db, err := sql.Open("sqlite3", s.path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	// Test connection.
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return fmt.Errorf("pinging database: %w", err)
	}

	s.db = db

	return nil
}

// Stop closes the database connection.
func (s *SQLiteStore) Stop() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not started")
	}

	return s.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.log.Info("Running database migrations")

	migrations := []string{
		// Users table.
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT,
			role TEXT NOT NULL DEFAULT 'readonly',
			auth_provider TEXT NOT NULL,
			github_id TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_github_id ON users(github_id)`,
		// Sessions table.
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token_hash TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token_hash)`,
		// OAuth states table.
		`CREATE TABLE IF NOT EXISTS oauth_states (
			state TEXT PRIMARY KEY,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		// Audit log table.
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			actor TEXT,
			details TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_type, entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}

	return nil
}

// ============================================================================
// Users
// ============================================================================

// CreateUser creates a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, user.ID, user.Username, user.PasswordHash, user.Role, user.AuthProvider,
		user.GitHubID, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		return nil, fmt.Errorf("querying user by username: %w", err)
	}

	return user, nil
}

// GetUserByGitHubID retrieves a user by GitHub ID.
func (s *SQLiteStore) GetUserByGitHubID(ctx context.Context, githubID string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`, githubID))
	if err != nil {
		return nil, fmt.Errorf("querying user by github_id: %w", err)
	}

	return user, nil
}

// UpdateUser updates an existing user.
func (s *SQLiteStore) UpdateUser(ctx context.Context, user *User) error {
	user.UpdatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET username = ?, password_hash = ?, role = ?, github_id = ?, updated_at = ?
		WHERE id = ?
	`, user.Username, user.PasswordHash, user.Role, user.GitHubID, user.UpdatedAt, user.ID)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}

	return nil
}

// ============================================================================
// Sessions
// ============================================================================

// CreateSession creates a new session. SQLite compares timestamps as text,
// so expiry times are written in UTC.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, session.ID, session.UserID, session.TokenHash, session.ExpiresAt.UTC(), session.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	return nil
}

// GetSessionByToken retrieves a session by token hash.
func (s *SQLiteStore) GetSessionByToken(ctx context.Context, tokenHash string) (*Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM sessions WHERE token_hash = ?
	`, tokenHash))
	if err != nil {
		return nil, fmt.Errorf("querying session by token: %w", err)
	}

	return session, nil
}

// DeleteSession deletes a session by ID.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}

// DeleteExpiredSessions deletes all expired sessions.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, time.Now().UTC()); err != nil {
		return fmt.Errorf("deleting expired sessions: %w", err)
	}

	return nil
}

// ============================================================================
// OAuth states
// ============================================================================

// CreateOAuthState stores a new OAuth state.
func (s *SQLiteStore) CreateOAuthState(ctx context.Context, state *OAuthState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_states (state, expires_at, created_at) VALUES (?, ?, ?)
	`, state.State, state.ExpiresAt.UTC(), state.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting oauth_state: %w", err)
	}

	return nil
}

// GetOAuthState retrieves an OAuth state.
func (s *SQLiteStore) GetOAuthState(ctx context.Context, state string) (*OAuthState, error) {
	st, err := scanOAuthState(s.db.QueryRowContext(ctx,
		`SELECT state, expires_at, created_at FROM oauth_states WHERE state = ?`, state))
	if err != nil {
		return nil, fmt.Errorf("querying oauth_state: %w", err)
	}

	return st, nil
}

// DeleteOAuthState deletes an OAuth state.
func (s *SQLiteStore) DeleteOAuthState(ctx context.Context, state string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE state = ?`, state); err != nil {
		return fmt.Errorf("deleting oauth_state: %w", err)
	}

	return nil
}

// DeleteExpiredOAuthStates deletes all expired OAuth states.
func (s *SQLiteStore) DeleteExpiredOAuthStates(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at < ?`, time.Now().UTC()); err != nil {
		return fmt.Errorf("deleting expired oauth_states: %w", err)
	}

	return nil
}

// ============================================================================
// Audit
// ============================================================================

// CreateAuditEntry creates a new audit log entry.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, entity_type, entity_id, actor, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Action, entry.EntityType, entry.EntityID, entry.Actor, entry.Details, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting audit_entry: %w", err)
	}

	return nil
}

// ListAuditEntries retrieves audit entries with filtering and pagination.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, opts AuditQueryOpts) ([]*AuditEntry, int, error) {
	where, args := auditFilter(opts, questionMark)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting audit entries: %w", err)
	}

	query := auditPage(`SELECT id, action, entity_type, entity_id, actor, details, created_at FROM audit_log`+where, opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying audit entries: %w", err)
	}

	entries, err := scanAuditEntries(rows)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
