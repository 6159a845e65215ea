package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/jenkdash/pkg/config"
	"github.com/ethpandaops/jenkdash/pkg/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for any failed login, without saying
// which part was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrNotAuthorized is returned when a GitHub user matches no role mapping.
var ErrNotAuthorized = errors.New("user not authorized: not in any role mapping")

const (
	oauthStateTTL   = 5 * time.Minute
	cleanupInterval = time.Hour
)

// Service defines the interface for operator authentication.
type Service interface {
	Start(ctx context.Context) error
	Stop() error

	// Authentication.
	AuthenticateBasic(ctx context.Context, username, password string) (*store.User, string, error)
	AuthenticateGitHub(ctx context.Context, code string) (*store.User, string, error)
	ValidateSession(ctx context.Context, token string) (*store.User, error)
	Logout(ctx context.Context, token string) error

	// Authorization.
	HasRole(user *store.User, role store.Role) bool
	IsAdmin(user *store.User) bool

	// GitHub OAuth.
	GetGitHubAuthURL(state string) string
	CreateOAuthState(ctx context.Context) (string, error)
	ValidateOAuthState(ctx context.Context, state string) error
}

type service struct {
	log        logrus.FieldLogger
	cfg        config.AuthConfig
	store      store.Store
	sessionTTL time.Duration
	github     *githubProvider

	cancel context.CancelFunc
	done   chan struct{}
}

// Ensure service implements Service.
var _ Service = (*service)(nil)

// NewService creates a new auth service.
func NewService(log logrus.FieldLogger, cfg config.AuthConfig, st store.Store) Service {
	s := &service{
		log:        log.WithField("component", "auth"),
		cfg:        cfg,
		store:      st,
		sessionTTL: cfg.SessionTTL,
	}

	if cfg.GitHub.Enabled {
		s.github = newGitHubProvider(cfg.GitHub)
	}

	return s
}

// Start syncs configured users and launches the expiry sweeper.
func (s *service) Start(ctx context.Context) error {
	s.log.Info("Starting auth service")

	if s.cfg.Basic.Enabled {
		if err := s.syncBasicAuthUsers(ctx); err != nil {
			return fmt.Errorf("syncing basic auth users: %w", err)
		}
	}

	ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.done = make(chan struct{})

	go s.cleanupLoop(ctx)

	return nil
}

// Stop halts the sweeper.
func (s *service) Stop() error {
	s.log.Info("Stopping auth service")

	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	return nil
}

func (s *service) syncBasicAuthUsers(ctx context.Context) error {
	for _, uc := range s.cfg.Basic.Users {
		existing, err := s.store.GetUserByUsername(ctx, uc.Username)
		if err != nil {
			return fmt.Errorf("checking user %s: %w", uc.Username, err)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(uc.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing password for %s: %w", uc.Username, err)
		}

		role := store.Role(uc.Role)
		if role == "" {
			role = store.RoleReadOnly
		}

		now := time.Now()

		if existing == nil {
			user := &store.User{
				ID:           uuid.New().String(),
				Username:     uc.Username,
				PasswordHash: string(hash),
				Role:         role,
				AuthProvider: store.AuthProviderBasic,
				CreatedAt:    now,
				UpdatedAt:    now,
			}

			if err := s.store.CreateUser(ctx, user); err != nil {
				return fmt.Errorf("creating user %s: %w", uc.Username, err)
			}

			s.log.WithField("username", uc.Username).Info("Created basic auth user")

			continue
		}

		existing.PasswordHash = string(hash)
		existing.Role = role

		if err := s.store.UpdateUser(ctx, existing); err != nil {
			return fmt.Errorf("updating user %s: %w", uc.Username, err)
		}

		s.log.WithField("username", uc.Username).Debug("Updated basic auth user")
	}

	return nil
}

// AuthenticateBasic checks a username and password and opens a session.
func (s *service) AuthenticateBasic(ctx context.Context, username, password string) (*store.User, string, error) {
	if !s.cfg.Basic.Enabled {
		return nil, "", fmt.Errorf("basic auth is not enabled")
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, "", fmt.Errorf("getting user: %w", err)
	}

	if user == nil || user.AuthProvider != store.AuthProviderBasic {
		return nil, "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.createSession(ctx, user)
	if err != nil {
		return nil, "", err
	}

	s.log.WithField("username", username).Info("User authenticated via basic auth")

	return user, token, nil
}

// AuthenticateGitHub exchanges an OAuth code, maps the GitHub identity to a
// role and opens a session.
func (s *service) AuthenticateGitHub(ctx context.Context, code string) (*store.User, string, error) {
	if s.github == nil {
		return nil, "", fmt.Errorf("github auth is not enabled")
	}

	identity, err := s.github.identify(ctx, code)
	if err != nil {
		return nil, "", err
	}

	role, ok := s.github.roleFor(identity)
	if !ok {
		s.log.WithField("login", identity.Login).Warn("Rejected GitHub login")

		return nil, "", ErrNotAuthorized
	}

	user, err := s.store.GetUserByGitHubID(ctx, identity.ID)
	if err != nil {
		return nil, "", fmt.Errorf("getting user by github id: %w", err)
	}

	now := time.Now()

	if user == nil {
		user = &store.User{
			ID:           uuid.New().String(),
			Username:     identity.Login,
			Role:         role,
			AuthProvider: store.AuthProviderGitHub,
			GitHubID:     identity.ID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if err := s.store.CreateUser(ctx, user); err != nil {
			return nil, "", fmt.Errorf("creating user: %w", err)
		}

		s.log.WithField("username", user.Username).Info("Created GitHub user")
	} else {
		user.Role = role
		user.Username = identity.Login

		if err := s.store.UpdateUser(ctx, user); err != nil {
			return nil, "", fmt.Errorf("updating user: %w", err)
		}
	}

	token, err := s.createSession(ctx, user)
	if err != nil {
		return nil, "", err
	}

	s.log.WithField("username", user.Username).Info("User authenticated via GitHub")

	return user, token, nil
}

// ValidateSession resolves a session token to its user.
func (s *service) ValidateSession(ctx context.Context, token string) (*store.User, error) {
	session, err := s.store.GetSessionByToken(ctx, hashToken(token))
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}

	if session == nil {
		return nil, fmt.Errorf("session not found")
	}

	if time.Now().After(session.ExpiresAt) {
		_ = s.store.DeleteSession(ctx, session.ID)

		return nil, fmt.Errorf("session expired")
	}

	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}

// Logout deletes the session behind token. Unknown tokens are ignored.
func (s *service) Logout(ctx context.Context, token string) error {
	session, err := s.store.GetSessionByToken(ctx, hashToken(token))
	if err != nil {
		return fmt.Errorf("getting session: %w", err)
	}

	if session == nil {
		return nil
	}

	if err := s.store.DeleteSession(ctx, session.ID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}

// HasRole reports whether user holds role. Admins hold every role.
func (s *service) HasRole(user *store.User, role store.Role) bool {
	return hasRole(user, role)
}

// IsAdmin reports whether user is an admin.
func (s *service) IsAdmin(user *store.User) bool {
	return hasRole(user, store.RoleAdmin)
}

// GetGitHubAuthURL returns the GitHub authorization URL for state.
func (s *service) GetGitHubAuthURL(state string) string {
	if s.github == nil {
		return ""
	}

	return s.github.authURL(state)
}

// CreateOAuthState stores a fresh single-use state token.
func (s *service) CreateOAuthState(ctx context.Context) (string, error) {
	state, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}

	now := time.Now()

	if err := s.store.CreateOAuthState(ctx, &store.OAuthState{
		State:     state,
		ExpiresAt: now.Add(oauthStateTTL),
		CreatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("storing oauth state: %w", err)
	}

	return state, nil
}

// ValidateOAuthState consumes a state token. A state is accepted once.
func (s *service) ValidateOAuthState(ctx context.Context, state string) error {
	oauthState, err := s.store.GetOAuthState(ctx, state)
	if err != nil {
		return fmt.Errorf("getting oauth state: %w", err)
	}

	if oauthState == nil {
		return fmt.Errorf("invalid oauth state")
	}

	if err := s.store.DeleteOAuthState(ctx, state); err != nil {
		s.log.WithError(err).Error("Failed to delete oauth state")
	}

	if time.Now().After(oauthState.ExpiresAt) {
		return fmt.Errorf("oauth state expired")
	}

	return nil
}

func (s *service) createSession(ctx context.Context, user *store.User) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}

	now := time.Now()

	if err := s.store.CreateSession(ctx, &store.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(s.sessionTTL),
		CreatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	return token, nil
}

func (s *service) cleanupLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.DeleteExpiredSessions(ctx); err != nil {
				s.log.WithError(err).Error("Failed to cleanup expired sessions")
			}

			if err := s.store.DeleteExpiredOAuthStates(ctx); err != nil {
				s.log.WithError(err).Error("Failed to cleanup expired oauth states")
			}
		}
	}
}

func hasRole(user *store.User, role store.Role) bool {
	if user == nil {
		return false
	}

	return user.Role == store.RoleAdmin || user.Role == role
}

// generateToken returns 32 random bytes, URL-safe base64 encoded.
func generateToken() (string, error) {
	buf := make([]byte, 32)

	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(buf), nil
}

// hashToken is the at-rest form of a session token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])
}
