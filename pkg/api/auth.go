package api

import (
	"net/http"
	"strings"

	"github.com/ethpandaops/jenkdash/pkg/auth"
	"github.com/ethpandaops/jenkdash/pkg/store"
)

// LoginRequest is the request body for username/password login.
type LoginRequest struct {
	Username string `json:"username" example:"admin"`
	Password string `json:"password" example:"password123"`
}

// LoginResponse is the response for successful authentication.
type LoginResponse struct {
	Token string      `json:"token" example:"3q2-7w..."`
	User  *store.User `json:"user"`
}

// handleLogin godoc
//
//	@Summary		Login with username and password
//	@Description	Authenticates a configured basic auth user and returns a session token
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		LoginRequest	true	"Login credentials"
//	@Success		200		{object}	LoginResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		429		{object}	RateLimitErrorResponse	"Rate limit exceeded"
//	@Router			/auth/login [post]
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")

		return
	}

	if req.Username == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "Username and password are required")

		return
	}

	user, token, err := s.auth.AuthenticateBasic(r.Context(), req.Username, req.Password)
	if err != nil {
		s.log.WithError(err).WithField("username", req.Username).Warn("Login failed")
		s.writeError(w, http.StatusUnauthorized, "Invalid credentials")

		return
	}

	s.startSession(w, r, user, token)
	s.writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

// handleLogout godoc
//
//	@Summary		Logout
//	@Description	Invalidates the current session
//	@Tags			auth
//	@Security		BearerAuth
//	@Success		204	"Logged out successfully"
//	@Failure		401	{object}	ErrorResponse
//	@Router			/auth/logout [post]
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.ExtractToken(r); token != "" && s.cfg.Auth.Enabled() {
		if err := s.auth.Logout(r.Context(), token); err != nil {
			s.log.WithError(err).Warn("Logout error")
		}

		if user := auth.UserFromContext(r.Context()); user != nil {
			s.recordAudit(r, store.AuditActionUserLogout, store.AuditEntityUser, user.ID, "")
		}
	}

	s.setSessionCookie(w, r, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

// handleMe godoc
//
//	@Summary		Get current user
//	@Tags			auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	store.User
//	@Failure		401	{object}	ErrorResponse
//	@Router			/auth/me [get]
func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		s.writeError(w, http.StatusUnauthorized, "Not authenticated")

		return
	}

	s.writeJSON(w, http.StatusOK, user)
}

// handleGitHubAuth godoc
//
//	@Summary		GitHub OAuth initiation
//	@Description	Redirects to the GitHub authorization page
//	@Tags			auth
//	@Success		307	"Redirect to GitHub"
//	@Failure		404	{object}	ErrorResponse	"GitHub auth not enabled"
//	@Failure		429	{object}	RateLimitErrorResponse	"Rate limit exceeded"
//	@Router			/auth/github [get]
func (s *server) handleGitHubAuth(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Auth.GitHub.Enabled {
		s.writeError(w, http.StatusNotFound, "GitHub auth is not enabled")

		return
	}

	state, err := s.auth.CreateOAuthState(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to create OAuth state")
		s.writeError(w, http.StatusInternalServerError, "Failed to initiate OAuth flow")

		return
	}

	http.Redirect(w, r, s.auth.GetGitHubAuthURL(state), http.StatusTemporaryRedirect)
}

// handleGitHubCallback godoc
//
//	@Summary		GitHub OAuth callback
//	@Description	Completes the GitHub login, sets the session cookie and redirects to the dashboard
//	@Tags			auth
//	@Produce		json
//	@Param			code	query		string			true	"OAuth authorization code"
//	@Param			state	query		string			true	"OAuth state"
//	@Success		200		{object}	LoginResponse	"JSON response for API clients"
//	@Success		307		"Redirect for browser clients"
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse	"GitHub auth not enabled"
//	@Router			/auth/github/callback [get]
func (s *server) handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Auth.GitHub.Enabled {
		s.writeError(w, http.StatusNotFound, "GitHub auth is not enabled")

		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" || state == "" {
		s.writeError(w, http.StatusBadRequest, "Missing code or state parameter")

		return
	}

	if err := s.auth.ValidateOAuthState(r.Context(), state); err != nil {
		s.log.WithError(err).Warn("Invalid OAuth state")
		s.writeError(w, http.StatusBadRequest, "Invalid or expired state parameter")

		return
	}

	user, token, err := s.auth.AuthenticateGitHub(r.Context(), code)
	if err != nil {
		s.log.WithError(err).Warn("GitHub auth failed")
		s.writeError(w, http.StatusUnauthorized, "Authentication failed")

		return
	}

	s.startSession(w, r, user, token)

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		s.writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: user})

		return
	}

	// The dashboard is served from the same origin, so the cookie is enough.
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

func (s *server) startSession(w http.ResponseWriter, r *http.Request, user *store.User, token string) {
	s.setSessionCookie(w, r, token, int(s.cfg.Auth.SessionTTL.Seconds()))

	r = r.WithContext(auth.ContextWithUser(r.Context(), user))
	s.recordAudit(r, store.AuditActionUserLogin, store.AuditEntityUser, user.ID, string(user.AuthProvider))
}

func (s *server) setSessionCookie(w http.ResponseWriter, r *http.Request, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   isSecureRequest(r),
		MaxAge:   maxAge,
	})
}

// isSecureRequest reports whether the request arrived over HTTPS, directly
// or through a proxy.
func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
