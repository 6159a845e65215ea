package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/jenkdash/pkg/config"
	"github.com/ethpandaops/jenkdash/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st := store.NewSQLiteStore(testLogger(), filepath.Join(t.TempDir(), "auth.db"))
	ctx := context.Background()

	if err := st.Start(ctx); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	t.Cleanup(func() { _ = st.Stop() })

	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate error = %v", err)
	}

	return st
}

func basicConfig() config.AuthConfig {
	return config.AuthConfig{
		SessionTTL: time.Hour,
		Basic: config.BasicAuthConfig{
			Enabled: true,
			Users: []config.UserAuth{
				{Username: "admin", Password: "s3cret", Role: "admin"},
				{Username: "viewer", Password: "look", Role: "readonly"},
			},
		},
	}
}

func TestBasicLoginLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testLogger(), basicConfig(), newTestStore(t))

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	t.Cleanup(func() { _ = svc.Stop() })

	if _, _, err := svc.AuthenticateBasic(ctx, "admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password error = %v, want ErrInvalidCredentials", err)
	}

	if _, _, err := svc.AuthenticateBasic(ctx, "ghost", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user error = %v, want ErrInvalidCredentials", err)
	}

	user, token, err := svc.AuthenticateBasic(ctx, "admin", "s3cret")
	if err != nil {
		t.Fatalf("AuthenticateBasic error = %v", err)
	}

	if token == "" || !svc.IsAdmin(user) {
		t.Fatalf("user = %+v, token = %q", user, token)
	}

	got, err := svc.ValidateSession(ctx, token)
	if err != nil || got.Username != "admin" {
		t.Fatalf("ValidateSession = %+v, %v", got, err)
	}

	if err := svc.Logout(ctx, token); err != nil {
		t.Fatalf("Logout error = %v", err)
	}

	if _, err := svc.ValidateSession(ctx, token); err == nil {
		t.Fatalf("session still valid after logout")
	}

	if err := svc.Logout(ctx, token); err != nil {
		t.Fatalf("second Logout error = %v", err)
	}
}

func TestBasicUsersResyncOnRestart(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	first := NewService(testLogger(), basicConfig(), st)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	_ = first.Stop()

	cfg := basicConfig()
	cfg.Basic.Users[1].Role = "admin"
	cfg.Basic.Users[1].Password = "new"

	second := NewService(testLogger(), cfg, st)
	if err := second.Start(ctx); err != nil {
		t.Fatalf("restart error = %v", err)
	}

	t.Cleanup(func() { _ = second.Stop() })

	user, _, err := second.AuthenticateBasic(ctx, "viewer", "new")
	if err != nil {
		t.Fatalf("AuthenticateBasic error = %v", err)
	}

	if user.Role != store.RoleAdmin {
		t.Fatalf("role = %s, want admin", user.Role)
	}
}

func TestBasicDisabled(t *testing.T) {
	svc := NewService(testLogger(), config.AuthConfig{SessionTTL: time.Hour}, newTestStore(t))

	if _, _, err := svc.AuthenticateBasic(context.Background(), "admin", "s3cret"); err == nil {
		t.Fatalf("expected error with basic auth disabled")
	}
}

func TestExpiredSessionRejected(t *testing.T) {
	ctx := context.Background()
	cfg := basicConfig()
	cfg.SessionTTL = -time.Minute

	svc := NewService(testLogger(), cfg, newTestStore(t))
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	t.Cleanup(func() { _ = svc.Stop() })

	_, token, err := svc.AuthenticateBasic(ctx, "viewer", "look")
	if err != nil {
		t.Fatalf("AuthenticateBasic error = %v", err)
	}

	if _, err := svc.ValidateSession(ctx, token); err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("ValidateSession error = %v, want expired", err)
	}
}

func TestOAuthStateSingleUse(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testLogger(), basicConfig(), newTestStore(t))

	state, err := svc.CreateOAuthState(ctx)
	if err != nil {
		t.Fatalf("CreateOAuthState error = %v", err)
	}

	if err := svc.ValidateOAuthState(ctx, state); err != nil {
		t.Fatalf("ValidateOAuthState error = %v", err)
	}

	if err := svc.ValidateOAuthState(ctx, state); err == nil {
		t.Fatalf("state accepted twice")
	}
}

func TestHasRole(t *testing.T) {
	svc := NewService(testLogger(), config.AuthConfig{}, nil)
	admin := &store.User{Role: store.RoleAdmin}
	viewer := &store.User{Role: store.RoleReadOnly}

	if !svc.HasRole(admin, store.RoleReadOnly) || !svc.HasRole(viewer, store.RoleReadOnly) {
		t.Fatalf("readonly check failed")
	}

	if svc.IsAdmin(viewer) || svc.HasRole(nil, store.RoleReadOnly) {
		t.Fatalf("viewer or nil granted too much")
	}
}

func TestRoleMapping(t *testing.T) {
	p := newGitHubProvider(config.GitHubAuthConfig{
		OrgRoleMapping:  map[string]string{"ethpandaops": "readonly"},
		UserRoleMapping: map[string]string{"Alice": "admin"},
	})

	tests := []struct {
		name string
		user GitHubUser
		want store.Role
		ok   bool
	}{
		{name: "user mapping is case-insensitive", user: GitHubUser{Login: "alice"}, want: store.RoleAdmin, ok: true},
		{name: "user mapping wins over org", user: GitHubUser{Login: "ALICE", Orgs: []string{"ethpandaops"}}, want: store.RoleAdmin, ok: true},
		{name: "org mapping", user: GitHubUser{Login: "bob", Orgs: []string{"other", "ethpandaops"}}, want: store.RoleReadOnly, ok: true},
		{name: "no mapping", user: GitHubUser{Login: "eve", Orgs: []string{"other"}}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.roleFor(&tt.user)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("roleFor = %q, %t, want %q, %t", got, ok, tt.want, tt.ok)
			}
		})
	}
}

// fakeGitHub serves the token endpoint and the two REST calls used at login.
func fakeGitHub(t *testing.T, login string, orgs []string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_test", "token_type": "bearer"})
	})
	mux.HandleFunc("/api/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_test" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"id": 4242, "login": login})
	})
	mux.HandleFunc("/api/user/orgs", func(w http.ResponseWriter, r *http.Request) {
		list := make([]map[string]string, 0, len(orgs))
		for _, o := range orgs {
			list = append(list, map[string]string{"login": o})
		}

		_ = json.NewEncoder(w).Encode(list)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func githubService(t *testing.T, srv *httptest.Server, st store.Store) Service {
	t.Helper()

	cfg := config.AuthConfig{
		SessionTTL: time.Hour,
		GitHub: config.GitHubAuthConfig{
			Enabled:        true,
			ClientID:       "id",
			ClientSecret:   "secret",
			OrgRoleMapping: map[string]string{"ethpandaops": "admin"},
		},
	}

	svc := NewService(testLogger(), cfg, st)

	apiBase, err := url.Parse(srv.URL + "/api/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	p := svc.(*service).github
	p.apiBase = apiBase
	p.oauth.Endpoint = oauth2.Endpoint{
		AuthURL:   srv.URL + "/login/oauth/authorize",
		TokenURL:  srv.URL + "/login/oauth/access_token",
		AuthStyle: oauth2.AuthStyleInParams,
	}

	return svc
}

func TestAuthenticateGitHub(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := githubService(t, fakeGitHub(t, "octo", []string{"ethpandaops"}), st)

	user, token, err := svc.AuthenticateGitHub(ctx, "code")
	if err != nil {
		t.Fatalf("AuthenticateGitHub error = %v", err)
	}

	if user.GitHubID != "4242" || user.Username != "octo" || user.Role != store.RoleAdmin || token == "" {
		t.Fatalf("user = %+v", user)
	}

	// A second login reuses the stored user.
	again, _, err := svc.AuthenticateGitHub(ctx, "code")
	if err != nil || again.ID != user.ID {
		t.Fatalf("second login = %+v, %v", again, err)
	}
}

func TestAuthenticateGitHubRejectsUnmapped(t *testing.T) {
	svc := githubService(t, fakeGitHub(t, "eve", []string{"elsewhere"}), newTestStore(t))

	if _, _, err := svc.AuthenticateGitHub(context.Background(), "code"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("error = %v, want ErrNotAuthorized", err)
	}
}

func TestGitHubAuthURL(t *testing.T) {
	svc := NewService(testLogger(), config.AuthConfig{GitHub: config.GitHubAuthConfig{
		Enabled: true, ClientID: "abc", RedirectURL: "https://dash/cb",
	}}, nil)

	got := svc.GetGitHubAuthURL("xyz")
	if !strings.HasPrefix(got, "https://github.com/login/oauth/authorize?") ||
		!strings.Contains(got, "client_id=abc") || !strings.Contains(got, "state=xyz") {
		t.Fatalf("auth url = %s", got)
	}

	if NewService(testLogger(), config.AuthConfig{}, nil).GetGitHubAuthURL("x") != "" {
		t.Fatalf("auth url without github should be empty")
	}
}
