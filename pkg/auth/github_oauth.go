package auth

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethpandaops/jenkdash/pkg/config"
	"github.com/ethpandaops/jenkdash/pkg/store"
	"github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

// GitHubUser is the part of a GitHub profile used for role mapping.
type GitHubUser struct {
	ID    string
	Login string
	Orgs  []string
}

type githubProvider struct {
	oauth    *oauth2.Config
	apiBase  *url.URL
	orgRole  map[string]string
	userRole map[string]string
}

func newGitHubProvider(cfg config.GitHubAuthConfig) *githubProvider {
	return &githubProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     githuboauth.Endpoint,
			Scopes:       []string{"read:org"},
		},
		orgRole:  cfg.OrgRoleMapping,
		userRole: cfg.UserRoleMapping,
	}
}

func (p *githubProvider) authURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// identify exchanges code for a token and looks up the user. Organizations
// are only fetched when an org mapping exists.
func (p *githubProvider) identify(ctx context.Context, code string) (*GitHubUser, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging github code: %w", err)
	}

	client := github.NewClient(p.oauth.Client(ctx, token))
	if p.apiBase != nil {
		client.BaseURL = p.apiBase
	}

	ghUser, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("getting github user: %w", err)
	}

	identity := &GitHubUser{
		ID:    strconv.FormatInt(ghUser.GetID(), 10),
		Login: ghUser.GetLogin(),
	}

	if len(p.orgRole) == 0 {
		return identity, nil
	}

	opts := &github.ListOptions{PerPage: 100}

	for {
		orgs, resp, err := client.Organizations.List(ctx, "", opts)
		if err != nil {
			return nil, fmt.Errorf("getting github orgs: %w", err)
		}

		for _, org := range orgs {
			identity.Orgs = append(identity.Orgs, org.GetLogin())
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return identity, nil
}

// roleFor applies the user mapping first (case-insensitive), then the org
// mapping. A user in neither mapping is refused.
func (p *githubProvider) roleFor(u *GitHubUser) (store.Role, bool) {
	for login, role := range p.userRole {
		if strings.EqualFold(login, u.Login) {
			return store.Role(role), true
		}
	}

	for _, org := range u.Orgs {
		if role, ok := p.orgRole[org]; ok {
			return store.Role(role), true
		}
	}

	return "", false
}
