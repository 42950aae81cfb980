// Package github implements the GitHub hosting platform on top of
// google/go-github.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"

	"github.com/shipyard-cli/shipyard/internal/host"
	"github.com/shipyard-cli/shipyard/internal/types"
)

const (
	// Name is the registry key and the persisted GIT_PLATFORM value.
	Name = "GITHUB"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	tokenURL = "https://github.com/settings/tokens"
)

func init() {
	host.Register(Name, func(opts host.Options) host.Client { return New(opts) })
}

// Client talks to the GitHub REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	api        *gh.Client
}

// New returns an unauthenticated client. Call Authenticate before use.
func New(opts host.Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	c := &Client{httpClient: httpClient}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		if u, err := url.Parse(base); err == nil {
			c.baseURL = u
		}
	}
	c.api = c.newAPI("")
	return c
}

func (c *Client) newAPI(token string) *gh.Client {
	api := gh.NewClient(c.httpClient)
	if token != "" {
		api = api.WithAuthToken(token)
	}
	if c.baseURL != nil {
		api.BaseURL = c.baseURL
	}
	return api
}

func (c *Client) Name() string        { return Name }
func (c *Client) DisplayName() string { return "GitHub" }

func (c *Client) Authenticate(token string) {
	c.api = c.newAPI(token)
}

func (c *Client) UserInfo(ctx context.Context) (*host.User, error) {
	u, resp, err := c.api.Users.Get(ctx, "")
	if err != nil {
		if isNotFound(resp) {
			return nil, nil
		}
		return nil, classify("get user", resp, err, true)
	}
	return &host.User{Login: u.GetLogin(), Name: u.GetName()}, nil
}

// OrgMemberships lists the organizations of the authenticated user. GitHub
// only reports private memberships for the token owner, so login is used
// for error context only.
func (c *Client) OrgMemberships(ctx context.Context, login string) ([]host.Org, error) {
	orgs := []host.Org{}
	opts := &gh.ListOptions{PerPage: 100}
	for {
		page, resp, err := c.api.Organizations.List(ctx, "", opts)
		if err != nil {
			return nil, classify("list organizations of "+login, resp, err, true)
		}
		for _, o := range page {
			orgs = append(orgs, host.Org{Login: o.GetLogin(), Name: o.GetName()})
		}
		if resp == nil || resp.NextPage == 0 {
			return orgs, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) Repository(ctx context.Context, owner, name string) (*host.Repository, error) {
	r, resp, err := c.api.Repositories.Get(ctx, owner, name)
	if err != nil {
		if isNotFound(resp) {
			return nil, nil
		}
		return nil, classify("get repository "+owner+"/"+name, resp, err, false)
	}
	return convertRepo(r), nil
}

func (c *Client) CreateRepository(ctx context.Context, owner, name string, kind types.OwnerKind) (*host.Repository, error) {
	org := ""
	if kind == types.OwnerOrg {
		org = owner
	}
	r, resp, err := c.api.Repositories.Create(ctx, org, &gh.Repository{Name: gh.Ptr(name)})
	if err != nil {
		return nil, classify("create repository "+owner+"/"+name, resp, err, false)
	}
	return convertRepo(r), nil
}

func (c *Client) RemoteURL(owner, name string) string {
	return fmt.Sprintf("git@github.com:%s/%s.git", owner, name)
}

func (c *Client) TokenURL() string {
	return tokenURL
}

func convertRepo(r *gh.Repository) *host.Repository {
	return &host.Repository{
		Owner:    r.GetOwner().GetLogin(),
		Name:     r.GetName(),
		FullName: r.GetFullName(),
		HTMLURL:  r.GetHTMLURL(),
		SSHURL:   r.GetSSHURL(),
		Private:  r.GetPrivate(),
	}
}

func isNotFound(resp *gh.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

func classify(op string, resp *gh.Response, err error, identity bool) error {
	if resp == nil {
		return &host.Error{Platform: Name, Op: op, Err: err}
	}
	msg := err.Error()
	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) && errResp.Message != "" {
		msg = errResp.Message
	}
	return host.StatusError(Name, op, resp.StatusCode, msg, identity)
}
