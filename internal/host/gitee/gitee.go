// Package gitee implements the Gitee hosting platform against its v5 REST
// API.
package gitee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shipyard-cli/shipyard/internal/host"
	"github.com/shipyard-cli/shipyard/internal/types"
)

const (
	// Name is the registry key and the persisted GIT_PLATFORM value.
	Name = "GITEE"

	// DefaultAPIEndpoint is the Gitee REST API base URL.
	DefaultAPIEndpoint = "https://gitee.com/api/v5"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxPageSize is the page size used when listing organizations.
	MaxPageSize = 100

	// MaxPages bounds pagination in case the server keeps returning full pages.
	MaxPages = 50

	maxResponseSize = 10 * 1024 * 1024
	tokenURL        = "https://gitee.com/personal_access_tokens"
)

func init() {
	host.Register(Name, func(opts host.Options) host.Client { return New(opts) })
}

// Client provides methods to interact with the Gitee REST API.
type Client struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

type user struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

type org struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

type repository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
	SSHURL   string `json:"ssh_url"`
	Private  bool   `json:"private"`
	Owner    *user  `json:"owner,omitempty"`
}

// apiError is the body Gitee returns with non-2xx responses.
type apiError struct {
	Message string `json:"message"`
}

// statusError carries a non-2xx response out of doRequest.
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error: %s (status %d)", e.message, e.status)
}

// New creates a new Gitee client. Call Authenticate before use.
func New(opts host.Options) *Client {
	c := &Client{
		BaseURL:    DefaultAPIEndpoint,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		c.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	return c
}

func (c *Client) Name() string        { return Name }
func (c *Client) DisplayName() string { return "Gitee" }

func (c *Client) Authenticate(token string) {
	c.Token = token
}

// buildURL constructs a full API URL. GET requests carry the token as the
// access_token query parameter.
func (c *Client) buildURL(path string, params map[string]string, withToken bool) string {
	u := c.BaseURL + path

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	if withToken && c.Token != "" {
		values.Set("access_token", c.Token)
	}
	if len(values) > 0 {
		u += "?" + values.Encode()
	}
	return u
}

// doRequest performs one HTTP request. Non-2xx responses are returned as
// *statusError; transport failures are returned as-is.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body map[string]interface{}) ([]byte, http.Header, error) {
	var reqBody io.Reader
	if body != nil {
		if c.Token != "" {
			body["access_token"] = c.Token
		}
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	_ = resp.Body.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return nil, nil, &statusError{status: resp.StatusCode, message: msg}
	}
	return respBody, resp.Header, nil
}

// call runs a request and decodes the JSON response into out. A 404 yields
// found == false with no error.
func (c *Client) call(ctx context.Context, op, method, urlStr string, body map[string]interface{}, identity bool, out interface{}) (found bool, err error) {
	respBody, _, err := c.doRequest(ctx, method, urlStr, body)
	if err != nil {
		se, ok := err.(*statusError)
		if !ok {
			return false, &host.Error{Platform: Name, Op: op, Err: err}
		}
		if se.status == http.StatusNotFound && method == http.MethodGet {
			return false, nil
		}
		return false, host.StatusError(Name, op, se.status, se.message, identity)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return false, &host.Error{Platform: Name, Op: op, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return true, nil
}

func (c *Client) UserInfo(ctx context.Context) (*host.User, error) {
	var u user
	found, err := c.call(ctx, "get user", http.MethodGet, c.buildURL("/user", nil, true), nil, true, &u)
	if err != nil || !found {
		return nil, err
	}
	return &host.User{Login: u.Login, Name: u.Name}, nil
}

func (c *Client) OrgMemberships(ctx context.Context, login string) ([]host.Org, error) {
	orgs := []host.Org{}
	path := "/users/" + url.PathEscape(login) + "/orgs"
	for page := 1; page <= MaxPages; page++ {
		params := map[string]string{
			"page":     strconv.Itoa(page),
			"per_page": strconv.Itoa(MaxPageSize),
		}
		var batch []org
		found, err := c.call(ctx, "list organizations of "+login, http.MethodGet, c.buildURL(path, params, true), nil, true, &batch)
		if err != nil {
			return nil, err
		}
		if !found {
			return orgs, nil
		}
		for _, o := range batch {
			orgs = append(orgs, host.Org{Login: o.Login, Name: o.Name})
		}
		if len(batch) < MaxPageSize {
			break
		}
	}
	return orgs, nil
}

func (c *Client) Repository(ctx context.Context, owner, name string) (*host.Repository, error) {
	var r repository
	path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name)
	found, err := c.call(ctx, "get repository "+owner+"/"+name, http.MethodGet, c.buildURL(path, nil, true), nil, false, &r)
	if err != nil || !found {
		return nil, err
	}
	return convertRepo(&r), nil
}

func (c *Client) CreateRepository(ctx context.Context, owner, name string, kind types.OwnerKind) (*host.Repository, error) {
	path := "/user/repos"
	if kind == types.OwnerOrg {
		path = "/orgs/" + url.PathEscape(owner) + "/repos"
	}
	body := map[string]interface{}{"name": name}
	var r repository
	if _, err := c.call(ctx, "create repository "+owner+"/"+name, http.MethodPost, c.buildURL(path, nil, false), body, false, &r); err != nil {
		return nil, err
	}
	return convertRepo(&r), nil
}

func (c *Client) RemoteURL(owner, name string) string {
	return fmt.Sprintf("git@gitee.com:%s/%s.git", owner, name)
}

func (c *Client) TokenURL() string {
	return tokenURL
}

func convertRepo(r *repository) *host.Repository {
	out := &host.Repository{
		Name:     r.Name,
		FullName: r.FullName,
		HTMLURL:  r.HTMLURL,
		SSHURL:   r.SSHURL,
		Private:  r.Private,
	}
	if r.Owner != nil {
		out.Owner = r.Owner.Login
	}
	return out
}
