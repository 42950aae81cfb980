// Package host defines the capability shipyard needs from a git hosting
// platform, the errors those platforms report, and a registry that maps
// platform names to client implementations.
//
// Each platform lives in its own subpackage and registers itself from init():
//
//	func init() {
//	    host.Register(Name, func(opts host.Options) host.Client { return New(opts) })
//	}
package host

import (
	"context"
	"net/http"

	"github.com/shipyard-cli/shipyard/internal/types"
)

// User is the authenticated account.
type User struct {
	Login string
	Name  string
}

// Org is an organization the authenticated account belongs to.
type Org struct {
	Login string
	Name  string
}

// Repository is a remote repository as reported by the platform.
type Repository struct {
	Owner    string
	Name     string
	FullName string
	HTMLURL  string
	SSHURL   string
	Private  bool
}

// Client is the hosting-platform capability used by the release workflow.
//
// Lookups that find nothing return (nil, nil). Credential problems surface as
// *AuthError; every other failed call is a *Error.
type Client interface {
	// Name is the registry key, e.g. "GITHUB".
	Name() string
	// DisplayName is the human-readable platform name.
	DisplayName() string

	// Authenticate stores the token used by subsequent calls. It performs
	// no network activity.
	Authenticate(token string)

	UserInfo(ctx context.Context) (*User, error)
	// OrgMemberships lists organizations login belongs to. No memberships
	// is an empty slice, not an error.
	OrgMemberships(ctx context.Context, login string) ([]Org, error)
	Repository(ctx context.Context, owner, name string) (*Repository, error)
	// CreateRepository creates name under the user account or, for
	// types.OwnerOrg, under the owner organization.
	CreateRepository(ctx context.Context, owner, name string, kind types.OwnerKind) (*Repository, error)

	// RemoteURL returns the SSH remote for owner/name.
	RemoteURL(owner, name string) string
	// TokenURL is where users create a personal access token.
	TokenURL() string
}

// Options configures a client created through the registry.
type Options struct {
	// BaseURL overrides the platform API endpoint. Used by tests and
	// self-hosted installations.
	BaseURL string
	// HTTPClient overrides the HTTP client. Nil uses a client with a 30s
	// timeout.
	HTTPClient *http.Client
}
