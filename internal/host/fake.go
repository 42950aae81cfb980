package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/shipyard-cli/shipyard/internal/types"
)

// Fake is an in-memory Client for tests. Created repositories are visible
// to later Repository calls. Setting Err* fields makes the matching call
// fail.
type Fake struct {
	PlatformName string
	User         *User
	Orgs         []Org
	// RemoteURLFunc overrides RemoteURL, e.g. to point at a local bare
	// repository.
	RemoteURLFunc func(owner, name string) string

	ErrUserInfo error
	ErrOrgs     error
	ErrRepo     error
	ErrCreate   error

	mu      sync.Mutex
	token   string
	repos   map[string]*Repository
	Created []string
}

// NewFake returns a Fake registered under name whose user is login.
func NewFake(name, login string) *Fake {
	return &Fake{
		PlatformName: name,
		User:         &User{Login: login, Name: login},
		repos:        make(map[string]*Repository),
	}
}

func (f *Fake) Name() string        { return f.PlatformName }
func (f *Fake) DisplayName() string { return "Fake " + f.PlatformName }

func (f *Fake) Authenticate(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

// Token returns the last token passed to Authenticate.
func (f *Fake) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *Fake) UserInfo(ctx context.Context) (*User, error) {
	if f.ErrUserInfo != nil {
		return nil, f.ErrUserInfo
	}
	return f.User, nil
}

func (f *Fake) OrgMemberships(ctx context.Context, login string) ([]Org, error) {
	if f.ErrOrgs != nil {
		return nil, f.ErrOrgs
	}
	return append([]Org{}, f.Orgs...), nil
}

// AddRepository seeds an existing remote repository.
func (f *Fake) AddRepository(owner, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(owner, name)
}

func (f *Fake) Repository(ctx context.Context, owner, name string) (*Repository, error) {
	if f.ErrRepo != nil {
		return nil, f.ErrRepo
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.repos == nil {
		return nil, nil
	}
	return f.repos[owner+"/"+name], nil
}

func (f *Fake) CreateRepository(ctx context.Context, owner, name string, kind types.OwnerKind) (*Repository, error) {
	if f.ErrCreate != nil {
		return nil, f.ErrCreate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.repos[owner+"/"+name]; ok {
		return nil, &Error{Platform: f.PlatformName, Op: "create repository", StatusCode: 422, Message: "name already exists on this account"}
	}
	f.Created = append(f.Created, fmt.Sprintf("%s:%s/%s", kind, owner, name))
	return f.put(owner, name), nil
}

func (f *Fake) put(owner, name string) *Repository {
	if f.repos == nil {
		f.repos = make(map[string]*Repository)
	}
	repo := &Repository{
		Owner:    owner,
		Name:     name,
		FullName: owner + "/" + name,
		SSHURL:   f.RemoteURL(owner, name),
	}
	f.repos[repo.FullName] = repo
	return repo
}

func (f *Fake) RemoteURL(owner, name string) string {
	if f.RemoteURLFunc != nil {
		return f.RemoteURLFunc(owner, name)
	}
	return fmt.Sprintf("git@fake.example:%s/%s.git", owner, name)
}

func (f *Fake) TokenURL() string {
	return "https://fake.example/tokens"
}
