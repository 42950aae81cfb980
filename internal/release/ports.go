package release

import (
	"context"
	"time"

	"github.com/shipyard-cli/shipyard/internal/cloudbuild"
	"github.com/shipyard-cli/shipyard/internal/git"
	"github.com/shipyard-cli/shipyard/internal/types"
)

// VCS is the version control surface the workflow drives. *git.Repo
// implements it.
type VCS interface {
	IsRepo() bool
	Init(ctx context.Context, trunk string) error
	AddRemote(ctx context.Context, name, url string) error
	Remotes(ctx context.Context) ([]git.Remote, error)
	Status(ctx context.Context) (*git.Status, error)
	Commit(ctx context.Context, paths []string, message string) error
	LocalBranches(ctx context.Context) ([]string, error)
	CurrentBranch(ctx context.Context) (string, error)
	Checkout(ctx context.Context, branch string) error
	CheckoutNew(ctx context.Context, branch string) error
	DeleteLocalBranch(ctx context.Context, branch string) error
	Pull(ctx context.Context, remote, branch string, opts ...string) error
	Push(ctx context.Context, remote, ref string, opts ...string) error
	ListRemoteRefs(ctx context.Context, remote string) ([]string, error)
	Tags(ctx context.Context) ([]string, error)
	AddTag(ctx context.Context, name string) error
	DeleteTag(ctx context.Context, name string) error
	Merge(ctx context.Context, source, destination string) error
}

var _ VCS = (*git.Repo)(nil)

// ConfigStore persists the repository settings between runs.
// *repoconfig.Store implements it.
type ConfigStore interface {
	Load() (*types.RepositoryConfig, error)
	Save(key, value string) error
}

// BuildSession is a connected build session.
type BuildSession interface {
	Run(ctx context.Context) error
	Close() error
}

// Builder opens connected build sessions.
type Builder interface {
	Open(ctx context.Context, req cloudbuild.Request) (BuildSession, error)
}

// ArtifactChecker reports whether a build output was already published.
type ArtifactChecker interface {
	Exists(ctx context.Context, name, version string) (bool, error)
}

// Locker guards a project against concurrent runs.
type Locker interface {
	TryAcquire() error
	Acquire(ctx context.Context, timeout time.Duration) error
	Release() error
}

type dialerBuilder struct {
	d *cloudbuild.Dialer
}

// NewBuilder adapts a cloudbuild dialer to Builder.
func NewBuilder(d *cloudbuild.Dialer) Builder {
	return dialerBuilder{d: d}
}

func (b dialerBuilder) Open(ctx context.Context, req cloudbuild.Request) (BuildSession, error) {
	s, err := b.d.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	return s, nil
}
