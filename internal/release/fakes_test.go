package release

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shipyard-cli/shipyard/internal/cloudbuild"
	"github.com/shipyard-cli/shipyard/internal/git"
	"github.com/shipyard-cli/shipyard/internal/host"
	"github.com/shipyard-cli/shipyard/internal/prompt"
	"github.com/shipyard-cli/shipyard/internal/repoconfig"
)

// fakeVCS models branches, tags and one remote as commit ids. Merges are
// always fast-forwards.
type fakeVCS struct {
	repo       bool
	remotes    []git.Remote
	status     git.Status
	current    string
	heads      map[string]string
	tags       map[string]string
	remoteRefs map[string]string
	// conflicts names pull branches and merge sources that leave unmerged
	// paths behind.
	conflicts map[string]bool
	commits   int
	calls     []string
}

func newFakeVCS() *fakeVCS {
	return &fakeVCS{
		heads:      make(map[string]string),
		tags:       make(map[string]string),
		remoteRefs: make(map[string]string),
		conflicts:  make(map[string]bool),
	}
}

func (f *fakeVCS) record(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeVCS) fail(op string, msg string) error {
	return &git.Error{Op: op, Output: msg, Err: errors.New("exit status 1")}
}

func (f *fakeVCS) IsRepo() bool { return f.repo }

func (f *fakeVCS) Init(ctx context.Context, trunk string) error {
	f.record("init %s", trunk)
	f.repo = true
	f.current = trunk
	return nil
}

func (f *fakeVCS) AddRemote(ctx context.Context, name, url string) error {
	f.record("remote add %s %s", name, url)
	f.remotes = append(f.remotes, git.Remote{Name: name, URL: url})
	return nil
}

func (f *fakeVCS) Remotes(ctx context.Context) ([]git.Remote, error) {
	return append([]git.Remote(nil), f.remotes...), nil
}

func (f *fakeVCS) Status(ctx context.Context) (*git.Status, error) {
	st := f.status
	return &st, nil
}

func (f *fakeVCS) Commit(ctx context.Context, paths []string, message string) error {
	if len(paths) == 0 {
		return nil
	}
	f.record("commit %s", message)
	f.commits++
	f.heads[f.current] = fmt.Sprintf("c%d", f.commits)
	f.status = git.Status{}
	return nil
}

func (f *fakeVCS) LocalBranches(ctx context.Context) ([]string, error) {
	return sortedKeys(f.heads), nil
}

func (f *fakeVCS) CurrentBranch(ctx context.Context) (string, error) {
	return f.current, nil
}

func (f *fakeVCS) Checkout(ctx context.Context, branch string) error {
	if _, ok := f.heads[branch]; !ok {
		return f.fail("checkout", "pathspec '"+branch+"' did not match")
	}
	f.current = branch
	return nil
}

func (f *fakeVCS) CheckoutNew(ctx context.Context, branch string) error {
	if _, ok := f.heads[branch]; ok {
		return f.fail("checkout", "a branch named '"+branch+"' already exists")
	}
	f.record("checkout -b %s", branch)
	f.heads[branch] = f.heads[f.current]
	f.current = branch
	return nil
}

func (f *fakeVCS) DeleteLocalBranch(ctx context.Context, branch string) error {
	if _, ok := f.heads[branch]; !ok || branch == f.current {
		return f.fail("branch", "cannot delete branch '"+branch+"'")
	}
	f.record("branch -d %s", branch)
	delete(f.heads, branch)
	return nil
}

func (f *fakeVCS) Pull(ctx context.Context, remote, branch string, opts ...string) error {
	f.record("pull %s %s", remote, branch)
	if f.conflicts[branch] {
		f.status.Conflicted = []string{"package.json"}
		return f.fail("pull", "CONFLICT (content): Merge conflict in package.json")
	}
	if _, ok := f.remoteRefs[headRef(branch)]; !ok {
		return f.fail("pull", "couldn't find remote ref "+branch)
	}
	return nil
}

func (f *fakeVCS) Push(ctx context.Context, remote, ref string, opts ...string) error {
	f.record("push %s", strings.TrimSpace(strings.Join(opts, " ")+" "+ref))
	if deleted, ok := strings.CutPrefix(ref, ":"); ok {
		delete(f.remoteRefs, deleted)
		return nil
	}
	for _, o := range opts {
		if o == "--delete" {
			delete(f.remoteRefs, headRef(ref))
			return nil
		}
	}
	if tag, ok := strings.CutPrefix(ref, "refs/tags/"); ok {
		id, ok := f.tags[tag]
		if !ok {
			return f.fail("push", "src refspec "+ref+" does not match any")
		}
		if old, ok := f.remoteRefs[ref]; ok && old != id {
			return f.fail("push", "! [rejected] "+tag+" (already exists)")
		}
		f.remoteRefs[ref] = id
		return nil
	}
	id, ok := f.heads[ref]
	if !ok {
		return f.fail("push", "src refspec "+ref+" does not match any")
	}
	f.remoteRefs[headRef(ref)] = id
	return nil
}

func (f *fakeVCS) ListRemoteRefs(ctx context.Context, remote string) ([]string, error) {
	return sortedKeys(f.remoteRefs), nil
}

func (f *fakeVCS) Tags(ctx context.Context) ([]string, error) {
	return sortedKeys(f.tags), nil
}

func (f *fakeVCS) AddTag(ctx context.Context, name string) error {
	if _, ok := f.tags[name]; ok {
		return f.fail("tag", "tag '"+name+"' already exists")
	}
	f.record("tag %s", name)
	f.tags[name] = f.heads[f.current]
	return nil
}

func (f *fakeVCS) DeleteTag(ctx context.Context, name string) error {
	if _, ok := f.tags[name]; !ok {
		return f.fail("tag", "tag '"+name+"' not found")
	}
	f.record("tag -d %s", name)
	delete(f.tags, name)
	return nil
}

func (f *fakeVCS) Merge(ctx context.Context, source, destination string) error {
	if err := f.Checkout(ctx, destination); err != nil {
		return err
	}
	f.record("merge %s", source)
	if f.conflicts[source] {
		f.status.Conflicted = []string{"package.json"}
		return f.fail("merge", "Automatic merge failed; fix conflicts")
	}
	f.heads[destination] = f.heads[source]
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fakeSession replays events to emit, then returns err.
type fakeSession struct {
	events []cloudbuild.Event
	emit   func(cloudbuild.Event)
	err    error
	runs   int
	closed int
}

func (s *fakeSession) Run(ctx context.Context) error {
	s.runs++
	for _, ev := range s.events {
		if s.emit != nil {
			s.emit(ev)
		}
	}
	return s.err
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeBuilder struct {
	mu       sync.Mutex
	openErr  error
	session  *fakeSession
	requests []cloudbuild.Request
}

func (b *fakeBuilder) Open(ctx context.Context, req cloudbuild.Request) (BuildSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if b.openErr != nil {
		return nil, b.openErr
	}
	if b.session == nil {
		b.session = &fakeSession{}
	}
	return b.session, nil
}

type fakeArtifacts struct {
	exists bool
	err    error
	asked  []string
}

func (a *fakeArtifacts) Exists(ctx context.Context, name, version string) (bool, error) {
	a.asked = append(a.asked, name+"@"+version)
	return a.exists, a.err
}

type fakeLock struct {
	err      error
	acquired int
	released int
	waited   time.Duration
}

func (l *fakeLock) Acquire(ctx context.Context, timeout time.Duration) error {
	l.waited = timeout
	return l.TryAcquire()
}

func (l *fakeLock) TryAcquire() error {
	if l.err != nil {
		return l.err
	}
	l.acquired++
	return nil
}

func (l *fakeLock) Release() error {
	l.released++
	return nil
}

// fixture wires a Workflow to fakes around a temporary project.
type fixture struct {
	dir       string
	store     *repoconfig.Store
	hosts     *host.Registry
	host      *host.Fake
	vcs       *fakeVCS
	asker     *prompt.Scripted
	builder   *fakeBuilder
	artifacts *fakeArtifacts
}

func newFixture(t *testing.T, version string) *fixture {
	t.Helper()
	dir := t.TempDir()
	writePackageJSON(t, dir, "demo", version)

	store, err := repoconfig.Open(t.TempDir())
	if err != nil {
		t.Fatalf("repoconfig.Open: %v", err)
	}
	fake := host.NewFake("FAKE", "alice")
	hosts := host.NewRegistry()
	hosts.Register("FAKE", func(host.Options) host.Client { return fake })

	return &fixture{
		dir:       dir,
		store:     store,
		hosts:     hosts,
		host:      fake,
		vcs:       newFakeVCS(),
		asker:     prompt.NewScripted(),
		builder:   &fakeBuilder{},
		artifacts: &fakeArtifacts{},
	}
}

func (f *fixture) options() Options {
	return Options{
		Dir:       f.dir,
		Store:     f.store,
		Hosts:     f.hosts,
		VCS:       f.vcs,
		Asker:     f.asker,
		Builder:   f.builder,
		Artifacts: f.artifacts,
	}
}

func (f *fixture) workflow(t *testing.T, mutate ...func(*Options)) *Workflow {
	t.Helper()
	opts := f.options()
	for _, m := range mutate {
		m(&opts)
	}
	w, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

// configured stores a complete repository config so no setup questions
// are asked.
func (f *fixture) configured(t *testing.T) {
	t.Helper()
	for key, value := range map[string]string{
		"GIT_PLATFORM":  "FAKE",
		"GIT_TOKEN":     "tok",
		"GIT_OWNER":     "USER",
		"GIT_USER_NAME": "alice",
	} {
		if err := f.store.Save(key, value); err != nil {
			t.Fatalf("Save(%s): %v", key, err)
		}
	}
}

// published seeds a remote holding trunk and the given release tags.
func (f *fixture) published(versions ...string) {
	f.vcs.remoteRefs["refs/heads/master"] = "r0"
	for _, v := range versions {
		f.vcs.remoteRefs["refs/tags/release/"+v] = "r0"
	}
}

// cloned makes the working tree an existing clone on master with origin set.
func (f *fixture) cloned() {
	f.vcs.repo = true
	f.vcs.current = "master"
	f.vcs.heads["master"] = "r0"
	f.vcs.remotes = []git.Remote{{Name: "origin", URL: "git@fake.example:alice/demo.git"}}
}

func writePackageJSON(t *testing.T, dir, name, version string) {
	t.Helper()
	content := fmt.Sprintf(`{
  "name": %q,
  "version": %q,
  "scripts": {
    "build": "vite build"
  }
}
`, name, version)
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(content), 0600); err != nil {
		t.Fatalf("write package.json: %v", err)
	}
}
