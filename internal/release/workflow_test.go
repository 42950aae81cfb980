package release

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipyard-cli/shipyard/internal/cloudbuild"
	"github.com/shipyard-cli/shipyard/internal/git"
	"github.com/shipyard-cli/shipyard/internal/host"
	"github.com/shipyard-cli/shipyard/internal/project"
	"github.com/shipyard-cli/shipyard/internal/prompt"
	"github.com/shipyard-cli/shipyard/internal/types"
)

func TestNewValidatesOptions(t *testing.T) {
	f := newFixture(t, "1.0.0")

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no dir", func(o *Options) { o.Dir = "" }},
		{"no store", func(o *Options) { o.Store = nil }},
		{"no asker", func(o *Options) { o.Asker = nil }},
		{"no builder", func(o *Options) { o.Builder = nil }},
		{"no artifacts", func(o *Options) { o.Artifacts = nil }},
		{"no package.json", func(o *Options) { o.Dir = t.TempDir() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := f.options()
			tt.mutate(&opts)
			_, err := New(opts)
			var cfgErr *ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestNewDefaults(t *testing.T) {
	f := newFixture(t, "1.0.0")
	w := f.workflow(t)

	assert.Equal(t, DefaultTrunk, w.opts.Trunk)
	assert.Equal(t, DefaultRemote, w.opts.Remote)
	assert.Equal(t, DefaultBuildCommand, w.opts.BuildCommand)
	assert.Equal(t, "demo", w.State().Project.Name)
	assert.Equal(t, "1.0.0", w.State().Version)
}

// A fresh project at 1.0.0 publishing against a remote that already holds
// release/1.2.0: the user picks a minor bump and 1.3.0 is released.
func TestRunFreshProjectBumpsPastLatestRelease(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.published("1.1.0", "1.2.0")
	f.vcs.status.NotAdded = []string{".gitignore", "package.json"}
	f.asker.
		Add(prompt.KeyPlatform, "FAKE").
		Add(prompt.KeyToken, "secret-token").
		Add(prompt.KeyOwner, "USER").
		Add(prompt.KeyCommitMessage, "initial import").
		Add(prompt.KeyVersionBump, "minor")

	var out bytes.Buffer
	w := f.workflow(t, func(o *Options) { o.Out = &out })
	require.NoError(t, w.Run(context.Background()))

	// Settings were prompted for and persisted.
	cfg, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, &types.RepositoryConfig{
		Platform: "FAKE", Token: "secret-token", Owner: types.OwnerUser, UserName: "alice",
	}, cfg)
	assert.Equal(t, "secret-token", f.host.Token())
	assert.Equal(t, []string{"USER:alice/demo"}, f.host.Created)

	// Local repository was initialized with the remote.
	assert.Contains(t, f.vcs.calls, "init master")
	assert.Equal(t, []git.Remote{{Name: "origin", URL: "git@fake.example:alice/demo.git"}}, f.vcs.remotes)
	gitignore, err := os.ReadFile(filepath.Join(f.dir, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "node_modules\n.vscode\n.env.*\ndist\n", string(gitignore))

	// Version was bumped from the latest release, not from the local one.
	st := w.State()
	assert.Equal(t, "1.3.0", st.Version)
	assert.Equal(t, "dev/1.3.0", st.DevBranch)
	assert.True(t, st.Bumped)
	proj, err := project.Load(f.dir)
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", proj.Version)

	// The build ran from the dev branch and was closed.
	require.Len(t, f.builder.requests, 1)
	assert.Equal(t, cloudbuild.Request{
		Name:         "demo",
		Version:      "1.3.0",
		RemoteURL:    "git@fake.example:alice/demo.git",
		Branch:       "dev/1.3.0",
		BuildCommand: DefaultBuildCommand,
	}, f.builder.requests[0])
	assert.Equal(t, 1, f.builder.session.runs)
	assert.Equal(t, 1, f.builder.session.closed)
	assert.Equal(t, []string{"demo@1.3.0"}, f.artifacts.asked)

	// Promotion tagged the dev tip, merged it and removed the dev branch.
	assert.Equal(t, f.vcs.heads["master"], f.vcs.remoteRefs["refs/tags/release/1.3.0"])
	assert.Equal(t, f.vcs.heads["master"], f.vcs.remoteRefs["refs/heads/master"])
	assert.NotContains(t, f.vcs.remoteRefs, "refs/heads/dev/1.3.0")
	assert.NotContains(t, f.vcs.heads, "dev/1.3.0")

	// Every stage ran once, in order.
	var names []string
	for _, tm := range w.Timings() {
		names = append(names, tm.Stage)
		assert.NoError(t, tm.Err)
	}
	assert.Equal(t, []string{
		StageConfigPrepare, StageRepositoryEnsure, StageLocalGitInit, StageInitialSync,
		StageBranchDerive, StageBranchSync, StageBuildDispatch, StagePromote,
	}, names)
	assert.Contains(t, out.String(), "Published demo@1.3.0")
}

// demo@1.0.0 with no hosted repository and no releases: the repository is
// created, built from dev/1.0.0 and released as release/1.0.0.
func TestRunPublishesNewRepository(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.configured(t)
	f.vcs.status.NotAdded = []string{".gitignore", "package.json"}
	f.asker.Add(prompt.KeyCommitMessage, "first release")

	var events []string
	f.builder.session = &fakeSession{
		events: []cloudbuild.Event{
			{Name: cloudbuild.EventBuilding, Message: "npm run build"},
			{Name: cloudbuild.EventPublished},
		},
		emit: func(ev cloudbuild.Event) { events = append(events, ev.Name) },
	}

	w := f.workflow(t)
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, []string{"USER:alice/demo"}, f.host.Created)
	assert.Equal(t, "dev/1.0.0", w.State().DevBranch)
	assert.False(t, w.State().Bumped)
	assert.NotContains(t, f.asker.Asked(), prompt.KeyVersionBump)

	require.Len(t, f.builder.requests, 1)
	assert.Equal(t, "dev/1.0.0", f.builder.requests[0].Branch)
	assert.Equal(t, []string{cloudbuild.EventBuilding, cloudbuild.EventPublished}, events)
	assert.Equal(t, 1, f.builder.session.closed)

	assert.Contains(t, f.vcs.tags, "release/1.0.0")
	assert.Equal(t, f.vcs.heads["master"], f.vcs.remoteRefs["refs/tags/release/1.0.0"])
	assert.NotContains(t, f.vcs.heads, "dev/1.0.0")
	assert.NotContains(t, f.vcs.remoteRefs, "refs/heads/dev/1.0.0")
	assert.Equal(t, "master", f.vcs.current)
}

func TestRunRequiresTrunkForEmptyRemote(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.configured(t)
	f.host.AddRepository("alice", "demo")
	f.cloned()
	f.vcs.heads["feature"] = "f1"
	f.vcs.current = "feature"

	err := f.workflow(t).Run(context.Background())

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageInitialSync, stageErr.Stage)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "HEAD is on feature")
	assert.NotContains(t, f.vcs.calls, "push master")
}

func TestRunWarnsWhenRemoteDiffers(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.configured(t)
	f.host.AddRepository("alice", "demo")
	f.published()
	f.cloned()
	f.vcs.remotes = []git.Remote{{Name: "origin", URL: "git@fake.example:bob/other.git"}}

	var out bytes.Buffer
	w := f.workflow(t, func(o *Options) { o.Out = &out })
	require.NoError(t, w.Run(context.Background()))

	assert.Contains(t, out.String(), "remote origin points at git@fake.example:bob/other.git")
	assert.Contains(t, out.String(), "git@fake.example:alice/demo.git")
	assert.NotContains(t, f.vcs.calls, "remote add origin git@fake.example:alice/demo.git")
}

func TestRunKeepsLocalVersionAheadOfReleases(t *testing.T) {
	for _, version := range []string{"1.2.0", "2.0.0"} {
		t.Run(version, func(t *testing.T) {
			f := newFixture(t, version)
			f.configured(t)
			f.host.AddRepository("alice", "demo")
			f.published("1.2.0")
			f.cloned()

			w := f.workflow(t)
			require.NoError(t, w.Run(context.Background()))

			assert.Equal(t, version, w.State().Version)
			assert.False(t, w.State().Bumped)
			assert.Empty(t, f.asker.Asked(), "configured run should not prompt")
			assert.Empty(t, f.host.Created)
			assert.NotContains(t, f.vcs.calls, "init master")
			assert.Contains(t, f.vcs.remoteRefs, "refs/tags/release/"+version)
		})
	}
}

func TestRunPushesTrunkToEmptyRemote(t *testing.T) {
	f := newFixture(t, "0.1.0")
	f.configured(t)
	f.vcs.status.NotAdded = []string{"package.json"}
	f.asker.Add(prompt.KeyCommitMessage, "   ", "first")

	w := f.workflow(t)
	require.NoError(t, w.Run(context.Background()))

	assert.Contains(t, f.vcs.calls, "commit first", "blank message is asked again")
	assert.Contains(t, f.vcs.calls, "push master")
	assert.NotContains(t, f.vcs.calls, "pull origin master --allow-unrelated-histories")
	assert.Equal(t, "dev/0.1.0", w.State().DevBranch)
	assert.Contains(t, f.vcs.remoteRefs, "refs/tags/release/0.1.0")
}

func TestRunReusesExistingDevBranch(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.configured(t)
	f.published()
	f.cloned()
	f.vcs.heads["dev/1.0.0"] = "d1"
	f.vcs.remoteRefs["refs/heads/dev/1.0.0"] = "d1"

	w := f.workflow(t)
	require.NoError(t, w.Run(context.Background()))

	assert.NotContains(t, f.vcs.calls, "checkout -b dev/1.0.0")
	assert.Contains(t, f.vcs.calls, "pull origin dev/1.0.0")
	assert.Equal(t, "d1", f.vcs.remoteRefs["refs/tags/release/1.0.0"])
	assert.Equal(t, "d1", f.vcs.remoteRefs["refs/heads/master"])
}

func TestPromoteIsIdempotent(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.published("1.0.0")
	f.vcs.repo = true
	f.vcs.heads["master"] = "r0"
	f.vcs.heads["dev/1.0.0"] = "d1"
	f.vcs.current = "dev/1.0.0"
	f.vcs.tags["release/1.0.0"] = "stale"
	f.vcs.remoteRefs["refs/heads/dev/1.0.0"] = "d1"

	w := f.workflow(t)
	w.state.Version = "1.0.0"
	w.state.DevBranch = "dev/1.0.0"
	ctx := context.Background()

	require.NoError(t, w.promote(ctx))
	tag := f.vcs.remoteRefs["refs/tags/release/1.0.0"]
	trunk := f.vcs.remoteRefs["refs/heads/master"]
	assert.Equal(t, "d1", tag, "stale remote and local tags are replaced")
	assert.Equal(t, "d1", trunk)
	assert.Equal(t, "d1", f.vcs.tags["release/1.0.0"])
	assert.NotContains(t, f.vcs.heads, "dev/1.0.0")
	assert.NotContains(t, f.vcs.remoteRefs, "refs/heads/dev/1.0.0")

	require.NoError(t, w.promote(ctx))
	assert.Equal(t, tag, f.vcs.remoteRefs["refs/tags/release/1.0.0"])
	assert.Equal(t, trunk, f.vcs.remoteRefs["refs/heads/master"])
	assert.Equal(t, "master", f.vcs.current)
}

func TestRunConflictAborts(t *testing.T) {
	tests := []struct {
		name  string
		stage string
		setup func(f *fixture)
	}{
		{
			name:  "unmerged paths before sync",
			stage: StageInitialSync,
			setup: func(f *fixture) { f.vcs.status.Conflicted = []string{"src/index.js"} },
		},
		{
			name:  "pull of remote dev branch",
			stage: StageBranchSync,
			setup: func(f *fixture) {
				f.vcs.heads["dev/1.0.0"] = "d1"
				f.vcs.remoteRefs["refs/heads/dev/1.0.0"] = "d2"
				f.vcs.conflicts["dev/1.0.0"] = true
			},
		},
		{
			name:  "pull of trunk",
			stage: StageInitialSync,
			setup: func(f *fixture) { f.vcs.conflicts["master"] = true },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "1.0.0")
			f.configured(t)
			f.published()
			f.cloned()
			tt.setup(f)

			err := f.workflow(t).Run(context.Background())
			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, tt.stage, stageErr.Stage)
			var conflict *ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.NotEmpty(t, conflict.Paths)
			assert.True(t, strings.HasPrefix(err.Error(), tt.stage+": merge conflicts in "), err.Error())
			assert.Empty(t, f.builder.requests, "no build after a conflict")
		})
	}
}

func TestPromoteMergeConflict(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.published()
	f.cloned()
	f.vcs.heads["dev/1.0.0"] = "d1"
	f.vcs.conflicts["dev/1.0.0"] = true

	w := f.workflow(t)
	w.state.Version = "1.0.0"
	w.state.DevBranch = "dev/1.0.0"
	err := w.promote(context.Background())

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"package.json"}, conflict.Paths)
	var gitErr *git.Error
	assert.ErrorAs(t, err, &gitErr)
	assert.Contains(t, f.vcs.heads, "dev/1.0.0", "dev branch kept on conflict")
	assert.Equal(t, "r0", f.vcs.remoteRefs["refs/heads/master"])
}

func TestRunBuildCommandMustUseNpm(t *testing.T) {
	tests := []struct {
		cmd string
		ok  bool
	}{
		{"npm run build", true},
		{"cnpm run build:prod", true},
		{"  npm   run build  ", true},
		{"yarn build", false},
		{"npx vite build", false},
		{"rm -rf /", false},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			err := checkBuildCommand(tt.cmd)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}

	f := newFixture(t, "1.0.0")
	f.configured(t)
	f.published()
	f.cloned()
	w := f.workflow(t, func(o *Options) { o.BuildCommand = "yarn build" })
	err := w.Run(context.Background())
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageBuildDispatch, stageErr.Stage)
	assert.Empty(t, f.builder.requests)
}

func TestRunExistingArtifact(t *testing.T) {
	t.Run("decline aborts", func(t *testing.T) {
		f := newFixture(t, "1.0.0")
		f.configured(t)
		f.published()
		f.cloned()
		f.artifacts.exists = true
		f.asker.Add(prompt.KeyOverwrite, "n")

		err := f.workflow(t).Run(context.Background())
		require.Error(t, err)
		assert.True(t, IsUserAbort(err))
		assert.Empty(t, f.builder.requests)
		assert.NotContains(t, f.vcs.remoteRefs, "refs/tags/release/1.0.0")
	})

	t.Run("default is no", func(t *testing.T) {
		f := newFixture(t, "1.0.0")
		f.configured(t)
		f.published()
		f.cloned()
		f.artifacts.exists = true
		f.asker.Add(prompt.KeyOverwrite, "")

		err := f.workflow(t).Run(context.Background())
		assert.True(t, IsUserAbort(err))
	})

	t.Run("confirm rebuilds", func(t *testing.T) {
		f := newFixture(t, "1.0.0")
		f.configured(t)
		f.published()
		f.cloned()
		f.artifacts.exists = true
		f.asker.Add(prompt.KeyOverwrite, "yes")

		require.NoError(t, f.workflow(t).Run(context.Background()))
		assert.Len(t, f.builder.requests, 1)
	})

	t.Run("index failure", func(t *testing.T) {
		f := newFixture(t, "1.0.0")
		f.configured(t)
		f.published()
		f.cloned()
		f.artifacts.err = errors.New("connection refused")

		err := f.workflow(t).Run(context.Background())
		assert.ErrorContains(t, err, "BuildDispatch: checking published artifacts: connection refused")
	})
}

func TestRunBuildFailures(t *testing.T) {
	t.Run("connect", func(t *testing.T) {
		f := newFixture(t, "1.0.0")
		f.configured(t)
		f.published()
		f.cloned()
		f.builder.openErr = &cloudbuild.BuildConnectError{Server: "http://build", Message: "refused"}

		err := f.workflow(t).Run(context.Background())
		var connErr *cloudbuild.BuildConnectError
		require.ErrorAs(t, err, &connErr)
		assert.NotContains(t, f.vcs.remoteRefs, "refs/tags/release/1.0.0")
	})

	t.Run("build", func(t *testing.T) {
		f := newFixture(t, "1.0.0")
		f.configured(t)
		f.published()
		f.cloned()
		f.builder.session = &fakeSession{err: &cloudbuild.BuildFailedError{Message: "lint failed"}}

		err := f.workflow(t).Run(context.Background())
		var failed *cloudbuild.BuildFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, 1, f.builder.session.closed, "session closed after failure")
		assert.Contains(t, f.vcs.remoteRefs, "refs/heads/dev/1.0.0", "dev branch kept for retry")
	})
}

func TestPrepareConfigOrganization(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.host.Orgs = []host.Org{{Login: "acme", Name: "Acme Inc"}, {Login: "tools"}}
	f.asker.
		Add(prompt.KeyPlatform, "Fake FAKE").
		Add(prompt.KeyToken, "tok").
		Add(prompt.KeyOwner, "ORG").
		Add(prompt.KeyOrg, "nope", "tools")

	w := f.workflow(t)
	require.NoError(t, w.prepareConfig(context.Background()))
	require.NoError(t, w.ensureRepository(context.Background()))

	cfg, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, types.OwnerOrg, cfg.Owner)
	assert.Equal(t, "tools", cfg.UserName)
	assert.Equal(t, []string{"ORG:tools/demo"}, f.host.Created)
}

func TestPrepareConfigStaleOrgOwnerReprompts(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.configured(t)
	require.NoError(t, f.store.Save("GIT_OWNER", "ORG"))
	require.NoError(t, f.store.Save("GIT_USER_NAME", "acme"))
	f.asker.Add(prompt.KeyOwner, "", "USER")

	w := f.workflow(t, func(o *Options) { o.Update.Owner = true })
	require.NoError(t, w.prepareConfig(context.Background()))

	cfg, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, types.OwnerUser, cfg.Owner)
	assert.Equal(t, "alice", cfg.UserName)
	assert.Zero(t, f.asker.Remaining(prompt.KeyOwner))
}

func TestPrepareConfigOffersOrgOnlyToMembers(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.asker.
		Add(prompt.KeyPlatform, "FAKE").
		Add(prompt.KeyToken, "tok").
		Add(prompt.KeyOwner, "ORG", "USER")

	w := f.workflow(t)
	require.NoError(t, w.prepareConfig(context.Background()))
	assert.Equal(t, types.OwnerUser, w.State().Config.Owner)
	assert.Equal(t, 0, f.asker.Remaining(prompt.KeyOwner))
}

func TestPrepareConfigUpdateFlags(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.configured(t)
	f.asker.Add(prompt.KeyToken, "fresh")

	w := f.workflow(t, func(o *Options) { o.Update = Update{Token: true} })
	require.NoError(t, w.prepareConfig(context.Background()))

	assert.Equal(t, []string{prompt.KeyToken}, f.asker.Asked())
	assert.Equal(t, "fresh", f.host.Token())
	cfg, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "fresh", cfg.Token)
}

func TestPrepareConfigUnknownPlatformReprompts(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.configured(t)
	require.NoError(t, f.store.Save(types.KeyPlatform, "BITBUCKET"))
	f.asker.Add(prompt.KeyPlatform, "FAKE")

	w := f.workflow(t)
	require.NoError(t, w.prepareConfig(context.Background()))
	assert.Equal(t, "FAKE", w.State().Config.Platform)
}

func TestPrepareConfigAuthErrors(t *testing.T) {
	t.Run("no user", func(t *testing.T) {
		f := newFixture(t, "1.0.0")
		f.configured(t)
		f.host.User = nil

		err := f.workflow(t).Run(context.Background())
		assert.True(t, host.IsAuthError(err))
		assert.ErrorContains(t, err, "ConfigPrepare: ")
	})

	t.Run("rejected token", func(t *testing.T) {
		f := newFixture(t, "1.0.0")
		f.configured(t)
		f.host.ErrUserInfo = &host.AuthError{Platform: "FAKE", Op: "get user", StatusCode: 401, Message: "Bad credentials"}

		err := f.workflow(t).Run(context.Background())
		assert.True(t, host.IsAuthError(err))
	})
}

func TestRunPromptCancelledIsUserAbort(t *testing.T) {
	f := newFixture(t, "1.0.0")
	w := f.workflow(t, func(o *Options) { o.Asker = cancelAsker{} })

	err := w.Run(context.Background())
	assert.True(t, IsUserAbort(err))
	assert.ErrorIs(t, err, prompt.ErrAborted)
}

func TestRunLock(t *testing.T) {
	t.Run("held", func(t *testing.T) {
		f := newFixture(t, "1.0.0")
		lock := &fakeLock{err: errors.New("another release is already running")}
		err := f.workflow(t, func(o *Options) { o.Lock = lock }).Run(context.Background())
		assert.ErrorContains(t, err, "another release is already running")
		assert.Empty(t, f.asker.Asked())
	})

	t.Run("waits when asked", func(t *testing.T) {
		f := newFixture(t, "1.0.0")
		lock := &fakeLock{}
		_ = f.workflow(t, func(o *Options) {
			o.Lock = lock
			o.LockWait = 2 * time.Second
		}).Run(context.Background())
		assert.Equal(t, 2*time.Second, lock.waited)
		assert.Equal(t, 1, lock.acquired)
	})

	t.Run("released after failure", func(t *testing.T) {
		f := newFixture(t, "1.0.0")
		lock := &fakeLock{}
		err := f.workflow(t, func(o *Options) { o.Lock = lock }).Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, 1, lock.acquired)
		assert.Equal(t, 1, lock.released)
	})
}

type cancelAsker struct{}

func (cancelAsker) Select(context.Context, prompt.Select) (string, error) {
	return "", prompt.ErrAborted
}

func (cancelAsker) Input(context.Context, prompt.Input) (string, error) {
	return "", prompt.ErrAborted
}

func (cancelAsker) Confirm(context.Context, prompt.Confirm) (bool, error) {
	return false, prompt.ErrAborted
}
