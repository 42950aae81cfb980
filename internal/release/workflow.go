// Package release runs the publish workflow: it prepares hosting settings,
// syncs a dev branch derived from the release history, dispatches a remote
// build and promotes the result into trunk.
package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shipyard-cli/shipyard/internal/cloudbuild"
	"github.com/shipyard-cli/shipyard/internal/debug"
	"github.com/shipyard-cli/shipyard/internal/git"
	"github.com/shipyard-cli/shipyard/internal/host"
	"github.com/shipyard-cli/shipyard/internal/project"
	"github.com/shipyard-cli/shipyard/internal/prompt"
	"github.com/shipyard-cli/shipyard/internal/telemetry"
	"github.com/shipyard-cli/shipyard/internal/types"
	"github.com/shipyard-cli/shipyard/internal/ui"
)

// Stage names, in execution order.
const (
	StageConfigPrepare    = "ConfigPrepare"
	StageRepositoryEnsure = "RepositoryEnsure"
	StageLocalGitInit     = "LocalGitInit"
	StageInitialSync      = "InitialSync"
	StageBranchDerive     = "BranchDerive"
	StageBranchSync       = "BranchSync"
	StageBuildDispatch    = "BuildDispatch"
	StagePromote          = "Promote"
)

const (
	DefaultTrunk        = "master"
	DefaultRemote       = "origin"
	DefaultBuildCommand = "npm run build"
)

// gitignoreEntries are written to a new project's .gitignore.
var gitignoreEntries = []string{"node_modules", ".vscode", ".env.*", "dist"}

// allowedBuildTools are the executables a build command may start with.
var allowedBuildTools = []string{"npm", "cnpm"}

// Update forces re-prompting for cached settings.
type Update struct {
	Platform bool
	Token    bool
	Owner    bool
}

// Options configures a Workflow. Everything the workflow reads from the
// environment arrives here.
type Options struct {
	Dir          string // project directory
	Trunk        string
	Remote       string
	BuildCommand string
	Update       Update

	Store       ConfigStore
	Hosts       *host.Registry // defaults to host.Default()
	HostOptions host.Options
	VCS         VCS // defaults to git.Open(Dir)
	Asker       prompt.Asker
	Builder     Builder
	Artifacts   ArtifactChecker
	Lock        Locker // optional

	// LockWait is how long to wait for a held lock; zero fails at once.
	LockWait time.Duration

	// Out receives progress lines; nil discards them.
	Out io.Writer
}

// State is what the workflow has resolved so far.
type State struct {
	Project   *types.Project
	Config    *types.RepositoryConfig
	User      *host.User
	RemoteURL string
	Version   string
	DevBranch string
	Bumped    bool
}

// StageTiming records how one stage went.
type StageTiming struct {
	Stage    string
	Duration time.Duration
	Err      error
}

// Workflow is a single publish run. It is not reusable.
type Workflow struct {
	opts    Options
	vcs     VCS
	hosts   *host.Registry
	out     io.Writer
	client  host.Client
	state   State
	timings []StageTiming
}

// New validates opts and loads the project descriptor.
func New(opts Options) (*Workflow, error) {
	if opts.Dir == "" {
		return nil, &ConfigError{Msg: "project directory is required"}
	}
	switch {
	case opts.Store == nil:
		return nil, &ConfigError{Msg: "repository config store is required"}
	case opts.Asker == nil:
		return nil, &ConfigError{Msg: "prompt asker is required"}
	case opts.Builder == nil:
		return nil, &ConfigError{Msg: "builder is required"}
	case opts.Artifacts == nil:
		return nil, &ConfigError{Msg: "artifact checker is required"}
	}
	if opts.Trunk == "" {
		opts.Trunk = DefaultTrunk
	}
	if opts.Remote == "" {
		opts.Remote = DefaultRemote
	}
	if strings.TrimSpace(opts.BuildCommand) == "" {
		opts.BuildCommand = DefaultBuildCommand
	}

	proj, err := project.Load(opts.Dir)
	if err != nil {
		return nil, &ConfigError{Msg: "cannot load project", Err: err}
	}

	w := &Workflow{
		opts:  opts,
		vcs:   opts.VCS,
		hosts: opts.Hosts,
		out:   opts.Out,
		state: State{Project: proj, Version: proj.Version},
	}
	if w.vcs == nil {
		w.vcs = git.Open(proj.Dir)
	}
	if w.hosts == nil {
		w.hosts = host.Default()
	}
	if w.out == nil {
		w.out = io.Discard
	}
	return w, nil
}

// State returns the resolved workflow state.
func (w *Workflow) State() State { return w.state }

// Timings returns the stages run so far.
func (w *Workflow) Timings() []StageTiming { return w.timings }

type stage struct {
	name string
	run  func(context.Context) error
}

func (w *Workflow) stages() []stage {
	return []stage{
		{StageConfigPrepare, w.prepareConfig},
		{StageRepositoryEnsure, w.ensureRepository},
		{StageLocalGitInit, w.initLocal},
		{StageInitialSync, w.initialSync},
		{StageBranchDerive, w.deriveBranch},
		{StageBranchSync, w.syncBranch},
		{StageBuildDispatch, w.dispatchBuild},
		{StagePromote, w.promote},
	}
}

// Run executes every stage in order and stops at the first failure, which
// is returned as a *StageError.
func (w *Workflow) Run(ctx context.Context) error {
	if w.opts.Lock != nil {
		if err := w.acquireLock(ctx); err != nil {
			return &StageError{Stage: "Lock", Err: err}
		}
		defer func() {
			if err := w.opts.Lock.Release(); err != nil {
				debug.Logf("release lock: %v\n", err)
			}
		}()
	}

	rec := telemetry.NewStageRecorder(w.state.Project.Name, w.state.Project.Version)
	for _, s := range w.stages() {
		fmt.Fprintln(w.out, ui.RenderStage(s.name))
		stageCtx, end := rec.Start(ctx, s.name)
		start := time.Now()
		err := asAbort(s.run(stageCtx))
		end(err)
		w.timings = append(w.timings, StageTiming{Stage: s.name, Duration: time.Since(start), Err: err})
		if err != nil {
			debug.LogEvent("STAGE_FAILED", s.name, err.Error())
			return &StageError{Stage: s.name, Err: err}
		}
		debug.LogEvent("STAGE_DONE", s.name, w.state.Project.String())
	}
	fmt.Fprintln(w.out, ui.RenderPass(fmt.Sprintf("%s Published %s@%s", ui.IconPass, w.state.Project.Name, w.state.Version)))
	return nil
}

func (w *Workflow) acquireLock(ctx context.Context) error {
	if w.opts.LockWait > 0 {
		return w.opts.Lock.Acquire(ctx, w.opts.LockWait)
	}
	return w.opts.Lock.TryAcquire()
}

func (w *Workflow) step(format string, args ...interface{}) {
	fmt.Fprintln(w.out, ui.RenderStep(format, args...))
}

func (w *Workflow) warn(format string, args ...interface{}) {
	fmt.Fprintln(w.out, ui.RenderWarning(format, args...))
}

// prepareConfig resolves platform, token and owner, prompting for anything
// missing or flagged for update, and authenticates the client.
func (w *Workflow) prepareConfig(ctx context.Context) error {
	cfg, err := w.opts.Store.Load()
	if err != nil {
		return &ConfigError{Msg: "cannot read repository config", Err: err}
	}
	w.state.Config = cfg

	if cfg.Platform == "" || w.opts.Update.Platform || !w.hosts.IsRegistered(cfg.Platform) {
		platform, err := w.askPlatform(ctx, cfg.Platform)
		if err != nil {
			return err
		}
		if err := w.save(types.KeyPlatform, platform); err != nil {
			return err
		}
	}

	client, err := w.hosts.New(cfg.Platform, w.opts.HostOptions)
	if err != nil {
		return &ConfigError{Msg: "cannot create hosting client", Err: err}
	}
	w.client = client
	w.step("platform %s", client.DisplayName())

	if cfg.Token == "" || w.opts.Update.Token {
		token, err := w.opts.Asker.Input(ctx, prompt.Input{
			Key:         prompt.KeyToken,
			Title:       fmt.Sprintf("%s access token", client.DisplayName()),
			Description: "Create one at " + client.TokenURL(),
			Secret:      true,
			Validate:    notBlank("token"),
		})
		if err != nil {
			return err
		}
		if err := w.save(types.KeyToken, strings.TrimSpace(token)); err != nil {
			return err
		}
	}
	client.Authenticate(cfg.Token)

	user, err := client.UserInfo(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		return &host.AuthError{Platform: client.Name(), Op: "get user", Message: "no user for this token"}
	}
	w.state.User = user
	w.step("signed in as %s", user.Login)

	orgs, err := client.OrgMemberships(ctx, user.Login)
	if err != nil {
		return err
	}

	if !cfg.Owner.IsValid() || w.opts.Update.Owner {
		kind, err := w.askOwnerKind(ctx, cfg.Owner, len(orgs) > 0)
		if err != nil {
			return err
		}
		if err := w.save(types.KeyOwner, string(kind)); err != nil {
			return err
		}
		cfg.UserName = ""
	}

	login := cfg.UserName
	switch cfg.Owner {
	case types.OwnerUser:
		login = user.Login
	case types.OwnerOrg:
		if login == "" || !hasOrg(orgs, login) {
			if len(orgs) == 0 {
				return &ConfigError{Msg: fmt.Sprintf("%s is not a member of any organization; run with --update-owner", user.Login)}
			}
			login, err = w.askOrg(ctx, orgs, login)
			if err != nil {
				return err
			}
		}
	}
	if login != cfg.UserName {
		if err := w.save(types.KeyUserName, login); err != nil {
			return err
		}
	}
	w.step("owner %s (%s)", cfg.UserName, cfg.Owner.Label())
	return nil
}

func (w *Workflow) askPlatform(ctx context.Context, current string) (string, error) {
	names := w.hosts.List()
	if len(names) == 0 {
		return "", &ConfigError{Msg: "no hosting platforms registered"}
	}
	options := make([]prompt.Option, 0, len(names))
	for _, name := range names {
		label := name
		if c, err := w.hosts.New(name, w.opts.HostOptions); err == nil {
			label = c.DisplayName()
		}
		options = append(options, prompt.Option{Label: label, Value: name})
	}
	return w.opts.Asker.Select(ctx, prompt.Select{
		Key:     prompt.KeyPlatform,
		Title:   "Git hosting platform",
		Options: options,
		Default: current,
	})
}

func (w *Workflow) askOwnerKind(ctx context.Context, current types.OwnerKind, withOrgs bool) (types.OwnerKind, error) {
	options := []prompt.Option{{Label: "Personal account", Value: string(types.OwnerUser)}}
	if withOrgs {
		options = append(options, prompt.Option{Label: "Organization", Value: string(types.OwnerOrg)})
	}
	kind, err := w.opts.Asker.Select(ctx, prompt.Select{
		Key:     prompt.KeyOwner,
		Title:   "Repository owner",
		Options: options,
		Default: string(current),
	})
	return types.OwnerKind(kind), err
}

func (w *Workflow) askOrg(ctx context.Context, orgs []host.Org, current string) (string, error) {
	options := make([]prompt.Option, 0, len(orgs))
	for _, o := range orgs {
		label := o.Login
		if o.Name != "" && o.Name != o.Login {
			label = fmt.Sprintf("%s (%s)", o.Login, o.Name)
		}
		options = append(options, prompt.Option{Label: label, Value: o.Login})
	}
	return w.opts.Asker.Select(ctx, prompt.Select{
		Key:     prompt.KeyOrg,
		Title:   "Organization",
		Options: options,
		Default: current,
	})
}

// save persists one setting and mirrors it into the in-memory config.
func (w *Workflow) save(key, value string) error {
	if err := w.opts.Store.Save(key, value); err != nil {
		return &ConfigError{Msg: "cannot save " + key, Err: err}
	}
	return w.state.Config.Set(key, value)
}

func (w *Workflow) ensureRepository(ctx context.Context) error {
	cfg := w.state.Config
	name := w.state.Project.Name
	repo, err := w.client.Repository(ctx, cfg.UserName, name)
	if err != nil {
		return err
	}
	if repo == nil {
		repo, err = w.client.CreateRepository(ctx, cfg.UserName, name, cfg.Owner)
		if err != nil {
			return err
		}
		w.step("created repository %s/%s", cfg.UserName, name)
		debug.LogEvent("REPO_CREATED", cfg.UserName+"/"+name, cfg.Platform)
	} else {
		w.step("using repository %s/%s", cfg.UserName, name)
	}
	w.state.RemoteURL = w.client.RemoteURL(cfg.UserName, name)
	debug.Logf("remote url %s (html %s)\n", w.state.RemoteURL, repo.HTMLURL)
	return nil
}

func (w *Workflow) initLocal(ctx context.Context) error {
	if err := writeGitignore(w.state.Project.Dir); err != nil {
		return err
	}
	if !w.vcs.IsRepo() {
		if err := w.vcs.Init(ctx, w.opts.Trunk); err != nil {
			return err
		}
		w.step("initialized git repository")
	}

	remotes, err := w.vcs.Remotes(ctx)
	if err != nil {
		return err
	}
	for _, r := range remotes {
		if r.Name == w.opts.Remote {
			if r.URL != w.state.RemoteURL {
				w.warn("remote %s points at %s, but the build will clone %s", r.Name, r.URL, w.state.RemoteURL)
				debug.LogEvent("REMOTE_MISMATCH", r.Name, r.URL+" != "+w.state.RemoteURL)
			}
			return nil
		}
	}
	if err := w.vcs.AddRemote(ctx, w.opts.Remote, w.state.RemoteURL); err != nil {
		return err
	}
	w.step("added remote %s %s", w.opts.Remote, w.state.RemoteURL)
	return nil
}

func writeGitignore(dir string) error {
	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	content := strings.Join(gitignoreEntries, "\n") + "\n"
	// #nosec G306 -- .gitignore is committed and world-readable
	return os.WriteFile(path, []byte(content), 0644)
}

func (w *Workflow) initialSync(ctx context.Context) error {
	if err := w.commitPending(ctx); err != nil {
		return err
	}
	refs, err := w.vcs.ListRemoteRefs(ctx, w.opts.Remote)
	if err != nil {
		return err
	}
	if contains(refs, headRef(w.opts.Trunk)) {
		w.step("pulling %s/%s", w.opts.Remote, w.opts.Trunk)
		if err := w.vcs.Pull(ctx, w.opts.Remote, w.opts.Trunk, "--allow-unrelated-histories"); err != nil {
			return w.conflictOr(ctx, err)
		}
		return nil
	}
	cur, err := w.vcs.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if cur != w.opts.Trunk {
		return &ConfigError{Msg: fmt.Sprintf("%s/%s does not exist yet and HEAD is on %s; check out %s to publish it first", w.opts.Remote, w.opts.Trunk, cur, w.opts.Trunk)}
	}
	w.step("pushing %s to %s", w.opts.Trunk, w.opts.Remote)
	return w.vcs.Push(ctx, w.opts.Remote, w.opts.Trunk)
}

// commitPending fails on unmerged paths and commits everything else under a
// prompted message.
func (w *Workflow) commitPending(ctx context.Context) error {
	st, err := w.vcs.Status(ctx)
	if err != nil {
		return err
	}
	if st.HasConflicts() {
		return &ConflictError{Paths: st.Conflicted}
	}
	if st.IsClean() {
		return nil
	}
	pending := st.Pending()
	w.step("%d uncommitted change(s)", len(pending))
	msg, err := w.opts.Asker.Input(ctx, prompt.Input{
		Key:      prompt.KeyCommitMessage,
		Title:    "Commit message",
		Validate: notBlank("commit message"),
	})
	if err != nil {
		return err
	}
	return w.vcs.Commit(ctx, pending, strings.TrimSpace(msg))
}

// conflictOr turns a failed pull or merge into a ConflictError when it
// left unmerged paths behind.
func (w *Workflow) conflictOr(ctx context.Context, err error) error {
	st, serr := w.vcs.Status(ctx)
	if serr != nil || !st.HasConflicts() {
		return err
	}
	return &ConflictError{Paths: st.Conflicted, Err: err}
}

func (w *Workflow) deriveBranch(ctx context.Context) error {
	refs, err := w.vcs.ListRemoteRefs(ctx, w.opts.Remote)
	if err != nil {
		return err
	}
	d, err := Derive(w.state.Project.Version, refs)
	if err != nil {
		return err
	}

	version := w.state.Project.Version
	if d.NeedsBump() {
		w.step("local version %s is behind released %s", d.Local, d.Latest)
		next, err := w.askBump(ctx, d)
		if err != nil {
			return err
		}
		version = next
		if err := project.SetVersion(w.state.Project.Dir, version); err != nil {
			return err
		}
		w.state.Bumped = true
		debug.LogEvent("VERSION_BUMPED", w.state.Project.Name, d.Local.String()+" -> "+version)
	}
	w.state.Version = version
	w.state.DevBranch = DevBranch(version)
	w.step("dev branch %s", w.state.DevBranch)
	return nil
}

func (w *Workflow) askBump(ctx context.Context, d Derivation) (string, error) {
	options := make([]prompt.Option, 0, len(Bumps))
	for _, b := range Bumps {
		next, err := b.Apply(d.Latest)
		if err != nil {
			return "", err
		}
		options = append(options, prompt.Option{Label: fmt.Sprintf("%s (%s)", b, next), Value: string(b)})
	}
	answer, err := w.opts.Asker.Select(ctx, prompt.Select{
		Key:         prompt.KeyVersionBump,
		Title:       "Version bump",
		Description: fmt.Sprintf("Latest release is %s", d.Latest),
		Options:     options,
		Default:     string(BumpPatch),
	})
	if err != nil {
		return "", err
	}
	next, err := Bump(answer).Apply(d.Latest)
	if err != nil {
		return "", err
	}
	return next.String(), nil
}

func (w *Workflow) syncBranch(ctx context.Context) error {
	dev := w.state.DevBranch
	branches, err := w.vcs.LocalBranches(ctx)
	if err != nil {
		return err
	}
	if contains(branches, dev) {
		err = w.vcs.Checkout(ctx, dev)
	} else {
		err = w.vcs.CheckoutNew(ctx, dev)
	}
	if err != nil {
		return err
	}

	if err := w.commitPending(ctx); err != nil {
		return err
	}
	w.step("merging %s/%s into %s", w.opts.Remote, w.opts.Trunk, dev)
	if err := w.vcs.Pull(ctx, w.opts.Remote, w.opts.Trunk); err != nil {
		return w.conflictOr(ctx, err)
	}

	refs, err := w.vcs.ListRemoteRefs(ctx, w.opts.Remote)
	if err != nil {
		return err
	}
	if contains(refs, headRef(dev)) {
		w.step("pulling %s/%s", w.opts.Remote, dev)
		if err := w.vcs.Pull(ctx, w.opts.Remote, dev); err != nil {
			return w.conflictOr(ctx, err)
		}
	}
	w.step("pushing %s", dev)
	return w.vcs.Push(ctx, w.opts.Remote, dev)
}

func (w *Workflow) dispatchBuild(ctx context.Context) error {
	if err := checkBuildCommand(w.opts.BuildCommand); err != nil {
		return err
	}
	name, version := w.state.Project.Name, w.state.Version

	exists, err := w.opts.Artifacts.Exists(ctx, name, version)
	if err != nil {
		return fmt.Errorf("checking published artifacts: %w", err)
	}
	if exists {
		ok, err := w.opts.Asker.Confirm(ctx, prompt.Confirm{
			Key:   prompt.KeyOverwrite,
			Title: fmt.Sprintf("%s@%s is already published. Publish it again?", name, version),
		})
		if err != nil {
			return err
		}
		if !ok {
			return &UserAbortError{Reason: fmt.Sprintf("%s@%s is already published", name, version)}
		}
	}

	sess, err := w.opts.Builder.Open(ctx, cloudbuild.Request{
		Name:         name,
		Version:      version,
		RemoteURL:    w.state.RemoteURL,
		Branch:       w.state.DevBranch,
		BuildCommand: w.opts.BuildCommand,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			debug.Logf("close build session: %v\n", err)
		}
	}()
	w.step("building %s from %s", name+"@"+version, w.state.DevBranch)
	return sess.Run(ctx)
}

func checkBuildCommand(cmd string) error {
	fields := strings.Fields(cmd)
	if len(fields) == 0 || !contains(allowedBuildTools, fields[0]) {
		return &ConfigError{Msg: fmt.Sprintf("build command %q must start with %s", cmd, strings.Join(allowedBuildTools, " or "))}
	}
	return nil
}

// promote tags the dev branch, merges it into trunk and removes it. Stale
// copies of the tag are replaced, so running it twice for one version
// leaves the same tag and trunk.
func (w *Workflow) promote(ctx context.Context) error {
	remote, trunk, dev := w.opts.Remote, w.opts.Trunk, w.state.DevBranch
	tag := ReleaseTag(w.state.Version)
	tagRef := "refs/tags/" + tag

	refs, err := w.vcs.ListRemoteRefs(ctx, remote)
	if err != nil {
		return err
	}
	branches, err := w.vcs.LocalBranches(ctx)
	if err != nil {
		return err
	}
	devExists := contains(branches, dev)

	// Without a dev branch the version was already merged; tag trunk.
	target := trunk
	if devExists {
		target = dev
	}
	if err := w.vcs.Checkout(ctx, target); err != nil {
		return err
	}

	if contains(refs, tagRef) {
		if err := w.vcs.Push(ctx, remote, ":"+tagRef); err != nil {
			return err
		}
	}
	tags, err := w.vcs.Tags(ctx)
	if err != nil {
		return err
	}
	if contains(tags, tag) {
		if err := w.vcs.DeleteTag(ctx, tag); err != nil {
			return err
		}
	}
	if err := w.vcs.AddTag(ctx, tag); err != nil {
		return err
	}
	if err := w.vcs.Push(ctx, remote, tagRef); err != nil {
		return err
	}
	w.step("tagged %s", tag)

	if devExists {
		if err := w.vcs.Merge(ctx, dev, trunk); err != nil {
			return w.conflictOr(ctx, err)
		}
		if err := w.vcs.DeleteLocalBranch(ctx, dev); err != nil {
			return err
		}
	}
	if contains(refs, headRef(dev)) {
		if err := w.vcs.Push(ctx, remote, dev, "--delete"); err != nil {
			return err
		}
	}
	w.step("pushing %s", trunk)
	return w.vcs.Push(ctx, remote, trunk)
}

func hasOrg(orgs []host.Org, login string) bool {
	for _, o := range orgs {
		if o.Login == login {
			return true
		}
	}
	return false
}

func notBlank(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", what)
		}
		return nil
	}
}
