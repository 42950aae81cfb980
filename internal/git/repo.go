// Package git drives the git executable for one working directory.
//
// Every method shells out to `git -C <dir>`; failures are returned as *Error
// with the captured output. Nothing is retried.
package git

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Repo is a working directory managed through git.
type Repo struct {
	dir string
}

// Remote is a configured remote.
type Remote struct {
	Name string
	URL  string
}

// Open returns a Repo for dir. The directory need not be a repository yet.
func Open(dir string) *Repo {
	return &Repo{dir: dir}
}

// Dir returns the working directory.
func (r *Repo) Dir() string {
	return r.dir
}

// output runs git and returns trimmed stdout.
func (r *Repo) output(ctx context.Context, op string, args ...string) (string, error) {
	out, err := r.raw(ctx, op, args...)
	return strings.TrimSpace(out), err
}

func (r *Repo) raw(ctx context.Context, op string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.dir}, args...)...) // #nosec G204 - fixed git subcommands
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		combined := strings.TrimSpace(stderr.String() + "\n" + stdout.String())
		return "", &Error{Op: op, Args: args, Output: combined, Err: err}
	}
	return stdout.String(), nil
}

// AddRemote registers a remote.
func (r *Repo) AddRemote(ctx context.Context, name, url string) error {
	_, err := r.output(ctx, "remote add", "remote", "add", name, url)
	return err
}

// Remotes lists configured remotes, one entry per name.
func (r *Repo) Remotes(ctx context.Context) ([]Remote, error) {
	out, err := r.output(ctx, "remote", "remote", "-v")
	if err != nil {
		return nil, err
	}
	var remotes []Remote
	seen := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || seen[fields[0]] {
			continue
		}
		seen[fields[0]] = true
		remotes = append(remotes, Remote{Name: fields[0], URL: fields[1]})
	}
	return remotes, nil
}

// Commit stages paths (including deletions) and commits them. No paths is a
// no-op.
func (r *Repo) Commit(ctx context.Context, paths []string, message string) error {
	if len(paths) == 0 {
		return nil
	}
	var present, missing []string
	for _, p := range paths {
		if _, err := os.Lstat(filepath.Join(r.dir, p)); err == nil {
			present = append(present, p)
		} else {
			missing = append(missing, p)
		}
	}
	if len(present) > 0 {
		args := append([]string{"add", "-A", "--"}, present...)
		if _, err := r.output(ctx, "add", args...); err != nil {
			return err
		}
	}
	// Deleted paths may already be gone from the index, where add would
	// reject the pathspec.
	if len(missing) > 0 {
		args := append([]string{"rm", "-r", "-q", "--cached", "--ignore-unmatch", "--"}, missing...)
		if _, err := r.output(ctx, "add", args...); err != nil {
			return err
		}
	}
	_, err := r.output(ctx, "commit", "commit", "-m", message)
	return err
}

// LocalBranches lists local branch names.
func (r *Repo) LocalBranches(ctx context.Context) ([]string, error) {
	out, err := r.output(ctx, "branch", "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// CurrentBranch returns the checked-out branch name. On an unborn branch it
// returns the branch HEAD points at.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	name, err := r.output(ctx, "current branch", "rev-parse", "--abbrev-ref", "HEAD")
	if err == nil {
		return name, nil
	}
	ref, refErr := r.output(ctx, "current branch", "symbolic-ref", "--short", "HEAD")
	if refErr != nil {
		return "", err
	}
	return ref, nil
}

// Checkout switches to an existing branch.
func (r *Repo) Checkout(ctx context.Context, branch string) error {
	_, err := r.output(ctx, "checkout", "checkout", branch)
	return err
}

// CheckoutNew creates branch from HEAD and switches to it.
func (r *Repo) CheckoutNew(ctx context.Context, branch string) error {
	_, err := r.output(ctx, "checkout", "checkout", "-b", branch)
	return err
}

// DeleteLocalBranch deletes a fully merged local branch.
func (r *Repo) DeleteLocalBranch(ctx context.Context, branch string) error {
	_, err := r.output(ctx, "delete branch", "branch", "-d", branch)
	return err
}

// Pull merges remote/branch into the current branch. Extra options such as
// --allow-unrelated-histories go before the remote.
func (r *Repo) Pull(ctx context.Context, remote, branch string, opts ...string) error {
	args := []string{"pull", "--no-rebase", "--no-edit"}
	args = append(args, opts...)
	args = append(args, remote, branch)
	_, err := r.output(ctx, "pull", args...)
	return err
}

// Push pushes ref to remote. "--delete" in opts removes a remote branch and
// a ":refs/tags/<t>" ref removes a remote tag.
func (r *Repo) Push(ctx context.Context, remote, ref string, opts ...string) error {
	args := append([]string{"push"}, opts...)
	args = append(args, remote, ref)
	_, err := r.output(ctx, "push", args...)
	return err
}

// ListRemoteRefs returns the full ref names advertised by remote, e.g.
// "refs/heads/master" and "refs/tags/release/1.0.0".
func (r *Repo) ListRemoteRefs(ctx context.Context, remote string) ([]string, error) {
	out, err := r.output(ctx, "ls-remote", "ls-remote", "--refs", remote)
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, line := range splitLines(out) {
		if i := strings.IndexByte(line, '\t'); i >= 0 {
			refs = append(refs, line[i+1:])
		}
	}
	sort.Strings(refs)
	return refs, nil
}

// Tags lists local tags.
func (r *Repo) Tags(ctx context.Context) ([]string, error) {
	out, err := r.output(ctx, "tag", "tag", "--list")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// AddTag creates a lightweight tag at HEAD.
func (r *Repo) AddTag(ctx context.Context, name string) error {
	_, err := r.output(ctx, "tag", "tag", name)
	return err
}

// DeleteTag deletes a local tag.
func (r *Repo) DeleteTag(ctx context.Context, name string) error {
	_, err := r.output(ctx, "delete tag", "tag", "-d", name)
	return err
}

// Merge checks out destination and merges source into it.
func (r *Repo) Merge(ctx context.Context, source, destination string) error {
	if err := r.Checkout(ctx, destination); err != nil {
		return err
	}
	_, err := r.output(ctx, "merge", "merge", "--no-edit", source)
	return err
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
