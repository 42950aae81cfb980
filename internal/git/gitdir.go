package git

import (
	"context"
	"os"
	"path/filepath"
)

// IsRepo reports whether the working directory already holds a repository.
// A .git file (worktree or submodule) counts as well as a .git directory.
func (r *Repo) IsRepo() bool {
	_, err := os.Stat(filepath.Join(r.dir, ".git"))
	return err == nil
}

// Init creates a repository whose unborn HEAD points at trunk.
func (r *Repo) Init(ctx context.Context, trunk string) error {
	if _, err := r.output(ctx, "init", "init"); err != nil {
		return err
	}
	_, err := r.output(ctx, "init", "symbolic-ref", "HEAD", "refs/heads/"+trunk)
	return err
}
