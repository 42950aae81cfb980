// Package project reads the package.json descriptor of the project being
// released and rewrites its version.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/shipyard-cli/shipyard/internal/types"
)

// FileName is the descriptor file inside the project directory.
const FileName = "package.json"

// ErrNotFound is returned when the directory has no package.json.
var ErrNotFound = errors.New("package.json not found")

// InvalidError describes a package.json that cannot drive a release.
type InvalidError struct {
	Path   string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Load reads <dir>/package.json. name, version and scripts.build must all
// be present.
func Load(dir string) (*types.Project, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(absDir, FileName)
	data, err := os.ReadFile(path) // #nosec G304 - project descriptor
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w in %s", ErrNotFound, absDir)
		}
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, &InvalidError{Path: path, Reason: "invalid JSON"}
	}

	doc := gjson.ParseBytes(data)
	p := &types.Project{
		Name:        doc.Get("name").String(),
		Version:     doc.Get("version").String(),
		BuildScript: doc.Get("scripts.build").String(),
		Dir:         absDir,
	}
	switch {
	case p.Name == "":
		return nil, &InvalidError{Path: path, Reason: "missing name"}
	case p.Version == "":
		return nil, &InvalidError{Path: path, Reason: "missing version"}
	case !doc.Get("scripts.build").Exists():
		return nil, &InvalidError{Path: path, Reason: "missing scripts.build"}
	}
	return p, nil
}

// SetVersion rewrites the version field of <dir>/package.json in place.
// Key order, formatting and every other field are preserved.
func SetVersion(dir, version string) error {
	path := filepath.Join(dir, FileName)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path) // #nosec G304 - project descriptor
	if err != nil {
		return err
	}
	updated, err := sjson.SetBytes(data, "version", version)
	if err != nil {
		return fmt.Errorf("updating version in %s: %w", path, err)
	}
	return os.WriteFile(path, updated, info.Mode().Perm())
}
