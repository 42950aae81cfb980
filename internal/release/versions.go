package release

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Branch and tag prefixes.
const (
	DevPrefix     = "dev/"
	ReleasePrefix = "release/"

	headsRef       = "refs/heads/"
	releaseTagsRef = "refs/tags/" + ReleasePrefix
)

// Bump names a semantic version increment.
type Bump string

const (
	BumpPatch Bump = "patch"
	BumpMinor Bump = "minor"
	BumpMajor Bump = "major"
)

// Bumps lists the increments in the order they are offered.
var Bumps = []Bump{BumpPatch, BumpMinor, BumpMajor}

// Apply returns v incremented by b.
func (b Bump) Apply(v *semver.Version) (*semver.Version, error) {
	var next semver.Version
	switch b {
	case BumpPatch:
		next = v.IncPatch()
	case BumpMinor:
		next = v.IncMinor()
	case BumpMajor:
		next = v.IncMajor()
	default:
		return nil, fmt.Errorf("unknown version bump %q", b)
	}
	return &next, nil
}

// DevBranch returns the development branch for version.
func DevBranch(version string) string { return DevPrefix + version }

// ReleaseTag returns the release tag for version.
func ReleaseTag(version string) string { return ReleasePrefix + version }

// ReleaseVersions extracts the versions of release tags from remote ref
// names, highest first. Tags whose suffix is not a version are skipped.
func ReleaseVersions(refs []string) []*semver.Version {
	var versions []*semver.Version
	for _, ref := range refs {
		raw, ok := strings.CutPrefix(ref, releaseTagsRef)
		if !ok {
			continue
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Sort(sort.Reverse(semver.Collection(versions)))
	return versions
}

// Derivation is the outcome of comparing the local version with the
// released ones.
type Derivation struct {
	Local  *semver.Version
	Latest *semver.Version // nil when nothing has been released
}

// NeedsBump reports whether the local version is behind the latest release.
func (d Derivation) NeedsBump() bool {
	return d.Latest != nil && d.Local.LessThan(d.Latest)
}

// Derive compares local against the release tags found in refs.
func Derive(local string, refs []string) (Derivation, error) {
	v, err := semver.NewVersion(local)
	if err != nil {
		return Derivation{}, &ConfigError{Msg: fmt.Sprintf("version %q is not a semantic version", local), Err: err}
	}
	d := Derivation{Local: v}
	if versions := ReleaseVersions(refs); len(versions) > 0 {
		d.Latest = versions[0]
	}
	return d, nil
}

func headRef(branch string) string { return headsRef + branch }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
