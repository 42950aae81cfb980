// Package types defines the core data structures shared by shipyard packages.
package types

import (
	"fmt"
	"strings"
)

// Project describes the local project being released. It is read once from
// package.json at the start of a run and never mutated.
type Project struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	BuildScript string `json:"build_script"` // scripts.build entry from package.json
	Dir         string `json:"dir"`          // absolute working directory
}

// String returns the name@version form used by the build service.
func (p *Project) String() string {
	return p.Name + "@" + p.Version
}

// OwnerKind selects the namespace a remote repository lives under.
type OwnerKind string

// Owner kinds, persisted verbatim as GIT_OWNER.
const (
	OwnerUser OwnerKind = "USER" // personal account
	OwnerOrg  OwnerKind = "ORG"  // organization namespace
)

// IsValid checks if the owner kind is one of the known values.
func (k OwnerKind) IsValid() bool {
	switch k {
	case OwnerUser, OwnerOrg:
		return true
	}
	return false
}

// Label returns the lowercase form shown in prompts.
func (k OwnerKind) Label() string {
	return strings.ToLower(string(k))
}

// Repository config keys persisted in the cache file.
const (
	KeyPlatform = "GIT_PLATFORM"
	KeyToken    = "GIT_TOKEN"
	KeyOwner    = "GIT_OWNER"
	KeyUserName = "GIT_USER_NAME"
)

// RepositoryKeys lists the recognized repository config keys in display order.
var RepositoryKeys = []string{KeyPlatform, KeyToken, KeyOwner, KeyUserName}

// RepositoryConfig holds the hosting settings cached between runs.
// Fields missing from the cache file are left empty, not defaulted.
type RepositoryConfig struct {
	Platform string    // hosting platform identifier, e.g. "GITHUB"
	Token    string    // personal access token
	Owner    OwnerKind // USER or ORG
	UserName string    // owner login the repository is created under
}

// Get returns the value stored for a repository config key.
func (c *RepositoryConfig) Get(key string) (string, error) {
	switch key {
	case KeyPlatform:
		return c.Platform, nil
	case KeyToken:
		return c.Token, nil
	case KeyOwner:
		return string(c.Owner), nil
	case KeyUserName:
		return c.UserName, nil
	}
	return "", fmt.Errorf("unknown repository config key %q", key)
}

// Set assigns the value for a repository config key.
func (c *RepositoryConfig) Set(key, value string) error {
	switch key {
	case KeyPlatform:
		c.Platform = value
	case KeyToken:
		c.Token = value
	case KeyOwner:
		c.Owner = OwnerKind(value)
	case KeyUserName:
		c.UserName = value
	default:
		return fmt.Errorf("unknown repository config key %q", key)
	}
	return nil
}

// IsRepositoryKey reports whether key is one of the recognized config keys.
func IsRepositoryKey(key string) bool {
	for _, k := range RepositoryKeys {
		if k == key {
			return true
		}
	}
	return false
}
