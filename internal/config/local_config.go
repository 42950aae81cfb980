package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProjectConfigFile is the optional per-project settings file.
const ProjectConfigFile = ".shipyard.yaml"

// ProjectConfig holds the per-project overrides read from .shipyard.yaml.
// Empty fields fall back to the global settings.
type ProjectConfig struct {
	BuildCommand string `yaml:"build-command"`
	BuildServer  string `yaml:"build-server"`
	Trunk        string `yaml:"trunk"`
	Remote       string `yaml:"remote"`
}

// LoadProjectConfig reads .shipyard.yaml from the project directory.
//
// Returns an empty ProjectConfig (not nil) if the file doesn't exist.
// A file that exists but does not parse is an error.
func LoadProjectConfig(dir string) (*ProjectConfig, error) {
	path := filepath.Join(dir, ProjectConfigFile)
	data, err := os.ReadFile(path) // #nosec G304 - path is inside the project dir
	if err != nil {
		if os.IsNotExist(err) {
			return &ProjectConfig{}, nil
		}
		return nil, err
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Apply copies the non-empty project overrides into the viper settings.
func (c *ProjectConfig) Apply() {
	if c == nil {
		return
	}
	if c.BuildCommand != "" {
		Set(KeyBuildCommand, c.BuildCommand)
	}
	if c.BuildServer != "" {
		Set(KeyBuildServer, c.BuildServer)
	}
	if c.Trunk != "" {
		Set(KeyTrunk, c.Trunk)
	}
	if c.Remote != "" {
		Set(KeyRemote, c.Remote)
	}
}
