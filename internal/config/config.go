// Package config holds shipyard's tool settings.
//
// Settings are resolved by viper in this order: explicit Set calls (CLI
// flags), SHIPYARD_* environment variables, <cli-home>/config.yaml, and
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Setting keys.
const (
	KeyCLIHome        = "cli-home"
	KeyBuildServer    = "build.server"
	KeyBuildCommand   = "build.command"
	KeyConnectTimeout = "build.connect-timeout"
	KeyConnectRetries = "build.connect-retries"
	KeyTrunk          = "git.trunk"
	KeyRemote         = "git.remote"
	KeyVerbose        = "verbose"
	KeyQuiet          = "quiet"
)

// DefaultCLIHomeName is the directory under the user's home that holds the
// repository config cache and run locks.
const DefaultCLIHomeName = ".shipyard"

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup, after LoadDotenv.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SHIPYARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	v.SetDefault(KeyCLIHome, filepath.Join(home, DefaultCLIHomeName))
	v.SetDefault(KeyBuildServer, "http://localhost:3000")
	v.SetDefault(KeyBuildCommand, "npm run build")
	v.SetDefault(KeyConnectTimeout, 5*time.Second)
	v.SetDefault(KeyConnectRetries, 0)
	v.SetDefault(KeyTrunk, "master")
	v.SetDefault(KeyRemote, "origin")
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyQuiet, false)

	configPath := filepath.Join(CLIHome(), "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
	}

	return nil
}

// ResetForTesting clears the viper singleton so the next Initialize starts
// from scratch.
func ResetForTesting() {
	v = nil
}

// CLIHome returns the directory holding shipyard's cached state.
// A relative value is resolved against the user's home directory.
func CLIHome() string {
	dir := GetString(KeyCLIHome)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultCLIHomeName
		}
		return filepath.Join(home, DefaultCLIHomeName)
	}
	if strings.HasPrefix(dir, "~"+string(filepath.Separator)) || dir == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	if !filepath.IsAbs(dir) {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir)
		}
	}
	return dir
}

// ConfigFileUsed returns the config file viper loaded, or "" if none.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value, taking precedence over env and file.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}
