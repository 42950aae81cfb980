package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shipyard-cli/shipyard/internal/config"
	"github.com/shipyard-cli/shipyard/internal/host"
	"github.com/shipyard-cli/shipyard/internal/repoconfig"
	"github.com/shipyard-cli/shipyard/internal/types"
	"github.com/shipyard-cli/shipyard/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage cached repository settings",
	Long: `Manage the hosting settings cached between publish runs.

Settings live in <cli-home>/.git-info as KEY=VALUE lines:

  GIT_PLATFORM   hosting platform (see 'shipyard platforms')
  GIT_TOKEN      personal access token
  GIT_OWNER      USER or ORG
  GIT_USER_NAME  login the repository is created under

Examples:
  shipyard config list
  shipyard config set GIT_PLATFORM GITHUB
  shipyard config unset GIT_TOKEN`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached settings (token masked)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := repoconfig.Open(config.CLIHome())
		if err != nil {
			return err
		}
		return listConfig(cmd.OutOrStdout(), store)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one cached setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := repoconfig.Open(config.CLIHome())
		if err != nil {
			return err
		}
		return getConfig(cmd.OutOrStdout(), store, args[0])
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a cached setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := repoconfig.Open(config.CLIHome())
		if err != nil {
			return err
		}
		return setConfig(cmd.OutOrStdout(), store, host.Default(), args[0], args[1])
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a cached setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := repoconfig.Open(config.CLIHome())
		if err != nil {
			return err
		}
		return unsetConfig(cmd.OutOrStdout(), store, args[0])
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

func listConfig(w io.Writer, store *repoconfig.Store) error {
	values, err := store.Values()
	if err != nil {
		return err
	}
	if len(values) == 0 {
		fmt.Fprintf(w, "%s No settings cached in %s\n", ui.RenderInfoIcon(), store.Path())
		return nil
	}

	// Known keys first, in their usual order, then anything else.
	keys := make([]string, 0, len(values))
	for _, k := range types.RepositoryKeys {
		if _, ok := values[k]; ok {
			keys = append(keys, k)
		}
	}
	var extra []string
	for k := range values {
		if !types.IsRepositoryKey(k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	for _, k := range keys {
		val := values[k]
		if k == types.KeyToken {
			val = ui.MaskSecret(val)
		}
		fmt.Fprintf(w, "%-14s %s\n", k, val)
	}
	fmt.Fprintln(w, ui.RenderMuted(store.Path()))
	return nil
}

func getConfig(w io.Writer, store *repoconfig.Store, key string) error {
	values, err := store.Values()
	if err != nil {
		return err
	}
	val, ok := values[key]
	if !ok {
		return fmt.Errorf("%s is not set", key)
	}
	fmt.Fprintln(w, val)
	return nil
}

func setConfig(w io.Writer, store *repoconfig.Store, hosts *host.Registry, key, value string) error {
	if !types.IsRepositoryKey(key) {
		return fmt.Errorf("unknown key %q (valid keys: %s)", key, strings.Join(types.RepositoryKeys, ", "))
	}
	switch key {
	case types.KeyPlatform:
		if !hosts.IsRegistered(value) {
			return fmt.Errorf("unknown platform %q (available: %s)", value, strings.Join(hosts.List(), ", "))
		}
	case types.KeyOwner:
		if !types.OwnerKind(value).IsValid() {
			return fmt.Errorf("invalid owner %q (expected %s or %s)", value, types.OwnerUser, types.OwnerOrg)
		}
	}
	if err := store.Save(key, value); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s Set %s\n", ui.RenderPassIcon(), key)
	return nil
}

func unsetConfig(w io.Writer, store *repoconfig.Store, key string) error {
	if err := store.Unset(key); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s Unset %s\n", ui.RenderPassIcon(), key)
	return nil
}
