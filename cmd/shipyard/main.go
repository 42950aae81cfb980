package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipyard-cli/shipyard/internal/config"
	"github.com/shipyard-cli/shipyard/internal/debug"
	"github.com/shipyard-cli/shipyard/internal/telemetry"
	"github.com/shipyard-cli/shipyard/internal/ui"

	// Hosting platforms register themselves with the host registry.
	_ "github.com/shipyard-cli/shipyard/internal/host/gitee"
	_ "github.com/shipyard-cli/shipyard/internal/host/github"
)

var (
	verboseFlag bool // Enable verbose/debug output
	quietFlag   bool // Suppress non-essential output

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

// eventLogName is the audit trail written under the CLI home.
const eventLogName = "events.log"

var rootCmd = &cobra.Command{
	Use:   "shipyard",
	Short: "shipyard - publish npm projects through git hosting and cloud build",
	Long: `shipyard pushes the project in the current directory to its git host,
builds it on the cloud build service and tags the release.

Hosting credentials are cached in <cli-home>/.git-info; tool settings come
from SHIPYARD_* environment variables, ~/.env and <cli-home>/config.yaml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupSignalContext()
		if err := initConfig(); err != nil {
			return err
		}
		applyVerbosityFlags(cmd)
		ui.ApplyColorProfile()
		debug.SetEventLog(filepath.Join(config.CLIHome(), eventLogName))
		if err := telemetry.Init(rootCtx, telemetry.SettingsFromEnv("shipyard", Version)); err != nil {
			WarnError("telemetry disabled: %v", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdown()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")

	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(platformsCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupSignalContext() {
	if rootCtx != nil {
		return
	}
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// initConfig loads ~/.env before viper so SHIPYARD_* values set there are
// visible to it.
func initConfig() error {
	if home, err := os.UserHomeDir(); err == nil {
		if err := config.LoadDotenv(home); err != nil {
			WarnError("failed to load %s: %v", filepath.Join(home, ".env"), err)
		}
	}
	return config.Initialize()
}

func applyVerbosityFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("verbose") {
		config.Set(config.KeyVerbose, verboseFlag)
	}
	if cmd.Flags().Changed("quiet") {
		config.Set(config.KeyQuiet, quietFlag)
	}
	debug.SetVerbose(config.GetBool(config.KeyVerbose))
	debug.SetQuiet(config.GetBool(config.KeyQuiet))
}

func shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := telemetry.Shutdown(ctx); err != nil {
		debug.Logf("telemetry shutdown: %v\n", err)
	}
	if rootCancel != nil {
		rootCancel()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// PersistentPostRun does not run after a failing RunE.
		shutdown()
		reportError(os.Stderr, err, debug.Enabled())
		os.Exit(1)
	}
}
