package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipyard-cli/shipyard/internal/cloudbuild"
	"github.com/shipyard-cli/shipyard/internal/config"
	"github.com/shipyard-cli/shipyard/internal/debug"
	"github.com/shipyard-cli/shipyard/internal/lockfile"
	"github.com/shipyard-cli/shipyard/internal/prompt"
	"github.com/shipyard-cli/shipyard/internal/release"
	"github.com/shipyard-cli/shipyard/internal/repoconfig"
	"github.com/shipyard-cli/shipyard/internal/ui"
)

var (
	publishUpdatePlatform bool
	publishUpdateToken    bool
	publishUpdateOwner    bool
	publishBuildCommand   string
	publishBuildServer    string
	publishDir            string
	publishAnswers        []string
	publishLockWait       time.Duration
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Push, build and release the current project",
	Long: `Publish the npm project in the working directory.

The project is pushed to a dev/<version> branch on the hosting platform,
built by the cloud build service and, once published, tagged as
release/<version> and merged into trunk.

Missing hosting settings are asked for interactively. Without a terminal,
or with --answer, questions are answered from key=value pairs instead:

  shipyard publish --answer commit-message="fix typo" --answer version-bump=patch

Question keys: platform, token, owner, org, commit-message, version-bump,
overwrite.`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().BoolVar(&publishUpdatePlatform, "update-platform", false, "Choose the hosting platform again")
	publishCmd.Flags().BoolVar(&publishUpdateToken, "update-token", false, "Enter the access token again")
	publishCmd.Flags().BoolVar(&publishUpdateOwner, "update-owner", false, "Choose the repository owner again")
	publishCmd.Flags().StringVar(&publishBuildCommand, "build-command", "", "Build command run by the cloud build (default from build.command)")
	publishCmd.Flags().StringVar(&publishBuildServer, "build-server", "", "Cloud build service URL (default from build.server)")
	publishCmd.Flags().StringVarP(&publishDir, "dir", "C", ".", "Project directory")
	publishCmd.Flags().DurationVar(&publishLockWait, "lock-wait", 0, "Wait this long for another run on the same project to finish")
	publishCmd.Flags().StringArrayVar(&publishAnswers, "answer", nil, "Answer a question non-interactively (key=value, repeatable)")
}

func runPublish(cmd *cobra.Command, _ []string) error {
	dir, err := filepath.Abs(publishDir)
	if err != nil {
		return err
	}

	projectCfg, err := config.LoadProjectConfig(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", config.ProjectConfigFile, err)
	}
	projectCfg.Apply()
	if cmd.Flags().Changed("build-command") {
		config.Set(config.KeyBuildCommand, publishBuildCommand)
	}
	if cmd.Flags().Changed("build-server") {
		config.Set(config.KeyBuildServer, publishBuildServer)
	}

	cliHome := config.CLIHome()
	store, err := repoconfig.Open(cliHome)
	if err != nil {
		return err
	}
	asker, err := newAsker(publishAnswers, ui.IsInteractive())
	if err != nil {
		return err
	}

	out := debug.Output(cmd.OutOrStdout())

	server := config.GetString(config.KeyBuildServer)
	debug.Logf("build server %s, cli home %s\n", server, cliHome)
	dialer := cloudbuild.NewDialer(cloudbuild.Options{
		Server:  server,
		Timeout: config.GetDuration(config.KeyConnectTimeout),
		Retries: config.GetInt(config.KeyConnectRetries),
		OnEvent: buildEventPrinter(out),
	})

	wf, err := release.New(release.Options{
		Dir:          dir,
		Trunk:        config.GetString(config.KeyTrunk),
		Remote:       config.GetString(config.KeyRemote),
		BuildCommand: config.GetString(config.KeyBuildCommand),
		Update: release.Update{
			Platform: publishUpdatePlatform,
			Token:    publishUpdateToken,
			Owner:    publishUpdateOwner,
		},
		Store:     store,
		Asker:     asker,
		Builder:   release.NewBuilder(dialer),
		Artifacts: cloudbuild.NewArtifactIndex(server, nil),
		Lock:      lockfile.New(cliHome, dir),
		LockWait:  publishLockWait,
		Out:       out,
	})
	if err != nil {
		return err
	}

	err = wf.Run(rootCtx)
	lastTimings = wf.Timings()
	for _, st := range lastTimings {
		debug.Logf("stage %s took %s\n", st.Stage, st.Duration)
	}
	return err
}

// newAsker picks the terminal asker for interactive sessions and a scripted
// one when answers are given or no terminal is attached.
func newAsker(answers []string, interactive bool) (prompt.Asker, error) {
	if len(answers) > 0 || !interactive {
		scripted, err := prompt.ParseAnswers(answers)
		if err != nil {
			return nil, err
		}
		return scripted, nil
	}
	return prompt.NewTerminal(), nil
}

// buildEventPrinter renders build progress as detail lines.
func buildEventPrinter(w io.Writer) func(cloudbuild.Event) {
	return func(ev cloudbuild.Event) {
		var line string
		switch ev.Name {
		case cloudbuild.EventStatus:
			line = ev.Message
			if ev.TaskID != "" {
				line = fmt.Sprintf("%s (task %s)", ev.Message, ev.TaskID)
			}
		case cloudbuild.EventBuilded:
			line = "cloud build finished"
			if ev.Message != "" {
				line = ev.Message
			}
		default:
			line = ev.Message
		}
		if line == "" {
			return
		}
		fmt.Fprintln(w, ui.RenderDetail(line))
	}
}
