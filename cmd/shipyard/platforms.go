package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shipyard-cli/shipyard/internal/host"
	"github.com/shipyard-cli/shipyard/internal/ui"
)

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List supported hosting platforms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listPlatforms(cmd.OutOrStdout(), host.Default())
	},
}

func listPlatforms(w io.Writer, hosts *host.Registry) error {
	for _, name := range hosts.List() {
		client, err := hosts.New(name, host.Options{})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %-10s tokens: %s\n", ui.RenderAccent(fmt.Sprintf("%-8s", name)), client.DisplayName(), client.TokenURL())
	}
	return nil
}
