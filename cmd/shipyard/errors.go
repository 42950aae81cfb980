package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shipyard-cli/shipyard/internal/host"
	"github.com/shipyard-cli/shipyard/internal/release"
	"github.com/shipyard-cli/shipyard/internal/ui"
)

// lastTimings holds the stage timings of the most recent publish run, shown
// with --verbose when it fails.
var lastTimings []release.StageTiming

// WarnError writes a warning message to stderr and returns.
// Use this for optional operations that enhance functionality but aren't required.
func WarnError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// reportError prints a failed command's error. User aborts print
// "Aborted:" instead of "Error:". Verbose mode adds the wrapped error chain
// and the stage timings of the last run.
func reportError(w io.Writer, err error, verbose bool) {
	if release.IsUserAbort(err) {
		fmt.Fprintf(w, "%s %s\n", ui.RenderWarn("Aborted:"), err)
	} else {
		fmt.Fprintf(w, "%s %s\n", ui.RenderFail("Error:"), err)
	}
	if host.IsAuthError(err) {
		fmt.Fprintln(w, ui.RenderMuted("Run 'shipyard publish --update-token' to enter a new token."))
	}
	if !verbose {
		return
	}
	for i, e := range errorChain(err) {
		fmt.Fprintf(w, "  %s%T: %v\n", strings.Repeat("  ", i), e, e)
	}
	if len(lastTimings) > 0 {
		fmt.Fprintln(w, ui.RenderMuted("Stages:"))
		for _, st := range lastTimings {
			icon := ui.RenderPassIcon()
			if st.Err != nil {
				icon = ui.RenderFailIcon()
			}
			fmt.Fprintf(w, "  %s %-18s %s\n", icon, st.Stage, st.Duration.Round(time.Millisecond))
		}
	}
}

// errorChain unwraps err into its single-error chain.
func errorChain(err error) []error {
	var chain []error
	for err != nil {
		chain = append(chain, err)
		err = errors.Unwrap(err)
	}
	return chain
}
