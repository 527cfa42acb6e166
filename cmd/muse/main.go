// Package main implements muse, the command-line client for Muse Hub.
// A checkout is a working tree plus a .muse directory holding config,
// refs, remote-tracking state, and a SQLite mirror of hub history.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"musehub.io/musehub/internal/hubclient"
	"musehub.io/musehub/internal/workspace"
)

// Exit codes are part of the CLI contract: scripts branch on them.
const (
	exitOK       = 0
	exitUserErr  = 1 // bad arguments, missing token, rejected push
	exitNotRepo  = 2 // not inside a muse workspace
	exitInternal = 3 // network, server, or internal failure
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "muse",
	Short: "Version control for music projects",
	Long: `muse tracks a music project's files as content-addressed snapshots
and syncs them with a Muse Hub server.

A checkout keeps its state in a .muse directory: config.toml with
remotes and credentials, branch and tag refs, remote-tracking heads,
and a local SQLite mirror of commits and objects.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug detail to stderr")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps failures onto the documented exit codes. Hub 4xx
// rejections are user errors: the request was heard and refused.
func exitCodeFor(err error) int {
	if errors.Is(err, workspace.ErrNotRepository) {
		return exitNotRepo
	}
	if hubclient.IsServerError(err) {
		return exitInternal
	}
	return exitUserErr
}
