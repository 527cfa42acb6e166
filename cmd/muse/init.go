package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"musehub.io/musehub/internal/workspace"
)

var initBranch string

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create an empty muse workspace",
	Long: `Create a .muse directory in the target directory (default: the
current one) with an empty config, a HEAD pointing at the default
branch, and a fresh local mirror.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		ws, err := workspace.Init(dir, initBranch)
		if err != nil {
			return err
		}
		branch, err := ws.Head()
		if err != nil {
			return err
		}
		fmt.Printf("Initialized empty muse workspace in %s (branch %s)\n", ws.MuseDir(), branch)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initBranch, "branch", "", "initial branch name (default \"main\")")
	rootCmd.AddCommand(initCmd)
}
