package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub"
	"musehub.io/musehub/internal/workspace"
)

var (
	fetchRemoteFlag string
	fetchAll        bool
	fetchPrune      bool
	fetchBranches   []string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Update remote-tracking refs without touching local branches",
	Long: `Ask the hub for its branch heads and record them under
.muse/remotes/<remote>/. No objects move and no local branch changes.
With --prune, tracking refs for branches deleted on the server are
removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		release, err := s.ws.Lock()
		if err != nil {
			return err
		}
		defer release()

		remoteName := fetchRemoteFlag
		if remoteName == "" {
			branch, err := s.ws.Head()
			if err != nil {
				return err
			}
			remoteName, _, _ = s.cfg.UpstreamFor(branch)
			if remoteName == "" {
				remoteName = "origin"
			}
		}
		client, remote, err := s.remoteClient(remoteName)
		if err != nil {
			return err
		}

		tracked, err := s.ws.RemoteRefs(remoteName)
		if err != nil {
			return err
		}
		input := musehub.FetchInput{
			Known: workspace.SortedRefNames(tracked),
			Prune: fetchPrune,
		}
		if !fetchAll {
			input.Branches = fetchBranches
		}

		result, err := client.Fetch(cmd.Context(), remote.RepoID, input)
		if err != nil {
			return err
		}

		fmt.Printf("From %s (%s)\n", remote.URL, remote.RepoID)
		for _, b := range result.Branches {
			previous, wasTracked := tracked[b.Branch]
			if wasTracked && previous == b.HeadCommitID {
				continue
			}
			if err := s.ws.SetRemoteRef(remoteName, b.Branch, b.HeadCommitID); err != nil {
				return err
			}
			// The server's is_new hint is advisory; local tracking
			// state decides what we report.
			if !wasTracked {
				fmt.Printf(" * [new branch]  %s -> %s/%s\n", b.Branch, remoteName, b.Branch)
			} else {
				fmt.Printf("   %s..%s  %s -> %s/%s\n",
					domain.ShortID(previous), domain.ShortID(b.HeadCommitID),
					b.Branch, remoteName, b.Branch)
			}
		}
		for _, pruned := range result.Pruned {
			if err := s.ws.DeleteRemoteRef(remoteName, pruned); err != nil {
				return err
			}
			fmt.Printf(" - [pruned]      %s/%s\n", remoteName, pruned)
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchRemoteFlag, "remote", "", "remote to fetch from (default: the current branch's upstream)")
	fetchCmd.Flags().BoolVar(&fetchAll, "all", false, "fetch every branch even when --branch was given")
	fetchCmd.Flags().BoolVar(&fetchPrune, "prune", false, "delete tracking refs for branches removed on the server")
	fetchCmd.Flags().StringArrayVar(&fetchBranches, "branch", nil, "limit the fetch to named branches (repeatable)")
	rootCmd.AddCommand(fetchCmd)
}
