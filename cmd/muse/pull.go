package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub"
)

var (
	pullRemoteFlag string
	pullRebase     bool
	pullFFOnly     bool
)

var pullCmd = &cobra.Command{
	Use:   "pull [branch]",
	Short: "Download remote commits and fast-forward the local branch",
	Long: `Fetch the commits and objects the mirror lacks and fast-forward
the local branch when it has not diverged. muse never merges on pull;
diverged histories are reported and left for the user to reconcile.`,
	Args: cobra.MaximumNArgs(1),
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

		branchArg := ""
		if len(args) == 1 {
			branchArg = args[0]
		}
		remoteName, branch, err := s.resolveBranchRemote(pullRemoteFlag, branchArg)
		if err != nil {
			return err
		}
		client, remote, err := s.remoteClient(remoteName)
		if err != nil {
			return err
		}

		haveCommits, err := s.mirror.CommitIDs()
		if err != nil {
			return err
		}
		haveObjects, err := s.mirror.ObjectIDs()
		if err != nil {
			return err
		}

		result, err := client.Pull(cmd.Context(), remote.RepoID, musehub.PullInput{
			Branch:      branch,
			HaveCommits: haveCommits,
			HaveObjects: haveObjects,
			Rebase:      pullRebase,
			FFOnly:      pullFFOnly,
		})
		if err != nil {
			return err
		}

		if err := storeSyncPayload(s.mirror, result.Commits, result.Objects); err != nil {
			return err
		}
		if err := s.ws.SetRemoteRef(remoteName, branch, result.RemoteHead); err != nil {
			return err
		}

		localHead, err := s.ws.BranchRef(branch)
		if err != nil {
			return err
		}

		switch {
		case localHead == result.RemoteHead:
			fmt.Println("Already up to date.")
			return nil
		case result.RemoteHead == "":
			fmt.Printf("Remote branch %s/%s is unborn; nothing to integrate.\n", remoteName, branch)
			return nil
		}

		// Local commits the remote lacks mean a fast-forward is
		// impossible; muse leaves the reconciliation to the user.
		if result.Diverged {
			return fmt.Errorf("local and remote histories for %q have diverged; push with --force-with-lease or reset to %s/%s",
				branch, remoteName, branch)
		}
		if localHead != "" {
			ancestral, err := s.mirror.IsAncestor(localHead, result.RemoteHead)
			if err != nil {
				return err
			}
			if !ancestral {
				// The remote walked past us without our head in its
				// ancestry: local-only commits exist.
				behind, err := s.mirror.IsAncestor(result.RemoteHead, localHead)
				if err != nil {
					return err
				}
				if behind {
					fmt.Println("Local branch is ahead of the remote; nothing to integrate.")
					return nil
				}
				return fmt.Errorf("local branch %q cannot be fast-forwarded to %s/%s",
					branch, remoteName, branch)
			}
		}

		if err := s.ws.SetBranchRef(branch, result.RemoteHead); err != nil {
			return err
		}
		headCommit, err := s.mirror.GetCommit(result.RemoteHead)
		if err != nil {
			return err
		}
		if err := checkoutManifest(s.ws, s.mirror, headCommit.SnapshotID); err != nil {
			return err
		}

		fmt.Printf("Updated %s to %s (%d new commits, %d new objects)\n",
			branch, domain.ShortID(result.RemoteHead), len(result.Commits), len(result.Objects))
		return nil
	},
}

func init() {
	pullCmd.Flags().StringVar(&pullRemoteFlag, "remote", "", "remote to pull from (default: the branch upstream)")
	pullCmd.Flags().BoolVar(&pullRebase, "rebase", false, "request rebase integration (advisory; muse only fast-forwards)")
	pullCmd.Flags().BoolVar(&pullFFOnly, "ff-only", false, "fail instead of leaving a non-fast-forward state")
	rootCmd.AddCommand(pullCmd)
}
