package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/hubclient"
	"musehub.io/musehub/internal/musehub"
)

var (
	pushRemoteFlag  string
	pushForce       bool
	pushForceLease  bool
	pushTags        bool
	pushSetUpstream bool
)

var pushCmd = &cobra.Command{
	Use:   "push [branch]",
	Short: "Upload local commits and advance the remote branch",
	Long: `Send the commits and objects the remote lacks and ask the hub to
advance the branch head. Non-fast-forward pushes are rejected unless
forced; --force-with-lease only overwrites when the remote head still
matches the locally recorded tracking head.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if pushForce && pushForceLease {
			return fmt.Errorf("--force and --force-with-lease are mutually exclusive")
		}
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
		remoteName, branch, err := s.resolveBranchRemote(pushRemoteFlag, branchArg)
		if err != nil && pushSetUpstream && pushRemoteFlag == "" {
			// --set-upstream with a lone candidate remote still works.
			remoteName, branch, err = s.resolveBranchRemote("origin", branchArg)
		}
		if err != nil {
			return err
		}
		client, remote, err := s.remoteClient(remoteName)
		if err != nil {
			return err
		}

		head, err := s.ws.BranchRef(branch)
		if err != nil {
			return err
		}
		if head == "" {
			return fmt.Errorf("branch %q has no commits to push", branch)
		}
		tracking, err := s.ws.RemoteRef(remoteName, branch)
		if err != nil {
			return err
		}
		if tracking == head && !pushTags {
			fmt.Printf("Branch %s is up to date with %s/%s\n", branch, remoteName, branch)
			return nil
		}

		commits, objects, err := collectPushDelta(s.mirror, head, tracking)
		if err != nil {
			return err
		}

		input := musehub.PushInput{
			Branch:       branch,
			HeadCommitID: head,
			Commits:      commits,
			Objects:      objects,
			Force:        pushForce,
		}
		if pushForceLease {
			input.ForceWithLease = true
			input.ExpectedRemoteHead = tracking
		}
		if pushTags {
			input.Tags, err = localTags(s.ws)
			if err != nil {
				return err
			}
		}

		result, err := client.Push(cmd.Context(), remote.RepoID, input)
		if err != nil {
			if hubclient.IsConflict(err) {
				fmt.Printf("hint: the remote branch moved; run 'muse fetch' and integrate before pushing again\n")
			}
			return err
		}

		if err := s.ws.SetRemoteRef(remoteName, branch, result.NewHeadCommitID); err != nil {
			return err
		}
		if pushSetUpstream {
			s.cfg.SetUpstream(branch, remoteName, branch)
			if err := s.ws.SaveConfig(s.cfg); err != nil {
				return err
			}
		}

		if result.CommitsAccepted == 0 && result.ObjectsAccepted == 0 && tracking == result.NewHeadCommitID {
			fmt.Println("Everything up to date")
			return nil
		}
		fmt.Printf("To %s (%s)\n", remote.URL, remote.RepoID)
		fmt.Printf("   %s -> %s/%s (%d commits, %d objects)\n",
			domain.ShortID(result.NewHeadCommitID), remoteName, result.Branch,
			result.CommitsAccepted, result.ObjectsAccepted)
		if !result.FastForward {
			fmt.Println("   (forced update)")
		}
		return nil
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushRemoteFlag, "remote", "", "remote to push to (default: the branch upstream)")
	pushCmd.Flags().BoolVar(&pushForce, "force", false, "overwrite the remote branch unconditionally")
	pushCmd.Flags().BoolVar(&pushForceLease, "force-with-lease", false, "overwrite only if the remote head matches the tracking ref")
	pushCmd.Flags().BoolVar(&pushTags, "tags", false, "push local tags along with the branch")
	pushCmd.Flags().BoolVar(&pushSetUpstream, "set-upstream", false, "record the remote branch as this branch's upstream")
	rootCmd.AddCommand(pushCmd)
}
