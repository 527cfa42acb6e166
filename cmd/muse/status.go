package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"musehub.io/musehub/internal/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show branch, sync, and working tree state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		branch, err := s.ws.Head()
		if err != nil {
			return err
		}
		head, err := s.ws.BranchRef(branch)
		if err != nil {
			return err
		}

		fmt.Printf("On branch %s\n", branch)
		if head == "" {
			fmt.Println("No commits yet")
			return nil
		}

		// Sync state against the upstream tracking ref, when one exists.
		if remoteName, remoteBranch, ok := s.cfg.UpstreamFor(branch); ok {
			tracking, err := s.ws.RemoteRef(remoteName, remoteBranch)
			if err != nil {
				return err
			}
			switch {
			case tracking == "":
				fmt.Printf("Upstream %s/%s has never been fetched\n", remoteName, remoteBranch)
			case tracking == head:
				fmt.Printf("Up to date with %s/%s\n", remoteName, remoteBranch)
			default:
				ahead, behind, err := aheadBehind(s, head, tracking)
				if err != nil {
					return err
				}
				fmt.Printf("Ahead of %s/%s by %d, behind by %d\n", remoteName, remoteBranch, ahead, behind)
			}
		}

		// Working tree vs the committed snapshot.
		manifest, _, err := s.ws.SnapshotTree()
		if err != nil {
			return err
		}
		manifestObj, err := domain.NewSnapshotObject("", manifest)
		if err != nil {
			return err
		}
		headCommit, err := s.mirror.GetCommit(head)
		if err != nil {
			return err
		}
		if headCommit.SnapshotID == manifestObj.ID {
			fmt.Println("Working tree clean")
		} else {
			fmt.Println("Working tree has uncommitted changes")
		}
		return nil
	},
}

// aheadBehind counts commits reachable from one head but not the
// other.
func aheadBehind(s *session, localHead, remoteHead string) (ahead, behind int, err error) {
	localReach, err := s.mirror.Ancestry(localHead)
	if err != nil {
		return 0, 0, err
	}
	remoteReach, err := s.mirror.Ancestry(remoteHead)
	if err != nil {
		return 0, 0, err
	}
	for id := range localReach {
		if !remoteReach[id] {
			ahead++
		}
	}
	for id := range remoteReach {
		if !localReach[id] {
			behind++
		}
	}
	return ahead, behind, nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
