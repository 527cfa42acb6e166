package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"musehub.io/musehub/internal/domain"
)

var commitMessage string

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Record a snapshot of the working tree",
	Long: `Hash every file in the working tree into content-addressed
objects, build the snapshot manifest, and record a commit advancing
the current branch. The commit id is derived from the same canonical
form the hub uses, so local and pushed ids always agree.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if commitMessage == "" {
			return fmt.Errorf("a commit message is required (-m)")
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

		author, err := commitAuthor(s.cfg)
		if err != nil {
			return err
		}
		branch, err := s.ws.Head()
		if err != nil {
			return err
		}
		parent, err := s.ws.BranchRef(branch)
		if err != nil {
			return err
		}

		manifest, objects, err := s.ws.SnapshotTree()
		if err != nil {
			return err
		}
		manifestObj, err := domain.NewSnapshotObject("", manifest)
		if err != nil {
			return err
		}

		var parentIDs []string
		if parent != "" {
			parentIDs = []string{parent}
			parentCommit, err := s.mirror.GetCommit(parent)
			if err != nil {
				return fmt.Errorf("branch head %s missing from mirror: %w", domain.ShortID(parent), err)
			}
			if parentCommit.SnapshotID == manifestObj.ID {
				fmt.Println("nothing to commit, working tree clean")
				return nil
			}
		}

		commit := &domain.Commit{
			ParentIDs:  parentIDs,
			SnapshotID: manifestObj.ID,
			Message:    commitMessage,
			Author:     author,
			Timestamp:  time.Now().UTC(),
		}
		commit.ID = commit.ComputeID()

		for _, obj := range objects {
			if err := s.mirror.PutObject(obj); err != nil {
				return err
			}
		}
		if err := s.mirror.PutObject(manifestObj); err != nil {
			return err
		}
		if err := s.mirror.PutCommit(commit); err != nil {
			return err
		}
		if err := s.ws.SetBranchRef(branch, commit.ID); err != nil {
			return err
		}

		fmt.Printf("[%s %s] %s\n", branch, domain.ShortID(commit.ID), firstLine(commit.Message))
		fmt.Printf(" %d files snapshotted\n", len(manifest.Entries))
		return nil
	},
}

func init() {
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "commit message")
	rootCmd.AddCommand(commitCmd)
}
