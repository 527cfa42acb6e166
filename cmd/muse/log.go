package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"musehub.io/musehub/internal/domain"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show commit history of the current branch",
	Long: `Walk first parents from the branch head, newest first. Merge side
branches are summarized by their merge commit.`,
	Args: cobra.NoArgs,
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
		if head == "" {
			fmt.Printf("Branch %s has no commits\n", branch)
			return nil
		}

		commits, err := s.mirror.FirstParentLog(head, logLimit)
		if err != nil {
			return err
		}
		for i, c := range commits {
			if i > 0 {
				fmt.Println()
			}
			fmt.Printf("commit %s", c.ID)
			if c.IsMerge() {
				fmt.Printf(" (merge)")
			}
			fmt.Println()
			fmt.Printf("Author: %s <%s>\n", c.Author.Name, c.Author.Email)
			fmt.Printf("Date:   %s\n", shortTime(c.Timestamp))
			fmt.Printf("\n    %s\n", firstLine(c.Message))
		}
		if len(commits) > 0 {
			fmt.Printf("\n%d commits on %s (tip %s)\n", len(commits), branch, domain.ShortID(head))
		}
		return nil
	},
}

func init() {
	logCmd.Flags().IntVar(&logLimit, "limit", 20, "maximum commits to print (0 = all)")
	rootCmd.AddCommand(logCmd)
}
