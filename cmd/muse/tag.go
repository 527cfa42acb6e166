package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/workspace"
)

var tagCmd = &cobra.Command{
	Use:   "tag [name]",
	Short: "List tags or freeze one at the current branch head",
	Long: `Without arguments, list local tags. With a name, create a tag
pointing at the current branch head. Tags reach the hub on the next
muse push --tags.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		if len(args) == 0 {
			tags, err := s.ws.Tags()
			if err != nil {
				return err
			}
			for _, name := range workspace.SortedRefNames(tags) {
				fmt.Printf("%s\t%s\n", name, domain.ShortID(tags[name]))
			}
			return nil
		}

		name := args[0]
		if existing, err := s.ws.TagRef(name); err != nil {
			return err
		} else if existing != "" {
			return fmt.Errorf("tag %q already exists at %s", name, domain.ShortID(existing))
		}

		branch, err := s.ws.Head()
		if err != nil {
			return err
		}
		head, err := s.ws.BranchRef(branch)
		if err != nil {
			return err
		}
		if head == "" {
			return fmt.Errorf("branch %q has no commits to tag", branch)
		}
		if err := s.ws.SetTagRef(name, head); err != nil {
			return err
		}
		fmt.Printf("Tagged %s at %s\n", name, domain.ShortID(head))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tagCmd)
}
