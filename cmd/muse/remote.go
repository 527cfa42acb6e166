package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"musehub.io/musehub/internal/hubclient"
	"musehub.io/musehub/internal/workspace"
)

var remoteRepoID string

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage hub remotes",
	Long: `List, add, remove, or reconfigure the hubs this workspace syncs
with. Each remote names a hub base URL plus the repository it serves.`,
	Args: cobra.NoArgs,
	// -v is the global verbose flag; for remote it doubles as the
	// git-style "show URLs" switch.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemoteList(verbose)
	},
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add a remote",
	Long: `Register a remote. The URL may be a clone URL ending in the repo
slug (https://hub.example.com/my-song) or a bare hub base combined
with --repo-id.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		name, rawURL := args[0], args[1]
		if _, exists := s.cfg.Remote(name); exists {
			return fmt.Errorf("remote %q already exists", name)
		}

		base, repoRef := rawURL, remoteRepoID
		if repoRef == "" {
			base, repoRef, err = hubclient.SplitRepoURL(rawURL)
			if err != nil {
				return fmt.Errorf("%w (or pass --repo-id with a bare hub URL)", err)
			}
		}
		s.cfg.SetRemote(name, workspace.Remote{URL: base, RepoID: repoRef})
		if err := s.ws.SaveConfig(s.cfg); err != nil {
			return err
		}
		fmt.Printf("Added remote %s (%s, repo %s)\n", name, base, repoRef)
		return nil
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a remote and its tracking state",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		name := args[0]
		if _, exists := s.cfg.Remote(name); !exists {
			return fmt.Errorf("unknown remote %q", name)
		}
		s.cfg.RemoveRemote(name)
		if err := s.ws.SaveConfig(s.cfg); err != nil {
			return err
		}
		refs, err := s.ws.RemoteRefs(name)
		if err != nil {
			return err
		}
		for branch := range refs {
			if err := s.ws.DeleteRemoteRef(name, branch); err != nil {
				return err
			}
		}
		fmt.Printf("Removed remote %s\n", name)
		return nil
	},
}

var remoteRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a remote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		oldName, newName := args[0], args[1]
		remote, exists := s.cfg.Remote(oldName)
		if !exists {
			return fmt.Errorf("unknown remote %q", oldName)
		}
		if _, taken := s.cfg.Remote(newName); taken {
			return fmt.Errorf("remote %q already exists", newName)
		}

		s.cfg.SetRemote(newName, remote)
		for branch, up := range s.cfg.Upstreams {
			if up.Remote == oldName {
				s.cfg.SetUpstream(branch, newName, up.Branch)
			}
		}
		delete(s.cfg.Remotes, oldName)
		if err := s.ws.SaveConfig(s.cfg); err != nil {
			return err
		}

		// Carry tracking refs over to the new name.
		refs, err := s.ws.RemoteRefs(oldName)
		if err != nil {
			return err
		}
		for branch, head := range refs {
			if err := s.ws.SetRemoteRef(newName, branch, head); err != nil {
				return err
			}
			if err := s.ws.DeleteRemoteRef(oldName, branch); err != nil {
				return err
			}
		}
		fmt.Printf("Renamed remote %s to %s\n", oldName, newName)
		return nil
	},
}

var remoteSetURLCmd = &cobra.Command{
	Use:   "set-url <name> <url>",
	Short: "Change a remote's URL",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		name, rawURL := args[0], args[1]
		remote, exists := s.cfg.Remote(name)
		if !exists {
			return fmt.Errorf("unknown remote %q", name)
		}
		base, repoRef, err := hubclient.SplitRepoURL(rawURL)
		if err != nil {
			base, repoRef = rawURL, remote.RepoID
		}
		s.cfg.SetRemote(name, workspace.Remote{URL: base, RepoID: repoRef})
		if err := s.ws.SaveConfig(s.cfg); err != nil {
			return err
		}
		fmt.Printf("Updated remote %s\n", name)
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remotes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemoteList(verbose)
	},
}

func runRemoteList(withURLs bool) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	names := make([]string, 0, len(s.cfg.Remotes))
	for name := range s.cfg.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if withURLs {
			r := s.cfg.Remotes[name]
			fmt.Printf("%s\t%s (repo %s)\n", name, r.URL, r.RepoID)
		} else {
			fmt.Println(name)
		}
	}
	return nil
}

func init() {
	remoteAddCmd.Flags().StringVar(&remoteRepoID, "repo-id", "", "repository id or slug when the URL is a bare hub base")
	remoteCmd.AddCommand(remoteAddCmd, remoteRemoveCmd, remoteRenameCmd, remoteSetURLCmd, remoteListCmd)
	rootCmd.AddCommand(remoteCmd)
}
