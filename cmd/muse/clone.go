package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/hubclient"
	"musehub.io/musehub/internal/localdb"
	"musehub.io/musehub/internal/musehub"
	"musehub.io/musehub/internal/workspace"
)

var (
	cloneBranch      string
	cloneDepth       int
	cloneSingleTrack string
	cloneNoCheckout  bool
	cloneToken       string
)

var cloneCmd = &cobra.Command{
	Use:   "clone <url> [dir]",
	Short: "Create a workspace from a hub repository",
	Long: `Download a repository's history into a fresh workspace: the .muse
structure, the SQLite mirror, an origin remote with tracking refs, and
(unless --no-checkout) the working tree of the branch head.

Private repos need a token: pass --token or set MUSE_TOKEN, then run
muse login to store a fresh one.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, repoRef, err := hubclient.SplitRepoURL(args[0])
		if err != nil {
			return err
		}
		dir := repoRef
		if len(args) == 2 {
			dir = args[1]
		}
		if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
			return fmt.Errorf("destination %q exists and is not empty", dir)
		}

		token := cloneToken
		if token == "" {
			token = os.Getenv("MUSE_TOKEN")
		}
		client := hubclient.New(base, token)

		result, err := client.Clone(cmd.Context(), repoRef, musehub.CloneInput{
			Branch:      cloneBranch,
			Depth:       cloneDepth,
			SingleTrack: cloneSingleTrack,
		})
		if err != nil {
			return err
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		branch := result.Branch
		if branch == "" {
			branch = result.DefaultBranch
		}
		ws, err := workspace.Init(dir, branch)
		if err != nil {
			return err
		}
		log := workspace.NewCLILogger(ws.LogPath(), verbose)
		defer log.Sync()

		mirror, err := localdb.Open(ws.DBPath())
		if err != nil {
			return err
		}
		defer mirror.Close()

		if err := storeSyncPayload(mirror, result.Commits, result.Objects); err != nil {
			return err
		}

		cfg := &workspace.Config{Auth: workspace.AuthConfig{Token: token}}
		cfg.SetRemote("origin", workspace.Remote{URL: base, RepoID: result.RepoID})
		cfg.SetUpstream(branch, "origin", branch)
		if err := ws.SaveConfig(cfg); err != nil {
			return err
		}

		if result.RemoteHead != "" {
			if err := ws.SetBranchRef(branch, result.RemoteHead); err != nil {
				return err
			}
			if err := ws.SetRemoteRef("origin", branch, result.RemoteHead); err != nil {
				return err
			}
			if !cloneNoCheckout {
				if err := checkoutManifest(ws, mirror, result.CheckoutManifestID); err != nil {
					return err
				}
			}
		}

		abs, _ := filepath.Abs(dir)
		fmt.Printf("Cloned %s into %s\n", result.RepoID, abs)
		if result.RemoteHead == "" {
			fmt.Printf("warning: remote branch %q is unborn; workspace is empty\n", branch)
		} else {
			fmt.Printf("  branch %s at %s (%d commits, %d objects)\n",
				branch, domain.ShortID(result.RemoteHead), len(result.Commits), len(result.Objects))
		}
		return nil
	},
}

func init() {
	cloneCmd.Flags().StringVar(&cloneBranch, "branch", "", "branch to clone (default: the repo default branch)")
	cloneCmd.Flags().IntVar(&cloneDepth, "depth", 0, "shallow clone depth (0 = full history)")
	cloneCmd.Flags().StringVar(&cloneSingleTrack, "single-track", "", "restrict checkout content to one top-level track directory")
	cloneCmd.Flags().BoolVar(&cloneNoCheckout, "no-checkout", false, "seed refs and mirror without materializing the working tree")
	cloneCmd.Flags().StringVar(&cloneToken, "token", "", "bearer token for private repositories (or MUSE_TOKEN)")
	rootCmd.AddCommand(cloneCmd)
}
