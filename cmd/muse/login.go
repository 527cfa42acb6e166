package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	loginRemote   string
	loginUsername string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against a remote and store the token",
	Long: `Exchange a username and password for a hub token and store it in
.muse/config.toml. The password is read from the terminal without
echo; the token is written with owner-only permissions and never
appears in logs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		remote, ok := s.cfg.Remote(loginRemote)
		if !ok {
			return fmt.Errorf("unknown remote %q (muse remote add %s <url>)", loginRemote, loginRemote)
		}

		username := loginUsername
		if username == "" {
			fmt.Printf("Username for %s: ", remote.URL)
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			username = strings.TrimSpace(line)
		}
		if username == "" {
			return fmt.Errorf("username is required")
		}

		fmt.Print("Password: ")
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}

		client, _, err := s.remoteClient(loginRemote)
		if err != nil {
			return err
		}
		result, err := client.Login(cmd.Context(), username, string(password))
		if err != nil {
			return err
		}

		s.cfg.Auth.Token = result.Token
		if err := s.ws.SaveConfig(s.cfg); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s (token expires %s)\n", result.User.Username, shortTime(result.ExpiresAt))
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginRemote, "remote", "origin", "remote to authenticate against")
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "username (prompted when omitted)")
	rootCmd.AddCommand(loginCmd)
}
