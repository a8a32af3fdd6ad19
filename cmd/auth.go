package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/marcus/settingsync/internal/output"
	"github.com/marcus/settingsync/internal/syncclient"
	"github.com/marcus/settingsync/internal/syncconfig"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage sync authentication",
	GroupID: "system",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the sync server with an API key",
	Long: `Log in to the sync server with an API key.

Keys are issued by the server operator (settingsync-server admin create-key).
Without --key the key is read from the terminal with echo disabled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		url := serverURL()

		key, _ := cmd.Flags().GetString("key")
		if key == "" {
			var err error
			if key, err = readKey(); err != nil {
				output.Error("%v", err)
				return reported(err)
			}
		}
		key = strings.TrimSpace(key)
		if key == "" {
			err := errors.New("API key required")
			output.Error("%v", err)
			return reported(err)
		}

		client := syncclient.New(url, key, "")
		if _, err := client.HealthCheck(ctx); err != nil {
			output.Error("server unreachable at %s: %v", url, err)
			return reported(err)
		}
		me, err := client.Whoami(ctx)
		if err != nil {
			output.Error("login: %v", err)
			return reported(err)
		}

		creds := &syncconfig.AuthCredentials{
			APIKey:    key,
			UserID:    me.UserID,
			Email:     me.Email,
			ServerURL: url,
		}
		if err := syncconfig.SaveAuth(creds); err != nil {
			output.Error("save credentials: %v", err)
			return reported(err)
		}

		if globalFlags.server != "" {
			cfg, err := syncconfig.LoadConfig()
			if err != nil {
				cfg = &syncconfig.Config{}
			}
			cfg.Sync.URL = url
			if err := syncconfig.SaveConfig(cfg); err != nil {
				output.Warning("could not save server URL: %v", err)
			}
		}

		logger.Info("logged in", "user_id", me.UserID, "server", url)
		output.Success("Logged in as %s", me.Email)
		return nil
	},
}

// readKey prompts for the API key without echo. Replaced in tests.
var readKey = func() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available for key prompt (use --key)")
	}
	fmt.Fprint(os.Stderr, "API key: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read key: %w", err)
	}
	return string(b), nil
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out from sync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(); err != nil {
			output.Error("logout: %v", err)
			return reported(err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			output.Error("load auth: %v", err)
			return reported(err)
		}

		if creds == nil || creds.APIKey == "" {
			fmt.Println("Not logged in.")
			return nil
		}

		keyPrefix := creds.APIKey
		if len(keyPrefix) > 12 {
			keyPrefix = keyPrefix[:12] + "..."
		}

		fmt.Printf("Email:  %s\n", creds.Email)
		fmt.Printf("Server: %s\n", creds.ServerURL)
		fmt.Printf("Key:    %s\n", keyPrefix)

		check, _ := cmd.Flags().GetBool("check")
		if !check {
			return nil
		}
		client := syncclient.New(serverURL(), creds.APIKey, "")
		if _, err := client.Whoami(cmd.Context()); err != nil {
			if errors.Is(err, syncclient.ErrUnauthorized) {
				output.Warning("key rejected by server; run: settingsync auth login")
			} else {
				output.Warning("could not reach server: %v", err)
			}
			return nil
		}
		output.Success("Key is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)

	authLoginCmd.Flags().String("key", "", "API key (prompted when omitted)")
	authStatusCmd.Flags().Bool("check", false, "Verify the key against the server")
}
