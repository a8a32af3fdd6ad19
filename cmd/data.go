package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/marcus/settingsync/internal/output"
	"github.com/marcus/settingsync/internal/syncclient"
	"github.com/marcus/settingsync/internal/syncconfig"
	"github.com/spf13/cobra"
)

var dataCmd = &cobra.Command{
	Use:     "data",
	Short:   "Inspect or reset the data stored on the sync server",
	GroupID: "system",
}

var dataListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored resources and their refs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON := jsonOutput(cmd.Flags())

		client, err := authedClient()
		if err != nil {
			return fail(asJSON, err)
		}
		list, err := client.ListResources(cmd.Context())
		if err != nil {
			return fail(asJSON, err)
		}

		if asJSON {
			return output.JSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No data stored.")
			return nil
		}
		for _, r := range list {
			updated := r.UpdatedAt
			if t, err := time.Parse(time.RFC3339, r.UpdatedAt); err == nil {
				updated = output.FormatTimeAgo(t)
			}
			line := fmt.Sprintf("%-20s ref %-6s %s", r.Resource, r.Ref, updated)
			if r.MachineID != "" {
				line += "  by " + r.MachineID
			}
			fmt.Println(line)
		}
		return nil
	},
}

var dataResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all data stored for this account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON := jsonOutput(cmd.Flags())
		yes, _ := cmd.Flags().GetBool("yes")

		if !yes {
			if asJSON || !canPrompt() {
				return fail(asJSON, errors.New("refusing to reset without --yes"))
			}
			ok, err := confirm("Delete all synced data for this account? Every machine is affected.")
			if err != nil {
				return fail(asJSON, err)
			}
			if !ok {
				fmt.Println("Aborted.")
				return nil
			}
		}

		client, err := authedClient()
		if err != nil {
			return fail(asJSON, err)
		}
		n, err := client.DeleteAll(cmd.Context())
		if err != nil {
			return fail(asJSON, err)
		}

		if asJSON {
			return output.JSON(map[string]int64{"deleted": n})
		}
		output.Success("Deleted %d resource(s)", n)
		return nil
	},
}

func authedClient() (*syncclient.Client, error) {
	apiKey := syncconfig.GetAPIKey()
	if apiKey == "" {
		return nil, errNotLoggedIn
	}
	return syncclient.New(serverURL(), apiKey, ""), nil
}

func init() {
	rootCmd.AddCommand(dataCmd)
	dataCmd.AddCommand(dataListCmd)
	dataCmd.AddCommand(dataResetCmd)

	addJSONFlag(dataListCmd.Flags())
	addJSONFlag(dataResetCmd.Flags())
	addYesFlag(dataResetCmd.Flags())
}
