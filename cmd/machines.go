package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/marcus/settingsync/internal/machines"
	"github.com/marcus/settingsync/internal/output"
	"github.com/spf13/cobra"
)

var machinesCmd = &cobra.Command{
	Use:     "machines",
	Aliases: []string{"m"},
	Short:   "List and manage synced machines",
	GroupID: "core",
}

var machinesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered machines",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON := jsonOutput(cmd.Flags())

		svc, err := openService(cmd.Context())
		if err != nil {
			return fail(asJSON, err)
		}
		list, err := svc.List(cmd.Context())
		if err != nil {
			return fail(asJSON, err)
		}

		if asJSON {
			return output.JSON(list)
		}
		fmt.Println(output.FormatMachineList(list, output.TerminalWidth(80)))
		return nil
	},
}

var machinesRenameCmd = &cobra.Command{
	Use:   "rename [name]",
	Short: "Set this machine's name, registering it if needed",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON := jsonOutput(cmd.Flags())

		var name string
		if len(args) == 1 {
			name = args[0]
		} else {
			if asJSON || !canPrompt() {
				return fail(asJSON, errors.New("name argument required"))
			}
			if err := promptName(&name); err != nil {
				return fail(asJSON, err)
			}
		}

		svc, err := openService(cmd.Context())
		if err != nil {
			return fail(asJSON, err)
		}
		if err := svc.Rename(cmd.Context(), name); err != nil {
			return fail(asJSON, err)
		}

		if asJSON {
			return output.JSON(map[string]string{"name": strings.TrimSpace(name)})
		}
		output.Success("Renamed this machine to %q", strings.TrimSpace(name))
		return nil
	},
}

var machinesRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove this machine from the registry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON := jsonOutput(cmd.Flags())

		svc, err := openService(cmd.Context())
		if err != nil {
			return fail(asJSON, err)
		}
		id, err := svc.CurrentID(cmd.Context())
		if err != nil {
			return fail(asJSON, err)
		}
		found, err := registered(cmd.Context(), svc, id)
		if err != nil {
			return fail(asJSON, err)
		}
		if err := svc.RemoveCurrent(cmd.Context()); err != nil {
			return fail(asJSON, err)
		}

		if asJSON {
			return output.JSON(map[string]bool{"removed": found})
		}
		if !found {
			output.Info("This machine (%s) is not registered; nothing to remove", id)
			return nil
		}
		output.Success("Removed this machine from the registry")
		return nil
	},
}

var machinesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Mark a machine as disabled for sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON := jsonOutput(cmd.Flags())
		yes, _ := cmd.Flags().GetBool("yes")
		id := args[0]

		if !yes && !asJSON && canPrompt() {
			confirmed, err := confirm(fmt.Sprintf("Disable sync on machine %s?", id))
			if err != nil {
				return fail(asJSON, err)
			}
			if !confirmed {
				fmt.Println("Aborted.")
				return nil
			}
		}

		svc, err := openService(cmd.Context())
		if err != nil {
			return fail(asJSON, err)
		}
		found, err := registered(cmd.Context(), svc, id)
		if err != nil {
			return fail(asJSON, err)
		}
		if err := svc.Disable(cmd.Context(), id); err != nil {
			return fail(asJSON, err)
		}

		if asJSON {
			return output.JSON(map[string]any{"id": id, "disabled": found})
		}
		if !found {
			output.Warning("No machine with id %s is registered; nothing changed", id)
			return nil
		}
		output.Success("Disabled machine %s", id)
		return nil
	},
}

// registered reports whether id is in the registry. svc keeps the blob it
// read, so the operation that follows only revalidates it.
func registered(ctx context.Context, svc *machines.Service, id string) (bool, error) {
	list, err := svc.List(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range list {
		if m.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// fail reports err in the selected format and marks it as shown.
func fail(asJSON bool, err error) error {
	if asJSON {
		output.JSONError(output.ErrorCode(err), err.Error())
	} else {
		output.Error("%v", err)
		var ive *machines.IncompatibleVersionError
		if errors.As(err, &ive) {
			logger.Debug("incompatible machines data", "found", ive.Found, "expected", ive.Expected)
		}
	}
	return reported(err)
}

// promptName asks for a machine name. Replaced in tests.
var promptName = func(name *string) error {
	return huh.NewInput().
		Title("Machine name").
		Placeholder("e.g. work-laptop").
		Value(name).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return machines.ErrInvalidName
			}
			return nil
		}).
		Run()
}

// confirm asks a yes/no question. Replaced in tests.
var confirm = func(title string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}

// canPrompt reports whether interactive prompts can be shown. Replaced in tests.
var canPrompt = func() bool {
	return output.IsTerminal(os.Stdin) && output.IsTerminal(os.Stdout)
}

func init() {
	rootCmd.AddCommand(machinesCmd)
	machinesCmd.AddCommand(machinesListCmd)
	machinesCmd.AddCommand(machinesRenameCmd)
	machinesCmd.AddCommand(machinesRemoveCmd)
	machinesCmd.AddCommand(machinesDisableCmd)

	for _, c := range []*cobra.Command{machinesListCmd, machinesRenameCmd, machinesRemoveCmd, machinesDisableCmd} {
		addJSONFlag(c.Flags())
	}
	addYesFlag(machinesDisableCmd.Flags())
}
