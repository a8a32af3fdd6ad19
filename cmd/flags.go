package cmd

import (
	"github.com/spf13/pflag"
)

// globalFlags holds persistent flags shared by every command.
var globalFlags struct {
	verbose bool
	server  string
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.BoolVarP(&globalFlags.verbose, "verbose", "v", false, "Log debug output to stderr")
	fs.StringVar(&globalFlags.server, "server", "", "Sync server URL (overrides SETTINGSYNC_URL and config)")
}

// addJSONFlag registers --json on fs.
func addJSONFlag(fs *pflag.FlagSet) {
	fs.Bool("json", false, "Output as JSON")
}

// addYesFlag registers --yes on fs for commands that confirm before acting.
func addYesFlag(fs *pflag.FlagSet) {
	fs.BoolP("yes", "y", false, "Skip the confirmation prompt")
}

// jsonOutput reports whether --json was given.
func jsonOutput(fs *pflag.FlagSet) bool {
	v, _ := fs.GetBool("json")
	return v
}
