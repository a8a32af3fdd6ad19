package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/marcus/settingsync/internal/machines"
	"github.com/marcus/settingsync/internal/userdata"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// setupCLI isolates HOME and config env, and points the machines commands at
// an in-memory store with a fixed machine id.
func setupCLI(t *testing.T, machineID string) *userdata.MemoryStore {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{"SETTINGSYNC_URL", "SETTINGSYNC_AUTH_KEY", "SETTINGSYNC_PRODUCT", "SETTINGSYNC_DATA_DIR", "SETTINGSYNC_LOG_LEVEL"} {
		t.Setenv(k, "")
	}

	store := userdata.NewMemoryStore()
	oldStore, oldID, oldPrompt := storeFactory, idFactory, canPrompt
	storeFactory = func() (userdata.Store, error) { return store, nil }
	idFactory = func() (machines.IDFunc, error) {
		return func(context.Context) (string, error) { return machineID, nil }, nil
	}
	canPrompt = func() bool { return false }
	t.Cleanup(func() {
		storeFactory, idFactory, canPrompt = oldStore, oldID, oldPrompt
	})
	return store
}

// runCLI executes the root command with args and returns captured stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	rootCmd.SetArgs(args)

	oldOut := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		done <- buf.String()
	}()

	err := rootCmd.ExecuteContext(context.Background())

	w.Close()
	os.Stdout = oldOut
	return <-done, err
}

// resetFlags restores every flag to its default; cobra keeps values between runs.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}
