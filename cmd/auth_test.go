package cmd

import (
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marcus/settingsync/internal/api"
	"github.com/marcus/settingsync/internal/machines"
	"github.com/marcus/settingsync/internal/serverdb"
	"github.com/marcus/settingsync/internal/syncclient"
	"github.com/marcus/settingsync/internal/syncconfig"
)

// startServer runs a real API server and returns its URL and an API key.
func startServer(t *testing.T) (string, string) {
	t.Helper()

	store, err := serverdb.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	srv, err := api.NewServer(api.Config{RateLimitRead: 1000, RateLimitWrite: 1000}, store)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		store.Close()
	})

	user, err := store.CreateUser("alice@test.com")
	if err != nil {
		t.Fatal(err)
	}
	key, _, err := store.IssueAPIKey(user.ID, "cli", nil)
	if err != nil {
		t.Fatal(err)
	}
	return ts.URL, key
}

func TestAuthLoginStatusLogout(t *testing.T) {
	setupCLI(t, "m-1")
	url, key := startServer(t)

	if _, err := runCLI(t, "auth", "login", "--server", url, "--key", key); err != nil {
		t.Fatalf("login: %v", err)
	}
	creds, err := syncconfig.LoadAuth()
	if err != nil || creds == nil {
		t.Fatalf("load auth: %+v, %v", creds, err)
	}
	if creds.APIKey != key || creds.Email != "alice@test.com" || creds.ServerURL != url {
		t.Fatalf("unexpected creds: %+v", creds)
	}
	if got := syncconfig.GetServerURL(); got != url {
		t.Errorf("server url not saved: %q", got)
	}

	out, err := runCLI(t, "auth", "status", "--check")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "alice@test.com") || !strings.Contains(out, "Key is valid") {
		t.Errorf("status output: %q", out)
	}

	if _, err := runCLI(t, "auth", "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	out, _ = runCLI(t, "auth", "status")
	if !strings.Contains(out, "Not logged in.") {
		t.Errorf("status after logout: %q", out)
	}
}

func TestAuthLoginBadKey(t *testing.T) {
	setupCLI(t, "m-1")
	url, _ := startServer(t)

	_, err := runCLI(t, "auth", "login", "--server", url, "--key", "ss_bogus")
	if !errors.Is(err, syncclient.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if syncconfig.IsAuthenticated() {
		t.Fatal("credentials saved for a rejected key")
	}
}

func TestAuthLoginPromptsForKey(t *testing.T) {
	setupCLI(t, "m-1")
	url, key := startServer(t)
	old := readKey
	readKey = func() (string, error) { return key + "\n", nil }
	t.Cleanup(func() { readKey = old })

	if _, err := runCLI(t, "auth", "login", "--server", url); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := syncconfig.GetAPIKey(); got != key {
		t.Fatalf("api key: got %q", got)
	}
}

func TestMachinesAgainstServer(t *testing.T) {
	setupCLI(t, "m-1")
	storeFactory = remoteStore
	url, key := startServer(t)
	t.Setenv("SETTINGSYNC_URL", url)
	t.Setenv("SETTINGSYNC_AUTH_KEY", key)

	if _, err := runCLI(t, "machines", "rename", "Laptop"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	out, err := runCLI(t, "data", "list", "--json")
	if err != nil {
		t.Fatalf("data list: %v", err)
	}
	if !strings.Contains(out, `"resource": "`+machines.Resource+`"`) || !strings.Contains(out, `"machine_id": "m-1"`) {
		t.Fatalf("data list output: %s", out)
	}

	if _, err := runCLI(t, "data", "reset"); err == nil {
		t.Fatal("expected reset without --yes to fail when not interactive")
	}
	if _, err := runCLI(t, "data", "reset", "--yes"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	out, err = runCLI(t, "machines", "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty registry after reset, got %s", out)
	}

	// A write after reset continues from the tombstone ref.
	if _, err := runCLI(t, "machines", "rename", "Again"); err != nil {
		t.Fatalf("rename after reset: %v", err)
	}
}
