package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/marcus/settingsync/internal/api"
	"github.com/marcus/settingsync/internal/serverdb"
)

const adminUsage = `Usage: settingsync-server admin <command> [flags]

Commands:
  create-user  Register an account by email
  create-key   Issue an API key for an account
  list-users   List accounts with their key and resource counts
  list-keys    List an account's API keys
  revoke-key   Revoke one of an account's API keys`

const dbFlagUsage = "path to server.db (default: SYNC_SERVER_DB_PATH or ./data/server.db)"

// adminEnv is what a command gets: a flag set already holding --db, and
// the output writer.
type adminEnv struct {
	fs     *flag.FlagSet
	dbPath *string
	out    io.Writer
}

// open parses args, after the command has declared its flags, and opens the
// database named by --db.
func (e *adminEnv) open(args []string) (*serverdb.ServerDB, error) {
	if err := e.fs.Parse(args); err != nil {
		return nil, err
	}
	path := *e.dbPath
	if path == "" {
		path = api.LoadConfig().ServerDBPath
	}
	return serverdb.Open(path)
}

type adminCommand func(e *adminEnv, args []string) error

var adminCommands = map[string]adminCommand{
	"create-user": adminCreateUser,
	"create-key":  adminCreateKey,
	"list-users":  adminListUsers,
	"list-keys":   adminListKeys,
	"revoke-key":  adminRevokeKey,
}

// runAdmin dispatches an admin subcommand, writing its output to out.
func runAdmin(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(out, adminUsage)
		return errors.New("admin command required")
	}
	run, ok := adminCommands[args[0]]
	if !ok {
		fmt.Fprintln(out, adminUsage)
		return fmt.Errorf("unknown admin command: %s", args[0])
	}

	fs := flag.NewFlagSet("admin "+args[0], flag.ContinueOnError)
	fs.SetOutput(out)
	e := &adminEnv{fs: fs, dbPath: fs.String("db", "", dbFlagUsage), out: out}
	return run(e, args[1:])
}

// accountByEmail resolves --email to an account.
func accountByEmail(store *serverdb.ServerDB, email string) (*serverdb.User, error) {
	if email == "" {
		return nil, errors.New("--email is required")
	}
	u, err := store.UserByEmail(email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("no account for %s", email)
	}
	return u, nil
}

func adminCreateUser(e *adminEnv, args []string) error {
	email := e.fs.String("email", "", "account email address")
	store, err := e.open(args)
	if err != nil {
		return err
	}
	defer store.Close()

	u, err := store.CreateUser(*email)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "created account %s (%s)\n", u.Email, u.ID)
	return nil
}

func adminCreateKey(e *adminEnv, args []string) error {
	email := e.fs.String("email", "", "account email address")
	name := e.fs.String("name", "", "key name, usually the machine it is for")
	ttl := e.fs.Duration("ttl", 0, "key lifetime (e.g. 720h); 0 never expires")
	store, err := e.open(args)
	if err != nil {
		return err
	}
	defer store.Close()

	if *name == "" {
		return errors.New("--name is required")
	}
	u, err := accountByEmail(store, *email)
	if err != nil {
		return err
	}
	var expiresAt *time.Time
	if *ttl > 0 {
		t := time.Now().UTC().Add(*ttl)
		expiresAt = &t
	}

	plaintext, ak, err := store.IssueAPIKey(u.ID, *name, expiresAt)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "issued key %s (%s) for %s\n", ak.ID, ak.Name, u.Email)
	if ak.ExpiresAt != nil {
		fmt.Fprintf(e.out, "expires: %s\n", ak.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintf(e.out, "key: %s\n\nSave this key now; it is not shown again.\n", plaintext)
	return nil
}

func adminListUsers(e *adminEnv, args []string) error {
	store, err := e.open(args)
	if err != nil {
		return err
	}
	defer store.Close()

	accounts, err := store.ListAccounts()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tKEYS\tRESOURCES\tLAST WRITE")
	for _, a := range accounts {
		last := "-"
		if a.LastWrite != nil {
			last = a.LastWrite.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", a.ID, a.Email, a.Keys, a.Resources, last)
	}
	return tw.Flush()
}

func adminListKeys(e *adminEnv, args []string) error {
	email := e.fs.String("email", "", "account email address")
	store, err := e.open(args)
	if err != nil {
		return err
	}
	defer store.Close()

	u, err := accountByEmail(store, *email)
	if err != nil {
		return err
	}
	keys, err := store.ListAPIKeys(u.ID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKEY\tLAST USED\tEXPIRES")
	for _, k := range keys {
		lastUsed, expires := "never", "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format(time.RFC3339)
		}
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s%s...\t%s\t%s\n", k.ID, k.Name, serverdb.KeyPrefix, k.Prefix, lastUsed, expires)
	}
	return tw.Flush()
}

func adminRevokeKey(e *adminEnv, args []string) error {
	email := e.fs.String("email", "", "account email address")
	id := e.fs.String("id", "", "key id, as shown by list-keys")
	store, err := e.open(args)
	if err != nil {
		return err
	}
	defer store.Close()

	if *id == "" {
		return errors.New("--id is required")
	}
	u, err := accountByEmail(store, *email)
	if err != nil {
		return err
	}
	if err := store.RevokeAPIKey(u.ID, *id); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "revoked key %s for %s\n", *id, u.Email)
	return nil
}
