package serverdb

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *ServerDB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestUser(t *testing.T, db *ServerDB, email string) *User {
	t.Helper()
	u, err := db.CreateUser(email)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// --- User tests ---

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)
	u, err := db.CreateUser("Alice@Example.COM")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email not lowercased: %s", u.Email)
	}
	if !strings.HasPrefix(u.ID, "u_") {
		t.Errorf("unexpected id prefix: %s", u.ID)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreateUser("dup@test.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateUser("dup@test.com"); err == nil {
		t.Fatal("expected error for duplicate email")
	}
}

func TestCreateUserEmptyEmail(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreateUser("  "); err == nil {
		t.Fatal("expected error for empty email")
	}
}

func TestUserByEmail(t *testing.T) {
	db := newTestDB(t)
	newTestUser(t, db, "find@test.com")
	found, err := db.UserByEmail(" FIND@test.com")
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.Email != "find@test.com" {
		t.Fatal("user not found by email")
	}

	missing, err := db.UserByEmail("nobody@test.com")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatal("expected nil for missing user")
	}
}

func TestListAccounts(t *testing.T) {
	db := newTestDB(t)
	a := newTestUser(t, db, "a@test.com")
	newTestUser(t, db, "b@test.com")
	db.IssueAPIKey(a.ID, "laptop", nil)
	db.IssueAPIKey(a.ID, "desktop", nil)
	db.WriteUserData(a.ID, "machines", "{}", NoRef, "m1")

	accounts, err := db.ListAccounts()
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	byEmail := map[string]Account{}
	for _, acc := range accounts {
		byEmail[acc.Email] = acc
	}
	if got := byEmail["a@test.com"]; got.Keys != 2 || got.Resources != 1 || got.LastWrite == nil {
		t.Errorf("a@test.com: %+v", got)
	}
	if got := byEmail["b@test.com"]; got.Keys != 0 || got.Resources != 0 || got.LastWrite != nil {
		t.Errorf("b@test.com: %+v", got)
	}

	db.DeleteUserData(a.ID)
	accounts, _ = db.ListAccounts()
	for _, acc := range accounts {
		if acc.Email == "a@test.com" && acc.Resources != 0 {
			t.Errorf("deleted resources still counted: %+v", acc)
		}
	}
}

// --- API key tests ---

func TestIssueAndAuthenticate(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "key@test.com")

	plaintext, ak, err := db.IssueAPIKey(u.ID, "laptop", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		t.Errorf("key missing prefix: %s", plaintext)
	}
	if !strings.HasPrefix(plaintext, KeyPrefix+ak.Prefix) {
		t.Errorf("stored prefix %q does not match key", ak.Prefix)
	}

	cred, err := db.Authenticate(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if cred.KeyID != ak.ID || cred.UserID != u.ID || cred.Email != u.Email || cred.KeyName != "laptop" {
		t.Fatalf("unexpected credential: %+v", cred)
	}

	keys, err := db.ListAPIKeys(u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0].LastUsedAt == nil {
		t.Errorf("last use not recorded: %+v", keys)
	}
}

func TestIssueAPIKeyUnknownUser(t *testing.T) {
	db := newTestDB(t)
	if _, _, err := db.IssueAPIKey("u_missing", "x", nil); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestAuthenticateInvalid(t *testing.T) {
	db := newTestDB(t)
	for _, key := range []string{"", "bogus", KeyPrefix + "notarealkey"} {
		if _, err := db.Authenticate(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("%q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestAuthenticateExpired(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "expired@test.com")
	past := time.Now().Add(-24 * time.Hour)
	plaintext, _, err := db.IssueAPIKey(u.ID, "expired", &past)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Authenticate(plaintext); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestRevokeAPIKey(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "revoke@test.com")
	other := newTestUser(t, db, "other@test.com")
	plaintext, ak, _ := db.IssueAPIKey(u.ID, "to-revoke", nil)
	db.IssueAPIKey(u.ID, "kept", nil)

	if err := db.RevokeAPIKey(other.ID, ak.ID); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound revoking another user's key, got %v", err)
	}
	if err := db.RevokeAPIKey(u.ID, ak.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Authenticate(plaintext); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("revoked key still authenticates: %v", err)
	}
	keys, _ := db.ListAPIKeys(u.ID)
	if len(keys) != 1 || keys[0].Name != "kept" {
		t.Fatalf("unexpected keys after revoke: %+v", keys)
	}
}

// --- User data tests ---

func TestGetUserDataMissing(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "data@test.com")
	d, err := db.GetUserData(u.ID, "machines")
	if err != nil {
		t.Fatal(err)
	}
	if d != nil {
		t.Fatalf("expected nil, got %+v", d)
	}
}

func TestWriteUserDataRefs(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "data@test.com")

	ref, err := db.WriteUserData(u.ID, "machines", `{"version":1}`, NoRef, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if ref != "1" {
		t.Fatalf("first ref: got %s, want 1", ref)
	}

	ref, err = db.WriteUserData(u.ID, "machines", `{"version":1,"machines":[]}`, ref, "m2")
	if err != nil {
		t.Fatal(err)
	}
	if ref != "2" {
		t.Fatalf("second ref: got %s, want 2", ref)
	}

	d, err := db.GetUserData(u.ID, "machines")
	if err != nil {
		t.Fatal(err)
	}
	if d.Ref != "2" || d.Content != `{"version":1,"machines":[]}` || d.MachineID != "m2" {
		t.Fatalf("unexpected row: %+v", d)
	}
}

func TestWriteUserDataStaleRef(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "stale@test.com")

	if _, err := db.WriteUserData(u.ID, "machines", "a", NoRef, ""); err != nil {
		t.Fatal(err)
	}
	_, err := db.WriteUserData(u.ID, "machines", "b", NoRef, "")
	if !errors.Is(err, ErrRefMismatch) {
		t.Fatalf("expected ErrRefMismatch, got %v", err)
	}

	d, _ := db.GetUserData(u.ID, "machines")
	if d.Content != "a" || d.Ref != "1" {
		t.Fatalf("stale write modified data: %+v", d)
	}
}

func TestUserDataIsolatedPerUser(t *testing.T) {
	db := newTestDB(t)
	a := newTestUser(t, db, "a@test.com")
	b := newTestUser(t, db, "b@test.com")

	if _, err := db.WriteUserData(a.ID, "machines", "a", NoRef, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := db.WriteUserData(b.ID, "machines", "b", NoRef, ""); err != nil {
		t.Fatalf("second user should start from NoRef: %v", err)
	}
	d, _ := db.GetUserData(a.ID, "machines")
	if d.Content != "a" {
		t.Fatalf("user data leaked across users: %+v", d)
	}
}

func TestDeleteUserDataKeepsRefsMonotonic(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "del@test.com")

	ref, _ := db.WriteUserData(u.ID, "machines", "a", NoRef, "")
	db.WriteUserData(u.ID, "settings", "s", NoRef, "")

	n, err := db.DeleteUserData(u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("deleted %d resources, want 2", n)
	}

	d, _ := db.GetUserData(u.ID, "machines")
	if d == nil || !d.Deleted || d.Ref != "2" {
		t.Fatalf("expected tombstone with ref 2, got %+v", d)
	}

	if _, err := db.WriteUserData(u.ID, "machines", "stale", ref, ""); !errors.Is(err, ErrRefMismatch) {
		t.Fatalf("pre-delete ref should be rejected, got %v", err)
	}
	newRef, err := db.WriteUserData(u.ID, "machines", "b", d.Ref, "")
	if err != nil {
		t.Fatal(err)
	}
	if newRef != "3" {
		t.Fatalf("ref after delete: got %s, want 3", newRef)
	}

	list, _ := db.ListUserData(u.ID)
	if len(list) != 1 || list[0].Resource != "machines" {
		t.Fatalf("expected only machines listed, got %+v", list)
	}
}

// --- Schema tests ---

func TestSchemaVersion(t *testing.T) {
	db := newTestDB(t)
	v, err := db.schemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v != SchemaVersion {
		t.Fatalf("expected version %d, got %d", SchemaVersion, v)
	}
}

func TestReopenRunsNoMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	u := newTestUser(t, db, "keep@test.com")
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	n, err := db.migrate()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected no migrations on reopen, ran %d", n)
	}
	if found, _ := db.UserByEmail("keep@test.com"); found == nil || found.ID != u.ID {
		t.Fatal("data lost across reopen")
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	db.conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion+1))
	db.Close()

	if _, err := Open(path); err == nil || !strings.Contains(err.Error(), "newer") {
		t.Fatalf("expected newer-schema error, got %v", err)
	}
}
