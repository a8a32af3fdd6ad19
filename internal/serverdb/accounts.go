package serverdb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is a sync account. Every machine logged in with one of its keys
// shares its resources.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Account is a user with a summary of what it holds on the server.
type Account struct {
	User
	Keys      int
	Resources int
	// LastWrite is the newest resource write or delete, nil if none.
	LastWrite *time.Time
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser registers an account. Emails are stored lowercased.
func (db *ServerDB) CreateUser(email string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, errors.New("email is required")
	}

	u := &User{ID: newID("u_"), Email: email, CreatedAt: time.Now().UTC()}
	if _, err := db.conn.Exec(
		`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`,
		u.ID, u.Email, u.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert user %s: %w", email, err)
	}
	return u, nil
}

// UserByEmail looks an account up by email, case-insensitively. It returns
// nil, nil when there is none.
func (db *ServerDB) UserByEmail(email string) (*User, error) {
	u := &User{}
	err := db.conn.QueryRow(
		`SELECT id, email, created_at FROM users WHERE email = ?`, normalizeEmail(email),
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// ListAccounts returns every account, oldest first, with key and live
// resource counts.
func (db *ServerDB) ListAccounts() ([]Account, error) {
	rows, err := db.conn.Query(`
		SELECT u.id, u.email, u.created_at,
		       (SELECT COUNT(*) FROM api_keys k WHERE k.user_id = u.id),
		       (SELECT COUNT(*) FROM user_data d WHERE d.user_id = u.id AND d.deleted = 0),
		       (SELECT MAX(d.updated_at) FROM user_data d WHERE d.user_id = u.id)
		FROM users u
		ORDER BY u.created_at, u.email`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		var last sql.NullString
		if err := rows.Scan(&a.ID, &a.Email, &a.CreatedAt, &a.Keys, &a.Resources, &last); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		if last.Valid {
			if t, err := parseDBTime(last.String); err == nil {
				a.LastWrite = &t
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

// parseDBTime parses a DATETIME column read back as text. MAX() loses the
// column type, so the driver hands it over unparsed.
func parseDBTime(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
