package serverdb

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// NoRef is the ref of a resource that has never been written.
const NoRef = "0"

// ErrRefMismatch is returned by WriteUserData when the caller's ref is stale.
var ErrRefMismatch = errors.New("ref mismatch")

// UserData is one stored resource blob. Deleted blobs keep their ref so a
// later write can never reuse a ref a client saw before the delete.
type UserData struct {
	UserID    string
	Resource  string
	Ref       string
	Content   string
	Deleted   bool
	MachineID string
	UpdatedAt time.Time
}

// GetUserData returns the blob for a user's resource, or nil if it does not exist.
func (db *ServerDB) GetUserData(userID, resource string) (*UserData, error) {
	d := &UserData{}
	var ref int64
	err := db.conn.QueryRow(
		`SELECT user_id, resource, ref, content, deleted, machine_id, updated_at FROM user_data WHERE user_id = ? AND resource = ?`,
		userID, resource,
	).Scan(&d.UserID, &d.Resource, &ref, &d.Content, &d.Deleted, &d.MachineID, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user data: %w", err)
	}
	d.Ref = strconv.FormatInt(ref, 10)
	return d, nil
}

// WriteUserData replaces a user's resource blob if ifMatch equals its current
// ref (NoRef for a resource that does not exist yet) and returns the new ref.
// On a stale ref nothing is written and the error wraps ErrRefMismatch.
func (db *ServerDB) WriteUserData(userID, resource, content, ifMatch, machineID string) (string, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("begin write user data: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRow(`SELECT ref FROM user_data WHERE user_id = ? AND resource = ?`, userID, resource).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("read current ref: %w", err)
	}

	currentRef := strconv.FormatInt(current, 10)
	if ifMatch != currentRef {
		return "", fmt.Errorf("%w: current %s, got %s", ErrRefMismatch, currentRef, ifMatch)
	}

	next := current + 1
	now := time.Now().UTC()
	_, err = tx.Exec(`
		INSERT INTO user_data (user_id, resource, ref, content, deleted, machine_id, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(user_id, resource)
		DO UPDATE SET ref = excluded.ref, content = excluded.content, deleted = 0, machine_id = excluded.machine_id, updated_at = excluded.updated_at
	`, userID, resource, next, content, machineID, now)
	if err != nil {
		return "", fmt.Errorf("write user data: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit user data: %w", err)
	}
	return strconv.FormatInt(next, 10), nil
}

// ListUserData returns every live resource stored for a user, without content.
func (db *ServerDB) ListUserData(userID string) ([]*UserData, error) {
	rows, err := db.conn.Query(
		`SELECT user_id, resource, ref, machine_id, updated_at FROM user_data WHERE user_id = ? AND deleted = 0 ORDER BY resource`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user data: %w", err)
	}
	defer rows.Close()

	var out []*UserData
	for rows.Next() {
		d := &UserData{}
		var ref int64
		if err := rows.Scan(&d.UserID, &d.Resource, &ref, &d.MachineID, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user data: %w", err)
		}
		d.Ref = strconv.FormatInt(ref, 10)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list user data: iterate: %w", err)
	}
	return out, nil
}

// DeleteUserData clears every resource stored for a user and returns how many
// were cleared. Each cleared resource gets a new ref.
func (db *ServerDB) DeleteUserData(userID string) (int64, error) {
	res, err := db.conn.Exec(
		`UPDATE user_data SET content = '', deleted = 1, ref = ref + 1, updated_at = ? WHERE user_id = ? AND deleted = 0`,
		time.Now().UTC(), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete user data: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
