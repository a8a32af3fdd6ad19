package serverdb

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// KeyPrefix starts every API key, so a leaked key is recognizable.
const KeyPrefix = "ss_"

var (
	// ErrInvalidKey is returned by Authenticate for an unknown, revoked or
	// expired key.
	ErrInvalidKey = errors.New("invalid or expired api key")
	// ErrKeyNotFound is returned by RevokeAPIKey when the user has no such key.
	ErrKeyNotFound = errors.New("api key not found")
)

// APIKey is a stored key. The secret itself is never stored.
type APIKey struct {
	ID         string
	UserID     string
	Prefix     string
	Name       string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Credential is who a presented key authenticates as.
type Credential struct {
	UserID  string
	Email   string
	KeyID   string
	KeyName string
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// IssueAPIKey creates a key for userID. The plaintext is returned once; only
// its hash is kept. A nil expiresAt never expires.
func (db *ServerDB) IssueAPIKey(userID, name string, expiresAt *time.Time) (string, *APIKey, error) {
	var one int
	err := db.conn.QueryRow(`SELECT 1 FROM users WHERE id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, fmt.Errorf("user not found: %s", userID)
	}
	if err != nil {
		return "", nil, fmt.Errorf("check user: %w", err)
	}

	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(secret)
	plaintext := KeyPrefix + encoded

	ak := &APIKey{
		ID:        newID("ak_"),
		UserID:    userID,
		Prefix:    encoded[:8],
		Name:      name,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := db.conn.Exec(
		`INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ak.ID, ak.UserID, hashKey(plaintext), ak.Prefix, ak.Name, ak.ExpiresAt, ak.CreatedAt,
	); err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", err)
	}
	return plaintext, ak, nil
}

// Authenticate resolves a plaintext key to its credential and records the
// use. Anything that does not authenticate returns ErrInvalidKey.
func (db *ServerDB) Authenticate(key string) (*Credential, error) {
	if !strings.HasPrefix(key, KeyPrefix) {
		return nil, ErrInvalidKey
	}

	var c Credential
	var expiresAt *time.Time
	err := db.conn.QueryRow(`
		SELECT k.id, k.name, k.expires_at, u.id, u.email
		FROM api_keys k JOIN users u ON u.id = k.user_id
		WHERE k.key_hash = ?`, hashKey(key),
	).Scan(&c.KeyID, &c.KeyName, &expiresAt, &c.UserID, &c.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("look up api key: %w", err)
	}

	now := time.Now().UTC()
	if expiresAt != nil && expiresAt.Before(now) {
		slog.Debug("api key expired", "key_id", c.KeyID)
		return nil, ErrInvalidKey
	}
	if _, err := db.conn.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, now, c.KeyID); err != nil {
		slog.Warn("record key use", "key_id", c.KeyID, "err", err)
	}
	return &c, nil
}

// ListAPIKeys returns userID's keys, oldest first.
func (db *ServerDB) ListAPIKeys(userID string) ([]APIKey, error) {
	rows, err := db.conn.Query(
		`SELECT id, user_id, key_prefix, name, expires_at, last_used_at, created_at FROM api_keys WHERE user_id = ? ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Prefix, &k.Name, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey deletes keyID if it belongs to userID. Machines using it get
// 401 on their next request.
func (db *ServerDB) RevokeAPIKey(userID, keyID string) error {
	res, err := db.conn.Exec(`DELETE FROM api_keys WHERE id = ? AND user_id = ?`, keyID, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return nil
}
