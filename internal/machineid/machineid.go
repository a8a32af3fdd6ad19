// Package machineid provides the stable per-installation id used to tell
// machines apart in the sync registry.
package machineid

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	fileName = "machineid"
	lockName = "machineid.lock"
)

// GetOrCreate returns the id stored in dir, generating and persisting a new
// one if none exists yet. Concurrent callers in other processes get the same id.
func GetOrCreate(dir string) (string, error) {
	if id, err := readID(dir); err != nil || id != "" {
		return id, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create machine id dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, lockName), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return "", fmt.Errorf("open machine id lock: %w", err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return "", fmt.Errorf("lock machine id: %w", err)
	}
	defer unlockFile(f)

	// Another process may have written it while we waited.
	if id, err := readID(dir); err != nil || id != "" {
		return id, err
	}

	id := uuid.New().String()
	if err := writeID(dir, id); err != nil {
		return "", err
	}
	return id, nil
}

// Provider returns a resolver for the id stored in dir.
func Provider(dir string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		return GetOrCreate(dir)
	}
}

func readID(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read machine id: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", nil
	}
	if _, err := uuid.Parse(id); err != nil {
		// Not ours; regenerate rather than sync under a bogus id.
		return "", nil
	}
	return id, nil
}

// writeID writes via temp file + rename so readers never see a partial id.
func writeID(dir, id string) error {
	tmp, err := os.CreateTemp(dir, "machineid-*.tmp")
	if err != nil {
		return fmt.Errorf("write machine id: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(id); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write machine id: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write machine id: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write machine id: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, fileName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write machine id: %w", err)
	}
	return nil
}
