package userdata

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemoryStore is an in-process Store with the same ref semantics as the
// sync server: refs are per-resource counters and stale writes are rejected.
type MemoryStore struct {
	mu        sync.Mutex
	resources map[string]*UserData
	reads     int
	writes    int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{resources: make(map[string]*UserData)}
}

// Read returns the latest blob for resource, or previous if it is unchanged.
func (s *MemoryStore) Read(ctx context.Context, resource string, previous *UserData) (*UserData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++

	cur, ok := s.resources[resource]
	if !ok {
		if previous != nil && RefOf(previous) == NoRef {
			return previous, nil
		}
		return &UserData{Ref: NoRef}, nil
	}
	if previous != nil && previous.Ref == cur.Ref {
		return previous, nil
	}
	return cloneData(cur), nil
}

// Write stores content if ref matches the current ref for resource.
func (s *MemoryStore) Write(ctx context.Context, resource, content, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := NoRef
	if cur, ok := s.resources[resource]; ok {
		current = cur.Ref
	}
	if ref != current {
		return "", fmt.Errorf("%w: have %s, got %s", ErrPreconditionFailed, current, ref)
	}

	n, _ := strconv.ParseInt(current, 10, 64)
	next := strconv.FormatInt(n+1, 10)
	s.resources[resource] = &UserData{Ref: next, Content: &content}
	s.writes++
	return next, nil
}

// Put stores raw content for resource without a ref check and returns the new ref.
// Tests use it to seed malformed or foreign documents.
func (s *MemoryStore) Put(resource, content string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if cur, ok := s.resources[resource]; ok {
		n, _ = strconv.ParseInt(cur.Ref, 10, 64)
	}
	ref := strconv.FormatInt(n+1, 10)
	s.resources[resource] = &UserData{Ref: ref, Content: &content}
	return ref
}

// Content returns the stored content for resource and whether it exists.
func (s *MemoryStore) Content(resource string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.resources[resource]
	if !ok || cur.Content == nil {
		return "", false
	}
	return *cur.Content, true
}

// Reads returns the number of Read calls served.
func (s *MemoryStore) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Writes returns the number of successful writes.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func cloneData(d *UserData) *UserData {
	out := &UserData{Ref: d.Ref}
	if d.Content != nil {
		c := *d.Content
		out.Content = &c
	}
	return out
}
