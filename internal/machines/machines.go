// Package machines keeps the registry of machines that take part in settings
// sync. The registry is one JSON document in the remote user-data store; every
// change rewrites the whole document against the last ref this process saw.
package machines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/marcus/settingsync/internal/userdata"
)

const (
	// Resource is the store resource holding the registry document.
	Resource = "machines"
	// Version is the only document version this package reads or writes.
	Version = 1
)

var (
	// ErrIncompatibleVersion matches *IncompatibleVersionError.
	ErrIncompatibleVersion = errors.New("incompatible machines data version")
	// ErrConcurrentModification is returned when another writer updated the
	// registry after it was read.
	ErrConcurrentModification = errors.New("machines data was modified concurrently")
	// ErrInvalidName is returned by Rename for a blank name.
	ErrInvalidName = errors.New("machine name is required")
)

// IncompatibleVersionError reports a stored document written by a different
// version of the product.
type IncompatibleVersionError struct {
	Found    int
	Expected int
	Product  string
}

func (e *IncompatibleVersionError) Error() string {
	return fmt.Sprintf("cannot read machines data as the current version is incompatible. Please update %s and try again.", e.Product)
}

func (e *IncompatibleVersionError) Is(target error) bool {
	return target == ErrIncompatibleVersion
}

// Record is one machine as stored in the registry.
type Record struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Document is the persisted registry.
type Document struct {
	Version  int      `json:"version"`
	Machines []Record `json:"machines"`
}

// Machine is a registry record as seen from this process.
type Machine struct {
	Record
	IsCurrent bool `json:"isCurrent"`
}

// IDFunc resolves the id of the machine running this process.
type IDFunc func(ctx context.Context) (string, error)

// Options configures a Service.
type Options struct {
	// Product is named in the incompatible version error.
	Product string
	// Logger receives parse failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// Service reads and updates the machine registry.
//
// Operations on one Service are serialized. Writers in other processes are
// only detected through the store's ref check.
type Service struct {
	store   userdata.Store
	product string
	log     *slog.Logger

	idMu      sync.Mutex
	idDone    bool
	idFunc    IDFunc
	currentID string
	idErr     error

	mu       sync.Mutex
	userData *userdata.UserData
}

// New creates a Service backed by store. currentID is called once per
// Service, plus once more for each call that failed because its context ended.
func New(store userdata.Store, currentID IDFunc, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Product == "" {
		opts.Product = "settingsync"
	}
	return &Service{
		store:   store,
		idFunc:  currentID,
		product: opts.Product,
		log:     opts.Logger,
	}
}

// CurrentID returns the memoized id of the current machine. A failure caused
// by ctx ending is not memoized, so a later call with a live context retries.
func (s *Service) CurrentID(ctx context.Context) (string, error) {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	if s.idDone {
		return s.currentID, s.idErr
	}
	id, err := s.idFunc(ctx)
	if err == nil && id == "" {
		err = errors.New("current machine id is empty")
	}
	if err != nil && ctx.Err() != nil {
		return "", err
	}
	s.currentID, s.idErr, s.idDone = id, err, true
	return id, err
}

// List returns every registered machine, flagging the current one.
func (s *Service) List(ctx context.Context) ([]Machine, error) {
	currentID, err := s.CurrentID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve machine id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Machine, 0, len(doc.Machines))
	for _, m := range doc.Machines {
		out = append(out, Machine{Record: m, IsCurrent: m.ID == currentID})
	}
	return out, nil
}

// Rename sets the current machine's name, registering it if needed.
func (s *Service) Rename(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	currentID, err := s.CurrentID(ctx)
	if err != nil {
		return fmt.Errorf("resolve machine id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(ctx)
	if err != nil {
		return err
	}
	found := false
	for i := range doc.Machines {
		if doc.Machines[i].ID == currentID {
			doc.Machines[i].Name = name
			found = true
			break
		}
	}
	if !found {
		doc.Machines = append(doc.Machines, Record{ID: currentID, Name: name})
	}
	return s.write(ctx, doc)
}

// RemoveCurrent drops the current machine from the registry. Nothing is
// written when it is not registered.
func (s *Service) RemoveCurrent(ctx context.Context) error {
	currentID, err := s.CurrentID(ctx)
	if err != nil {
		return fmt.Errorf("resolve machine id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(ctx)
	if err != nil {
		return err
	}
	kept := make([]Record, 0, len(doc.Machines))
	for _, m := range doc.Machines {
		if m.ID != currentID {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(doc.Machines) {
		return nil
	}
	doc.Machines = kept
	return s.write(ctx, doc)
}

// Disable marks the machine with the given id as disabled. An unknown id is
// not an error and causes no write.
func (s *Service) Disable(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(ctx)
	if err != nil {
		return err
	}
	for i := range doc.Machines {
		if doc.Machines[i].ID == id {
			doc.Machines[i].Disabled = true
			return s.write(ctx, doc)
		}
	}
	return nil
}

// read fetches the latest registry. Callers hold s.mu.
func (s *Service) read(ctx context.Context) (*Document, error) {
	ud, err := s.store.Read(ctx, Resource, s.userData)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", Resource, err)
	}
	s.userData = ud

	return s.parse(ud)
}

// write replaces the registry. Callers hold s.mu.
func (s *Service) write(ctx context.Context, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", Resource, err)
	}
	content := string(data)

	ref, err := s.store.Write(ctx, Resource, content, userdata.RefOf(s.userData))
	if err != nil {
		if errors.Is(err, userdata.ErrPreconditionFailed) {
			return fmt.Errorf("%w: %w", ErrConcurrentModification, err)
		}
		return fmt.Errorf("write %s: %w", Resource, err)
	}
	s.userData = &userdata.UserData{Ref: ref, Content: &content}
	return nil
}

// envelope is the part of a stored document every version shares. Machines
// is decoded only once the version is known.
type envelope struct {
	Version  json.RawMessage `json:"version"`
	Machines json.RawMessage `json:"machines"`
}

// parse decodes the cached blob. Missing content, or content that is not a
// JSON object, yields an empty document at the current version. Any other
// version, however its machines are shaped, is an IncompatibleVersionError.
func (s *Service) parse(ud *userdata.UserData) (*Document, error) {
	empty := &Document{Version: Version, Machines: []Record{}}
	if ud == nil || ud.Content == nil {
		return empty, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(*ud.Content), &env); err != nil {
		s.log.Error("parse machines data", "ref", ud.Ref, "err", err)
		return empty, nil
	}

	var version float64
	if err := json.Unmarshal(env.Version, &version); err != nil || version != Version {
		return nil, &IncompatibleVersionError{Found: int(version), Expected: Version, Product: s.product}
	}

	doc := &Document{Version: Version, Machines: []Record{}}
	if len(env.Machines) == 0 || string(env.Machines) == "null" {
		return doc, nil
	}
	if err := json.Unmarshal(env.Machines, &doc.Machines); err != nil {
		s.log.Error("parse machines data", "ref", ud.Ref, "err", err)
		return empty, nil
	}
	if doc.Machines == nil {
		doc.Machines = []Record{}
	}
	return doc, nil
}
