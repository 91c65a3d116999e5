package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"shipwatch/internal/changelog"
	"shipwatch/internal/manifest"
	"shipwatch/internal/model"
)

var (
	// ErrCorrupt marks persisted state that exists but cannot be decoded.
	ErrCorrupt = errors.New("golden record corrupt")
	// ErrConflict rejects a Save whose manifest version does not advance past
	// the stored one: another writer saved after this state was loaded.
	ErrConflict = errors.New("golden record modified concurrently")
)

// Loaded is the persisted golden record with its manifest.
type Loaded struct {
	Records  model.GoldenRecord
	Manifest manifest.Manifest
}

// Store abstracts the golden record backend. Save replaces the whole record
// set atomically: a concurrent Load sees either the old or the new state.
// Save is a compare-and-swap on the manifest version: it fails with
// ErrConflict unless m.Version is greater than the stored version. Stored
// state that cannot be decoded is not compared and gets overwritten.
type Store interface {
	Load(ctx context.Context) (Loaded, error)
	Save(ctx context.Context, recs model.GoldenRecord, m manifest.Manifest) error
	AppendUploadHistory(ctx context.Context, e changelog.Entry) error
}

// history appends to an optional upload log.
type history struct {
	w changelog.Writer
}

func (h history) AppendUploadHistory(ctx context.Context, e changelog.Entry) error {
	if h.w == nil {
		return nil
	}
	return h.w.Append(ctx, e)
}

// InMemoryStore is a simple thread-safe store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data Loaded
	log  []changelog.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Load(_ context.Context) (Loaded, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Loaded{Records: clone(s.data.Records), Manifest: s.data.Manifest}, nil
}

func (s *InMemoryStore) Save(_ context.Context, recs model.GoldenRecord, m manifest.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkVersion(s.data.Manifest.Version, m); err != nil {
		return err
	}
	s.data = Loaded{Records: clone(recs), Manifest: m}
	return nil
}

func (s *InMemoryStore) AppendUploadHistory(_ context.Context, e changelog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, e)
	return nil
}

// History returns a copy of the appended entries.
func (s *InMemoryStore) History() []changelog.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]changelog.Entry(nil), s.log...)
}

func checkVersion(stored int64, m manifest.Manifest) error {
	if m.Version <= stored {
		return fmt.Errorf("%w: saving version %d over %d", ErrConflict, m.Version, stored)
	}
	return nil
}

func clone(recs model.GoldenRecord) model.GoldenRecord {
	if recs == nil {
		return nil
	}
	out := make(model.GoldenRecord, len(recs))
	for i, r := range recs {
		if r.Attributes != nil {
			attrs := make(map[string]string, len(r.Attributes))
			for k, v := range r.Attributes {
				attrs[k] = v
			}
			r.Attributes = attrs
		}
		out[i] = r
	}
	return out
}
