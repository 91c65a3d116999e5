package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"

	"shipwatch/internal/changelog"
	"shipwatch/internal/manifest"
	"shipwatch/internal/model"
)

var (
	recPrefix   = []byte("rec/")
	recUpper    = []byte("rec0") // '0' follows '/'
	manifestKey = []byte("meta/manifest")
)

// PebbleStore implements Store using PebbleDB. Records are stored under
// rec/<ordinal> so iteration preserves the saved order. Pebble locks its
// directory to one process, so an in-process mutex covers the version check.
type PebbleStore struct {
	history
	mu sync.Mutex
	db *pebble.DB
}

func NewPebbleStore(dir string, hist changelog.Writer) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:          64 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 8,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{history: history{w: hist}, db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func recordKey(i int) []byte { return []byte(fmt.Sprintf("%s%08d", recPrefix, i)) }

func (p *PebbleStore) Load(_ context.Context) (Loaded, error) {
	var out Loaded
	v, closer, err := p.db.Get(manifestKey)
	if err == nil {
		e := json.Unmarshal(v, &out.Manifest)
		_ = closer.Close()
		if e != nil {
			return Loaded{}, fmt.Errorf("%w: manifest: %v", ErrCorrupt, e)
		}
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return Loaded{}, fmt.Errorf("pebble get manifest: %w", err)
	}

	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: recPrefix, UpperBound: recUpper})
	if err != nil {
		return Loaded{}, fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		var r model.Record
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			return Loaded{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, it.Key(), err)
		}
		out.Records = append(out.Records, r)
	}
	if err := it.Error(); err != nil {
		return Loaded{}, fmt.Errorf("pebble iter: %w", err)
	}
	return out, nil
}

// Save replaces all records and the manifest in one synced batch.
func (p *PebbleStore) Save(_ context.Context, recs model.GoldenRecord, m manifest.Manifest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, closer, err := p.db.Get(manifestKey)
	switch {
	case err == nil:
		var cur manifest.Manifest
		decodeErr := json.Unmarshal(v, &cur)
		_ = closer.Close()
		if decodeErr == nil {
			if err := checkVersion(cur.Version, m); err != nil {
				return err
			}
		}
	case !errors.Is(err, pebble.ErrNotFound):
		return fmt.Errorf("pebble get manifest: %w", err)
	}

	wb := p.db.NewBatch()
	defer wb.Close()
	if err := wb.DeleteRange(recPrefix, recUpper, nil); err != nil {
		return fmt.Errorf("pebble delete range: %w", err)
	}
	for i, r := range recs {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
		if err := wb.Set(recordKey(i), b, nil); err != nil {
			return fmt.Errorf("pebble set: %w", err)
		}
	}
	mb, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := wb.Set(manifestKey, mb, nil); err != nil {
		return fmt.Errorf("pebble set manifest: %w", err)
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble commit: %w", err)
	}
	return nil
}
