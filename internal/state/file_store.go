package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/moby/sys/atomicwriter"

	"shipwatch/internal/changelog"
	"shipwatch/internal/manifest"
	"shipwatch/internal/model"
)

// FileStore keeps the golden record in one JSON file replaced via
// write-to-temp and rename. Save holds an advisory lock on <path>.lock across
// the version check and the rename, so processes sharing the file serialize.
type FileStore struct {
	history
	path string
	lock *flock.Flock
}

type envelope struct {
	Manifest manifest.Manifest  `json:"manifest"`
	Records  model.GoldenRecord `json:"records"`
}

// NewFileStore stores state at path; hist may be nil.
func NewFileStore(path string, hist changelog.Writer) *FileStore {
	path = filepath.Clean(path)
	return &FileStore{history: history{w: hist}, path: path, lock: flock.New(path + ".lock")}
}

func (f *FileStore) Load(_ context.Context) (Loaded, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Loaded{}, nil
		}
		return Loaded{}, fmt.Errorf("read state: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Loaded{}, nil
	}
	// A bare array is the legacy layout without a manifest.
	if data[0] == '[' {
		var recs model.GoldenRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return Loaded{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return Loaded{Records: recs}, nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Loaded{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return Loaded{Records: env.Records, Manifest: env.Manifest}, nil
}

func (f *FileStore) Save(ctx context.Context, recs model.GoldenRecord, m manifest.Manifest) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	locked, err := f.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock state: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock state: %w", ctx.Err())
	}
	defer func() { _ = f.lock.Unlock() }()

	cur, err := f.Load(ctx)
	switch {
	case errors.Is(err, ErrCorrupt):
	case err != nil:
		return err
	default:
		if err := checkVersion(cur.Manifest.Version, m); err != nil {
			return err
		}
	}
	if recs == nil {
		recs = model.GoldenRecord{}
	}
	b, err := json.MarshalIndent(envelope{Manifest: m, Records: recs}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := atomicwriter.WriteFile(f.path, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
