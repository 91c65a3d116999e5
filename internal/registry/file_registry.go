package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/moby/sys/atomicwriter"

	"shipwatch/internal/model"
)

// FileRegistry persists {shortId: target} as one JSON object, rewritten
// atomically on each Upsert. Several processes may share the file: Upsert
// merges into the current on-disk content under an advisory lock, and
// Resolve reloads whenever the file was replaced.
type FileRegistry struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
	data map[string]string
	seen os.FileInfo // file the cache was read from; nil when absent
}

// OpenFileRegistry loads path if it exists.
func OpenFileRegistry(path string) (*FileRegistry, error) {
	path = filepath.Clean(path)
	r := &FileRegistry{path: path, lock: flock.New(path + ".lock"), data: make(map[string]string)}
	if err := r.refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

// refresh rereads the file when it differs from the cached one. Caller holds mu.
func (r *FileRegistry) refresh() error {
	fi, err := os.Stat(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.data, r.seen = make(map[string]string), nil
			return nil
		}
		return fmt.Errorf("stat registry: %w", err)
	}
	if r.seen != nil && os.SameFile(r.seen, fi) && r.seen.ModTime().Equal(fi.ModTime()) && r.seen.Size() == fi.Size() {
		return nil
	}
	b, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}
	data := make(map[string]string)
	if len(b) > 0 {
		if err := json.Unmarshal(b, &data); err != nil {
			return fmt.Errorf("decode registry: %w", err)
		}
	}
	r.data, r.seen = data, fi
	return nil
}

func (r *FileRegistry) Resolve(_ context.Context, shortID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refresh(); err != nil {
		return "", false, err
	}
	t, ok := r.data[model.ShortID(shortID)]
	return t, ok, nil
}

func (r *FileRegistry) Upsert(ctx context.Context, shortID, target string) error {
	id, target, err := normalizeArgs(shortID, target)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	locked, err := r.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock registry: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock registry: %w", ctx.Err())
	}
	defer func() { _ = r.lock.Unlock() }()

	// Another process may have written since the last read.
	if err := r.refresh(); err != nil {
		return err
	}
	next := make(map[string]string, len(r.data)+1)
	for k, v := range r.data {
		next[k] = v
	}
	next[id] = target
	b, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := atomicwriter.WriteFile(r.path, b, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	r.data, r.seen = next, nil
	if fi, err := os.Stat(r.path); err == nil {
		r.seen = fi
	}
	return nil
}
