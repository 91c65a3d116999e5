// Package registry maps destination short ids to one notification target.
// Writes are last-write-wins per key; a missing key is a normal outcome.
package registry

import (
	"context"
	"errors"
	"strings"
	"sync"

	"shipwatch/internal/model"
)

var (
	ErrInvalidShortID = errors.New("short id is empty")
	ErrInvalidTarget  = errors.New("target is empty")
)

// Registry resolves and records subscriptions.
type Registry interface {
	Resolve(ctx context.Context, shortID string) (target string, ok bool, err error)
	Upsert(ctx context.Context, shortID, target string) error
}

// normalizeArgs canonicalizes the key and validates both arguments.
func normalizeArgs(shortID, target string) (string, string, error) {
	id := model.ShortID(shortID)
	if id == "" {
		return "", "", ErrInvalidShortID
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return "", "", ErrInvalidTarget
	}
	return id, target, nil
}

// MemoryRegistry is a thread-safe map registry.
type MemoryRegistry struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{data: make(map[string]string)}
}

func (m *MemoryRegistry) Resolve(_ context.Context, shortID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.data[model.ShortID(shortID)]
	return t, ok, nil
}

func (m *MemoryRegistry) Upsert(_ context.Context, shortID, target string) error {
	id, target, err := normalizeArgs(shortID, target)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = target
	return nil
}
