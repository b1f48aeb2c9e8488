// Package lock provides non-blocking per-key exclusion for orchestration runs.
//
// Two runs for the same image and artifact kind would otherwise race on the
// same output file and record. A Locker lets the first run proceed and
// rejects the others with types.ErrBusy.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/babi2707/segmark/types"
)

// Release frees a held key. Calling it more than once is a no-op.
type Release func()

// Locker grants exclusive ownership of a key without waiting.
type Locker interface {
	// TryAcquire takes key or fails immediately with an error wrapping
	// types.ErrBusy when another holder has it.
	TryAcquire(ctx context.Context, key string) (Release, error)
}

// Key builds the lock key for one artifact of one image.
func Key(kind types.ArtifactKind, id types.ArtifactIdentity) string {
	return string(kind) + ":" + id.Key()
}

// Memory is an in-process Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory creates an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// TryAcquire implements Locker.
func (m *Memory) TryAcquire(ctx context.Context, key string) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, fmt.Errorf("%w: %s", types.ErrBusy, key)
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently held.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}

// Nop is a Locker that never rejects.
type Nop struct{}

// TryAcquire implements Locker.
func (Nop) TryAcquire(context.Context, string) (Release, error) {
	return func() {}, nil
}

var (
	_ Locker = (*Memory)(nil)
	_ Locker = Nop{}
)
