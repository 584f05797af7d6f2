package tracking

import (
	"context"
	"time"
)

// Window counts distinct members per key within a trailing time window.
type Window interface {
	// Add records member for key at now and returns the count within
	// window, including the new entry. Re-adding a live member is a no-op.
	Add(ctx context.Context, key, member string, now time.Time, window time.Duration) (int, error)
	// Members lists the live members for key, oldest first.
	Members(ctx context.Context, key string, now time.Time, window time.Duration) ([]string, error)
}

// Sweeper is implemented by windows that hold process memory.
type Sweeper interface {
	Sweep(now time.Time, grace time.Duration) int
}

// MemoryWindow is a process-local Window.
type MemoryWindow struct {
	store *Store[struct{}]
}

func NewMemoryWindow(limit int) *MemoryWindow {
	return &MemoryWindow{store: NewStore[struct{}](limit)}
}

func (m *MemoryWindow) Add(ctx context.Context, key, member string, now time.Time, window time.Duration) (int, error) {
	_ = ctx
	return m.store.Add(key, now, window, member, struct{}{}), nil
}

func (m *MemoryWindow) Members(ctx context.Context, key string, now time.Time, window time.Duration) ([]string, error) {
	_ = ctx
	return m.store.Members(key, now, window), nil
}

func (m *MemoryWindow) Sweep(now time.Time, grace time.Duration) int {
	return m.store.Sweep(now, grace)
}

func (m *MemoryWindow) Len() int {
	return m.store.Len()
}
