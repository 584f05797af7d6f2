package utils

import (
	"sync"
	"time"
)

type windowEntry[T any] struct {
	at     time.Time
	member string
	value  T
}

// SlidingWindow is a bounded list of timestamped entries. Entries older than
// the window passed to each call are pruned lazily. A non-empty member is
// recorded at most once per window, which absorbs redelivered events.
type SlidingWindow[T any] struct {
	mu       sync.Mutex
	limit    int
	entries  []windowEntry[T]
	lastSeen time.Time
	// span is the longest window any Add has used.
	span     time.Duration
	retired  bool
}

func NewSlidingWindow[T any](limit int) *SlidingWindow[T] {
	if limit <= 0 {
		limit = 512
	}
	return &SlidingWindow[T]{limit: limit}
}

// Add prunes, appends and returns the entry count. ok is false when a sweep
// retired the window; the caller must fetch a fresh one.
func (w *SlidingWindow[T]) Add(now time.Time, window time.Duration, member string, value T) (count int, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.retired {
		return 0, false
	}

	w.pruneLocked(now.Add(-window))
	w.lastSeen = now
	if window > w.span {
		w.span = window
	}
	if member != "" {
		for _, entry := range w.entries {
			if entry.member == member {
				return len(w.entries), true
			}
		}
	}
	w.entries = append(w.entries, windowEntry[T]{at: now, member: member, value: value})
	if len(w.entries) > w.limit {
		w.entries = w.entries[len(w.entries)-w.limit:]
	}
	return len(w.entries), true
}

func (w *SlidingWindow[T]) Count(now time.Time, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now.Add(-window))
	return len(w.entries)
}

// CountMatching counts live entries whose value satisfies match.
func (w *SlidingWindow[T]) CountMatching(now time.Time, window time.Duration, match func(T) bool) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-window)
	count := 0
	for _, entry := range w.entries {
		if entry.at.After(cutoff) && match(entry.value) {
			count++
		}
	}
	return count
}

func (w *SlidingWindow[T]) Members(now time.Time, window time.Duration) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now.Add(-window))
	members := make([]string, 0, len(w.entries))
	for _, entry := range w.entries {
		if entry.member != "" {
			members = append(members, entry.member)
		}
	}
	return members
}

// Retire marks the window retired when it has been idle for keep and holds
// nothing inside the longest window its callers use. Entries are only pruned
// by that span, never by keep.
func (w *SlidingWindow[T]) Retire(now time.Time, keep time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now.Add(-w.span))
	if len(w.entries) > 0 || w.lastSeen.After(now.Add(-keep)) {
		return false
	}
	w.retired = true
	return true
}

func (w *SlidingWindow[T]) pruneLocked(cutoff time.Time) {
	kept := w.entries[:0]
	for _, entry := range w.entries {
		if entry.at.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	var zero windowEntry[T]
	for i := len(kept); i < len(w.entries); i++ {
		w.entries[i] = zero
	}
	w.entries = kept
}
