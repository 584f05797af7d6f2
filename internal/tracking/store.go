// Package tracking owns the per-key sliding windows behind spam, duplicate and
// join detection.
package tracking

import (
	"sync"
	"time"

	"sentinel-automod/internal/utils"
)

// Store is a keyed set of sliding windows with get-or-create semantics.
// Windows are removed only by Sweep, and only once they are empty past the
// grace period.
type Store[T any] struct {
	mu      sync.Mutex
	limit   int
	windows map[string]*utils.SlidingWindow[T]
}

func NewStore[T any](limit int) *Store[T] {
	return &Store[T]{limit: limit, windows: make(map[string]*utils.SlidingWindow[T])}
}

func (s *Store[T]) get(key string) *utils.SlidingWindow[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	window, ok := s.windows[key]
	if !ok {
		window = utils.NewSlidingWindow[T](s.limit)
		s.windows[key] = window
	}
	return window
}

func (s *Store[T]) lookup(key string) (*utils.SlidingWindow[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window, ok := s.windows[key]
	return window, ok
}

// Add records an entry for key and returns the live count. If a concurrent
// sweep retired the window between lookup and append, a fresh window is
// created and the append retried, so no entry is lost.
func (s *Store[T]) Add(key string, now time.Time, window time.Duration, member string, value T) int {
	for {
		w := s.get(key)
		if count, ok := w.Add(now, window, member, value); ok {
			return count
		}
		s.mu.Lock()
		if s.windows[key] == w {
			delete(s.windows, key)
		}
		s.mu.Unlock()
	}
}

func (s *Store[T]) Count(key string, now time.Time, window time.Duration) int {
	w, ok := s.lookup(key)
	if !ok {
		return 0
	}
	return w.Count(now, window)
}

func (s *Store[T]) CountMatching(key string, now time.Time, window time.Duration, match func(T) bool) int {
	w, ok := s.lookup(key)
	if !ok {
		return 0
	}
	return w.CountMatching(now, window, match)
}

func (s *Store[T]) Members(key string, now time.Time, window time.Duration) []string {
	w, ok := s.lookup(key)
	if !ok {
		return nil
	}
	return w.Members(now, window)
}

// Sweep drops windows that have been empty and idle for grace. It returns
// the number removed.
func (s *Store[T]) Sweep(now time.Time, grace time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, w := range s.windows {
		if w.Retire(now, grace) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
