package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreConcurrentAddsAreCounted(t *testing.T) {
	store := NewStore[struct{}](0)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Add("g1:u1", now, time.Minute, "", struct{}{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, store.Count("g1:u1", now, time.Minute))
}

func TestStoreSweepRemovesIdleWindows(t *testing.T) {
	store := NewStore[int](0)
	now := time.Now()
	store.Add("a", now, time.Second, "", 1)
	store.Add("b", now.Add(50*time.Minute), time.Second, "", 2)

	removed := store.Sweep(now.Add(70*time.Minute), time.Hour)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	// a swept key starts over on the next add
	assert.Equal(t, 1, store.Add("a", now.Add(71*time.Minute), time.Second, "", 3))
}

func TestStoreSweepRacingAdd(t *testing.T) {
	store := NewStore[struct{}](0)
	base := time.Now()
	store.Add("k", base, time.Second, "", struct{}{})

	var wg sync.WaitGroup
	later := base.Add(2 * time.Hour)
	wg.Add(2)
	go func() {
		defer wg.Done()
		store.Sweep(later, time.Hour)
	}()
	go func() {
		defer wg.Done()
		store.Add("k", later, time.Minute, "", struct{}{})
	}()
	wg.Wait()
	assert.Equal(t, 1, store.Count("k", later, time.Minute))
}

func TestMemoryWindowDedupes(t *testing.T) {
	window := NewMemoryWindow(0)
	ctx := context.Background()
	now := time.Now()

	count, err := window.Add(ctx, "g1", "u1", now, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, _ = window.Add(ctx, "g1", "u1", now.Add(time.Second), 10*time.Second)
	assert.Equal(t, 1, count)
	count, _ = window.Add(ctx, "g1", "u2", now.Add(time.Second), 10*time.Second)
	assert.Equal(t, 2, count)

	members, err := window.Members(ctx, "g1", now.Add(time.Second), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, members)
}

func TestRedisWindow(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	window := NewRedisWindow(rdb, 0)
	ctx := context.Background()
	now := time.Now()

	for i, member := range []string{"m1", "m2", "m2", "m3"} {
		_, err := window.Add(ctx, "spam:g1:u1", member, now.Add(time.Duration(i)*time.Second), 5*time.Second)
		require.NoError(t, err)
	}
	members, err := window.Members(ctx, "spam:g1:u1", now.Add(3*time.Second), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, members)

	count, err := window.Add(ctx, "spam:g1:u1", "m4", now.Add(5*time.Second+500*time.Millisecond), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "m1 aged out of the window")
}

func TestStoreSweepKeepsEntriesInsideLongWindows(t *testing.T) {
	store := NewStore[struct{}](0)
	now := time.Now()
	store.Add("spam:g1:u1", now, time.Hour, "", struct{}{})
	store.Add("spam:g1:u1", now.Add(time.Minute), time.Hour, "", struct{}{})

	assert.Equal(t, 0, store.Sweep(now.Add(15*time.Minute), 10*time.Minute))
	assert.Equal(t, 3, store.Add("spam:g1:u1", now.Add(16*time.Minute), time.Hour, "", struct{}{}))

	assert.Equal(t, 1, store.Sweep(now.Add(2*time.Hour), 10*time.Minute))
}
