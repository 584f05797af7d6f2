package clock

import (
	"testing"
	"time"
)

func TestFakeFiresDueTimers(t *testing.T) {
	clock := NewFake(time.Unix(0, 0))
	var fired []string
	clock.AfterFunc(5*time.Second, func() { fired = append(fired, "five") })
	clock.AfterFunc(time.Second, func() { fired = append(fired, "one") })
	stopped := clock.AfterFunc(2*time.Second, func() { fired = append(fired, "two") })
	if !stopped.Stop() {
		t.Fatalf("expected stop to succeed")
	}

	clock.Advance(3 * time.Second)
	if len(fired) != 1 || fired[0] != "one" {
		t.Fatalf("unexpected fired timers: %v", fired)
	}
	if clock.Pending() != 1 {
		t.Fatalf("expected 1 pending timer, got %d", clock.Pending())
	}
	clock.Advance(2 * time.Second)
	if len(fired) != 2 || fired[1] != "five" {
		t.Fatalf("unexpected fired timers: %v", fired)
	}
}
