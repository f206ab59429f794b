package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/snehjoshi/aochat/internal/scheduler"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

// collected gathers fired timers in a concurrency-safe way.
type collected struct {
	mu      sync.Mutex
	entries []string // "kind/key"
}

func (c *collected) fn(key string, kind scheduler.Kind) {
	c.mu.Lock()
	c.entries = append(c.entries, string(kind)+"/"+key)
	c.mu.Unlock()
}

func (c *collected) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *collected) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.entries))
	copy(out, c.entries)
	return out
}

// waitForCount polls until n timers have fired or timeout elapses.
func waitForCount(t *testing.T, c *collected, n int, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.len() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func startScheduler(t *testing.T) (*scheduler.Scheduler, *collected) {
	t.Helper()
	s := scheduler.New()
	ctx, cancel := context.WithCancel(context.Background())
	c := &collected{}
	s.Start(ctx, c.fn)
	t.Cleanup(func() {
		s.Stop()
		cancel()
	})
	return s, c
}

const timeout scheduler.Kind = "timeout"

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestScheduler_PastDeadlineFiresPromptly(t *testing.T) {
	s, c := startScheduler(t)

	s.Schedule("1", timeout, time.Now().Add(-time.Second).UnixMilli())

	if !waitForCount(t, c, 1, 2*time.Second) {
		t.Fatalf("expected 1 fire within 2s, got %d", c.len())
	}
	if got := c.ids()[0]; got != "timeout/1" {
		t.Errorf("fired %s, want timeout/1", got)
	}
}

func TestScheduler_FutureDeadline(t *testing.T) {
	s, c := startScheduler(t)

	s.After("2", timeout, 150*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	if c.len() != 0 {
		t.Fatal("timer fired before its deadline")
	}
	if !waitForCount(t, c, 1, 500*time.Millisecond) {
		t.Fatal("timer did not fire within 500ms of its deadline")
	}
}

func TestScheduler_CancelPreventsFire(t *testing.T) {
	s, c := startScheduler(t)

	s.After("3", timeout, 100*time.Millisecond)
	s.Cancel("3", timeout)

	time.Sleep(250 * time.Millisecond)
	if c.len() != 0 {
		t.Fatalf("expected 0 fires after cancel, got %d", c.len())
	}
}

func TestScheduler_KindsAreIndependent(t *testing.T) {
	s, c := startScheduler(t)

	s.After("4", timeout, 60*time.Millisecond)
	s.After("4", "recheck", 30*time.Millisecond)
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}

	s.Cancel("4", timeout)
	if !waitForCount(t, c, 1, time.Second) {
		t.Fatal("recheck did not fire")
	}
	time.Sleep(100 * time.Millisecond)
	if ids := c.ids(); len(ids) != 1 || ids[0] != "recheck/4" {
		t.Errorf("fired %v, want only recheck/4", ids)
	}
}

func TestScheduler_CancelKeyDisarmsAllKinds(t *testing.T) {
	s, _ := startScheduler(t)

	s.After("5", timeout, time.Hour)
	s.After("5", "recheck", time.Hour)
	s.After("6", timeout, time.Hour)

	s.CancelKey("5")
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	if s.Armed("5", timeout) || !s.Armed("6", timeout) {
		t.Error("CancelKey touched the wrong timers")
	}
}

func TestScheduler_OrderedFiring(t *testing.T) {
	s, c := startScheduler(t)

	now := time.Now()
	s.Schedule("b", timeout, now.Add(60*time.Millisecond).UnixMilli())
	s.Schedule("a", timeout, now.Add(30*time.Millisecond).UnixMilli())
	s.Schedule("c", timeout, now.Add(90*time.Millisecond).UnixMilli())

	if !waitForCount(t, c, 3, 2*time.Second) {
		t.Fatalf("expected 3 fires, got %d", c.len())
	}
	want := []string{"timeout/a", "timeout/b", "timeout/c"}
	for i, id := range c.ids() {
		if id != want[i] {
			t.Errorf("fire[%d] = %s, want %s", i, id, want[i])
		}
	}
}

func TestScheduler_EarlierTimerInterruptsSleep(t *testing.T) {
	s, c := startScheduler(t)

	s.After("late", timeout, 10*time.Second)
	time.Sleep(20 * time.Millisecond)
	s.After("early", timeout, 50*time.Millisecond)

	if !waitForCount(t, c, 1, 500*time.Millisecond) {
		t.Fatal("early timer not fired within 500ms")
	}
	if got := c.ids()[0]; got != "timeout/early" {
		t.Errorf("first fire = %s, want timeout/early", got)
	}
}

func TestScheduler_CountByKind(t *testing.T) {
	s, _ := startScheduler(t)

	s.After("a", timeout, time.Hour)
	s.After("b", timeout, time.Hour)
	s.After("a", "recheck", time.Hour)

	if got := s.CountByKind(timeout); got != 2 {
		t.Errorf("CountByKind(timeout) = %d, want 2", got)
	}
	if got := s.CountByKind("recheck"); got != 1 {
		t.Errorf("CountByKind(recheck) = %d, want 1", got)
	}
}

func TestScheduler_ClearDisarmsEverything(t *testing.T) {
	s, c := startScheduler(t)

	s.After("a", timeout, 50*time.Millisecond)
	s.After("b", timeout, 60*time.Millisecond)
	s.Clear()

	if s.Len() != 0 {
		t.Errorf("Len after Clear = %d", s.Len())
	}
	time.Sleep(150 * time.Millisecond)
	if c.len() != 0 {
		t.Errorf("fired %v after Clear", c.ids())
	}

	s.After("c", timeout, 10*time.Millisecond)
	if !waitForCount(t, c, 1, time.Second) {
		t.Error("scheduler unusable after Clear")
	}
}

func TestScheduler_StopPreventsFire(t *testing.T) {
	s := scheduler.New()
	c := &collected{}
	s.Start(context.Background(), c.fn)

	s.After("x", timeout, 100*time.Millisecond)
	s.Stop()
	s.Stop()

	time.Sleep(200 * time.Millisecond)
	if c.len() != 0 {
		t.Fatalf("expected 0 fires after Stop, got %d", c.len())
	}
}

func TestScheduler_RescheduleReplacesExisting(t *testing.T) {
	s, c := startScheduler(t)

	s.After("m", timeout, 10*time.Second)
	s.After("m", timeout, 50*time.Millisecond)

	if !waitForCount(t, c, 1, time.Second) {
		t.Fatal("re-armed timer did not fire within 1s")
	}
	if s.Len() != 0 {
		t.Errorf("Len after fire = %d, want 0", s.Len())
	}
}
