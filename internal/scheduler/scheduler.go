package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Kind names the purpose of a timer. A key may have at most one timer of
// each kind armed at a time.
type Kind string

// FireFunc is called from the scheduler goroutine when a timer is due.
// It must not block for long.
type FireFunc func(key string, kind Kind)

// Scheduler fires keyed timers at or after their deadline.
//
// Usage:
//
//	s := New()
//	s.Start(ctx, func(key string, kind Kind) {
//	    // pending message `key` reached its deadline
//	})
//	defer s.Stop()
//
//	s.After("7", "timeout", 15*time.Second)
//
// All methods are safe for concurrent use.
type Scheduler struct {
	mu   sync.Mutex
	h    timerHeap
	byID map[string]*item // kind/key → item

	// notify (capacity 1) wakes the goroutine when a new timer may be due
	// sooner than the one it is sleeping on.
	notify chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Scheduler. Call Start to begin firing timers.
func New() *Scheduler {
	h := make(timerHeap, 0, 16)
	heap.Init(&h)
	return &Scheduler{
		h:      h,
		byID:   make(map[string]*item),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Schedule arms the (key, kind) timer to fire at fireAt (UTC milliseconds).
// An existing timer with the same key and kind is replaced. A deadline in the
// past fires promptly.
func (s *Scheduler) Schedule(key string, kind Kind, fireAt int64) {
	it := &item{key: key, kind: kind, fireAt: fireAt}

	s.mu.Lock()
	if prev, ok := s.byID[it.id()]; ok {
		prev.cancelled = true
		s.h.remove(prev.heapIdx)
	}
	heap.Push(&s.h, it)
	s.byID[it.id()] = it
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// After is Schedule relative to now.
func (s *Scheduler) After(key string, kind Kind, d time.Duration) {
	s.Schedule(key, kind, time.Now().Add(d).UnixMilli())
}

// Cancel disarms the (key, kind) timer. It is a no-op if none is armed.
func (s *Scheduler) Cancel(key string, kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(string(kind) + "/" + key)
}

// CancelKey disarms every timer armed for key.
func (s *Scheduler) CancelKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, it := range s.byID {
		if it.key == key {
			s.cancelLocked(id)
		}
	}
}

// Clear disarms every timer.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.byID {
		it.cancelled = true
	}
	s.byID = make(map[string]*item)
	s.h = s.h[:0]
}

func (s *Scheduler) cancelLocked(id string) {
	it, ok := s.byID[id]
	if !ok {
		return
	}
	it.cancelled = true
	s.h.remove(it.heapIdx)
	delete(s.byID, id)
}

// Len returns the number of armed timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Armed reports whether the (key, kind) timer is armed.
func (s *Scheduler) Armed(key string, kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[string(kind)+"/"+key]
	return ok
}

// CountByKind returns the number of armed timers of the given kind.
func (s *Scheduler) CountByKind(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.byID {
		if it.kind == kind {
			n++
		}
	}
	return n
}

// Start launches the goroutine that fires due timers. It must be called
// exactly once.
func (s *Scheduler) Start(ctx context.Context, fn FireFunc) {
	s.wg.Add(1)
	go s.run(ctx, fn)
}

// Stop shuts down the goroutine and waits for it to exit, including any
// callback in progress. Armed timers are abandoned. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

// ─── timer goroutine ──────────────────────────────────────────────────────────

func (s *Scheduler) run(ctx context.Context, fn FireFunc) {
	defer s.wg.Done()

	var t *time.Timer
	defer func() {
		if t != nil {
			t.Stop()
		}
	}()

	for {
		s.mu.Lock()
		next := s.peek()
		var fireAt int64
		if next != nil {
			fireAt = next.fireAt
		}
		s.mu.Unlock()

		if next == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-s.notify:
			}
			continue
		}

		delay := time.Until(time.UnixMilli(fireAt))
		if delay <= 0 {
			s.fireDue(fn)
			continue
		}

		if t == nil {
			t = time.NewTimer(delay)
		} else {
			t.Reset(delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.notify:
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
		case <-t.C:
			s.fireDue(fn)
		}
	}
}

// fireDue pops the root if it is due and calls fn outside the lock.
func (s *Scheduler) fireDue(fn FireFunc) {
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	it := s.peek()
	if it == nil || it.fireAt > time.Now().UnixMilli() {
		s.mu.Unlock()
		return
	}
	heap.Pop(&s.h)
	delete(s.byID, it.id())
	s.mu.Unlock()

	fn(it.key, it.kind)
}

// peek returns the root item, or nil if the heap is empty.
// MUST be called with s.mu held.
func (s *Scheduler) peek() *item {
	for s.h.Len() > 0 {
		root := s.h[0]
		if !root.cancelled {
			return root
		}
		heap.Pop(&s.h)
	}
	return nil
}
