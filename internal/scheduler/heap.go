// Package scheduler implements a min-heap of keyed one-shot timers.
//
// The reconciliation engine arms two timers per optimistic send (the pending
// timeout and the post-push recheck) and cancels them when the message
// resolves earlier. One goroutine sleeps until the soonest deadline instead
// of one time.Timer per message, so Cancel and Clear are cheap map/heap
// operations and a stopped scheduler can never fire a stale callback.
package scheduler

import "container/heap"

// item is one entry in the timer heap.
type item struct {
	key    string // caller identity, e.g. the local message id
	kind   Kind   // what the timer is for; (key, kind) is unique
	fireAt int64  // UTC milliseconds, sort key

	// heapIdx is maintained by Swap so Cancel can heap.Remove in O(log N).
	heapIdx int

	// cancelled marks an item for lazy deletion.
	cancelled bool
}

func (it *item) id() string { return string(it.kind) + "/" + it.key }

// timerHeap orders items by fireAt, soonest first.
type timerHeap []*item

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return h[i].fireAt < h[j].fireAt
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *timerHeap) Push(x any) {
	it := x.(*item)
	it.heapIdx = len(*h)
	*h = append(*h, it)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.heapIdx = -1
	*h = old[:n-1]
	return it
}

func (h *timerHeap) remove(idx int) *item {
	return heap.Remove(h, idx).(*item)
}
