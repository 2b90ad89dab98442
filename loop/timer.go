package loop

import (
	"container/heap"
	"time"
)

// timerEntry is one scheduled one-shot timer, ordered by deadline in a
// timerHeap. Adapted from the teacher's timer-heap scheduling in loop.go,
// trimmed to one-shot-only (this spec has no setInterval equivalent).
type timerEntry struct {
	deadline time.Time
	seq      uint64 // breaks ties in FIFO order for equal deadlines
	fn       func()
	index    int // heap index, maintained by container/heap
	cancelled bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	entry := x.(*timerEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// timerHandle implements promise.TimerHandle.
type timerHandle struct {
	loop  *Loop
	entry *timerEntry
}

func (h *timerHandle) Cancel() {
	h.loop.cancelTimer(h.entry)
}
