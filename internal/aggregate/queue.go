package aggregate

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"
)

// Granularity selects which bucket family a recompute targets.
type Granularity string

const (
	GranHour Granularity = "hour"
	GranDay  Granularity = "day"
)

// RecomputeTask asks for one bucket to be rebuilt from storage.
type RecomputeTask struct {
	SensorID    int64
	Granularity Granularity
	BucketStart time.Time
	NextRun     time.Time
	Attempts    int
}

func (t RecomputeTask) key() string {
	return fmt.Sprintf("%d|%s|%d", t.SensorID, t.Granularity, t.BucketStart.Unix())
}

type recomputeEntry struct {
	task  RecomputeTask
	index int
}

type recomputeHeap []*recomputeEntry

func (h recomputeHeap) Len() int { return len(h) }

func (h recomputeHeap) Less(i, j int) bool {
	if h[i].task.NextRun.Equal(h[j].task.NextRun) {
		if h[i].task.SensorID == h[j].task.SensorID {
			return h[i].task.BucketStart.Before(h[j].task.BucketStart)
		}
		return h[i].task.SensorID < h[j].task.SensorID
	}
	return h[i].task.NextRun.Before(h[j].task.NextRun)
}

func (h recomputeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *recomputeHeap) Push(x interface{}) {
	entry := x.(*recomputeEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *recomputeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	if n == 0 {
		return nil
	}
	entry := old[n-1]
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// RecomputeQueue is a thread-safe min-heap of pending bucket rebuilds.
// Requests for the same bucket coalesce into one entry at the earliest
// due time.
type RecomputeQueue struct {
	mu      sync.Mutex
	entries map[string]*recomputeEntry
	heap    recomputeHeap
}

// NewRecomputeQueue constructs an empty queue.
func NewRecomputeQueue() *RecomputeQueue {
	q := &RecomputeQueue{
		entries: make(map[string]*recomputeEntry),
		heap:    make(recomputeHeap, 0),
	}
	heap.Init(&q.heap)
	return q
}

// Upsert inserts or coalesces a recompute request. Fresh requests reset
// the retry counter of a pending entry; the earliest due time wins.
func (q *RecomputeQueue) Upsert(task RecomputeTask) {
	key := task.key()
	q.mu.Lock()
	defer q.mu.Unlock()

	if entry, ok := q.entries[key]; ok {
		if entry.task.NextRun.Before(task.NextRun) {
			task.NextRun = entry.task.NextRun
		}
		if entry.task.Attempts < task.Attempts {
			task.Attempts = entry.task.Attempts
		}
		entry.task = task
		heap.Fix(&q.heap, entry.index)
		return
	}

	entry := &recomputeEntry{task: task}
	heap.Push(&q.heap, entry)
	q.entries[key] = entry
	recordQueueDepth(len(q.heap))
}

// Remove drops a pending request if present.
func (q *RecomputeQueue) Remove(task RecomputeTask) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[task.key()]
	if !ok {
		return
	}
	heap.Remove(&q.heap, entry.index)
	delete(q.entries, task.key())
	recordQueueDepth(len(q.heap))
}

// WaitNext blocks until a request is due or the context is cancelled.
func (q *RecomputeQueue) WaitNext(ctx context.Context) (RecomputeTask, bool) {
	for {
		select {
		case <-ctx.Done():
			return RecomputeTask{}, false
		default:
		}

		q.mu.Lock()
		if len(q.heap) == 0 {
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return RecomputeTask{}, false
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		entry := q.heap[0]
		delay := time.Until(entry.task.NextRun)
		if delay <= 0 {
			heap.Pop(&q.heap)
			delete(q.entries, entry.task.key())
			task := entry.task
			recordQueueDepth(len(q.heap))
			q.mu.Unlock()
			return task, true
		}

		q.mu.Unlock()
		if delay > 250*time.Millisecond {
			delay = 250 * time.Millisecond
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return RecomputeTask{}, false
		case <-timer.C:
		}
	}
}

// Size returns the number of pending requests.
func (q *RecomputeQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
