package processor

import (
	"container/heap"
	"context"
)

// prioritized is one worker chunk tagged with its output slot.
type prioritized struct {
	priority int
	data     []byte
}

// chunkHeap is a min-heap of chunks ordered by priority.
type chunkHeap []prioritized

func (h chunkHeap) Len() int            { return len(h) }
func (h chunkHeap) Less(i, j int) bool  { return h[i].priority < h[j].priority }
func (h chunkHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *chunkHeap) Push(x interface{}) { *h = append(*h, x.(prioritized)) }
func (h *chunkHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// sortedQueue restores deterministic output order over concurrently produced
// chunks. Every priority slot must be pushed exactly once; empty chunks
// advance the order without emitting bytes. Chunks arriving for an already
// finalized slot are dropped.
type sortedQueue struct {
	rw   *responseWriter
	ch   chan prioritized
	done chan struct{}
}

func newSortedQueue(rw *responseWriter) *sortedQueue {
	q := &sortedQueue{
		rw:   rw,
		ch:   make(chan prioritized, 64),
		done: make(chan struct{}),
	}
	go q.consume()
	return q
}

// push hands a chunk to the consumer. It gives up when ctx is cancelled so
// workers of a timed out pool do not block on a full queue.
func (q *sortedQueue) push(ctx context.Context, priority int, data []byte) {
	select {
	case q.ch <- prioritized{priority: priority, data: data}:
	case <-ctx.Done():
	}
}

// close stops the consumer after all pending chunks were written. It must
// only be called once no worker can push anymore.
func (q *sortedQueue) close() {
	close(q.ch)
	<-q.done
}

func (q *sortedQueue) consume() {
	defer close(q.done)
	expected := 0
	h := &chunkHeap{}
	emit := func(c prioritized) {
		if len(c.data) == 0 {
			return
		}
		if err := q.rw.WriteChunk(c.data); err != nil {
			log.WithError(err).Debug("Dropping ordered chunk after response failure")
		}
	}
	for c := range q.ch {
		switch {
		case c.priority == expected:
			emit(c)
			expected++
			for h.Len() > 0 && (*h)[0].priority == expected {
				emit(heap.Pop(h).(prioritized))
				expected++
			}
		case c.priority > expected:
			heap.Push(h, c)
		default:
			log.WithField("priority", c.priority).Debug("Dropping chunk for finalized slot")
		}
	}
	// Whatever remains is flushed in priority order.
	for h.Len() > 0 {
		emit(heap.Pop(h).(prioritized))
	}
}
