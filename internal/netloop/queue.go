package netloop

import (
	"container/heap"
	"net"
	"sync"
	"time"
)

// Priority orders datagrams in the outgoing queue; lower is sent first.
type Priority int

const (
	PriorityHigh Priority = 10
	PriorityLow  Priority = 100
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "custom"
	}
}

// DefaultQueueCapacity bounds the outgoing queue.
const DefaultQueueCapacity = 500

// Datagram is one encoded frame waiting to be sent.
type Datagram struct {
	Data     []byte
	Addr     *net.UDPAddr
	Priority Priority
	Enqueued time.Time

	seq uint64
}

// Queue is a bounded priority queue of datagrams, ordered by priority and
// then by enqueue order. Offer never blocks.
type Queue struct {
	mu       sync.Mutex
	items    datagramHeap
	capacity int
	seq      uint64
	notify   chan struct{}
}

// NewQueue returns an empty queue. A non-positive capacity selects
// DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Offer enqueues d. It returns false, leaving the queue untouched, when
// the queue is full.
func (q *Queue) Offer(d Datagram) bool {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return false
	}
	if d.Enqueued.IsZero() {
		d.Enqueued = time.Now()
	}
	q.seq++
	d.seq = q.seq
	heap.Push(&q.items, d)
	q.mu.Unlock()

	q.wakeup()
	return true
}

// Poll removes the head datagram, waiting up to timeout for one to
// arrive.
func (q *Queue) Poll(timeout time.Duration) (Datagram, bool) {
	var timer *time.Timer
	for {
		if d, ok := q.tryPop(); ok {
			if timer != nil {
				timer.Stop()
			}
			return d, true
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case <-q.notify:
		case <-timer.C:
			return q.tryPop()
		}
	}
}

func (q *Queue) tryPop() (Datagram, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Datagram{}, false
	}
	return heap.Pop(&q.items).(Datagram), true
}

// Len returns the number of queued datagrams.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

func (q *Queue) wakeup() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

type datagramHeap []Datagram

func (h datagramHeap) Len() int { return len(h) }

func (h datagramHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h datagramHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *datagramHeap) Push(x any) { *h = append(*h, x.(Datagram)) }

func (h *datagramHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = Datagram{}
	*h = old[:n-1]
	return d
}
