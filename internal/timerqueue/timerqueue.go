// Package timerqueue runs delayed and periodic callbacks on a single
// goroutine. Callbacks run serially and must not block.
package timerqueue

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"
)

// Task is a scheduled callback. Cancel is safe to call at any time, from
// any goroutine, including from inside the callback itself.
type Task struct {
	q        *Queue
	fn       func()
	at       time.Time
	period   time.Duration
	seq      uint64
	index    int
	canceled bool
}

// Cancel removes the task. A periodic task stops rescheduling.
func (t *Task) Cancel() {
	q := t.q
	q.mu.Lock()
	defer q.mu.Unlock()
	t.canceled = true
	if t.index >= 0 {
		heap.Remove(&q.tasks, t.index)
	}
}

// Queue is a single-goroutine scheduler.
type Queue struct {
	logger *slog.Logger

	mu     sync.Mutex
	tasks  taskHeap
	seq    uint64
	closed bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts a scheduler goroutine. Close stops it.
func New(logger *slog.Logger) *Queue {
	q := &Queue{
		logger: logger.With("component", "timerqueue"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// After runs fn once after delay.
func (q *Queue) After(delay time.Duration, fn func()) *Task {
	return q.schedule(delay, 0, fn)
}

// Every runs fn after initial and then every period until canceled.
func (q *Queue) Every(initial, period time.Duration, fn func()) *Task {
	if period <= 0 {
		panic("timerqueue: non-positive period")
	}
	return q.schedule(initial, period, fn)
}

func (q *Queue) schedule(delay, period time.Duration, fn func()) *Task {
	t := &Task{q: q, fn: fn, period: period, index: -1}
	q.mu.Lock()
	if q.closed {
		t.canceled = true
		q.mu.Unlock()
		return t
	}
	t.at = time.Now().Add(delay)
	q.seq++
	t.seq = q.seq
	heap.Push(&q.tasks, t)
	head := q.tasks[0] == t
	q.mu.Unlock()

	if head {
		q.notify()
	}
	return t
}

// Len returns the number of scheduled tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close cancels every task and waits for a running callback to return.
// It must not be called from inside a callback.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	for _, t := range q.tasks {
		t.canceled = true
		t.index = -1
	}
	q.tasks = nil
	q.mu.Unlock()

	q.closeOnce.Do(func() { close(q.done) })
	q.wg.Wait()
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer q.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		q.mu.Lock()
		wait := time.Hour
		if len(q.tasks) > 0 {
			wait = time.Until(q.tasks[0].at)
		}
		q.mu.Unlock()

		if wait > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-q.done:
				return
			case <-q.wake:
				continue
			case <-timer.C:
			}
		}

		select {
		case <-q.done:
			return
		default:
		}

		t := q.pop()
		if t == nil {
			continue
		}
		q.call(t)
	}
}

// pop removes the head task if due, rescheduling periodic tasks before
// the callback runs so a Cancel from within the callback sticks.
func (q *Queue) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 || time.Now().Before(q.tasks[0].at) {
		return nil
	}
	t := heap.Pop(&q.tasks).(*Task)
	if t.period > 0 {
		t.at = t.at.Add(t.period)
		if now := time.Now(); t.at.Before(now) {
			t.at = now.Add(t.period)
		}
		q.seq++
		t.seq = q.seq
		heap.Push(&q.tasks, t)
	}
	return t
}

func (q *Queue) call(t *Task) {
	q.mu.Lock()
	canceled := t.canceled
	q.mu.Unlock()
	if canceled {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("timer callback panic", "panic", r)
		}
	}()
	t.fn()
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
