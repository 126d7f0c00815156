// Package tracker resends tracked requests until the expected response
// arrives from the addressed device or the device drops out of the
// routing table.
package tracker

import (
	"container/heap"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"lifx-lan/internal/netloop"
	"lifx-lan/internal/protocol"
	"lifx-lan/internal/timerqueue"
)

// Defaults for Config.
const (
	DefaultBaseTimeout   = 500 * time.Millisecond
	DefaultSweepInterval = 100 * time.Millisecond
)

// Liveness reports whether a device is still known.
type Liveness interface {
	IsLightAlive(id protocol.DeviceID) bool
}

// Resender accepts datagrams for retransmission. *netloop.Queue
// satisfies it.
type Resender interface {
	Offer(d netloop.Datagram) bool
	Len() int
}

// Config holds the tracker's tunables. Zero values select the defaults.
type Config struct {
	BaseTimeout   time.Duration
	SweepInterval time.Duration
	// SendInterval is the writer's pause between datagrams. Each queued
	// datagram pushes the deadline out by this much.
	SendInterval time.Duration
}

type expected struct {
	typ      protocol.Type
	device   protocol.DeviceID
	deadline time.Time
	datagram netloop.Datagram
}

// Tracker holds the outstanding requests, ordered by deadline.
type Tracker struct {
	cfg      Config
	liveness Liveness
	out      Resender
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending expectedHeap
	sweep   *timerqueue.Task

	resent  atomic.Uint64
	dropped atomic.Uint64
}

// New returns a tracker with no outstanding requests.
func New(cfg Config, liveness Liveness, out Resender, logger *slog.Logger) *Tracker {
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = DefaultBaseTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = netloop.DefaultSendInterval
	}
	return &Tracker{
		cfg:      cfg,
		liveness: liveness,
		out:      out,
		logger:   logger.With("component", "tracker"),
		now:      time.Now,
	}
}

// Open starts the periodic sweep on tq.
func (t *Tracker) Open(tq *timerqueue.Queue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sweep == nil {
		t.sweep = tq.Every(t.cfg.SweepInterval, t.cfg.SweepInterval, t.Sweep)
	}
}

// Close stops the sweep. Outstanding requests are kept but no longer
// retried.
func (t *Tracker) Close() {
	t.mu.Lock()
	task := t.sweep
	t.sweep = nil
	t.mu.Unlock()
	if task != nil {
		task.Cancel()
	}
}

// Track records m, already encoded as d, when it is a request with a
// registered response type sent to a single device at a known site.
func (t *Tracker) Track(m *protocol.Message, d netloop.Datagram) bool {
	if m.Path == nil || m.Path.Site.IsZero() || m.Path.Target.Kind() != protocol.KindDevice {
		return false
	}
	resp, ok := m.Type.ExpectedResponse()
	if !ok {
		return false
	}

	e := &expected{
		typ:      resp,
		device:   m.Path.Target.Device(),
		deadline: t.deadline(),
		datagram: d,
	}
	t.mu.Lock()
	heap.Push(&t.pending, e)
	t.mu.Unlock()
	return true
}

// OnInbound removes every outstanding request satisfied by m and returns
// how many there were.
func (t *Tracker) OnInbound(m *protocol.Message) int {
	if m.Path == nil || m.Path.Target.Kind() != protocol.KindDevice {
		return 0
	}
	dev := m.Path.Target.Device()

	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.pending[:0]
	removed := 0
	for _, e := range t.pending {
		if e.typ == m.Type && e.device == dev {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return 0
	}
	for i := len(kept); i < len(t.pending); i++ {
		t.pending[i] = nil
	}
	t.pending = kept
	heap.Init(&t.pending)
	return removed
}

// Sweep resends every overdue request whose device is still alive and
// forgets the rest.
func (t *Tracker) Sweep() {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var retry []*expected
	for len(t.pending) > 0 && now.After(t.pending[0].deadline) {
		e := heap.Pop(&t.pending).(*expected)
		if !t.liveness.IsLightAlive(e.device) {
			t.dropped.Add(1)
			t.logger.Debug("giving up on response, device gone", "device", e.device, "expect", e.typ)
			continue
		}
		retry = append(retry, e)
	}

	for _, e := range retry {
		e.deadline = t.deadline()
		t.logger.Debug("resending", "device", e.device, "expect", e.typ)
		if !t.out.Offer(e.datagram) {
			t.logger.Error("outgoing queue full, resend dropped", "device", e.device, "expect", e.typ)
		} else {
			t.resent.Add(1)
		}
		heap.Push(&t.pending, e)
	}
}

func (t *Tracker) deadline() time.Time {
	return t.now().Add(t.cfg.BaseTimeout + time.Duration(t.out.Len())*t.cfg.SendInterval)
}

// Pending returns the number of outstanding requests.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Resent returns the number of retransmissions so far.
func (t *Tracker) Resent() uint64 {
	return t.resent.Load()
}

// Dropped returns the number of requests abandoned because their device
// went away.
func (t *Tracker) Dropped() uint64 {
	return t.dropped.Load()
}

type expectedHeap []*expected

func (h expectedHeap) Len() int           { return len(h) }
func (h expectedHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h expectedHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *expectedHeap) Push(x any) { *h = append(*h, x.(*expected)) }

func (h *expectedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
