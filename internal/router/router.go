// Package router ties the routing table, response tracker and outgoing
// queue together: it classifies inbound frames, fans them out to
// handlers, and resolves outbound messages to datagrams.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"lifx-lan/internal/netloop"
	"lifx-lan/internal/protocol"
	"lifx-lan/internal/routing"
	"lifx-lan/internal/timerqueue"
	"lifx-lan/internal/tracker"
)

// ErrNoDestination is returned by Send for a message with neither a
// logical target nor a binary path.
var ErrNoDestination = errors.New("router: message has neither target nor path")

// Discovery timings.
const (
	DefaultDiscoveryInterval = 15 * time.Second
	discoveryBurst           = 5
	probesPerRound           = 3
	housekeepingInterval     = time.Second
)

// siteProbeDelays are the offsets of the LIGHT_GET broadcasts sent to a
// newly found site.
var siteProbeDelays = []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond}

// Config holds the router's tunables.
type Config struct {
	// Broadcast is where gateway discovery probes go. Nil disables
	// discovery.
	Broadcast         *net.UDPAddr
	DiscoveryInterval time.Duration
}

// Stats is a snapshot of the router's bookkeeping.
type Stats struct {
	Gateways []routing.Gateway `json:"gateways"`
	Lights   int               `json:"lights"`
	Queued   int               `json:"queued"`
	Capacity int               `json:"capacity"`
	Pending  int               `json:"pending_responses"`
	Resent   uint64            `json:"resent"`
	Dropped  uint64            `json:"dropped"`
}

type handlerEntry struct {
	id uint64
	h  Handler
}

// Router is the message router for one connection.
type Router struct {
	cfg     Config
	table   *routing.Table
	tracker *tracker.Tracker
	queue   *netloop.Queue
	timers  *timerqueue.Queue
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers []handlerEntry
	nextID   uint64
	opened   bool
	tasks    []*timerqueue.Task

	firstGateway chan struct{}
	gatewayOnce  sync.Once
}

// New builds a router over the given per-connection state.
func New(cfg Config, table *routing.Table, tr *tracker.Tracker, queue *netloop.Queue, timers *timerqueue.Queue, logger *slog.Logger) *Router {
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = DefaultDiscoveryInterval
	}
	return &Router{
		cfg:          cfg,
		table:        table,
		tracker:      tr,
		queue:        queue,
		timers:       timers,
		logger:       logger.With("component", "router"),
		firstGateway: make(chan struct{}),
	}
}

// AddHandler registers h. When the router is already open, h is opened
// right away. The returned function removes and closes it.
func (r *Router) AddHandler(h Handler) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.handlers = append(r.handlers, handlerEntry{id: id, h: h})
	opened := r.opened
	r.mu.Unlock()

	if opened {
		r.openHandler(h)
	}

	return func() {
		r.mu.Lock()
		found := false
		for i, e := range r.handlers {
			if e.id == id {
				r.handlers = append(r.handlers[:i:i], r.handlers[i+1:]...)
				found = true
				break
			}
		}
		opened := r.opened
		r.mu.Unlock()
		if found && opened {
			r.closeHandler(h)
		}
	}
}

func (r *Router) snapshot() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs := make([]Handler, len(r.handlers))
	for i, e := range r.handlers {
		hs[i] = e.h
	}
	return hs
}

// Open starts the tracker sweep, gateway discovery and housekeeping, then
// opens every handler.
func (r *Router) Open() {
	r.mu.Lock()
	if r.opened {
		r.mu.Unlock()
		r.logger.Error("router already open")
		return
	}
	r.opened = true

	r.tracker.Open(r.timers)
	if r.cfg.Broadcast != nil {
		for i := 0; i < discoveryBurst; i++ {
			r.tasks = append(r.tasks, r.timers.After(time.Duration(i)*time.Second, r.discoverGateways))
		}
		r.tasks = append(r.tasks, r.timers.Every(r.cfg.DiscoveryInterval, r.cfg.DiscoveryInterval, r.discoverGateways))
	}
	r.tasks = append(r.tasks, r.timers.Every(housekeepingInterval, housekeepingInterval, r.table.Evict))
	r.mu.Unlock()

	for _, h := range r.snapshot() {
		r.openHandler(h)
	}
	r.logger.Debug("router open", "broadcast", r.cfg.Broadcast)
}

// Close closes every handler and stops the router's timers.
func (r *Router) Close() {
	r.mu.Lock()
	if !r.opened {
		r.mu.Unlock()
		r.logger.Error("router already closed")
		return
	}
	r.opened = false
	tasks := r.tasks
	r.tasks = nil
	r.mu.Unlock()

	for _, h := range r.snapshot() {
		r.closeHandler(h)
	}
	for _, t := range tasks {
		t.Cancel()
	}
	r.tracker.Close()
	r.logger.Debug("router closed")
}

func (r *Router) openHandler(h Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler open panic", "panic", rec)
		}
	}()
	h.SetRouter(r)
	h.Open()
}

func (r *Router) closeHandler(h Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler close panic", "panic", rec)
		}
	}()
	h.Close()
	h.SetRouter(nil)
}

func (r *Router) isOpen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opened
}

// HandleMessage routes one inbound frame. Requests are ignored; gateway
// announcements update the table and probe new sites; every other
// response updates the tracker and table and is dispatched to handlers.
func (r *Router) HandleMessage(m *protocol.Message) {
	if !r.isOpen() || m.Path == nil || !m.Type.IsResponse() {
		return
	}

	if m.Type == protocol.DeviceStatePanGateway {
		site, created := r.table.UpdateWithGatewayAnnouncement(m)
		if created {
			r.gatewayFound(site)
		}
		return
	}

	r.tracker.OnInbound(m)

	if id, created := r.table.UpdateWithDeviceFrame(m); created {
		if err := r.Send(protocol.NewMessage(protocol.DeviceGetTags, protocol.ToDevice(id), nil)); err != nil {
			r.logger.Warn("query tags of new light", "device", id, "err", err)
		}
	}

	targets := r.table.Targets(*m.Path)
	for _, h := range r.snapshot() {
		r.dispatch(h, targets, m)
	}
}

func (r *Router) dispatch(h Handler, targets []protocol.DeviceID, m *protocol.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic", "type", m.Type, "panic", rec)
		}
	}()
	h.HandleMessage(targets, m)
}

func (r *Router) gatewayFound(site protocol.SiteID) {
	r.gatewayOnce.Do(func() { close(r.firstGateway) })
	addr, _ := r.table.GatewayAddr(site)
	r.logger.Info("gateway found", "site", site, "addr", addr)

	for _, d := range siteProbeDelays {
		probe := func() { r.sendToPath(protocol.NewPathMessage(protocol.LightGet, protocol.BroadcastPath(site), nil)) }
		if d == 0 {
			probe()
			continue
		}
		r.addTask(r.timers.After(d, probe))
	}

	for _, h := range r.snapshot() {
		if obs, ok := h.(GatewayObserver); ok {
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						r.logger.Error("gateway observer panic", "panic", rec)
					}
				}()
				obs.GatewayFound(site, addr)
			}()
		}
	}
}

func (r *Router) addTask(t *timerqueue.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opened {
		t.Cancel()
		return
	}
	r.tasks = append(r.tasks, t)
}

// WaitForGateway blocks until the first gateway has been seen or ctx
// ends.
func (r *Router) WaitForGateway(ctx context.Context) error {
	select {
	case <-r.firstGateway:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send resolves m and queues one datagram per destination. A logical
// target that resolves to nothing is a no-op.
func (r *Router) Send(m *protocol.Message) error {
	switch {
	case m.Target != nil:
		paths := r.table.ResolveSend(*m.Target)
		if len(paths) == 0 {
			r.logger.Info("no route, message not sent", "type", m.Type, "target", m.Target)
			return nil
		}
		for _, p := range paths {
			r.sendToPath(m.WithPath(p))
		}
		return nil
	case m.Path != nil:
		r.sendToPath(m)
		return nil
	default:
		return fmt.Errorf("send %s: %w", m.Type, ErrNoDestination)
	}
}

func (r *Router) sendToPath(m *protocol.Message) {
	if m.Path.Site.IsZero() {
		for _, addr := range r.table.GatewayAddrs() {
			r.sendToAddr(m, addr)
		}
		return
	}
	addr, ok := r.table.GatewayAddr(m.Path.Site)
	if !ok {
		r.logger.Warn("no gateway for site", "site", m.Path.Site, "type", m.Type)
		return
	}
	r.sendToAddr(m, addr)
}

func (r *Router) discoverGateways() {
	for i := 0; i < probesPerRound; i++ {
		r.sendToAddr(protocol.NewPathMessage(protocol.DeviceGetPanGateway, protocol.BroadcastPath(protocol.SiteID{}), nil), r.cfg.Broadcast)
	}
}

func (r *Router) sendToAddr(m *protocol.Message, addr *net.UDPAddr) {
	data, err := m.Encode()
	if err != nil {
		r.logger.Error("encode failed", "type", m.Type, "err", err)
		return
	}
	d := netloop.Datagram{Data: data, Addr: addr, Priority: Priority(m.Type)}
	if !r.queue.Offer(d) {
		r.logger.Error("outgoing queue full, message dropped", "type", m.Type, "to", addr)
	}
	r.tracker.Track(m, d)
}

// Priority returns the queue priority for a message type: state-changing
// commands go first.
func Priority(t protocol.Type) netloop.Priority {
	if t.IsMutation() {
		return netloop.PriorityHigh
	}
	return netloop.PriorityLow
}

// Table exposes the routing table for read-only inspection.
func (r *Router) Table() *routing.Table {
	return r.table
}

// Stats returns a snapshot of the router's bookkeeping.
func (r *Router) Stats() Stats {
	return Stats{
		Gateways: r.table.Gateways(),
		Lights:   len(r.table.Lights()),
		Queued:   r.queue.Len(),
		Capacity: r.queue.Cap(),
		Pending:  r.tracker.Pending(),
		Resent:   r.tracker.Resent(),
		Dropped:  r.tracker.Dropped(),
	}
}
