// Package client owns one connection to the LAN: the socket, the network
// loop, and a fresh set of routing, tracking and scheduling state for
// every Open.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"lifx-lan/internal/netloop"
	"lifx-lan/internal/protocol"
	"lifx-lan/internal/router"
	"lifx-lan/internal/routing"
	"lifx-lan/internal/timerqueue"
	"lifx-lan/internal/tracker"
)

// DefaultPort is the LAN protocol's UDP port.
const DefaultPort = 56700

// ErrClosed is returned for operations on a connection that is not open.
var ErrClosed = errors.New("client: connection closed")

// Config holds the connection's tunables. Zero values select the
// defaults of each component.
type Config struct {
	// Broadcast is the discovery destination. Empty discovers it from the
	// network interfaces.
	Broadcast string
	// Port is the device port, used for discovery and for gateways that
	// announce port 0.
	Port int
	// ListenAddr overrides the bind address, which is otherwise
	// ":<Port>".
	ListenAddr string

	SendInterval      time.Duration
	QueueCapacity     int
	ResponseTimeout   time.Duration
	SweepInterval     time.Duration
	GatewayTimeout    time.Duration
	LightTimeout      time.Duration
	DiscoveryInterval time.Duration
}

// session is the state of one Open..Close cycle.
type session struct {
	timers *timerqueue.Queue
	queue  *netloop.Queue
	table  *routing.Table
	router *router.Router
	loop   *netloop.Loop
	done   chan struct{}
}

// Connection is a reopenable LAN connection with a fixed set of handlers.
type Connection struct {
	cfg      Config
	logger   *slog.Logger
	handlers []router.Handler

	mu      sync.Mutex
	current *session
}

// New returns a closed connection that will attach handlers to every
// router it builds.
func New(cfg Config, logger *slog.Logger, handlers ...router.Handler) *Connection {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	return &Connection{
		cfg:      cfg,
		logger:   logger.With("component", "client"),
		handlers: handlers,
	}
}

// Open builds fresh state, binds the socket and starts the network loop.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return fmt.Errorf("client: already open")
	}

	bcast, err := c.resolveBroadcast()
	if err != nil {
		return err
	}

	timers := timerqueue.New(c.logger)
	queue := netloop.NewQueue(c.cfg.QueueCapacity)
	table := routing.New(routing.Config{
		GatewayTimeout: c.cfg.GatewayTimeout,
		LightTimeout:   c.cfg.LightTimeout,
		Port:           c.cfg.Port,
	}, c.logger)
	tr := tracker.New(tracker.Config{
		BaseTimeout:   c.cfg.ResponseTimeout,
		SweepInterval: c.cfg.SweepInterval,
		SendInterval:  c.cfg.SendInterval,
	}, table, queue, c.logger)
	r := router.New(router.Config{
		Broadcast:         bcast,
		DiscoveryInterval: c.cfg.DiscoveryInterval,
	}, table, tr, queue, timers, c.logger)
	for _, h := range c.handlers {
		r.AddHandler(h)
	}

	listen := c.cfg.ListenAddr
	if listen == "" {
		listen = net.JoinHostPort("", strconv.Itoa(c.cfg.Port))
	}
	conn, err := netloop.Listen(ctx, listen)
	if err != nil {
		timers.Close()
		return err
	}

	s := &session{
		timers: timers,
		queue:  queue,
		table:  table,
		router: r,
		done:   make(chan struct{}),
	}
	s.loop = netloop.Start(conn, queue, r, netloop.Config{SendInterval: c.cfg.SendInterval}, c.logger)
	c.current = s
	go c.watch(s)

	c.logger.Info("connection open", "listen", s.loop.LocalAddr(), "broadcast", bcast)
	return nil
}

// watch finishes teardown once the loop exits, whether through Close or
// a socket failure.
func (c *Connection) watch(s *session) {
	defer close(s.done)
	<-s.loop.Done()
	s.timers.Close()

	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()

	if err := s.loop.Err(); err != nil {
		c.logger.Error("connection lost", "err", err)
	}
}

// Close stops the reader, drains and stops the writer, closes the socket
// and cancels all timers. Closing a closed connection is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	err := s.loop.Close()
	<-s.done
	c.logger.Info("connection closed")
	return err
}

func (c *Connection) session() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrClosed
	}
	return c.current, nil
}

// Send routes m through the open router.
func (c *Connection) Send(m *protocol.Message) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.router.Send(m)
}

// WaitForGateway blocks until a gateway has been discovered.
func (c *Connection) WaitForGateway(ctx context.Context) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	err = s.router.WaitForGateway(ctx)
	select {
	case <-s.done:
		if err != nil {
			return ErrClosed
		}
	default:
	}
	return err
}

// Stats reports the open router's bookkeeping.
func (c *Connection) Stats() (router.Stats, error) {
	s, err := c.session()
	if err != nil {
		return router.Stats{}, err
	}
	return s.router.Stats(), nil
}

// Lights returns the routing table's view of the known devices.
func (c *Connection) Lights() ([]routing.Light, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	return s.table.Lights(), nil
}

// LocalAddr returns the bound socket address, or nil when closed.
func (c *Connection) LocalAddr() *net.UDPAddr {
	s, err := c.session()
	if err != nil {
		return nil
	}
	return s.loop.LocalAddr()
}

// Done is closed when the current session ends. It returns a closed
// channel when the connection is not open.
func (c *Connection) Done() <-chan struct{} {
	s, err := c.session()
	if err != nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}
