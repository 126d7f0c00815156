// Package netloop moves datagrams between the UDP socket and the router:
// a Reader that decodes inbound frames, a rate-limited Writer draining a
// bounded priority Queue, and a Loop that runs the two as one unit.
package netloop

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Listen binds the shared UDP socket with address reuse and broadcast
// enabled.
func Listen(ctx context.Context, addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: control}
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("netloop: listen %s: %w", addr, err)
	}
	return pc.(*net.UDPConn), nil
}

// Loop runs a Reader and a Writer over one socket.
type Loop struct {
	conn   *net.UDPConn
	reader *Reader
	writer *Writer
	logger *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// Start launches the reader and writer. The loop owns conn from here on.
func Start(conn *net.UDPConn, queue *Queue, d Dispatcher, cfg Config, logger *slog.Logger) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		conn:   conn,
		reader: NewReader(conn, d, logger),
		writer: NewWriter(conn, queue, cfg.SendInterval, logger),
		logger: logger.With("component", "netloop"),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.run(ctx)
	return l
}

// Config holds the loop's tunables.
type Config struct {
	SendInterval time.Duration
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(l.reader.Run)
	g.Go(l.writer.Run)
	g.Go(func() error {
		<-gctx.Done()
		// Reader first, so nothing new is queued while the writer drains.
		l.reader.Stop()
		<-l.reader.Done()
		l.writer.Stop()
		return nil
	})

	l.err = g.Wait()
	if err := l.conn.Close(); err != nil {
		l.logger.Debug("close socket", "err", err)
	}
	if l.err != nil {
		l.logger.Error("network loop stopped", "err", l.err)
	}
}

// Done is closed once both loops have exited and the socket is closed.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Err returns the terminal failure, if any, after Done is closed.
func (l *Loop) Err() error {
	<-l.done
	return l.err
}

// LocalAddr returns the bound address.
func (l *Loop) LocalAddr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Sent returns the number of datagrams written so far.
func (l *Loop) Sent() uint64 {
	return l.writer.Sent()
}

// Close stops the reader, drains the writer and closes the socket.
func (l *Loop) Close() error {
	l.closeOnce.Do(l.cancel)
	return l.Err()
}
