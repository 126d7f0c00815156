package netloop

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

// Default writer timings.
const (
	DefaultSendInterval = 20 * time.Millisecond
	defaultPollTimeout  = 100 * time.Millisecond
)

// Writer drains the queue onto the socket, pausing between sends.
type Writer struct {
	conn     *net.UDPConn
	queue    *Queue
	interval time.Duration
	poll     time.Duration
	logger   *slog.Logger

	stopped atomic.Bool
	sent    atomic.Uint64
}

// NewWriter returns a writer for queue. A non-positive interval selects
// DefaultSendInterval.
func NewWriter(conn *net.UDPConn, queue *Queue, interval time.Duration, logger *slog.Logger) *Writer {
	if interval <= 0 {
		interval = DefaultSendInterval
	}
	return &Writer{
		conn:     conn,
		queue:    queue,
		interval: interval,
		poll:     defaultPollTimeout,
		logger:   logger.With("component", "writer"),
	}
}

// Run sends until Stop has been called and the queue is empty. A closed
// socket is terminal; other send errors are logged and skipped.
func (w *Writer) Run() error {
	for {
		if w.stopped.Load() && w.queue.Len() == 0 {
			return nil
		}
		d, ok := w.queue.Poll(w.poll)
		if !ok {
			continue
		}
		if _, err := w.conn.WriteToUDP(d.Data, d.Addr); err != nil {
			if errors.Is(err, net.ErrClosed) {
				w.logger.Error("socket closed while sending", "err", err)
				return fmt.Errorf("netloop: send: %w", err)
			}
			w.logger.Error("send failed", "to", d.Addr, "err", err)
		} else {
			w.sent.Add(1)
		}
		time.Sleep(w.interval)
	}
}

// Stop asks Run to return once the queue has drained.
func (w *Writer) Stop() {
	w.stopped.Store(true)
	w.queue.wakeup()
}

// Sent returns the number of datagrams written.
func (w *Writer) Sent() uint64 {
	return w.sent.Load()
}
