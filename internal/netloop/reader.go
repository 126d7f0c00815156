package netloop

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"lifx-lan/internal/protocol"
)

// maxDatagram is larger than any registered frame.
const maxDatagram = 1024

// Dispatcher consumes decoded frames. The Reader calls Open before its
// first receive and Close when it exits, on its own goroutine.
type Dispatcher interface {
	Open()
	HandleMessage(m *protocol.Message)
	Close()
}

// Reader receives datagrams, decodes them and hands them to a Dispatcher.
type Reader struct {
	conn       *net.UDPConn
	dispatcher Dispatcher
	logger     *slog.Logger

	stopped atomic.Bool
	done    chan struct{}
}

// NewReader returns a reader on conn. Run starts it.
func NewReader(conn *net.UDPConn, d Dispatcher, logger *slog.Logger) *Reader {
	return &Reader{
		conn:       conn,
		dispatcher: d,
		logger:     logger.With("component", "reader"),
		done:       make(chan struct{}),
	}
}

// Run receives until Stop is called or the socket fails. It returns nil
// after Stop and the socket error otherwise.
func (r *Reader) Run() error {
	defer close(r.done)

	r.dispatcher.Open()
	defer r.dispatcher.Close()

	buf := make([]byte, maxDatagram)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if r.stopped.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			r.logger.Error("receive failed", "err", err)
			return fmt.Errorf("netloop: receive: %w", err)
		}
		if n == 0 {
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		m, err := protocol.Decode(frame)
		if err != nil {
			r.logger.Warn("dropping undecodable frame", "from", src, "err", err, "frame", fmt.Sprintf("%X", frame))
			continue
		}
		if m.Legacy {
			r.logger.Warn("frame with foreign protocol version", "from", src, "version", m.Protocol, "type", m.Type)
		}
		m.Source = src
		r.dispatch(m)
	}
}

func (r *Reader) dispatch(m *protocol.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("dispatch panic", "type", m.Type, "panic", rec)
		}
	}()
	r.dispatcher.HandleMessage(m)
}

// Stop wakes the blocked receive. The socket stays open for the Writer.
func (r *Reader) Stop() {
	if r.stopped.Swap(true) {
		return
	}
	if err := r.conn.SetReadDeadline(time.Now()); err != nil {
		r.logger.Debug("set read deadline", "err", err)
	}
}

// Done is closed once Run has returned and the dispatcher is closed.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}
