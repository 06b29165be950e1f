// Package transport carries acks and frame bytes to playback clients. Clients
// reach the recorder either over a plain socket or through a relayed tunnel;
// both are served through the same Transport interface so callers never
// branch on the kind.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"nvr-playback/internal/wire"
)

var (
	// ErrClosed is returned when sending on a handle that was already closed.
	ErrClosed = errors.New("transport handle closed")

	// ErrSendTimeout is returned when a send attempt timed out without
	// writing a single byte.
	ErrSendTimeout = errors.New("send timed out with no progress")

	// ErrUnknownKind is returned by For for a kind without an implementation.
	ErrUnknownKind = errors.New("unknown client kind")
)

// Kind tags how a client is connected.
type Kind uint8

const (
	KindPlain Kind = iota
	KindTunnel
)

// Valid reports whether k has a Transport.
func (k Kind) Valid() bool {
	return k == KindPlain || k == KindTunnel
}

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindTunnel:
		return "tunnel"
	default:
		return "unknown"
	}
}

// Conn is the minimal socket surface the engine needs. A net.Conn satisfies it.
type Conn interface {
	io.Writer
	io.Closer
	SetWriteDeadline(t time.Time) error
}

// Handle guards a Conn so that it is closed at most once. Once closed, the
// handle is invalid and every send fails with ErrClosed.
type Handle struct {
	conn   Conn
	once   sync.Once
	closed atomic.Bool
	err    error
}

// Guard wraps c in a Handle. A nil Conn yields a nil Handle.
func Guard(c Conn) *Handle {
	if c == nil {
		return nil
	}
	return &Handle{conn: c}
}

// Close closes the underlying Conn the first time it is called. Later calls
// return nil. Close on a nil Handle is a no-op.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	var err error
	h.once.Do(func() {
		h.closed.Store(true)
		h.err = h.conn.Close()
		err = h.err
	})
	return err
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	return h == nil || h.closed.Load()
}

// Transport is the capability set used by the playback engine.
type Transport interface {
	// Respond writes the ack line for status and closes the handle when
	// closeAfter is set. A nil handle is ignored.
	Respond(h *Handle, status wire.AckStatus, closeAfter bool) error

	// Send writes all of p, retrying partial writes until done or failed.
	Send(h *Handle, p []byte, timeout time.Duration) error

	// SendPartial makes one write attempt bounded by timeout. A timed out
	// attempt that wrote something returns (n, nil); one that wrote nothing
	// returns ErrSendTimeout.
	SendPartial(h *Handle, p []byte, timeout time.Duration) (int, error)

	// Close closes the handle. It is idempotent.
	Close(h *Handle) error
}

var transports = [...]Transport{
	KindPlain:  plain{},
	KindTunnel: tunnel{chunk: TunnelChunkSize},
}

// For returns the Transport serving kind.
func For(kind Kind) (Transport, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	return transports[kind], nil
}

// writeOnce performs one deadline-bounded write of p.
func writeOnce(h *Handle, p []byte, timeout time.Duration) (int, error) {
	if h.Closed() {
		return 0, ErrClosed
	}
	if timeout > 0 {
		if err := h.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return 0, fmt.Errorf("set write deadline: %w", err)
		}
	}
	n, err := h.conn.Write(p)
	if err != nil && isTimeout(err) {
		if n > 0 {
			return n, nil
		}
		return 0, ErrSendTimeout
	}
	return n, err
}

// sendAll loops attempt until p is fully written.
func sendAll(p []byte, attempt func([]byte) (int, error)) error {
	for len(p) > 0 {
		n, err := attempt(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

func respond(t Transport, h *Handle, status wire.AckStatus, closeAfter bool, timeout time.Duration) error {
	if h == nil {
		return nil
	}
	var buf [16]byte
	err := t.Send(h, wire.AppendReply(buf[:0], status), timeout)
	if closeAfter {
		if cerr := h.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
