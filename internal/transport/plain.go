package transport

import (
	"errors"
	"net"
	"os"
	"time"

	"nvr-playback/internal/wire"
)

// ReplyTimeout bounds how long an ack line may take to write.
const ReplyTimeout = 2 * time.Second

// plain serves clients connected over a direct TCP socket.
type plain struct{}

func (p plain) Respond(h *Handle, status wire.AckStatus, closeAfter bool) error {
	return respond(p, h, status, closeAfter, ReplyTimeout)
}

func (p plain) Send(h *Handle, b []byte, timeout time.Duration) error {
	return sendAll(b, func(rest []byte) (int, error) {
		return p.SendPartial(h, rest, timeout)
	})
}

func (plain) SendPartial(h *Handle, b []byte, timeout time.Duration) (int, error) {
	if h == nil {
		return 0, ErrClosed
	}
	return writeOnce(h, b, timeout)
}

func (plain) Close(h *Handle) error {
	return h.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
