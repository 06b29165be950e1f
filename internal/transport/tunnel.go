package transport

import (
	"time"

	"nvr-playback/internal/wire"
)

// TunnelChunkSize is the most a relay channel accepts per send.
const TunnelChunkSize = 16 * 1024

// tunnel serves clients reached through a relayed tunnel. The relay channel
// takes bounded chunks, so every send attempt is capped at chunk bytes.
type tunnel struct {
	chunk int
}

func (t tunnel) Respond(h *Handle, status wire.AckStatus, closeAfter bool) error {
	return respond(t, h, status, closeAfter, ReplyTimeout)
}

func (t tunnel) Send(h *Handle, b []byte, timeout time.Duration) error {
	return sendAll(b, func(rest []byte) (int, error) {
		return t.SendPartial(h, rest, timeout)
	})
}

func (t tunnel) SendPartial(h *Handle, b []byte, timeout time.Duration) (int, error) {
	if h == nil {
		return 0, ErrClosed
	}
	if t.chunk > 0 && len(b) > t.chunk {
		b = b[:t.chunk]
	}
	return writeOnce(h, b, timeout)
}

func (tunnel) Close(h *Handle) error {
	return h.Close()
}
