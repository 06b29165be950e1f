package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"nvr-playback/internal/wire"
)

type recordConn struct {
	bytes.Buffer
	closes    int
	deadlines int
}

func (c *recordConn) Close() error                     { c.closes++; return nil }
func (c *recordConn) SetWriteDeadline(time.Time) error { c.deadlines++; return nil }

func TestFor(t *testing.T) {
	if _, err := For(KindPlain); err != nil {
		t.Errorf("plain: %v", err)
	}
	if _, err := For(KindTunnel); err != nil {
		t.Errorf("tunnel: %v", err)
	}
	if _, err := For(Kind(9)); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestHandle_Close_idempotent(t *testing.T) {
	c := &recordConn{}
	h := Guard(c)
	if h.Closed() {
		t.Fatal("fresh handle reported closed")
	}
	_ = h.Close()
	_ = h.Close()
	if c.closes != 1 {
		t.Errorf("expected one close on the conn, got %d", c.closes)
	}
	if !h.Closed() {
		t.Error("handle should be closed")
	}

	var nilHandle *Handle
	if err := nilHandle.Close(); err != nil {
		t.Errorf("nil handle close: %v", err)
	}
	if Guard(nil) != nil {
		t.Error("Guard(nil) should be nil")
	}
}

func TestPlain_Respond(t *testing.T) {
	tr, _ := For(KindPlain)
	c := &recordConn{}
	h := Guard(c)

	if err := tr.Respond(h, wire.AckSuccess, false); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if c.String() != "{RES&0&}\r\n" || c.closes != 0 {
		t.Errorf("got %q closes=%d", c.String(), c.closes)
	}

	if err := tr.Respond(h, wire.AckFailure, true); err != nil {
		t.Fatalf("Respond close: %v", err)
	}
	if c.closes != 1 {
		t.Errorf("expected close after respond, got %d", c.closes)
	}
	if err := tr.Respond(nil, wire.AckSuccess, true); err != nil {
		t.Errorf("nil handle respond: %v", err)
	}
}

func TestPlain_SendPartial_closed_handle(t *testing.T) {
	tr, _ := For(KindPlain)
	h := Guard(&recordConn{})
	_ = tr.Close(h)
	if _, err := tr.SendPartial(h, []byte("x"), time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := tr.SendPartial(nil, []byte("x"), time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed for nil handle, got %v", err)
	}
}

func TestPlain_SendPartial_timeout_with_progress(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	read := make(chan int, 1)
	go func() {
		buf := make([]byte, 10)
		n, _ := io.ReadFull(client, buf)
		read <- n
	}()

	tr, _ := For(KindPlain)
	n, err := tr.SendPartial(Guard(server), make([]byte, 100), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("SendPartial: %v", err)
	}
	if n != 10 {
		t.Errorf("expected 10 bytes written before the deadline, got %d", n)
	}
	if got := <-read; got != 10 {
		t.Errorf("reader got %d", got)
	}
}

func TestPlain_SendPartial_timeout_without_progress(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	tr, _ := For(KindPlain)
	n, err := tr.SendPartial(Guard(server), []byte("frame"), 20*time.Millisecond)
	if !errors.Is(err, ErrSendTimeout) || n != 0 {
		t.Errorf("expected (0, ErrSendTimeout), got (%d, %v)", n, err)
	}
}

func TestTunnel_SendPartial_caps_chunk(t *testing.T) {
	tr, _ := For(KindTunnel)
	c := &recordConn{}
	n, err := tr.SendPartial(Guard(c), make([]byte, TunnelChunkSize+100), time.Second)
	if err != nil {
		t.Fatalf("SendPartial: %v", err)
	}
	if n != TunnelChunkSize || c.Len() != TunnelChunkSize {
		t.Errorf("expected one chunk of %d, got n=%d len=%d", TunnelChunkSize, n, c.Len())
	}
}

func TestTunnel_Send_all_chunks(t *testing.T) {
	tr, _ := For(KindTunnel)
	c := &recordConn{}
	payload := bytes.Repeat([]byte{0xAB}, 2*TunnelChunkSize+7)
	if err := tr.Send(Guard(c), payload, time.Second); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !bytes.Equal(c.Bytes(), payload) {
		t.Errorf("payload mismatch: got %d bytes", c.Len())
	}
	if c.deadlines != 3 {
		t.Errorf("expected 3 send attempts, got %d", c.deadlines)
	}
}

func TestKind_String(t *testing.T) {
	if KindPlain.String() != "plain" || KindTunnel.String() != "tunnel" || Kind(7).String() != "unknown" {
		t.Error("unexpected kind names")
	}
}
