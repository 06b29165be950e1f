package playback

import (
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"nvr-playback/internal/storage"
	"nvr-playback/internal/transport"
	"nvr-playback/internal/wire"
)

// worker is the per-session goroutine state. Everything here, the reader and
// the frame buffer included, is touched only by the worker goroutine.
type worker struct {
	e      *Engine
	s      *session
	tr     transport.Transport
	log    *slog.Logger
	camera int

	reader storage.Reader
	buf    []byte
	state  State
	stream *transport.Handle

	// Frame in flight: buf[sent:sent+remaining] is still to be written.
	frameLen  int
	sent      int
	remaining int

	// stepped is set while the reader is positioned for a single frame.
	stepped   bool
	lastFrame time.Time
}

func newWorker(e *Engine, s *session) *worker {
	return &worker{
		e:      e,
		s:      s,
		tr:     s.tr,
		camera: s.camera,
		reader: s.reader,
		buf:    make([]byte, wire.HeaderSize+e.cfg.FrameBufferSize),
		state:  StateAwaitingID,
		log: e.log.With(
			slog.Int("session_id", int(s.id())),
			slog.Int("camera", s.camera),
			slog.String("trace_id", s.traceID.String()),
		),
	}
}

// run is the session goroutine. It returns after processing the clear
// command, once the slot has been freed.
func (e *Engine) run(s *session) {
	defer e.workers.Done()
	w := newWorker(e, s)
	defer w.exit()
	w.loop()
}

func (w *worker) loop() {
	for {
		if cmd, ok := w.s.queue.pop(w.state.idle()); ok {
			if w.handle(cmd) {
				return
			}
		}
		if w.state == StatePlay {
			w.pump()
		}
	}
}

// exit frees the slot. A panicking worker releases what it still holds
// first so that only its own session is lost.
func (w *worker) exit() {
	if r := recover(); r != nil {
		w.log.Error("playback worker panicked", slog.Any("panic", r))
		err := w.closeStream()
		if w.reader != nil {
			err = multierr.Append(err, w.reader.Close())
			w.reader = nil
		}
		if err != nil {
			w.log.Warn("cleanup after panic failed", slog.String("error", err.Error()))
		}
	}

	for _, cmd := range w.e.table.release(w.s) {
		_ = w.ack(cmd.reply, wire.AckInvalidSession, true)
	}
	w.e.metrics.IncSessionsClosed()
	w.log.Info("playback session closed")
}

// handle applies one command and reports whether the worker must exit.
func (w *worker) handle(cmd command) bool {
	w.log.Debug("playback command", slog.String("command", cmd.kind.String()))

	switch cmd.kind {
	case cmdAwaitID:
	case cmdPlay:
		w.play(cmd)
	case cmdResume:
		w.resume(cmd)
	case cmdPause:
		w.pause(cmd)
	case cmdStep:
		w.step(cmd)
	case cmdStop:
		w.stop(cmd)
	case cmdClear:
		w.clear(cmd)
		return true
	}
	return false
}

func (w *worker) play(cmd command) {
	pos := storage.Position{
		At:        cmd.at,
		Direction: cmd.play.direction,
		Speed:     cmd.play.speed,
		Audio:     cmd.play.audio,
		Filter:    cmd.play.filter,
	}
	if err := w.reader.SetPosition(pos); err != nil {
		w.log.Warn("set play position failed",
			slog.Time("at", cmd.at),
			slog.String("error", err.Error()))
		_ = w.ack(cmd.reply, wire.AckFailure, true)
		_ = w.closeStream()
		w.resetPending()
		w.setState(StateStop)
		return
	}
	w.stepped = false
	w.resetPending()
	w.adoptStream(cmd.reply.h)
	if err := w.ack(cmd.reply, wire.AckSuccess, false); err != nil {
		w.forceStop("ack_failed", err)
		return
	}
	if w.stream == nil {
		w.log.Debug("play positioned without a stream, waiting for resume", slog.Time("at", cmd.at))
		w.setState(StatePause)
		return
	}
	w.log.Info("playback started",
		slog.Time("at", cmd.at),
		slog.String("direction", pos.Direction.String()),
		slog.String("speed", pos.Speed.String()),
		slog.Bool("audio", pos.Audio),
		slog.String("frame_filter", pos.Filter.String()))
	w.setState(StatePlay)
}

// resume continues on the current reader position. After a step the reader
// is repositioned for continuous playback at the stepped frame, using the
// session configuration. A resume with no connection of its own and no
// stream to continue on leaves the state unchanged.
func (w *worker) resume(cmd command) {
	if cmd.reply.h == nil && w.stream == nil {
		w.log.Debug("resume ignored, no stream", slog.String("state", w.state.String()))
		return
	}
	if w.stepped {
		w.s.cfgMu.Lock()
		pc := w.s.cfg
		w.s.cfgMu.Unlock()

		pos := storage.Position{
			At:        w.lastFrame,
			Direction: pc.direction,
			Speed:     pc.speed,
			Audio:     pc.audio,
			Filter:    pc.filter,
		}
		if err := w.reader.SetPosition(pos); err != nil {
			w.log.Warn("set resume position failed", slog.String("error", err.Error()))
			_ = w.ack(cmd.reply, wire.AckFailure, true)
			return
		}
		w.stepped = false
	}

	if cmd.reply.h != nil {
		w.adoptStream(cmd.reply.h)
	}
	if err := w.ack(cmd.reply, wire.AckSuccess, false); err != nil {
		w.forceStop("ack_failed", err)
		return
	}
	w.setState(StatePlay)
}

// pause stops frame activity. A client pause closes the stream; a pause
// without a reply connection (issued for every session of a client) keeps
// it open so a matching resume continues on it.
func (w *worker) pause(cmd command) {
	if cmd.reply.h != nil {
		_ = w.closeStream()
	}
	_ = w.ack(cmd.reply, wire.AckSuccess, true)
	w.setState(StatePause)
}

// step sends exactly one frame, or an error header, on the reply connection
// and always closes it.
func (w *worker) step(cmd command) {
	_ = w.closeStream()
	w.resetPending()
	w.setState(StateStep)

	pos := storage.Position{
		At:          cmd.at,
		Direction:   cmd.play.direction,
		Speed:       storage.Speed1x,
		Filter:      cmd.play.filter,
		SingleFrame: true,
	}
	if err := w.reader.SetPosition(pos); err != nil {
		w.log.Warn("set step position failed",
			slog.Time("at", cmd.at),
			slog.String("error", err.Error()))
		_ = w.ack(cmd.reply, wire.AckFailure, true)
		return
	}
	w.stepped = true

	if err := w.ack(cmd.reply, wire.AckSuccess, false); err != nil {
		_ = w.tr.Close(cmd.reply.h)
		return
	}

	n, err := w.fetch()
	if err != nil {
		w.log.Warn("step read failed", slog.String("error", err.Error()))
	}
	if err := w.tr.Send(cmd.reply.h, w.buf[:n], w.e.cfg.SendTimeout); err != nil {
		w.log.Warn("step send failed", slog.String("error", err.Error()))
	} else {
		w.e.metrics.AddFrameSent(n)
	}
	_ = w.tr.Close(cmd.reply.h)
	w.resetPending()
}

func (w *worker) stop(cmd command) {
	_ = w.closeStream()
	_ = w.ack(cmd.reply, wire.AckSuccess, true)
	w.setState(StateStop)
}

func (w *worker) clear(cmd command) {
	err := w.closeStream()
	_ = w.ack(cmd.reply, wire.AckSuccess, true)
	err = multierr.Append(err, w.reader.Close())
	if err != nil {
		w.log.Warn("clear released resources with errors", slog.String("error", err.Error()))
	}
	w.reader = nil
	w.buf = nil
	w.resetPending()
	w.setState(StateClear)
}

// forceStop ends streaming after a read or send failure. The session stays
// open and resumable.
func (w *worker) forceStop(reason string, err error) {
	w.log.Warn("playback stopped",
		slog.String("reason", reason),
		slog.String("error", err.Error()))
	w.e.metrics.IncForcedStops(reason)
	_ = w.closeStream()
	w.resetPending()
	w.setState(StateStop)
}

// ack replies on r and closes it when closeAfter is set. A reply without a
// connection is skipped.
func (w *worker) ack(r reply, status wire.AckStatus, closeAfter bool) error {
	if r.h == nil {
		return nil
	}
	var err error
	if r.ack != nil {
		err = r.ack(r.h, status, closeAfter)
		if closeAfter {
			err = multierr.Append(err, w.tr.Close(r.h))
		}
	} else {
		err = w.tr.Respond(r.h, status, closeAfter)
	}
	if err != nil {
		w.log.Debug("ack failed",
			slog.String("status", status.String()),
			slog.String("error", err.Error()))
	}
	return err
}

// adoptStream makes h the streaming connection. A previous stream still
// open means the client never stopped it; it is closed.
func (w *worker) adoptStream(h *transport.Handle) {
	if h == w.stream {
		return
	}
	if w.stream != nil && !w.stream.Closed() {
		w.log.Warn("previous stream was never stopped, closing it")
		_ = w.tr.Close(w.stream)
	}
	w.stream = h
	w.rewind()
}

// closeStream closes and forgets the streaming connection.
func (w *worker) closeStream() error {
	if w.stream == nil {
		return nil
	}
	err := w.tr.Close(w.stream)
	w.stream = nil
	w.rewind()
	return err
}

// rewind restarts a partly sent frame from its first byte, for delivery on
// a new connection.
func (w *worker) rewind() {
	if w.remaining > 0 {
		w.sent = 0
		w.remaining = w.frameLen
	}
}

func (w *worker) resetPending() {
	w.frameLen, w.sent, w.remaining = 0, 0, 0
}

func (w *worker) setState(st State) {
	w.state = st
	w.s.setState(st)
}
