// Package playback streams recorded footage to remote clients. Each playback
// session owns a worker goroutine that drains a bounded command queue and
// runs the play/pause/step/stop state machine; control calls only validate,
// update configuration and enqueue.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"nvr-playback/internal/platform/metrics"
	"nvr-playback/internal/storage"
	"nvr-playback/internal/transport"
)

var (
	// ErrInvalidCamera is returned by AddStream for an out-of-range camera.
	ErrInvalidCamera = errors.New("camera index out of range")

	// ErrInvalidKind is returned by AddStream for an unknown client kind.
	ErrInvalidKind = errors.New("invalid client kind")

	// ErrInvalidSpeed is returned by StartStream for an unknown speed.
	ErrInvalidSpeed = errors.New("invalid playback speed")

	// ErrStorageOpen wraps the backend error when a recording cannot be opened.
	ErrStorageOpen = errors.New("open recording failed")

	// ErrEngineClosed is returned by AddStream after Shutdown.
	ErrEngineClosed = errors.New("playback engine shut down")
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for frame pacing and timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMetrics sets the metrics sink. Without it nothing is recorded.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine owns the session table and the per-session workers.
type Engine struct {
	cfg     Config
	backend storage.Backend
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   clock.Clock

	table *table

	// startMu is held while AddStream checks closing and counts its worker,
	// and while Shutdown sets closing.
	startMu sync.Mutex
	workers sync.WaitGroup
	closing atomic.Bool
}

// NewEngine returns an Engine reading recordings from backend. Non-positive
// limits in cfg fall back to their defaults.
func NewEngine(backend storage.Backend, log *slog.Logger, cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		backend: backend,
		log:     log,
		clock:   clock.New(),
		table:   newTable(cfg.MaxSessions, cfg.QueueDepth),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// AddStream allocates a session over the requested recording range, opens
// the storage reader and starts the session worker.
func (e *Engine) AddStream(ctx context.Context, req AddRequest) (SessionID, error) {
	e.startMu.Lock()
	if e.closing.Load() {
		e.startMu.Unlock()
		return 0, ErrEngineClosed
	}
	e.workers.Add(1)
	e.startMu.Unlock()

	started := false
	defer func() {
		if !started {
			e.workers.Done()
		}
	}()

	if req.Camera < 0 || req.Camera >= e.cfg.MaxCameras {
		return 0, e.reject(fmt.Errorf("%w: %d", ErrInvalidCamera, req.Camera))
	}
	tr, err := transport.For(req.Kind)
	if err != nil {
		return 0, e.reject(fmt.Errorf("%w: %w", ErrInvalidKind, err))
	}

	s, err := e.table.allocate(req.Owner, req.Camera, req.Kind, tr, e.clock.Now())
	if err != nil {
		return 0, e.reject(err)
	}
	// Shutdown may have taken its snapshot before this slot went busy.
	if e.closing.Load() {
		e.table.release(s)
		return 0, ErrEngineClosed
	}

	reader, err := e.backend.Open(ctx, storage.OpenParams{
		Camera:    req.Camera,
		Start:     req.Start,
		End:       req.End,
		EventMask: req.EventFilter,
		Overlap:   req.Overlap,
		DiskID:    req.DiskID,
		Kind:      req.StorageKind,
	})
	if err != nil {
		e.table.release(s)
		return 0, e.reject(fmt.Errorf("%w: %w", ErrStorageOpen, err))
	}
	s.reader = reader

	if !s.queue.tryPush(command{kind: cmdAwaitID}) {
		err := multierr.Append(ErrQueueFull, reader.Close())
		e.table.release(s)
		return 0, e.reject(err)
	}

	id := s.id()
	e.metrics.IncSessionsOpened()
	e.log.Info("playback session opened",
		slog.Int("session_id", int(id)),
		slog.Int("slot", s.slot),
		slog.Int("camera", req.Camera),
		slog.String("client_kind", req.Kind.String()),
		slog.String("trace_id", s.traceID.String()))

	started = true
	go e.run(s)
	return id, nil
}

// StartStream requests playback from at. Audio is honoured only for forward
// 1x playback; reverse and fast forward playback is served I-frame only.
func (e *Engine) StartStream(id SessionID, owner OwnerID, dir storage.Direction, at time.Time, withAudio bool, speed storage.Speed, r Reply) error {
	if !speed.Valid() {
		return e.reject(ErrInvalidSpeed)
	}
	pc := e.policy(dir, speed, withAudio)
	return e.enqueue(id, owner, command{kind: cmdPlay, at: at, play: pc, reply: r.guard()}, &pc)
}

// PauseStream suspends playback, keeping the reader position.
func (e *Engine) PauseStream(id SessionID, owner OwnerID, r Reply) error {
	return e.enqueue(id, owner, command{kind: cmdPause, reply: r.guard()}, nil)
}

// ResumeStream continues playback after a pause, stop or step.
func (e *Engine) ResumeStream(id SessionID, owner OwnerID, r Reply) error {
	return e.enqueue(id, owner, command{kind: cmdResume, reply: r.guard()}, nil)
}

// StopStream stops streaming; the session and its reader stay open.
func (e *Engine) StopStream(id SessionID, owner OwnerID, r Reply) error {
	return e.enqueue(id, owner, command{kind: cmdStop, reply: r.guard()}, nil)
}

// StepStream delivers exactly one frame at at+atMillis on the reply
// connection and closes it. The frame is chosen with the caller's filter
// (a P-frame can be stepped to with AnyFrame), at 1x with audio off.
func (e *Engine) StepStream(id SessionID, owner OwnerID, dir storage.Direction, filter storage.FrameFilter, at time.Time, atMillis int, r Reply) error {
	cmd := command{
		kind:  cmdStep,
		at:    at.Add(time.Duration(atMillis) * time.Millisecond),
		play:  playConfig{direction: dir, speed: storage.Speed1x, filter: filter},
		reply: r.guard(),
	}
	return e.enqueue(id, owner, cmd, nil)
}

// RemoveStream clears the session: the worker closes its reader, frees the
// slot and exits.
func (e *Engine) RemoveStream(id SessionID, owner OwnerID, r Reply) error {
	return e.enqueue(id, owner, command{kind: cmdClear, reply: r.guard()}, nil)
}

// RemoveAllForClientSession removes every session of owner and returns how
// many removals were queued.
func (e *Engine) RemoveAllForClientSession(owner OwnerID) int {
	return e.removeMatching(owner, func(s *session) bool { return ownerMatches(s.owner, owner) })
}

// RemoveAllForCameraAndClientSession removes the sessions of owner on camera.
func (e *Engine) RemoveAllForCameraAndClientSession(owner OwnerID, camera int) int {
	return e.removeMatching(owner, func(s *session) bool {
		return s.camera == camera && ownerMatches(s.owner, owner)
	})
}

// PauseOrResumeAllForClientSession pauses (or resumes) the sessions of owner.
// With Config.PauseResumeFirstOnly only the first matching session is touched.
func (e *Engine) PauseOrResumeAllForClientSession(owner OwnerID, pause bool) int {
	ids := e.table.matching(func(s *session) bool { return ownerMatches(s.owner, owner) })
	if e.cfg.PauseResumeFirstOnly && len(ids) > 1 {
		ids = ids[:1]
	}
	n := 0
	for _, id := range ids {
		var err error
		if pause {
			err = e.PauseStream(id, owner, Reply{})
		} else {
			err = e.ResumeStream(id, owner, Reply{})
		}
		if err == nil {
			n++
		}
	}
	return n
}

// Sessions returns a view of every busy session.
func (e *Engine) Sessions() []SessionInfo {
	return e.table.snapshot()
}

// Session returns a view of one busy session.
func (e *Engine) Session(id SessionID) (SessionInfo, error) {
	return e.table.lookupInfo(id)
}

// ActiveSessions returns the number of busy slots.
func (e *Engine) ActiveSessions() int {
	return e.table.count()
}

// Shutdown rejects new sessions, clears every busy one and waits for the
// workers to exit or ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.startMu.Lock()
	e.closing.Store(true)
	e.startMu.Unlock()

	pending := e.table.matching(func(*session) bool { return true })
	retry := time.NewTicker(10 * time.Millisecond)
	defer retry.Stop()
	for len(pending) > 0 {
		var full []SessionID
		for _, id := range pending {
			err := e.table.withAnySession(id, func(s *session) error {
				if !s.queue.tryPush(command{kind: cmdClear}) {
					return ErrQueueFull
				}
				return nil
			})
			if errors.Is(err, ErrQueueFull) {
				full = append(full, id)
			}
		}
		pending = full
		if len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-retry.C:
		}
	}

	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// policy applies the audio and frame-filter rules to a play request.
func (e *Engine) policy(dir storage.Direction, speed storage.Speed, withAudio bool) playConfig {
	pc := playConfig{direction: dir, speed: speed, audio: withAudio, filter: storage.AnyFrame}
	if dir != storage.Forward || speed != storage.Speed1x {
		pc.audio = false
	}
	if dir == storage.Reverse || speed >= e.cfg.FastSpeed {
		pc.filter = storage.IFrameOnly
	}
	return pc
}

// enqueue validates id and owner, queues cmd and, when cfg is set, records
// it as the session configuration. Nothing changes when the queue is full.
func (e *Engine) enqueue(id SessionID, owner OwnerID, cmd command, cfg *playConfig) error {
	err := e.table.withSession(id, owner, func(s *session) error {
		s.cfgMu.Lock()
		defer s.cfgMu.Unlock()

		if !s.queue.tryPush(cmd) {
			return ErrQueueFull
		}
		if cfg != nil {
			s.cfg = *cfg
		}
		return nil
	})
	if err != nil {
		e.log.Debug("control call rejected",
			slog.Int("session_id", int(id)),
			slog.String("command", cmd.kind.String()),
			slog.String("error", err.Error()))
		return e.reject(err)
	}
	return nil
}

func (e *Engine) removeMatching(owner OwnerID, keep func(*session) bool) int {
	n := 0
	for _, id := range e.table.matching(keep) {
		if err := e.RemoveStream(id, owner, Reply{}); err == nil {
			n++
		}
	}
	return n
}

// reject records a synchronous failure and returns err unchanged.
func (e *Engine) reject(err error) error {
	e.metrics.IncControlRejected(rejectReason(err))
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrNoFreeSession):
		return "no_free_session"
	case errors.Is(err, ErrInvalidSession):
		return "invalid_session"
	case errors.Is(err, ErrOwnerMismatch):
		return "owner_mismatch"
	case errors.Is(err, ErrInvalidCamera):
		return "invalid_camera"
	case errors.Is(err, ErrStorageOpen):
		return "storage_open"
	default:
		return "invalid_argument"
	}
}
