package playback

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"nvr-playback/internal/storage"
	"nvr-playback/internal/transport"
)

var (
	// ErrNoFreeSession is returned by AddStream when every slot is busy.
	ErrNoFreeSession = errors.New("no free playback session")

	// ErrInvalidSession is returned for an id that does not name a live session.
	ErrInvalidSession = errors.New("invalid playback session")

	// ErrOwnerMismatch is returned when the caller does not own the session.
	ErrOwnerMismatch = errors.New("playback session owned by another client")

	// ErrQueueFull is returned when a session's command queue has no room.
	ErrQueueFull = errors.New("playback command queue full")
)

// session is one slot of the table. Identity fields are written only under
// the table lock; cfg only under cfgMu; the storage reader and frame buffer
// belong to the worker goroutine.
type session struct {
	slot      int
	gen       uint16
	busy      bool
	owner     OwnerID
	camera    int
	kind      transport.Kind
	tr        transport.Transport
	traceID   uuid.UUID
	createdAt time.Time

	cfgMu sync.Mutex
	cfg   playConfig

	queue *commandQueue
	state atomic.Uint32

	reader storage.Reader
}

func (s *session) id() SessionID {
	return newSessionID(s.slot, s.gen)
}

func (s *session) setState(st State) {
	s.state.Store(uint32(st))
}

func (s *session) currentState() State {
	return State(s.state.Load())
}

// info builds a SessionInfo. Caller must hold the table lock.
func (s *session) info() SessionInfo {
	s.cfgMu.Lock()
	cfg := s.cfg
	s.cfgMu.Unlock()

	return SessionInfo{
		ID:        s.id(),
		Slot:      s.slot,
		Owner:     s.owner,
		Camera:    s.camera,
		Kind:      s.kind.String(),
		State:     s.currentState().String(),
		Direction: cfg.direction.String(),
		Speed:     cfg.speed.String(),
		Audio:     cfg.audio,
		Filter:    cfg.filter.String(),
		CreatedAt: s.createdAt,
		TraceID:   s.traceID.String(),
	}
}

// table is the fixed-capacity session table. Free slots are kept on a stack
// so allocation and release are O(1).
type table struct {
	mu    sync.RWMutex
	slots []*session
	free  []int
	busy  int
}

func newTable(capacity, queueDepth int) *table {
	t := &table{
		slots: make([]*session, capacity),
		free:  make([]int, 0, capacity),
	}
	for i := range t.slots {
		t.slots[i] = &session{slot: i, queue: newCommandQueue(queueDepth)}
	}
	// Lowest slot on top of the stack.
	for i := capacity - 1; i >= 0; i-- {
		t.free = append(t.free, i)
	}
	return t
}

// allocate takes a free slot, bumps its generation and marks it busy.
func (t *table) allocate(owner OwnerID, camera int, kind transport.Kind, tr transport.Transport, now time.Time) (*session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.free) == 0 {
		return nil, ErrNoFreeSession
	}
	slot := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	s := t.slots[slot]
	s.gen++
	s.busy = true
	s.owner = owner
	s.camera = camera
	s.kind = kind
	s.tr = tr
	s.traceID = uuid.New()
	s.createdAt = now
	s.setState(StateAwaitingID)
	s.cfgMu.Lock()
	s.cfg = playConfig{speed: storage.Speed1x}
	s.cfgMu.Unlock()
	t.busy++
	return s, nil
}

// release resets s to FREE and returns any commands still queued, which
// can no longer be processed.
func (t *table) release(s *session) []command {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !s.busy {
		return nil
	}
	leftover := s.queue.drain()
	s.busy = false
	s.owner = ""
	s.camera = -1
	s.tr = nil
	s.reader = nil
	s.setState(StateClear)
	t.free = append(t.free, s.slot)
	t.busy--
	return leftover
}

// withSession validates id and owner and runs fn while holding the table
// read lock, so the slot cannot be released or reused underneath fn.
func (t *table) withSession(id SessionID, owner OwnerID, fn func(*session) error) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, err := t.lookupLocked(id)
	if err != nil {
		return err
	}
	if !ownerMatches(s.owner, owner) {
		return ErrOwnerMismatch
	}
	return fn(s)
}

// withAnySession is withSession without the owner check, for engine-initiated
// commands.
func (t *table) withAnySession(id SessionID, fn func(*session) error) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, err := t.lookupLocked(id)
	if err != nil {
		return err
	}
	return fn(s)
}

// lookupLocked returns the busy session named by id.
// Caller must hold t.mu.
func (t *table) lookupLocked(id SessionID) (*session, error) {
	slot := id.Slot()
	if slot >= len(t.slots) {
		return nil, ErrInvalidSession
	}
	s := t.slots[slot]
	if !s.busy || s.gen != id.Generation() {
		return nil, ErrInvalidSession
	}
	return s, nil
}

// matching returns the ids of busy sessions accepted by keep, lowest slot first.
func (t *table) matching(keep func(*session) bool) []SessionID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ids []SessionID
	for _, s := range t.slots {
		if s.busy && keep(s) {
			ids = append(ids, s.id())
		}
	}
	return ids
}

// snapshot returns SessionInfo for every busy session, lowest slot first.
func (t *table) snapshot() []SessionInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]SessionInfo, 0, t.busy)
	for _, s := range t.slots {
		if s.busy {
			out = append(out, s.info())
		}
	}
	return out
}

// lookupInfo returns the SessionInfo of a busy session.
func (t *table) lookupInfo(id SessionID) (SessionInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, err := t.lookupLocked(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return s.info(), nil
}

func (t *table) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.busy
}
