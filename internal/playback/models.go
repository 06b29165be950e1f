package playback

import (
	"crypto/subtle"
	"time"

	"nvr-playback/internal/storage"
	"nvr-playback/internal/transport"
	"nvr-playback/internal/wire"
)

// SessionID identifies a playback session. The low 16 bits are the table
// slot, the high 16 bits the slot generation, so an id handed out for a slot
// that has since been freed and reused no longer validates.
type SessionID uint32

func newSessionID(slot int, gen uint16) SessionID {
	return SessionID(uint32(gen)<<16 | uint32(slot)&0xFFFF)
}

// Slot returns the table slot index.
func (id SessionID) Slot() int { return int(id & 0xFFFF) }

// Generation returns the slot generation the id was issued for.
func (id SessionID) Generation() uint16 { return uint16(id >> 16) }

// OwnerID is the authenticated client session that created, and exclusively
// controls, a playback session.
type OwnerID string

func ownerMatches(a, b OwnerID) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// State is the worker state of a playback session.
type State uint32

const (
	StateAwaitingID State = iota
	StatePlay
	StatePause
	StateStep
	StateStop
	StateClear
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateAwaitingID:
		return "awaiting_id"
	case StatePlay:
		return "play"
	case StatePause:
		return "pause"
	case StateStep:
		return "step"
	case StateStop:
		return "stop"
	case StateClear:
		return "clear"
	default:
		return "unknown"
	}
}

// idle reports whether a worker in state s waits for the next command
// instead of streaming.
func (s State) idle() bool {
	switch s {
	case StateAwaitingID, StatePause, StateStep, StateStop:
		return true
	default:
		return false
	}
}

// AckFunc writes the reply for a control call on h and closes h when
// closeAfter is set. h is never nil.
type AckFunc func(h *transport.Handle, status wire.AckStatus, closeAfter bool) error

// Reply is where the worker sends the asynchronous outcome of a control
// call. Conn may be nil when the call has no client waiting (bulk removal on
// logout, for example). A nil Ack replies through the session's transport.
type Reply struct {
	Conn transport.Conn
	Ack  AckFunc
}

func (r Reply) guard() reply {
	return reply{h: transport.Guard(r.Conn), ack: r.Ack}
}

type reply struct {
	h   *transport.Handle
	ack AckFunc
}

// AddRequest carries the AddStream parameters.
type AddRequest struct {
	Kind        transport.Kind
	Start       time.Time
	End         time.Time
	Camera      int
	Owner       OwnerID
	EventFilter uint32
	Overlap     uint8
	DiskID      uint8
	StorageKind storage.Kind
}

// playConfig is the per-session playback configuration written by control
// calls under the configuration lock.
type playConfig struct {
	direction storage.Direction
	speed     storage.Speed
	audio     bool
	filter    storage.FrameFilter
}

type commandKind uint8

const (
	cmdAwaitID commandKind = iota
	cmdPlay
	cmdResume
	cmdPause
	cmdStep
	cmdStop
	cmdClear
)

func (k commandKind) String() string {
	switch k {
	case cmdAwaitID:
		return "await_id"
	case cmdPlay:
		return "play"
	case cmdResume:
		return "resume"
	case cmdPause:
		return "pause"
	case cmdStep:
		return "step"
	case cmdStop:
		return "stop"
	case cmdClear:
		return "clear"
	default:
		return "unknown"
	}
}

// command is one queued control message.
type command struct {
	kind  commandKind
	at    time.Time
	play  playConfig
	reply reply
}

// SessionInfo is a point-in-time view of a busy session.
type SessionInfo struct {
	ID        SessionID `json:"id"`
	Slot      int       `json:"slot"`
	Owner     OwnerID   `json:"owner"`
	Camera    int       `json:"camera"`
	Kind      string    `json:"client_kind"`
	State     string    `json:"state"`
	Direction string    `json:"direction"`
	Speed     string    `json:"speed"`
	Audio     bool      `json:"audio"`
	Filter    string    `json:"frame_filter"`
	CreatedAt time.Time `json:"created_at"`
	TraceID   string    `json:"trace_id"`
}
