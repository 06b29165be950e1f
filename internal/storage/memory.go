package storage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"nvr-playback/internal/wire"
)

// Recorded is one stored frame.
type Recorded struct {
	Frame
	Event   uint32
	Payload []byte
}

// Memory is a concurrency-safe in-memory Backend. Frames are kept per camera
// ordered by time.
type Memory struct {
	mu         sync.RWMutex
	cameras    map[int][]Recorded
	formatGen  map[int]uint64
	readErrors map[int]error

	open       atomic.Int64
	closeCalls atomic.Int64
}

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{
		cameras:    make(map[int][]Recorded),
		formatGen:  make(map[int]uint64),
		readErrors: make(map[int]error),
	}
}

// Add records frames for camera. Frame.Size is taken from the payload.
func (m *Memory) Add(camera int, frames ...Recorded) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range frames {
		f.Size = len(f.Payload)
		m.cameras[camera] = append(m.cameras[camera], f)
	}
	recs := m.cameras[camera]
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Time.Before(recs[j].Time) })
}

// Format drops every recording of camera. Readers already open on it fail
// with ErrVolumeFormatted from then on.
func (m *Memory) Format(camera int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cameras, camera)
	m.formatGen[camera]++
}

// FailReads makes every subsequent read on camera return err. A nil err
// clears the failure.
func (m *Memory) FailReads(camera int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.readErrors, camera)
		return
	}
	m.readErrors[camera] = err
}

// OpenReaders returns the number of readers opened and not yet closed.
func (m *Memory) OpenReaders() int {
	return int(m.open.Load())
}

// CloseCalls returns how many times Close was called on any reader.
func (m *Memory) CloseCalls() int {
	return int(m.closeCalls.Load())
}

// Open implements Backend.Open.
func (m *Memory) Open(ctx context.Context, p OpenParams) (Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var frames []Recorded
	for _, f := range m.cameras[p.Camera] {
		if !p.Start.IsZero() && f.Time.Before(p.Start) {
			continue
		}
		if !p.End.IsZero() && f.Time.After(p.End) {
			continue
		}
		if p.EventMask != 0 && f.Event&p.EventMask == 0 {
			continue
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return nil, ErrNoRecording
	}

	m.open.Add(1)
	return &memoryReader{
		backend:   m,
		camera:    p.Camera,
		frames:    frames,
		formatGen: m.formatGen[p.Camera],
	}, nil
}

// memoryReader is a Reader over a snapshot of one camera's frames.
type memoryReader struct {
	backend   *Memory
	camera    int
	frames    []Recorded
	formatGen uint64

	pos        Position
	next       int
	positioned bool
	delivered  bool
	closed     bool
}

// check returns the error a reader must report before touching frames.
func (r *memoryReader) check() error {
	if r.closed {
		return ErrClosed
	}
	r.backend.mu.RLock()
	defer r.backend.mu.RUnlock()
	if r.backend.formatGen[r.camera] != r.formatGen {
		return ErrVolumeFormatted
	}
	return r.backend.readErrors[r.camera]
}

func (r *memoryReader) SetPosition(p Position) error {
	if err := r.check(); err != nil {
		return err
	}

	var idx int
	if p.Direction == Reverse {
		// last frame at or before p.At
		idx = sort.Search(len(r.frames), func(i int) bool { return r.frames[i].Time.After(p.At) }) - 1
	} else {
		idx = sort.Search(len(r.frames), func(i int) bool { return !r.frames[i].Time.Before(p.At) })
	}
	if idx < 0 || idx >= len(r.frames) {
		return ErrNoRecording
	}

	r.pos = p
	r.next = idx
	r.positioned = true
	r.delivered = false
	return nil
}

func (r *memoryReader) ReadFrame(buf []byte) (Frame, error) {
	if err := r.check(); err != nil {
		return Frame{}, err
	}
	if !r.positioned {
		return Frame{}, ErrNotPositioned
	}
	if r.pos.SingleFrame && r.delivered {
		return Frame{}, ErrEndOfRecording
	}

	step := 1
	if r.pos.Direction == Reverse {
		step = -1
	}
	for ; r.next >= 0 && r.next < len(r.frames); r.next += step {
		f := r.frames[r.next]
		if !r.wants(f.Frame) {
			continue
		}
		if f.Size > len(buf) {
			return Frame{}, ErrFrameTooLarge
		}
		copy(buf, f.Payload)
		r.next += step
		r.delivered = true
		return f.Frame, nil
	}
	return Frame{}, ErrEndOfRecording
}

// wants applies the audio flag and frame filter of the current position.
func (r *memoryReader) wants(f Frame) bool {
	switch f.Stream {
	case wire.StreamAudio:
		return r.pos.Audio && r.pos.Filter == AnyFrame
	case wire.StreamVideo:
		return r.pos.Filter == AnyFrame || f.VOP == wire.VOPIFrame
	default:
		return false
	}
}

func (r *memoryReader) Close() error {
	r.backend.closeCalls.Add(1)
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	r.backend.open.Add(-1)
	return nil
}

var _ Backend = (*Memory)(nil)
