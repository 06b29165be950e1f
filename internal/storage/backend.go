// Package storage describes the recording backend the playback engine reads
// from. The production disk backend lives outside this module; Memory is a
// reference implementation used by the server and by tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nvr-playback/internal/wire"
)

var (
	// ErrEndOfRecording is returned when no more frames exist in the
	// requested direction within the session's time range.
	ErrEndOfRecording = errors.New("end of recording")

	// ErrVolumeFormatted is returned when the volume holding the recording
	// was reformatted while a reader was open.
	ErrVolumeFormatted = errors.New("volume reformatted")

	// ErrIO is returned for unrecoverable read failures.
	ErrIO = errors.New("recording read failed")

	// ErrFrameTooLarge is returned when a frame does not fit the caller's buffer.
	ErrFrameTooLarge = errors.New("frame larger than buffer")

	// ErrNotPositioned is returned by ReadFrame before SetPosition succeeded.
	ErrNotPositioned = errors.New("reader not positioned")

	// ErrNoRecording is returned by Open and SetPosition when nothing was
	// recorded for the camera in the requested range.
	ErrNoRecording = errors.New("no recording in range")

	// ErrClosed is returned by a reader after Close.
	ErrClosed = errors.New("reader closed")

	// ErrUnknownSpeed is returned by ParseSpeed for an unrecognised label.
	ErrUnknownSpeed = errors.New("unknown playback speed")
)

// Direction is the playback direction.
type Direction uint8

const (
	Forward Direction = iota
	Reverse
)

// String returns a human-readable name for the direction.
func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Speed is the playback rate, from 1/16x to 16x.
type Speed uint8

const (
	Speed1By16x Speed = iota
	Speed1By8x
	Speed1By4x
	Speed1By2x
	Speed1x
	Speed2x
	Speed4x
	Speed8x
	Speed16x
)

// Valid reports whether s is a known speed.
func (s Speed) Valid() bool {
	return s <= Speed16x
}

// String returns the rate as text, e.g. "1/4x" or "8x".
func (s Speed) String() string {
	switch s {
	case Speed1By16x:
		return "1/16x"
	case Speed1By8x:
		return "1/8x"
	case Speed1By4x:
		return "1/4x"
	case Speed1By2x:
		return "1/2x"
	case Speed1x:
		return "1x"
	case Speed2x:
		return "2x"
	case Speed4x:
		return "4x"
	case Speed8x:
		return "8x"
	case Speed16x:
		return "16x"
	default:
		return "unknown"
	}
}

// ParseSpeed is the inverse of Speed.String.
func ParseSpeed(label string) (Speed, error) {
	for s := Speed1By16x; s <= Speed16x; s++ {
		if s.String() == label {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSpeed, label)
}

// FrameFilter restricts which frames a reader returns.
type FrameFilter uint8

const (
	AnyFrame FrameFilter = iota
	IFrameOnly
)

// String returns a human-readable name for the filter.
func (f FrameFilter) String() string {
	if f == IFrameOnly {
		return "i_frame_only"
	}
	return "any_frame"
}

// Kind selects where a recording is read from.
type Kind uint8

const (
	KindLocal Kind = iota
	KindNetwork
	KindBackup
)

// OpenParams selects the recording range a reader covers.
type OpenParams struct {
	Camera    int
	Start     time.Time
	End       time.Time
	EventMask uint32 // 0 matches every event type
	Overlap   uint8
	DiskID    uint8
	Kind      Kind
}

// Position places a reader before a read sequence.
type Position struct {
	At          time.Time
	Direction   Direction
	Speed       Speed
	Audio       bool
	Filter      FrameFilter
	SingleFrame bool
}

// Frame describes a frame copied into the caller's buffer by ReadFrame.
type Frame struct {
	Stream      wire.StreamType
	Codec       uint8
	FPS         uint8
	VOP         wire.VOPType
	Resolution  uint8
	RefFrames   uint8
	SampleFreq  uint8
	VideoFormat uint8
	ScanType    uint8
	SyncNum     uint16
	Time        time.Time
	Size        int
}

// Backend opens readers over recorded footage.
type Backend interface {
	Open(ctx context.Context, p OpenParams) (Reader, error)
}

// Reader serves frames from one opened range. A Reader is used by a single
// goroutine.
type Reader interface {
	// SetPosition moves the reader; the next ReadFrame returns the first
	// frame at or after (forward) or at or before (reverse) p.At.
	SetPosition(p Position) error

	// ReadFrame copies the next frame payload into buf[:Frame.Size].
	ReadFrame(buf []byte) (Frame, error)

	// Close releases the reader.
	Close() error
}

// MediaStatusFor maps a read error to the status sent in the terminal header.
func MediaStatusFor(err error) wire.MediaStatus {
	switch {
	case err == nil:
		return wire.MediaNormal
	case errors.Is(err, ErrEndOfRecording):
		return wire.MediaPlaybackOver
	case errors.Is(err, ErrVolumeFormatted):
		return wire.MediaHDDFormat
	case errors.Is(err, ErrIO):
		return wire.MediaFileIOError
	case errors.Is(err, ErrClosed), errors.Is(err, ErrNotPositioned):
		return wire.MediaSessionNotAvailable
	default:
		return wire.MediaError
	}
}
