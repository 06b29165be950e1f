package wire

import (
	"encoding/binary"
	"errors"
	"time"
)

// HeaderSize is the fixed size of a frame header on the wire.
const HeaderSize = 36

const (
	// MagicCode opens every frame header.
	MagicCode uint32 = 0x000001FF
	// HeaderVersion is the only header layout this package speaks.
	HeaderVersion uint16 = 1
)

var (
	// ErrShortBuffer is returned when a buffer cannot hold a full header.
	ErrShortBuffer = errors.New("buffer shorter than frame header")

	// ErrBadMagic is returned by ParseHeader when the magic code does not match.
	ErrBadMagic = errors.New("frame header magic mismatch")
)

// StreamType identifies the kind of payload that follows a header.
type StreamType uint8

const (
	StreamNone StreamType = iota
	StreamVideo
	StreamAudio
)

// VOPType is the video frame type.
type VOPType uint8

const (
	VOPNone VOPType = iota
	VOPIFrame
	VOPPFrame
	VOPBFrame
)

// MediaStatus is carried in every header. Anything other than MediaNormal is
// terminal for the stream and arrives with a zero-length payload.
type MediaStatus uint8

const (
	MediaNormal MediaStatus = iota
	MediaError
	MediaPlaybackOver
	MediaHDDFormat
	MediaFileIOError
	MediaSessionNotAvailable
)

// String returns a human-readable name for the status.
func (s MediaStatus) String() string {
	switch s {
	case MediaNormal:
		return "normal"
	case MediaError:
		return "error"
	case MediaPlaybackOver:
		return "playback_over"
	case MediaHDDFormat:
		return "hdd_format"
	case MediaFileIOError:
		return "file_io_error"
	case MediaSessionNotAvailable:
		return "session_not_available"
	default:
		return "unknown"
	}
}

// FrameHeader is the binary preamble sent ahead of every frame payload.
// Field order and widths follow the layout documented on Put.
type FrameHeader struct {
	ProductType     uint16
	FrameSize       uint32 // payload length, header excluded
	Channel         uint8
	LocalTimeSec    uint32
	LocalTimeMs     uint16
	StreamType      StreamType
	CodecType       uint8
	FPS             uint8
	VOPType         VOPType
	Resolution      uint8
	NoOfRefFrame    uint8
	MediaStatus     MediaStatus
	VideoLoss       bool
	AudioSampleFreq uint8
	VideoFormat     uint8
	ScanType        uint8
	FrameSyncNum    uint16
}

// SetTime stores the wall-clock reading of t in its own location: the
// recorder's clients expect local time, not UTC.
func (h *FrameHeader) SetTime(t time.Time) {
	if t.IsZero() {
		h.LocalTimeSec, h.LocalTimeMs = 0, 0
		return
	}
	_, offset := t.Zone()
	h.LocalTimeSec = uint32(t.Unix() + int64(offset))
	h.LocalTimeMs = uint16(t.Nanosecond() / int(time.Millisecond))
}

// Time returns the header's wall-clock reading as a UTC time.
func (h FrameHeader) Time() time.Time {
	return time.Unix(int64(h.LocalTimeSec), int64(h.LocalTimeMs)*int64(time.Millisecond)).UTC()
}

// Put encodes h into b (little-endian):
//
//	0  magic u32      4  version u16     6  product u16     8  frame size u32
//	12 channel u8     13 time sec u32    17 time ms u16     19 stream u8
//	20 codec u8       21 fps u8          22 vop u8          23 resolution u8
//	24 ref frames u8  25 media status u8 26 video loss u8   27 sample freq u8
//	28 video fmt u8   29 scan type u8    30 frame sync u16  32 reserved [4]
func (h FrameHeader) Put(b []byte) error {
	if len(b) < HeaderSize {
		return ErrShortBuffer
	}
	le := binary.LittleEndian
	le.PutUint32(b[0:], MagicCode)
	le.PutUint16(b[4:], HeaderVersion)
	le.PutUint16(b[6:], h.ProductType)
	le.PutUint32(b[8:], h.FrameSize)
	b[12] = h.Channel
	le.PutUint32(b[13:], h.LocalTimeSec)
	le.PutUint16(b[17:], h.LocalTimeMs)
	b[19] = byte(h.StreamType)
	b[20] = h.CodecType
	b[21] = h.FPS
	b[22] = byte(h.VOPType)
	b[23] = h.Resolution
	b[24] = h.NoOfRefFrame
	b[25] = byte(h.MediaStatus)
	b[26] = 0
	if h.VideoLoss {
		b[26] = 1
	}
	b[27] = h.AudioSampleFreq
	b[28] = h.VideoFormat
	b[29] = h.ScanType
	le.PutUint16(b[30:], h.FrameSyncNum)
	clear(b[32:HeaderSize])
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h FrameHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	if err := h.Put(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ParseHeader decodes a header from the start of b.
func ParseHeader(b []byte) (FrameHeader, error) {
	if len(b) < HeaderSize {
		return FrameHeader{}, ErrShortBuffer
	}
	le := binary.LittleEndian
	if le.Uint32(b[0:]) != MagicCode {
		return FrameHeader{}, ErrBadMagic
	}
	return FrameHeader{
		ProductType:     le.Uint16(b[6:]),
		FrameSize:       le.Uint32(b[8:]),
		Channel:         b[12],
		LocalTimeSec:    le.Uint32(b[13:]),
		LocalTimeMs:     le.Uint16(b[17:]),
		StreamType:      StreamType(b[19]),
		CodecType:       b[20],
		FPS:             b[21],
		VOPType:         VOPType(b[22]),
		Resolution:      b[23],
		NoOfRefFrame:    b[24],
		MediaStatus:     MediaStatus(b[25]),
		VideoLoss:       b[26] != 0,
		AudioSampleFreq: b[27],
		VideoFormat:     b[28],
		ScanType:        b[29],
		FrameSyncNum:    le.Uint16(b[30:]),
	}, nil
}

// ErrorHeader builds the zero-payload header that terminates a stream.
func ErrorHeader(productType uint16, channel uint8, status MediaStatus) FrameHeader {
	return FrameHeader{
		ProductType: productType,
		Channel:     channel,
		StreamType:  StreamNone,
		MediaStatus: status,
	}
}
