package wire

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestFrameHeader_Put_layout(t *testing.T) {
	h := FrameHeader{
		ProductType:     0x0203,
		FrameSize:       0x01020304,
		Channel:         4,
		StreamType:      StreamVideo,
		CodecType:       7,
		FPS:             25,
		LocalTimeSec:    0x0A0B0C0D,
		LocalTimeMs:     999,
		VOPType:         VOPIFrame,
		Resolution:      5,
		NoOfRefFrame:    1,
		MediaStatus:     MediaNormal,
		VideoLoss:       true,
		AudioSampleFreq: 3,
		VideoFormat:     2,
		ScanType:        1,
		FrameSyncNum:    0x1234,
	}
	b := make([]byte, HeaderSize)
	for i := range b {
		b[i] = 0xEE
	}
	if err := h.Put(b); err != nil {
		t.Fatalf("Put: %v", err)
	}

	want := []byte{
		0xFF, 0x01, 0x00, 0x00, // magic
		0x01, 0x00, // version
		0x03, 0x02, // product
		0x04, 0x03, 0x02, 0x01, // frame size
		4,                      // channel
		0x0D, 0x0C, 0x0B, 0x0A, // seconds
		0xE7, 0x03, // 999 ms
		byte(StreamVideo), 7, 25,
		byte(VOPIFrame), 5, 1, byte(MediaNormal),
		1, 3, 2, 1,
		0x34, 0x12, // frame sync
		0, 0, 0, 0, // reserved
	}
	if !bytes.Equal(b, want) {
		t.Errorf("Put layout mismatch\n got %x\nwant %x", b, want)
	}
}

func TestFrameHeader_Put_short_buffer(t *testing.T) {
	err := FrameHeader{}.Put(make([]byte, HeaderSize-1))
	if !errors.Is(err, ErrShortBuffer) {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}
}

func TestParseHeader_round_trip(t *testing.T) {
	in := FrameHeader{
		ProductType:  9,
		FrameSize:    4096,
		Channel:      2,
		StreamType:   StreamAudio,
		MediaStatus:  MediaNormal,
		FrameSyncNum: 77,
	}
	in.SetTime(time.Unix(1700000000, 250*int64(time.Millisecond)).UTC())
	b, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	out, err := ParseHeader(b)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if out != in {
		t.Errorf("round trip: got %+v want %+v", out, in)
	}
	if !out.Time().Equal(time.Unix(1700000000, 250*int64(time.Millisecond))) {
		t.Errorf("Time: got %v", out.Time())
	}
}

func TestFrameHeader_SetTime_local_wall_clock(t *testing.T) {
	zone := time.FixedZone("UTC+8", 8*60*60)
	at := time.Date(2024, 5, 1, 9, 30, 15, 120*int(time.Millisecond), zone)

	var h FrameHeader
	h.SetTime(at)
	want := time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC).Unix()
	if int64(h.LocalTimeSec) != want || h.LocalTimeMs != 120 {
		t.Errorf("got sec %d ms %d, want sec %d ms 120", h.LocalTimeSec, h.LocalTimeMs, want)
	}
	if got := h.Time(); got.Hour() != 9 || got.Minute() != 30 || got.Location() != time.UTC {
		t.Errorf("Time should read back the wall clock, got %v", got)
	}

	h.SetTime(time.Time{})
	if h.LocalTimeSec != 0 || h.LocalTimeMs != 0 {
		t.Errorf("zero time should clear the fields, got %d/%d", h.LocalTimeSec, h.LocalTimeMs)
	}
}

func TestParseHeader_bad_magic(t *testing.T) {
	b := make([]byte, HeaderSize)
	if _, err := ParseHeader(b); !errors.Is(err, ErrBadMagic) {
		t.Errorf("expected ErrBadMagic, got %v", err)
	}
	if _, err := ParseHeader(b[:10]); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}
}

func TestErrorHeader(t *testing.T) {
	h := ErrorHeader(3, 5, MediaPlaybackOver)
	if h.FrameSize != 0 {
		t.Errorf("error header must carry no payload, got %d", h.FrameSize)
	}
	if h.MediaStatus != MediaPlaybackOver || h.Channel != 5 || h.ProductType != 3 {
		t.Errorf("unexpected header %+v", h)
	}
}

func TestAppendReply(t *testing.T) {
	got := string(AppendReply(nil, AckSuccess))
	if got != "{RES&0&}\r\n" {
		t.Errorf("success reply: %q", got)
	}
	got = string(AppendReply([]byte("x"), AckFailure))
	if got != "x{RES&1&}\r\n" {
		t.Errorf("failure reply: %q", got)
	}
}
