package playback

import (
	"time"

	"nvr-playback/internal/storage"
)

const (
	// DefaultMaxSessions is the session table capacity.
	DefaultMaxSessions = 16
	// DefaultMaxCameras bounds the camera index accepted by AddStream.
	DefaultMaxCameras = 64
	// DefaultQueueDepth is the per-session command queue capacity.
	DefaultQueueDepth = 8
	// DefaultFrameBufferSize is the largest frame payload a session can carry.
	DefaultFrameBufferSize = 1 << 20
	// DefaultFrameInterval is the pause before each frame fetch.
	DefaultFrameInterval = 5 * time.Millisecond
	// DefaultSendTimeout bounds a single send attempt.
	DefaultSendTimeout = 500 * time.Millisecond
	// DefaultFastSpeed is the first forward speed served I-frame only.
	DefaultFastSpeed = storage.Speed4x
)

// Config holds the engine limits and tuning.
type Config struct {
	MaxSessions     int
	MaxCameras      int
	QueueDepth      int
	FrameBufferSize int
	FrameInterval   time.Duration
	SendTimeout     time.Duration
	ProductType     uint16
	FastSpeed       storage.Speed

	// PauseResumeFirstOnly makes PauseOrResumeAllForClientSession act on the
	// first matching session only, as older firmware did.
	PauseResumeFirstOnly bool
}

// withDefaults replaces non-positive limits with their defaults.
// FrameInterval may be zero to disable pacing.
func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.MaxSessions > 0xFFFF {
		c.MaxSessions = 0xFFFF
	}
	if c.MaxCameras <= 0 {
		c.MaxCameras = DefaultMaxCameras
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.FrameBufferSize <= 0 {
		c.FrameBufferSize = DefaultFrameBufferSize
	}
	if c.FrameInterval < 0 {
		c.FrameInterval = DefaultFrameInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.FastSpeed == 0 || !c.FastSpeed.Valid() {
		c.FastSpeed = DefaultFastSpeed
	}
	return c
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return Config{FrameInterval: DefaultFrameInterval}.withDefaults()
}
