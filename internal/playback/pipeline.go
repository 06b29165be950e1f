package playback

import (
	"errors"
	"log/slog"

	"nvr-playback/internal/storage"
	"nvr-playback/internal/wire"
)

// pump moves the stream forward by one step: it reads a new frame when
// nothing is pending, then makes one bounded send attempt. A send that
// times out after partial progress leaves the rest pending so the worker can
// look at its queue before retrying. Without a stream the worker parks in
// Pause and any pending frame is kept for the next connection.
func (w *worker) pump() {
	if w.stream == nil {
		w.setState(StatePause)
		return
	}
	timeout := w.e.cfg.SendTimeout

	if w.remaining == 0 {
		if d := w.e.cfg.FrameInterval; d > 0 {
			w.e.clock.Sleep(d)
		}
		n, err := w.fetch()
		if err != nil {
			status := storage.MediaStatusFor(err)
			if errors.Is(err, storage.ErrEndOfRecording) {
				w.log.Info("recording ended", slog.Time("last_frame", w.lastFrame))
			}
			if serr := w.tr.Send(w.stream, w.buf[:n], timeout); serr != nil {
				w.log.Debug("error header not delivered", slog.String("error", serr.Error()))
			}
			w.forceStop("read_"+status.String(), err)
			return
		}
		w.frameLen, w.sent, w.remaining = n, 0, n
	}

	n, err := w.tr.SendPartial(w.stream, w.buf[w.sent:w.sent+w.remaining], timeout)
	w.sent += n
	w.remaining -= n
	if err != nil {
		w.forceStop("send_failed", err)
		return
	}
	if w.remaining > 0 {
		w.e.metrics.IncPartialSends()
		return
	}
	w.e.metrics.AddFrameSent(w.frameLen)
}

// fetch reads the next frame into the buffer behind a fresh header and
// returns the total length. On a read error the buffer holds a zero-payload
// header carrying the matching media status, and that length is returned
// along with the error.
func (w *worker) fetch() (int, error) {
	channel := uint8(w.camera + 1)

	f, err := w.reader.ReadFrame(w.buf[wire.HeaderSize:])
	if err != nil {
		h := wire.ErrorHeader(w.e.cfg.ProductType, channel, storage.MediaStatusFor(err))
		h.SetTime(w.e.clock.Now())
		_ = h.Put(w.buf)
		return wire.HeaderSize, err
	}
	w.lastFrame = f.Time

	h := wire.FrameHeader{
		ProductType:     w.e.cfg.ProductType,
		FrameSize:       uint32(f.Size),
		Channel:         channel,
		StreamType:      f.Stream,
		CodecType:       f.Codec,
		FPS:             f.FPS,
		VOPType:         f.VOP,
		Resolution:      f.Resolution,
		NoOfRefFrame:    f.RefFrames,
		MediaStatus:     wire.MediaNormal,
		VideoLoss:       f.Stream == wire.StreamVideo && f.Size == 0,
		AudioSampleFreq: f.SampleFreq,
		VideoFormat:     f.VideoFormat,
		ScanType:        f.ScanType,
		FrameSyncNum:    f.SyncNum,
	}
	h.SetTime(f.Time)
	_ = h.Put(w.buf)
	return wire.HeaderSize + f.Size, nil
}
