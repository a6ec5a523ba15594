package relay

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/observe"
	"github.com/MrWong99/starcommander/pkg/audio"
)

// Playback loop timing.
const (
	playbackTick    = 100 * time.Millisecond
	playbackIdle    = time.Second
	playbackBackoff = time.Second
)

// QueueSource plays frames from an audio channel. Each read waits up to
// Wait for a frame and yields silence when none arrives or when the frame
// has the wrong length, so the voice connection keeps a steady cadence.
type QueueSource struct {
	Queue   bus.Queue[bus.AudioFrame]
	Wait    time.Duration
	Metrics *observe.Metrics
}

// ReadFrame implements [audio.Source].
func (s *QueueSource) ReadFrame(ctx context.Context) ([]byte, error) {
	f, ok, err := s.Queue.PopWait(ctx, s.Wait)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.Metrics.PlaybackSilence.Add(ctx, 1)
		return audio.Silence(), nil
	}
	if !audio.ValidFrame(f.PCM) {
		s.Metrics.RecordFrameDropped(ctx, observe.DropBadLength)
		s.Metrics.PlaybackSilence.Add(ctx, 1)
		return audio.Silence(), nil
	}
	return f.PCM, nil
}

// startPlayback starts the playback loop once per worker.
func (r *Relay) startPlayback() {
	r.loopOnce.Do(func() {
		go func() {
			defer close(r.loopDone)
			r.playback(r.loopCtx)
		}()
	})
}

// playback keeps the current voice connection streaming from the worker's
// audio channel until ctx is done.
func (r *Relay) playback(ctx context.Context) {
	src := &QueueSource{Queue: r.own, Wait: r.w.AudioWait(), Metrics: r.w.Metrics()}
	log := r.w.Logger()
	for {
		wait := playbackTick
		if conn := r.voice.Conn(); conn == nil {
			wait = playbackIdle
		} else if !conn.IsPlaying() {
			switch err := conn.Play(ctx, src); {
			case err == nil:
				log.Debug("relay: playback started", "channel_id", conn.ChannelID())
			case errors.Is(err, audio.ErrAlreadyPlaying):
			default:
				log.Error("relay: failed to start playback", "err", err)
				wait = playbackBackoff
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
