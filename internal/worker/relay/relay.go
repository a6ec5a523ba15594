// Package relay implements the relay worker kind. A relay worker joins one
// voice channel, forwards what allow-listed speakers say to the audio
// channels of its target workers, and plays whatever arrives on its own
// audio channel.
//
// Frames are 20 ms of 48 kHz 16-bit stereo PCM ([audio.FrameSize] bytes).
// Frames of any other length are dropped on capture and replaced by silence
// on playback.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/starcommander/internal/bus"
	"github.com/MrWong99/starcommander/internal/discord"
	"github.com/MrWong99/starcommander/internal/worker"
)

// Kind is the worker kind name.
const Kind = "relay"

// Errors reported by relay commands.
var (
	ErrNotConnected    = errors.New("relay: not connected to a voice channel")
	ErrNoAudioChannel  = errors.New("relay: target has no audio channel")
	ErrNotVoiceChannel = errors.New("relay: not a voice channel")
)

// Requirements are the guild permissions checked on ready.
var Requirements = []discord.Requirement{
	{Name: "view_channel", Required: true},
	{Name: "connect", Required: true},
	{Name: "speak", Required: true},
}

// Command names.
const (
	CommandConnectVoice      = "connect_voice"
	CommandDisconnectVoice   = "disconnect_voice"
	CommandStartListening    = "start_listening"
	CommandAddListenUser     = "add_listen_user"
	CommandRemoveListenUser  = "remove_listen_user"
	CommandAddListenRole     = "add_listen_role"
	CommandRemoveListenRole  = "remove_listen_role"
	CommandAddAudioTarget    = "add_audio_target"
	CommandRemoveAudioTarget = "remove_audio_target"
	CommandClearAudioTargets = "clear_audio_targets"
)

// Relay holds the voice, capture and playback state of a relay worker.
type Relay struct {
	w       *worker.Worker
	voice   *Voice
	filter  *ListenFilter
	targets *Targets
	capture *Capture

	// own is the worker's audio channel, created on ready.
	own bus.Queue[bus.AudioFrame]

	loopOnce sync.Once
	loopCtx  context.Context
	stopLoop context.CancelFunc
	loopDone chan struct{}
}

// New creates a relay worker.
func New(id string, deps worker.Deps) *worker.Worker {
	w := worker.New(id, Kind, deps)
	Attach(w)
	return w
}

// Attach registers the relay commands, permission requirements and
// lifecycle hooks on w.
func Attach(w *worker.Worker) *Relay {
	r := &Relay{
		w:        w,
		voice:    &Voice{},
		filter:   NewListenFilter(),
		targets:  NewTargets(),
		loopDone: make(chan struct{}),
	}
	r.capture = NewCapture(r.filter, r.targets, w.Metrics(), w.Logger())
	r.capture.SetResolver(func(ctx context.Context, id string) (bus.Queue[bus.AudioFrame], bool, error) {
		return w.Bus().LookupAudio(ctx, id)
	})
	w.Require(Requirements...)

	w.Handle(CommandConnectVoice, r.connectVoice)
	w.Handle(CommandDisconnectVoice, r.disconnectVoice)
	w.Handle(CommandStartListening, r.startListening)
	w.Handle(CommandAddListenUser, r.addListenUser)
	w.Handle(CommandRemoveListenUser, r.removeListenUser)
	w.Handle(CommandAddListenRole, r.addListenRole)
	w.Handle(CommandRemoveListenRole, r.removeListenRole)
	w.Handle(CommandAddAudioTarget, r.addAudioTarget)
	w.Handle(CommandRemoveAudioTarget, r.removeAudioTarget)
	w.Handle(CommandClearAudioTargets, r.clearAudioTargets)

	w.OnReady(r.ready)
	w.OnShutdown(r.shutdown)
	return r
}

// Voice returns the voice connection state.
func (r *Relay) Voice() *Voice { return r.voice }

// Filter returns the listen filter.
func (r *Relay) Filter() *ListenFilter { return r.filter }

// Targets returns the audio target map.
func (r *Relay) Targets() *Targets { return r.targets }

func (r *Relay) ready(ctx context.Context) error {
	q, err := r.w.Bus().Audio(ctx, r.w.ID())
	if err != nil {
		return fmt.Errorf("relay: create audio channel: %w", err)
	}
	r.own = q
	r.loopCtx, r.stopLoop = context.WithCancel(context.WithoutCancel(ctx))
	r.capture.Start(r.loopCtx)
	return nil
}

// shutdown leaves the voice channel, stops playback and removes the
// worker's audio channel.
func (r *Relay) shutdown(ctx context.Context) error {
	var errs []error
	if conn := r.voice.Clear(); conn != nil {
		if err := conn.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("relay: disconnect voice: %w", err))
		}
	}
	if r.stopLoop != nil {
		r.stopLoop()
		r.capture.Wait()
		// Closing here keeps a later connect from starting the loop.
		r.loopOnce.Do(func() { close(r.loopDone) })
		<-r.loopDone
	}
	if err := r.w.Bus().RemoveAudio(ctx, r.w.ID()); err != nil {
		errs = append(errs, fmt.Errorf("relay: remove audio channel: %w", err))
	}
	return errors.Join(errs...)
}
