package audio_test

import (
	"context"
	"testing"

	"github.com/MrWong99/starcommander/pkg/audio"
)

func TestFrameSize(t *testing.T) {
	t.Parallel()

	if audio.SamplesPerFrame != 960 {
		t.Errorf("SamplesPerFrame = %d, want 960", audio.SamplesPerFrame)
	}
	if audio.FrameSize != 3840 {
		t.Errorf("FrameSize = %d, want 3840", audio.FrameSize)
	}
}

func TestValidFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pcm  []byte
		want bool
	}{
		{name: "nil", pcm: nil, want: false},
		{name: "short", pcm: make([]byte, 100), want: false},
		{name: "one byte short", pcm: make([]byte, audio.FrameSize-1), want: false},
		{name: "exact", pcm: make([]byte, audio.FrameSize), want: true},
		{name: "long", pcm: make([]byte, audio.FrameSize+2), want: false},
		{name: "two frames", pcm: make([]byte, 2*audio.FrameSize), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.ValidFrame(tt.pcm); got != tt.want {
				t.Errorf("ValidFrame(len=%d) = %v, want %v", len(tt.pcm), got, tt.want)
			}
		})
	}
}

func TestSilence(t *testing.T) {
	t.Parallel()

	s := audio.Silence()
	if !audio.ValidFrame(s) {
		t.Fatalf("Silence length = %d, want %d", len(s), audio.FrameSize)
	}
	for i, b := range s {
		if b != 0 {
			t.Fatalf("Silence[%d] = %d, want 0", i, b)
		}
	}

	// Each call must return an independent buffer.
	s[0] = 1
	if audio.Silence()[0] != 0 {
		t.Error("Silence returned a shared buffer")
	}
}

func TestSourceFunc(t *testing.T) {
	t.Parallel()

	want := audio.Silence()
	var src audio.Source = audio.SourceFunc(func(context.Context) ([]byte, error) {
		return want, nil
	})
	got, err := src.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(got) != len(want) {
		t.Errorf("ReadFrame length = %d, want %d", len(got), len(want))
	}
}
