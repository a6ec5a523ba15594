package audio

import "time"

// Frame geometry for every PCM buffer that crosses a voice connection.
const (
	SampleRate    = 48000
	Channels      = 2
	FrameDuration = 20 * time.Millisecond

	// SamplesPerFrame is the number of samples per channel in one frame.
	SamplesPerFrame = SampleRate / 1000 * int(FrameDuration/time.Millisecond) // 960

	// FrameSize is the byte length of one interleaved 16-bit frame.
	FrameSize = SamplesPerFrame * Channels * 2 // 3840
)

// ValidFrame reports whether pcm is exactly one frame long.
func ValidFrame(pcm []byte) bool {
	return len(pcm) == FrameSize
}

// Silence returns a freshly allocated all-zero frame.
func Silence() []byte {
	return make([]byte, FrameSize)
}
