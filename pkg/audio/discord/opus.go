package discord

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/starcommander/pkg/audio"
)

// maxOpusPacket bounds the encoder output.
const maxOpusPacket = 4000

// speakerDecoders keeps one Opus decoder per SSRC, since decoder state
// carries across a speaker's packets. It is owned by the receive loop.
type speakerDecoders map[uint32]*gopus.Decoder

// decode turns one packet from ssrc into an [audio.FrameSize] PCM frame.
func (d speakerDecoders) decode(ssrc uint32, packet []byte) ([]byte, error) {
	dec, ok := d[ssrc]
	if !ok {
		var err error
		if dec, err = gopus.NewDecoder(audio.SampleRate, audio.Channels); err != nil {
			return nil, fmt.Errorf("discord: opus decoder for ssrc %d: %w", ssrc, err)
		}
		d[ssrc] = dec
	}
	samples, err := dec.Decode(packet, audio.SamplesPerFrame, false)
	if err != nil {
		return nil, fmt.Errorf("discord: decode ssrc %d: %w", ssrc, err)
	}
	return samplesToPCM(samples), nil
}

// frameEncoder compresses outgoing PCM frames for one playback.
type frameEncoder struct{ *gopus.Encoder }

func newFrameEncoder() (frameEncoder, error) {
	enc, err := gopus.NewEncoder(audio.SampleRate, audio.Channels, gopus.Audio)
	if err != nil {
		return frameEncoder{}, fmt.Errorf("discord: opus encoder: %w", err)
	}
	return frameEncoder{enc}, nil
}

func (e frameEncoder) encode(frame []byte) ([]byte, error) {
	packet, err := e.Encode(pcmToSamples(frame), audio.SamplesPerFrame, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("discord: encode frame: %w", err)
	}
	return packet, nil
}

func pcmToSamples(frame []byte) []int16 {
	out := make([]int16, 0, len(frame)/2)
	for b := frame; len(b) >= 2; b = b[2:] {
		out = append(out, int16(binary.LittleEndian.Uint16(b)))
	}
	return out
}

func samplesToPCM(samples []int16) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}
