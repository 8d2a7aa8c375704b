package webrtc

import (
	"time"

	"stagecast/internal/core/domain"

	"github.com/pion/rtp"
)

// LinearPCMDecoder handles uncompressed L16 audio payloads and leaves video
// to an externally supplied codec. Compressed codec work is out of scope
// here; embedders provide their own TrackDecoder for VP8 or Opus tracks.
type LinearPCMDecoder struct {
	SampleRate int
	Channels   int
}

func NewLinearPCMDecoder(sampleRate, channels int) *LinearPCMDecoder {
	return &LinearPCMDecoder{SampleRate: sampleRate, Channels: channels}
}

func (d *LinearPCMDecoder) DecodeVideo(*rtp.Packet) (domain.VideoFrame, bool, error) {
	// No video codec configured; the slot renders its placeholder.
	return domain.VideoFrame{}, false, nil
}

// DecodeAudio converts big-endian 16-bit PCM to float32 samples.
func (d *LinearPCMDecoder) DecodeAudio(packet *rtp.Packet) (domain.AudioChunk, bool, error) {
	payload := packet.Payload
	if len(payload) < 2 {
		return domain.AudioChunk{}, false, nil
	}

	samples := make([]float32, len(payload)/2)
	for i := range samples {
		v := int16(payload[i*2])<<8 | int16(payload[i*2+1])
		samples[i] = float32(v) / 32768
	}

	return domain.AudioChunk{
		Samples:    samples,
		SampleRate: d.SampleRate,
		Channels:   d.Channels,
		Captured:   time.Now(),
	}, true, nil
}

var _ TrackDecoder = (*LinearPCMDecoder)(nil)
