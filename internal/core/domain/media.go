package domain

import "time"

// SourceKind identifies what a media source captures.
type SourceKind string

const (
	SourceCamera SourceKind = "camera"
	SourceMic    SourceKind = "microphone"
	SourceScreen SourceKind = "screen"
)

// VideoFrame is one decoded frame from a source or the composite output.
// Pix is tightly packed RGBA, 4 bytes per pixel, row-major.
type VideoFrame struct {
	Width    int
	Height   int
	Pix      []byte
	Captured time.Time
}

// Clone returns a deep copy so consumers can hold frames across ticks.
func (f VideoFrame) Clone() VideoFrame {
	out := f
	out.Pix = make([]byte, len(f.Pix))
	copy(out.Pix, f.Pix)
	return out
}

// AudioChunk is a block of interleaved PCM samples from one source.
type AudioChunk struct {
	Samples    []float32
	SampleRate int
	Channels   int
	Captured   time.Time
}

// StreamSample is an encoded media sample handed to destination publishers.
type StreamSample struct {
	Data     []byte
	Duration time.Duration
	IsVideo  bool
}
