package compositor

import (
	"sync"

	"stagecast/internal/core/domain"
)

// CompositeOutput fans the rendered frame stream and mixed audio out to
// read-only consumers (destination streaming, local preview, recording).
// Only the compositor writes to it. Slow consumers drop frames rather than
// stall the render loop.
type CompositeOutput struct {
	mu        sync.Mutex
	nextID    int
	videoSubs map[int]chan domain.VideoFrame
	audioSubs map[int]chan domain.AudioChunk
	closed    bool
}

func NewCompositeOutput() *CompositeOutput {
	return &CompositeOutput{
		videoSubs: make(map[int]chan domain.VideoFrame),
		audioSubs: make(map[int]chan domain.AudioChunk),
	}
}

// SubscribeVideo returns a read-only frame channel and a cancel function.
func (o *CompositeOutput) SubscribeVideo(buffer int) (<-chan domain.VideoFrame, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextID
	o.nextID++
	ch := make(chan domain.VideoFrame, buffer)
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	o.videoSubs[id] = ch

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if sub, ok := o.videoSubs[id]; ok {
			delete(o.videoSubs, id)
			close(sub)
		}
	}
}

// SubscribeAudio returns a read-only audio channel and a cancel function.
func (o *CompositeOutput) SubscribeAudio(buffer int) (<-chan domain.AudioChunk, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextID
	o.nextID++
	ch := make(chan domain.AudioChunk, buffer)
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	o.audioSubs[id] = ch

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if sub, ok := o.audioSubs[id]; ok {
			delete(o.audioSubs, id)
			close(sub)
		}
	}
}

func (o *CompositeOutput) publishVideo(frame domain.VideoFrame) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.videoSubs {
		select {
		case ch <- frame:
		default: // consumer is behind, drop
		}
	}
}

func (o *CompositeOutput) publishAudio(chunk domain.AudioChunk) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.audioSubs {
		select {
		case ch <- chunk:
		default:
		}
	}
}

// reopen arms the output for a new broadcast after a Close. Consumers that
// held channels from the previous broadcast stay closed; they resubscribe.
func (o *CompositeOutput) reopen() {
	o.mu.Lock()
	o.closed = false
	o.mu.Unlock()
}

// Close terminates every subscription. The composite output exists only while
// the broadcast is live or an explicit preview render is running.
func (o *CompositeOutput) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	for id, ch := range o.videoSubs {
		delete(o.videoSubs, id)
		close(ch)
	}
	for id, ch := range o.audioSubs {
		delete(o.audioSubs, id)
		close(ch)
	}
}
