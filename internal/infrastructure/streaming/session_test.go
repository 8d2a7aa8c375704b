package streaming

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"
	"stagecast/internal/core/services"
	"stagecast/internal/infrastructure/compositor"
	"stagecast/internal/infrastructure/repositories/memory"
	"stagecast/pkg/retry"

	"go.uber.org/zap/zaptest"
)

type fakePublishSession struct {
	mu       sync.Mutex
	samples  []domain.StreamSample
	writeErr error
	health   domain.HealthSample
	closed   bool
}

func (f *fakePublishSession) WriteSample(sample domain.StreamSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.samples = append(f.samples, sample)
	return nil
}

func (f *fakePublishSession) Health() (domain.HealthSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health, nil
}

func (f *fakePublishSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePublishSession) sampleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

type fakeNegotiator struct {
	mu        sync.Mutex
	session   *fakePublishSession
	err       error
	failFirst int
	attempts  int
}

func (f *fakeNegotiator) Negotiate(ctx context.Context, dest domain.Destination) (ports.PublishSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil {
		return nil, f.err
	}
	if f.attempts <= f.failFirst {
		return nil, errors.New("connection refused")
	}
	return f.session, nil
}

func (f *fakeNegotiator) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		Backoff: retry.Config{
			Enabled:      true,
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
			Jitter:       false,
		},
		HealthInterval:     10 * time.Millisecond,
		DegradedLossRatio:  0.05,
		MinBitrateKbps:     200,
		NegotiationTimeout: time.Second,
		FrameDuration:      time.Second / 30,
	}
}

func waitForState(t *testing.T, s *destinationSession, want domain.ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.status().State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.status().State, want)
}

func TestCanTransition(t *testing.T) {
	valid := []struct{ from, to domain.ConnectionState }{
		{domain.ConnIdle, domain.ConnConnecting},
		{domain.ConnConnecting, domain.ConnConnected},
		{domain.ConnConnecting, domain.ConnDisconnected},
		{domain.ConnConnected, domain.ConnDegraded},
		{domain.ConnDegraded, domain.ConnConnected},
		{domain.ConnConnected, domain.ConnDisconnected},
		{domain.ConnDisconnected, domain.ConnConnecting},
		{domain.ConnDisconnected, domain.ConnTerminated},
		{domain.ConnConnecting, domain.ConnTerminated},
	}
	for _, tc := range valid {
		if !canTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	invalid := []struct{ from, to domain.ConnectionState }{
		{domain.ConnIdle, domain.ConnConnected},
		{domain.ConnIdle, domain.ConnDegraded},
		{domain.ConnConnecting, domain.ConnDegraded},
		{domain.ConnDisconnected, domain.ConnConnected},
		{domain.ConnTerminated, domain.ConnConnecting},
		{domain.ConnTerminated, domain.ConnConnected},
		{domain.ConnTerminated, domain.ConnIdle},
	}
	for _, tc := range invalid {
		if canTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s must be rejected", tc.from, tc.to)
		}
	}
}

func TestSetState_IgnoresInvalidJump(t *testing.T) {
	s := newDestinationSession(domain.Destination{ID: "d1"}, nil, compositor.NewCompositeOutput(), testSessionConfig(), nil, zaptest.NewLogger(t).Sugar())

	s.setState(domain.ConnConnected) // idle -> connected is a jump
	if got := s.status().State; got != domain.ConnIdle {
		t.Errorf("state = %s, invalid jump should leave idle", got)
	}

	s.setState(domain.ConnTerminated)
	s.setState(domain.ConnConnecting)
	if got := s.status().State; got != domain.ConnTerminated {
		t.Errorf("state = %s, terminated must be terminal", got)
	}
}

// renderSource feeds the composite output the way the live pipeline does.
func renderSource(t *testing.T) *compositor.Compositor {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	registry := services.NewRegistryService(
		memory.NewMemoryParticipantRepository(),
		discardSink{},
		services.RegistryConfig{MaxParticipants: 5, MaxOnStage: 5},
		logger,
	)
	return compositor.New(compositor.Config{FrameRate: 30, Width: 32, Height: 18, MasterGain: 1.0}, registry, emptySources{}, nil, logger)
}

type discardSink struct{}

func (discardSink) Broadcast(*domain.StudioEvent)   {}
func (discardSink) Disconnect(domain.ParticipantID) {}

type emptySources struct{}

func (emptySources) LatestFrame(domain.SourceID) (domain.VideoFrame, bool) {
	return domain.VideoFrame{}, false
}

func (emptySources) LatestAudio(domain.SourceID) (domain.AudioChunk, bool) {
	return domain.AudioChunk{}, false
}

func TestSession_ConnectAndPublish(t *testing.T) {
	comp := renderSource(t)
	publish := &fakePublishSession{}
	negotiator := &fakeNegotiator{session: publish}

	s := newDestinationSession(domain.Destination{ID: "d1", Platform: domain.PlatformWebRTC}, negotiator, comp.Output(), testSessionConfig(), nil, zaptest.NewLogger(t).Sugar())
	s.start(context.Background())

	waitForState(t, s, domain.ConnConnected)

	// Give the publish loop a moment to subscribe before producing.
	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 20 && publish.sampleCount() == 0; i++ {
		comp.RenderFrame(context.Background())
		time.Sleep(10 * time.Millisecond)
	}
	if publish.sampleCount() == 0 {
		t.Error("expected rendered frames to reach the session")
	}

	s.stop()
	if got := s.status().State; got != domain.ConnTerminated {
		t.Errorf("state after stop = %s, want terminated", got)
	}
}

type recordingMetrics struct {
	mu           sync.Mutex
	negotiations int
}

func (m *recordingMetrics) RecordDestinationState(domain.DestinationID, domain.ConnectionState) {}
func (m *recordingMetrics) RecordReconnectAttempt(domain.DestinationID)                         {}

func (m *recordingMetrics) RecordNegotiation(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.negotiations++
}

func (m *recordingMetrics) negotiationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.negotiations
}

func TestSession_ConnectsAfterTransientFailures(t *testing.T) {
	publish := &fakePublishSession{}
	negotiator := &fakeNegotiator{session: publish, failFirst: 2}
	metrics := &recordingMetrics{}

	s := newDestinationSession(domain.Destination{ID: "d1", Platform: domain.PlatformWebRTC}, negotiator, compositor.NewCompositeOutput(), testSessionConfig(), metrics, zaptest.NewLogger(t).Sugar())
	s.start(context.Background())
	defer s.stop()

	// Two refused attempts, then the third negotiation succeeds.
	waitForState(t, s, domain.ConnConnected)
	if negotiator.attemptCount() != 3 {
		t.Errorf("negotiation attempts = %d, want 3", negotiator.attemptCount())
	}
	if s.status().LastError != "" {
		t.Errorf("last error = %q, want cleared after recovery", s.status().LastError)
	}
	// Only the successful negotiation is timed.
	if metrics.negotiationCount() != 1 {
		t.Errorf("negotiations recorded = %d, want 1", metrics.negotiationCount())
	}
}

func TestSession_RetryExhaustion(t *testing.T) {
	negotiator := &fakeNegotiator{err: errors.New("connection refused")}
	s := newDestinationSession(domain.Destination{ID: "d1"}, negotiator, compositor.NewCompositeOutput(), testSessionConfig(), nil, zaptest.NewLogger(t).Sugar())

	s.start(context.Background())
	waitForState(t, s, domain.ConnTerminated)

	status := s.status()
	if !strings.Contains(status.LastError, domain.ErrDestinationExhausted.Error()) {
		t.Errorf("last error = %q, want retry exhaustion", status.LastError)
	}
	// Initial attempt plus MaxAttempts retries.
	if negotiator.attemptCount() != 3 {
		t.Errorf("negotiation attempts = %d, want 3", negotiator.attemptCount())
	}
	<-s.done
}

func TestSession_StopCancelsRetryLoop(t *testing.T) {
	cfg := testSessionConfig()
	cfg.Backoff.MaxAttempts = 1000
	cfg.Backoff.InitialDelay = 50 * time.Millisecond

	negotiator := &fakeNegotiator{err: errors.New("unreachable")}
	s := newDestinationSession(domain.Destination{ID: "d1"}, negotiator, compositor.NewCompositeOutput(), cfg, nil, zaptest.NewLogger(t).Sugar())

	s.start(context.Background())
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not interrupt the retry loop")
	}
	if got := s.status().State; got != domain.ConnTerminated {
		t.Errorf("state = %s, want terminated", got)
	}
}

func TestObserveHealth_DegradedAndRecovery(t *testing.T) {
	s := newDestinationSession(domain.Destination{ID: "d1"}, nil, compositor.NewCompositeOutput(), testSessionConfig(), nil, zaptest.NewLogger(t).Sugar())
	s.setState(domain.ConnConnecting)
	s.setState(domain.ConnConnected)

	s.observeHealth(domain.HealthSample{PacketLoss: 0.10, BitrateKbps: 2500})
	if got := s.status().State; got != domain.ConnDegraded {
		t.Errorf("state = %s, want degraded on packet loss", got)
	}

	s.observeHealth(domain.HealthSample{PacketLoss: 0.01, BitrateKbps: 2500})
	if got := s.status().State; got != domain.ConnConnected {
		t.Errorf("state = %s, want recovery to connected", got)
	}

	s.observeHealth(domain.HealthSample{PacketLoss: 0.0, BitrateKbps: 100})
	if got := s.status().State; got != domain.ConnDegraded {
		t.Errorf("state = %s, want degraded on low bitrate", got)
	}
}

func TestEncodePCM(t *testing.T) {
	chunk := domain.AudioChunk{Samples: []float32{0, 1, -1}}
	out := encodePCM(chunk)

	if len(out) != 6 {
		t.Fatalf("encoded length = %d, want 6", len(out))
	}
	if out[0] != 0 || out[1] != 0 {
		t.Errorf("zero sample encoded as %x %x", out[0], out[1])
	}
	if v := int16(out[2]) | int16(out[3])<<8; v != 32767 {
		t.Errorf("full scale sample = %d, want 32767", v)
	}
}

func TestChunkDuration(t *testing.T) {
	chunk := domain.AudioChunk{
		Samples:    make([]float32, 960*2), // 20ms stereo at 48k
		SampleRate: 48000,
		Channels:   2,
	}
	if d := chunkDuration(chunk); d != 20*time.Millisecond {
		t.Errorf("duration = %v, want 20ms", d)
	}

	if d := chunkDuration(domain.AudioChunk{Samples: []float32{0}}); d != 20*time.Millisecond {
		t.Errorf("fallback duration = %v, want 20ms", d)
	}
}
