package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"
	"stagecast/internal/infrastructure/compositor"
	"stagecast/pkg/retry"

	"go.uber.org/zap"
)

// SessionConfig carries the per-destination reconnection and health policy.
type SessionConfig struct {
	Backoff            retry.Config
	HealthInterval     time.Duration
	DegradedLossRatio  float64
	MinBitrateKbps     int
	NegotiationTimeout time.Duration
	FrameDuration      time.Duration
}

// validTransitions is the destination connection state machine. A session may
// never jump states (no idle -> connected); terminated is terminal.
var validTransitions = map[domain.ConnectionState][]domain.ConnectionState{
	domain.ConnIdle:         {domain.ConnConnecting, domain.ConnTerminated},
	domain.ConnConnecting:   {domain.ConnConnected, domain.ConnDisconnected, domain.ConnTerminated},
	domain.ConnConnected:    {domain.ConnDegraded, domain.ConnDisconnected, domain.ConnTerminated},
	domain.ConnDegraded:     {domain.ConnConnected, domain.ConnDisconnected, domain.ConnTerminated},
	domain.ConnDisconnected: {domain.ConnConnecting, domain.ConnTerminated},
	domain.ConnTerminated:   {},
}

func canTransition(from, to domain.ConnectionState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// destinationSession drives one independent publishing connection. A failure
// or reconnect cycle here never blocks the other sessions.
type destinationSession struct {
	dest       domain.Destination
	negotiator ports.Negotiator
	output     *compositor.CompositeOutput
	cfg        SessionConfig
	metrics    SessionMetrics

	mu           sync.RWMutex
	state        domain.ConnectionState
	retries      int
	lastHealth   domain.HealthSample
	lastErr      string
	connectedAt  time.Time
	terminatedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	logger *zap.SugaredLogger
}

// SessionMetrics receives state and attempt observations. Optional.
type SessionMetrics interface {
	RecordDestinationState(id domain.DestinationID, state domain.ConnectionState)
	RecordReconnectAttempt(id domain.DestinationID)
	RecordNegotiation(d time.Duration)
}

func newDestinationSession(
	dest domain.Destination,
	negotiator ports.Negotiator,
	output *compositor.CompositeOutput,
	cfg SessionConfig,
	metrics SessionMetrics,
	logger *zap.SugaredLogger,
) *destinationSession {
	return &destinationSession{
		dest:       dest,
		negotiator: negotiator,
		output:     output,
		cfg:        cfg,
		metrics:    metrics,
		state:      domain.ConnIdle,
		done:       make(chan struct{}),
		logger:     logger.With("destination_id", dest.ID, "platform", dest.Platform),
	}
}

func (s *destinationSession) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx)
}

// stop terminates the session from any state and cancels in-flight
// negotiation immediately.
func (s *destinationSession) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *destinationSession) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(domain.ConnTerminated)

	for {
		session, err := s.connect(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			// Retries exhausted: surface a destination-scoped failure rather
			// than retrying silently forever.
			s.setError(fmt.Errorf("%w: %v", domain.ErrDestinationExhausted, err))
			s.logger.Errorw("destination retries exhausted", "error", err, "attempts", s.retryCount())
			return
		}

		done := s.publish(ctx, session)
		if done {
			return
		}
		// Connection dropped mid-publish: fall through into a fresh
		// connect cycle with the backoff counter reset.
		s.resetRetries()
	}
}

// connect walks idle/disconnected -> connecting -> connected with bounded
// exponential backoff between attempts.
func (s *destinationSession) connect(ctx context.Context) (ports.PublishSession, error) {
	var session ports.PublishSession

	err := retry.Notify(ctx, s.cfg.Backoff, func() error {
		s.setState(domain.ConnConnecting)
		s.incRetries()
		if s.metrics != nil {
			s.metrics.RecordReconnectAttempt(s.dest.ID)
		}

		negCtx, cancel := context.WithTimeout(ctx, s.cfg.NegotiationTimeout)
		defer cancel()

		negotiationStart := time.Now()
		negotiated, err := s.negotiator.Negotiate(negCtx, s.dest)
		if err != nil {
			s.setState(domain.ConnDisconnected)
			s.setError(fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err))
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordNegotiation(time.Since(negotiationStart))
		}

		session = negotiated
		return nil
	}, func(attempt int, next time.Duration) {
		s.logger.Warnw("ingest negotiation failed, retrying",
			"attempt", attempt+1,
			"next_delay", next,
		)
	})
	if err != nil {
		return nil, err
	}

	s.setState(domain.ConnConnected)
	s.mu.Lock()
	s.connectedAt = time.Now()
	s.lastErr = ""
	s.mu.Unlock()
	s.logger.Infow("destination connected")
	return session, nil
}

// publish pumps composite samples into the negotiated session while the
// health monitor watches for degradation. Returns true when the session is
// finished for good (context cancelled), false when the connection dropped
// and a reconnect cycle should begin.
func (s *destinationSession) publish(ctx context.Context, session ports.PublishSession) (finished bool) {
	defer session.Close()

	frames, cancelFrames := s.output.SubscribeVideo(2)
	defer cancelFrames()
	audio, cancelAudio := s.output.SubscribeAudio(4)
	defer cancelAudio()

	healthTicker := time.NewTicker(s.cfg.HealthInterval)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true

		case frame, ok := <-frames:
			if !ok {
				return true
			}
			sample := domain.StreamSample{
				Data:     frame.Pix,
				Duration: s.cfg.FrameDuration,
				IsVideo:  true,
			}
			if err := session.WriteSample(sample); err != nil {
				s.onWriteError(err)
				return false
			}

		case chunk, ok := <-audio:
			if !ok {
				return true
			}
			sample := domain.StreamSample{
				Data:     encodePCM(chunk),
				Duration: chunkDuration(chunk),
				IsVideo:  false,
			}
			if err := session.WriteSample(sample); err != nil {
				s.onWriteError(err)
				return false
			}

		case <-healthTicker.C:
			sample, err := session.Health()
			if err != nil {
				s.onWriteError(err)
				return false
			}
			s.observeHealth(sample)
		}
	}
}

func (s *destinationSession) onWriteError(err error) {
	s.logger.Warnw("destination connection lost", "error", err)
	s.setError(err)
	s.setState(domain.ConnDisconnected)
}

// observeHealth flips connected <-> degraded on threshold crossings. Degraded
// sessions keep publishing; they are only flagged.
func (s *destinationSession) observeHealth(sample domain.HealthSample) {
	s.mu.Lock()
	s.lastHealth = sample
	state := s.state
	s.mu.Unlock()

	degraded := sample.PacketLoss > s.cfg.DegradedLossRatio ||
		(sample.BitrateKbps > 0 && sample.BitrateKbps < s.cfg.MinBitrateKbps)

	switch {
	case degraded && state == domain.ConnConnected:
		s.setState(domain.ConnDegraded)
		s.logger.Warnw("destination degraded",
			"packet_loss", sample.PacketLoss,
			"bitrate_kbps", sample.BitrateKbps,
		)
	case !degraded && state == domain.ConnDegraded:
		s.setState(domain.ConnConnected)
		s.logger.Infow("destination recovered")
	}
}

func (s *destinationSession) setState(to domain.ConnectionState) {
	s.mu.Lock()
	from := s.state
	if from == to || !canTransition(from, to) {
		s.mu.Unlock()
		return
	}
	s.state = to
	if to == domain.ConnTerminated {
		s.terminatedAt = time.Now()
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordDestinationState(s.dest.ID, to)
	}
	s.logger.Debugw("destination state changed", "from", from, "to", to)
}

func (s *destinationSession) setError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *destinationSession) incRetries() {
	s.mu.Lock()
	s.retries++
	s.mu.Unlock()
}

func (s *destinationSession) resetRetries() {
	s.mu.Lock()
	s.retries = 0
	s.mu.Unlock()
}

func (s *destinationSession) retryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retries
}

func (s *destinationSession) status() domain.DestinationStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.DestinationStatus{
		ID:           s.dest.ID,
		Platform:     s.dest.Platform,
		State:        s.state,
		RetryCount:   s.retries,
		LastHealth:   s.lastHealth,
		LastError:    s.lastErr,
		ConnectedAt:  s.connectedAt,
		TerminatedAt: s.terminatedAt,
	}
}

func encodePCM(chunk domain.AudioChunk) []byte {
	out := make([]byte, len(chunk.Samples)*2)
	for i, sample := range chunk.Samples {
		v := int16(sample * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func chunkDuration(chunk domain.AudioChunk) time.Duration {
	if chunk.SampleRate <= 0 || chunk.Channels <= 0 {
		return 20 * time.Millisecond
	}
	frames := len(chunk.Samples) / chunk.Channels
	return time.Duration(frames) * time.Second / time.Duration(chunk.SampleRate)
}
