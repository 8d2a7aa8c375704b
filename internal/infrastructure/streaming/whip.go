package streaming

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

const (
	audioPayloadType = 111
	audioClockRate   = 48000
)

// WHIPNegotiator establishes peer-based ingest sessions via an HTTP
// offer/answer exchange. The destination's CredentialRef is sent as a bearer
// token on the exchange.
type WHIPNegotiator struct {
	iceServers []string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

func NewWHIPNegotiator(iceServers []string, logger *zap.SugaredLogger) *WHIPNegotiator {
	return &WHIPNegotiator{
		iceServers: iceServers,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (n *WHIPNegotiator) Negotiate(ctx context.Context, dest domain.Destination) (ports.PublishSession, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: n.iceServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	session, err := n.setupSession(ctx, pc, dest)
	if err != nil {
		pc.Close()
		return nil, err
	}
	return session, nil
}

func (n *WHIPNegotiator) setupSession(ctx context.Context, pc *webrtc.PeerConnection, dest domain.Destination) (*whipSession, error) {
	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "stagecast",
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	videoSender, err := pc.AddTrack(videoTrack)
	if err != nil {
		return nil, fmt.Errorf("add video track: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "stagecast",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	if _, err := pc.AddTrack(audioTrack); err != nil {
		return nil, fmt.Errorf("add audio track: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	answer, resourceURL, err := n.exchange(ctx, dest, pc.LocalDescription().SDP)
	if err != nil {
		return nil, err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	session := &whipSession{
		pc:          pc,
		videoTrack:  videoTrack,
		audioTrack:  audioTrack,
		resourceURL: resourceURL,
		httpClient:  n.httpClient,
		closed:      make(chan struct{}),
		logger:      n.logger.With("destination_id", dest.ID),
	}
	go session.readRTCP(videoSender)
	return session, nil
}

// exchange posts the local SDP offer and returns the answer plus the session
// resource URL used for teardown.
func (n *WHIPNegotiator) exchange(ctx context.Context, dest domain.Destination, offerSDP string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.IngestURL, bytes.NewBufferString(offerSDP))
	if err != nil {
		return "", "", fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	if dest.CredentialRef != "" {
		req.Header.Set("Authorization", "Bearer "+dest.CredentialRef)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("ingest exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("ingest endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read answer: %w", err)
	}

	resourceURL := resp.Header.Get("Location")
	if resourceURL != "" {
		if resolved, err := resp.Request.URL.Parse(resourceURL); err == nil {
			resourceURL = resolved.String()
		}
	}
	return string(body), resourceURL, nil
}

// whipSession publishes composite samples over a negotiated peer connection
// and tracks link health from receiver reports.
type whipSession struct {
	pc          *webrtc.PeerConnection
	videoTrack  *webrtc.TrackLocalStaticSample
	audioTrack  *webrtc.TrackLocalStaticRTP
	resourceURL string
	httpClient  *http.Client
	logger      *zap.SugaredLogger

	audioSeq       uint16
	audioTimestamp uint32

	mu           sync.Mutex
	bytesSent    int
	lastHealthAt time.Time
	packetLoss   float64
	rtt          time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *whipSession) WriteSample(sample domain.StreamSample) error {
	select {
	case <-s.closed:
		return fmt.Errorf("session closed")
	default:
	}

	var err error
	if sample.IsVideo {
		err = s.videoTrack.WriteSample(media.Sample{
			Data:     sample.Data,
			Duration: sample.Duration,
		})
	} else {
		err = s.writeAudio(sample)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.bytesSent += len(sample.Data)
	s.mu.Unlock()
	return nil
}

// writeAudio packetizes one chunk into a single RTP packet. The static track
// handles SSRC rewriting.
func (s *whipSession) writeAudio(sample domain.StreamSample) error {
	s.audioSeq++
	s.audioTimestamp += uint32(sample.Duration.Seconds() * audioClockRate)

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    audioPayloadType,
			SequenceNumber: s.audioSeq,
			Timestamp:      s.audioTimestamp,
		},
		Payload: sample.Data,
	}
	return s.audioTrack.WriteRTP(packet)
}

// readRTCP consumes receiver reports for loss and delay figures until the
// session closes.
func (s *whipSession) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-s.closed:
			return
		default:
		}

		count, _, err := sender.Read(buf)
		if err != nil {
			return
		}

		packets, err := rtcp.Unmarshal(buf[:count])
		if err != nil {
			continue
		}
		for _, packet := range packets {
			report, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, rep := range report.Reports {
				s.mu.Lock()
				s.packetLoss = float64(rep.FractionLost) / 256
				if rep.Delay > 0 {
					// DLSR is in 1/65536 second units.
					s.rtt = time.Duration(rep.Delay) * time.Second / 65536
				}
				s.mu.Unlock()
			}
		}
	}
}

func (s *whipSession) Health() (domain.HealthSample, error) {
	state := s.pc.ConnectionState()
	if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
		return domain.HealthSample{}, fmt.Errorf("peer connection %s", state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	sample := domain.HealthSample{
		PacketLoss: s.packetLoss,
		RTT:        s.rtt,
		SampledAt:  now,
	}
	if !s.lastHealthAt.IsZero() {
		elapsed := now.Sub(s.lastHealthAt)
		if elapsed < time.Second {
			elapsed = time.Second
		}
		sample.BitrateKbps = s.bytesSent * 8 / 1000 / int(elapsed.Seconds())
	}
	s.bytesSent = 0
	s.lastHealthAt = now
	return sample, nil
}

// Close tears down the peer connection and best-effort deletes the remote
// session resource.
func (s *whipSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.resourceURL != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if req, reqErr := http.NewRequestWithContext(ctx, http.MethodDelete, s.resourceURL, nil); reqErr == nil {
				if resp, doErr := s.httpClient.Do(req); doErr == nil {
					resp.Body.Close()
				}
			}
		}
		err = s.pc.Close()
	})
	return err
}

var _ ports.Negotiator = (*WHIPNegotiator)(nil)
