package webrtc

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"
	"stagecast/internal/infrastructure/media"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config carries the peer connection settings for participant ingest.
type Config struct {
	ICEServers []webrtc.ICEServer
}

// TrackDecoder turns incoming RTP payloads into raw frames and PCM chunks.
// Codec work is supplied by the embedder; ok is false while a frame is still
// accumulating.
type TrackDecoder interface {
	DecodeVideo(packet *rtp.Packet) (frame domain.VideoFrame, ok bool, err error)
	DecodeAudio(packet *rtp.Packet) (chunk domain.AudioChunk, ok bool, err error)
}

// IngestService terminates the publishing peer connection of each participant
// and feeds the received tracks into the acquisition layer as sources.
type IngestService struct {
	config      Config
	registry    ports.RegistryService
	acquisition *media.Acquisition
	decoders    func() TrackDecoder

	sessions map[domain.ParticipantID]*ingestSession
	mu       sync.RWMutex

	logger *zap.SugaredLogger
}

type ingestSession struct {
	participantID domain.ParticipantID
	pc            *webrtc.PeerConnection
	sources       []*media.Source
	sourceIDs     []domain.SourceID
	createdAt     time.Time
	mu            sync.Mutex
}

func NewIngestService(config Config, registry ports.RegistryService, acquisition *media.Acquisition, decoders func() TrackDecoder, logger *zap.SugaredLogger) *IngestService {
	return &IngestService{
		config:      config,
		registry:    registry,
		acquisition: acquisition,
		decoders:    decoders,
		sessions:    make(map[domain.ParticipantID]*ingestSession),
		logger:      logger,
	}
}

// HandleOffer answers a participant's publish offer. Each incoming track is
// acquired as a source and bound to the participant, entering the compositor's
// pool once the participant goes live.
func (s *IngestService) HandleOffer(ctx context.Context, participantID domain.ParticipantID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if _, err := s.registry.Snapshot(ctx); err != nil {
		return webrtc.SessionDescription{}, err
	}

	pc, err := s.createPeerConnection()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create peer connection: %w", err)
	}

	session := &ingestSession{
		participantID: participantID,
		pc:            pc,
		createdAt:     time.Now(),
	}

	pc.OnTrack(s.handleTrack(session))
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debugw("ingest connection state changed",
			"participant_id", participantID,
			"state", state,
		)
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			s.Close(participantID)
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		pc.Close()
		return webrtc.SessionDescription{}, ctx.Err()
	}

	// A renegotiating participant replaces its previous session.
	s.mu.Lock()
	old := s.sessions[participantID]
	s.sessions[participantID] = session
	s.mu.Unlock()
	if old != nil {
		s.closeSession(old)
	}

	s.logger.Infow("ingest session established", "participant_id", participantID)
	return *pc.LocalDescription(), nil
}

func (s *IngestService) createPeerConnection() (*webrtc.PeerConnection, error) {
	return webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: s.config.ICEServers,
	})
}

func (s *IngestService) handleTrack(session *ingestSession) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		kind := domain.SourceMic
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = domain.SourceCamera
		}

		source, err := s.acquisition.Acquire(kind, nil)
		if err != nil {
			s.logger.Errorw("failed to acquire source for track",
				"participant_id", session.participantID,
				"kind", kind,
				"error", err,
			)
			return
		}

		session.mu.Lock()
		session.sources = append(session.sources, source)
		session.sourceIDs = append(session.sourceIDs, source.ID)
		session.mu.Unlock()

		// The video source is the one the compositor draws from.
		if kind == domain.SourceCamera {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.registry.BindSource(ctx, session.participantID, source.ID); err != nil {
				s.logger.Warnw("failed to bind source",
					"participant_id", session.participantID,
					"source_id", source.ID,
					"error", err,
				)
			}
			cancel()

			go s.sendPLI(session.pc, track)
		}

		go s.readTrack(session, track, source, kind)
	}
}

// readTrack pumps one remote track into its source until the track ends.
func (s *IngestService) readTrack(session *ingestSession, track *webrtc.TrackRemote, source *media.Source, kind domain.SourceKind) {
	decoder := s.decoders()

	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			if err != io.EOF {
				s.logger.Infow("track read ended",
					"participant_id", session.participantID,
					"kind", kind,
					"error", err,
				)
			}
			source.Fail()
			return
		}

		if kind == domain.SourceCamera {
			frame, ok, err := decoder.DecodeVideo(packet)
			if err != nil {
				source.Fail()
				return
			}
			if ok {
				source.PushFrame(frame)
			}
		} else {
			chunk, ok, err := decoder.DecodeAudio(packet)
			if err != nil {
				source.Fail()
				return
			}
			if ok {
				source.PushAudio(chunk)
			}
		}
	}
}

// sendPLI periodically requests keyframes so a new or recovered consumer
// converges on a decodable picture.
func (s *IngestService) sendPLI(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		err := pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		})
		if err != nil {
			return
		}
	}
}

// Close tears down a participant's ingest session and releases its sources.
func (s *IngestService) Close(participantID domain.ParticipantID) {
	s.mu.Lock()
	session, ok := s.sessions[participantID]
	if ok {
		delete(s.sessions, participantID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	s.closeSession(session)
	s.logger.Infow("ingest session closed", "participant_id", participantID)
}

func (s *IngestService) closeSession(session *ingestSession) {
	session.pc.Close()

	session.mu.Lock()
	ids := session.sourceIDs
	session.sourceIDs = nil
	session.sources = nil
	session.mu.Unlock()

	for _, id := range ids {
		if err := s.acquisition.Release(id); err != nil {
			s.logger.Warnw("failed to release source", "source_id", id, "error", err)
		}
	}
}

// CloseAll tears down every ingest session.
func (s *IngestService) CloseAll() {
	s.mu.Lock()
	sessions := make([]*ingestSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessions = make(map[domain.ParticipantID]*ingestSession)
	s.mu.Unlock()

	for _, session := range sessions {
		s.closeSession(session)
	}
}
