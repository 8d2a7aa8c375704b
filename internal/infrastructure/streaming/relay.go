package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"

	"go.uber.org/zap"
)

// RelayNegotiator hands destinations that only speak a legacy push protocol
// off to a relay service. The browser-unfriendly push leg terminates at the
// relay; we publish to it over chunked HTTP.
type RelayNegotiator struct {
	controlURL string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

func NewRelayNegotiator(controlURL string, logger *zap.SugaredLogger) *RelayNegotiator {
	return &RelayNegotiator{
		controlURL: controlURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

type relayOpenRequest struct {
	IngestURL     string `json:"ingest_url"`
	CredentialRef string `json:"credential_ref"`
	Label         string `json:"label,omitempty"`
}

type relayOpenResponse struct {
	SessionID  string `json:"session_id"`
	PublishURL string `json:"publish_url"`
	StatusURL  string `json:"status_url"`
}

type relayStatusResponse struct {
	BitrateKbps int     `json:"bitrate_kbps"`
	RTTMillis   int     `json:"rtt_ms"`
	PacketLoss  float64 `json:"packet_loss"`
	Healthy     bool    `json:"healthy"`
}

func (n *RelayNegotiator) Negotiate(ctx context.Context, dest domain.Destination) (ports.PublishSession, error) {
	payload, err := json.Marshal(relayOpenRequest{
		IngestURL:     dest.IngestURL,
		CredentialRef: dest.CredentialRef,
		Label:         dest.Label,
	})
	if err != nil {
		return nil, fmt.Errorf("encode relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.controlURL+"/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay hand-off: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("relay returned %d", resp.StatusCode)
	}

	var opened relayOpenResponse
	if err := json.NewDecoder(resp.Body).Decode(&opened); err != nil {
		return nil, fmt.Errorf("decode relay response: %w", err)
	}
	if opened.PublishURL == "" {
		return nil, fmt.Errorf("relay response missing publish URL")
	}

	session := newRelaySession(opened, n.controlURL, n.httpClient, n.logger.With(
		"destination_id", dest.ID,
		"relay_session", opened.SessionID,
	))
	if err := session.startPublish(); err != nil {
		return nil, err
	}
	return session, nil
}

// relaySession streams length-prefixed samples to the relay over one
// long-lived chunked POST.
type relaySession struct {
	info       relayOpenResponse
	controlURL string
	httpClient *http.Client
	logger     *zap.SugaredLogger

	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter

	mu        sync.Mutex
	writeErr  error
	closeOnce sync.Once
}

func newRelaySession(info relayOpenResponse, controlURL string, client *http.Client, logger *zap.SugaredLogger) *relaySession {
	return &relaySession{
		info:       info,
		controlURL: controlURL,
		httpClient: client,
		logger:     logger,
	}
}

func (s *relaySession) startPublish() error {
	s.pipeReader, s.pipeWriter = io.Pipe()

	req, err := http.NewRequest(http.MethodPost, s.info.PublishURL, s.pipeReader)
	if err != nil {
		s.pipeWriter.Close()
		return fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	go func() {
		// The request body streams until the pipe closes; Timeout on the
		// negotiation client would kill it, so use a dedicated client.
		client := &http.Client{}
		resp, err := client.Do(req)
		if err != nil {
			s.failPublish(err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			s.failPublish(fmt.Errorf("relay publish ended with %d", resp.StatusCode))
		}
	}()
	return nil
}

// failPublish records the error and unblocks any writer stuck on the pipe.
func (s *relaySession) failPublish(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
	s.pipeReader.CloseWithError(err)
}

// WriteSample frames each sample as [1 byte kind][4 byte big-endian length]
// followed by the payload.
func (s *relaySession) WriteSample(sample domain.StreamSample) error {
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	header := make([]byte, 5)
	if sample.IsVideo {
		header[0] = 'V'
	} else {
		header[0] = 'A'
	}
	size := len(sample.Data)
	header[1] = byte(size >> 24)
	header[2] = byte(size >> 16)
	header[3] = byte(size >> 8)
	header[4] = byte(size)

	if _, err := s.pipeWriter.Write(header); err != nil {
		return err
	}
	_, err := s.pipeWriter.Write(sample.Data)
	return err
}

func (s *relaySession) Health() (domain.HealthSample, error) {
	if s.info.StatusURL == "" {
		return domain.HealthSample{SampledAt: time.Now()}, nil
	}

	resp, err := s.httpClient.Get(s.info.StatusURL)
	if err != nil {
		return domain.HealthSample{}, fmt.Errorf("relay status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.HealthSample{}, fmt.Errorf("relay status returned %d", resp.StatusCode)
	}

	var status relayStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return domain.HealthSample{}, fmt.Errorf("decode relay status: %w", err)
	}
	if !status.Healthy {
		return domain.HealthSample{}, fmt.Errorf("relay reports unhealthy push leg")
	}

	return domain.HealthSample{
		BitrateKbps: status.BitrateKbps,
		RTT:         time.Duration(status.RTTMillis) * time.Millisecond,
		PacketLoss:  status.PacketLoss,
		SampledAt:   time.Now(),
	}, nil
}

func (s *relaySession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.pipeWriter.Close()

		if s.info.SessionID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		deleteURL := fmt.Sprintf("%s/sessions/%s", s.controlURL, s.info.SessionID)
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, nil)
		if reqErr != nil {
			err = reqErr
			return
		}
		if resp, doErr := s.httpClient.Do(req); doErr == nil {
			resp.Body.Close()
		}
	})
	return err
}

var _ ports.Negotiator = (*RelayNegotiator)(nil)
