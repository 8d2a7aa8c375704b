package streaming

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"
	"stagecast/internal/infrastructure/compositor"

	"go.uber.org/zap"
)

// Manager owns every destination session of one broadcast. Sessions are fully
// independent: a destination stuck in a retry loop never delays another
// destination's samples.
type Manager struct {
	output      *compositor.CompositeOutput
	negotiators map[domain.Platform]ports.Negotiator
	cfg         SessionConfig
	metrics     SessionMetrics
	logger      *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[domain.DestinationID]*destinationSession
	runCtx   context.Context
	started  bool
}

func NewManager(
	output *compositor.CompositeOutput,
	negotiators map[domain.Platform]ports.Negotiator,
	cfg SessionConfig,
	metrics SessionMetrics,
	logger *zap.SugaredLogger,
) *Manager {
	return &Manager{
		output:      output,
		negotiators: negotiators,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
		sessions:    make(map[domain.DestinationID]*destinationSession),
	}
}

// StartAll launches one session per configured destination. Individual
// negotiation failures do not fail the call; each session retries on its own.
func (m *Manager) StartAll(ctx context.Context, destinations []domain.Destination) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("streaming manager already started")
	}
	m.runCtx = ctx
	m.started = true

	for _, dest := range destinations {
		if err := m.launchLocked(ctx, dest); err != nil {
			// Roll back so a corrected destination list can start again.
			for id, session := range m.sessions {
				session.stop()
				delete(m.sessions, id)
			}
			m.started = false
			return err
		}
	}
	return nil
}

// Add attaches a new destination to a live broadcast without touching the
// existing sessions.
func (m *Manager) Add(ctx context.Context, dest domain.Destination) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return domain.ErrBroadcastNotLive
	}
	return m.launchLocked(m.runCtx, dest)
}

func (m *Manager) launchLocked(ctx context.Context, dest domain.Destination) error {
	if _, exists := m.sessions[dest.ID]; exists {
		return fmt.Errorf("destination %s already registered", dest.ID)
	}

	negotiator, ok := m.negotiators[dest.Platform]
	if !ok {
		return fmt.Errorf("no negotiator for platform %q", dest.Platform)
	}

	session := newDestinationSession(dest, negotiator, m.output, m.cfg, m.metrics, m.logger)
	m.sessions[dest.ID] = session
	session.start(ctx)

	m.logger.Infow("destination session launched",
		"destination_id", dest.ID,
		"platform", dest.Platform,
		"label", dest.Label,
	)
	return nil
}

// Stop terminates one destination session and waits for its goroutines to
// finish. The terminated session keeps reporting its final status.
func (m *Manager) Stop(id domain.DestinationID) {
	m.mu.Lock()
	session, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	session.stop()
}

// StopAll terminates every session. Called when the broadcast ends.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*destinationSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.started = false
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *destinationSession) {
			defer wg.Done()
			s.stop()
		}(s)
	}
	wg.Wait()
}

// Status reports a point-in-time snapshot of every session, terminated ones
// included, ordered by destination ID.
func (m *Manager) Status() []domain.DestinationStatus {
	m.mu.Lock()
	statuses := make([]domain.DestinationStatus, 0, len(m.sessions))
	for _, s := range m.sessions {
		statuses = append(statuses, s.status())
	}
	m.mu.Unlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ID < statuses[j].ID
	})
	return statuses
}

var _ ports.DestinationManager = (*Manager)(nil)
