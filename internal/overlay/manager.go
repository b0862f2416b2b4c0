package overlay

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager owns overlay sessions, at most one per camera. The heartbeat
// file is the dedupe mechanism shared with out-of-process triggers: a
// request for a camera whose heartbeat already exists refreshes the
// timestamp instead of opening a second overlay.
type Manager struct {
	stateDir string
	cfg      SessionConfig
	fetcher  SnapshotFetcher
	surfaces SurfaceFactory
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an overlay session manager. Surfaces defaults to
// headless surfaces when nil.
func NewManager(stateDir string, cfg SessionConfig, fetcher SnapshotFetcher, surfaces SurfaceFactory, logger *zap.Logger) *Manager {
	if surfaces == nil {
		surfaces = func(string) Surface { return NopSurface{} }
	}
	return &Manager{
		stateDir: stateDir,
		cfg:      cfg,
		fetcher:  fetcher,
		surfaces: surfaces,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// RequestDisplay triggers the overlay for a camera. Repeated calls while
// the overlay is active extend its duration instead of stacking windows.
// Returns true when an existing overlay was extended, false when a new
// session was started.
func (m *Manager) RequestDisplay(cameraID string) bool {
	hb := heartbeatPath(m.stateDir, cameraID)

	// The dedupe check and the session insert happen under one lock,
	// so concurrent requests for a camera start at most one session.
	m.mu.Lock()
	if _, live := m.sessions[cameraID]; live {
		m.mu.Unlock()
		if err := writeHeartbeat(hb, time.Now()); err != nil {
			m.logger.Warn("failed to refresh heartbeat",
				zap.String("camera", cameraID), zap.Error(err))
		}
		m.logger.Info("overlay already active, extended duration",
			zap.String("camera", cameraID))
		return true
	}

	// The heartbeat file covers overlays owned by other process
	// invocations.
	if heartbeatExists(hb) {
		if err := writeHeartbeat(hb, time.Now()); err != nil {
			// Fall through and start a session: dedupe stays best effort.
			m.logger.Warn("failed to refresh heartbeat, starting new session",
				zap.String("camera", cameraID), zap.Error(err))
		} else {
			m.mu.Unlock()
			m.logger.Info("overlay already active, extended duration",
				zap.String("camera", cameraID))
			return true
		}
	}

	session := newSession(cameraID, m.stateDir, m.cfg, m.fetcher, m.surfaces(cameraID), m.logger)
	m.sessions[cameraID] = session
	m.mu.Unlock()

	m.logger.Info("starting overlay session", zap.String("camera", cameraID))

	go func() {
		session.Run()
		m.mu.Lock()
		if m.sessions[cameraID] == session {
			delete(m.sessions, cameraID)
		}
		m.mu.Unlock()
	}()

	return false
}

// ExtendIfActive refreshes the camera's heartbeat when an overlay is
// already up, in this process or another, pushing its auto-close back.
// Returns false when there is nothing to extend.
func (m *Manager) ExtendIfActive(cameraID string) bool {
	hb := heartbeatPath(m.stateDir, cameraID)

	// In-process sessions are tracked directly; the heartbeat file check
	// below covers overlays owned by other process invocations.
	m.mu.Lock()
	_, live := m.sessions[cameraID]
	m.mu.Unlock()

	if live {
		if err := writeHeartbeat(hb, time.Now()); err != nil {
			m.logger.Warn("failed to refresh heartbeat",
				zap.String("camera", cameraID), zap.Error(err))
		}
		m.logger.Info("overlay already active, extended duration",
			zap.String("camera", cameraID))
		return true
	}

	if heartbeatExists(hb) {
		if err := writeHeartbeat(hb, time.Now()); err != nil {
			// Fall through and start a session: dedupe stays best effort.
			m.logger.Warn("failed to refresh heartbeat, starting new session",
				zap.String("camera", cameraID), zap.Error(err))
			return false
		}
		m.logger.Info("overlay already active, extended duration",
			zap.String("camera", cameraID))
		return true
	}
	return false
}

// Wait returns a channel closed when the camera's session tears down.
// Cameras without a live session get an already closed channel.
func (m *Manager) Wait(cameraID string) <-chan struct{} {
	m.mu.Lock()
	session, ok := m.sessions[cameraID]
	m.mu.Unlock()

	if !ok {
		done := make(chan struct{})
		close(done)
		return done
	}
	return session.Done()
}

// ActiveSessions returns the camera IDs with a live in-process session.
func (m *Manager) ActiveSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	cameras := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		cameras = append(cameras, id)
	}
	return cameras
}

// StopAll terminates every live session and waits for their teardown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-time.After(5 * time.Second):
			m.logger.Warn("timed out waiting for session teardown")
		}
	}
}
