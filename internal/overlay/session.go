package overlay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SnapshotFetcher supplies still images for a camera. The NVR client
// implements it; tests substitute a fake.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, camera string) ([]byte, error)
}

// SessionConfig controls the behavior of one overlay session.
type SessionConfig struct {
	// RefreshInterval is the pause between snapshot fetches.
	RefreshInterval time.Duration
	// AutoClose enables the duration timer; when false the session
	// runs until Stop.
	AutoClose bool
	// Duration is how long the overlay stays up without re-triggers.
	Duration time.Duration
	// Width/Height bound the displayed snapshot; zero disables scaling.
	Width  int
	Height int

	// PollInterval is the lifetime loop tick. FreshnessWindow is how
	// recent a heartbeat refresh must be to re-origin the duration
	// clock. Both default in newSession; tests shrink them.
	PollInterval    time.Duration
	FreshnessWindow time.Duration
}

// Session owns one camera overlay from first display to teardown: a
// snapshot refresher feeding the surface and a lifetime loop watching
// the heartbeat file for externally requested extensions.
type Session struct {
	cameraID      string
	cfg           SessionConfig
	fetcher       SnapshotFetcher
	surface       Surface
	heartbeatFile string
	scratchDir    string
	logger        *zap.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func newSession(cameraID, stateDir string, cfg SessionConfig, fetcher SnapshotFetcher, surface Surface, logger *zap.Logger) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = 2 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Second
	}

	return &Session{
		cameraID:      cameraID,
		cfg:           cfg,
		fetcher:       fetcher,
		surface:       surface,
		heartbeatFile: heartbeatPath(stateDir, cameraID),
		scratchDir:    filepath.Join(stateDir, uuid.NewString()),
		logger:        logger.With(zap.String("camera", cameraID)),
		done:          make(chan struct{}),
	}
}

// Run starts the overlay and blocks until the session terminates by
// duration expiry, Stop, or surface dismissal. It always cleans up the
// heartbeat file and the scratch directory on exit.
func (s *Session) Run() {
	// Heartbeat write failure is not fatal: the session proceeds
	// assuming ownership and dedupe degrades to best effort.
	if err := writeHeartbeat(s.heartbeatFile, time.Now()); err != nil {
		s.logger.Warn("failed to write heartbeat file", zap.Error(err))
	}
	if err := os.MkdirAll(s.scratchDir, 0o755); err != nil {
		s.logger.Warn("failed to create scratch dir", zap.Error(err))
	}

	if err := s.surface.Show(); err != nil {
		s.logger.Error("failed to show overlay surface", zap.Error(err))
		s.cleanup()
		close(s.done)
		return
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	go s.refreshLoop()

	s.lifetimeLoop()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.surface.Close()
	s.cleanup()
	close(s.done)
	s.logger.Info("overlay session closed")
}

// lifetimeLoop ticks once per poll interval. With auto-close enabled it
// compares elapsed time against the configured duration, re-originating
// the clock whenever the heartbeat file was refreshed within the
// freshness window. That is how repeated detections keep the overlay on
// screen without the session knowing who re-triggered it.
func (s *Session) lifetimeLoop() {
	origin := time.Now()

	for s.isRunning() {
		time.Sleep(s.cfg.PollInterval)

		if !s.isRunning() {
			return
		}
		if !s.cfg.AutoClose {
			continue
		}

		now := time.Now()
		if ts, err := readHeartbeat(s.heartbeatFile); err == nil {
			if now.Sub(ts) < s.cfg.FreshnessWindow {
				origin = now
				s.logger.Debug("overlay duration extended")
			}
		} else if !os.IsNotExist(err) {
			s.logger.Debug("heartbeat check failed", zap.Error(err))
		}

		if now.Sub(origin) >= s.cfg.Duration {
			return
		}
	}
}

// refreshLoop fetches, scales and displays snapshots until the session
// stops. Fetch errors are logged and skipped; the overlay keeps showing
// the previous frame.
func (s *Session) refreshLoop() {
	index := 1

	for s.isRunning() {
		if err := s.refreshOnce(index); err != nil {
			s.logger.Warn("snapshot refresh failed", zap.Error(err))
		} else {
			index++
		}
		time.Sleep(s.cfg.RefreshInterval)
	}
}

func (s *Session) refreshOnce(index int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := s.fetcher.FetchSnapshot(ctx, s.cameraID)
	if err != nil {
		return err
	}

	scaled, err := scaleSnapshot(data, s.cfg.Width, s.cfg.Height)
	if err != nil {
		return err
	}

	path := filepath.Join(s.scratchDir, fmt.Sprintf("snapshot_%06d.jpg", index))
	if err := os.WriteFile(path, scaled, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	return s.surface.SetImage(path)
}

// Stop requests termination; the lifetime loop observes the flag within
// one poll interval.
func (s *Session) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Done is closed when the session has fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) cleanup() {
	if err := removeHeartbeat(s.heartbeatFile); err != nil {
		s.logger.Warn("failed to remove heartbeat file", zap.Error(err))
	}
	if err := os.RemoveAll(s.scratchDir); err != nil {
		s.logger.Warn("failed to remove scratch dir", zap.Error(err))
	}
}
