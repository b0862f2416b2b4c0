package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigilo/internal/dispatch"
	"vigilo/internal/nvr"
	"vigilo/internal/settings"
	"vigilo/internal/ws"
)

// Dispatcher is the broker-facing subset the reconciler manages.
type Dispatcher interface {
	Connect() error
	SetFilters(dispatch.FilterConfig)
	IsConnected() bool
	Close()
}

// DispatcherFactory builds a dispatcher for the given broker config.
type DispatcherFactory func(cfg dispatch.Config, cb dispatch.Callback) Dispatcher

// Discovery resolves cameras and snapshots from the NVR.
type Discovery interface {
	GetCameras(ctx context.Context) (map[string]nvr.Camera, error)
	FetchSnapshot(ctx context.Context, camera string) ([]byte, error)
}

// DiscoveryFactory builds a discovery client for the given endpoint.
type DiscoveryFactory func(url, username, password string) Discovery

// Display shows a camera overlay for an accepted event.
type Display interface {
	RequestDisplay(cameraID string) bool
}

// Broadcaster pushes accepted events to live subscribers.
type Broadcaster interface {
	BroadcastEvent(*ws.EventMessage)
}

// Alerter sends out-of-band notifications.
type Alerter interface {
	Enabled() bool
	SendDetection(ctx context.Context, camera, label string, snapshot []byte) error
	SendServiceAlert(ctx context.Context, text string) error
}

// Service owns the dispatcher lifecycle and reconciles it against the
// settings store. Subsystems are restarted only when their own key
// group changes; a filter-only edit is swapped onto the live
// connection without dropping it.
type Service struct {
	store         *settings.Store
	newDispatcher DispatcherFactory
	newDiscovery  DiscoveryFactory
	display       Display
	hub           Broadcaster
	alerter       Alerter
	logger        *zap.Logger
	pollInterval  time.Duration

	mu         sync.Mutex
	current    settings.Settings
	dispatcher Dispatcher
	discovery  Discovery
	cameras    map[string]nvr.Camera
}

// Options carries the service dependencies.
type Options struct {
	Store         *settings.Store
	NewDispatcher DispatcherFactory
	NewDiscovery  DiscoveryFactory
	Display       Display
	Hub           Broadcaster
	Alerter       Alerter
	Logger        *zap.Logger
	PollInterval  time.Duration
}

func New(opts Options) *Service {
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Second
	}
	return &Service{
		store:         opts.Store,
		newDispatcher: opts.NewDispatcher,
		newDiscovery:  opts.NewDiscovery,
		display:       opts.Display,
		hub:           opts.Hub,
		alerter:       opts.Alerter,
		logger:        opts.Logger,
		pollInterval:  opts.PollInterval,
		cameras:       make(map[string]nvr.Camera),
	}
}

// Run starts the subsystems and polls the settings store until the
// context is cancelled. Subsystem failures are reported and retried on
// the next poll; they never terminate the loop.
func (s *Service) Run(ctx context.Context) error {
	initial, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	s.mu.Lock()
	s.current = initial
	s.rebuildDiscoveryLocked(ctx, initial)
	s.rebuildDispatcherLocked(ctx, initial)
	s.mu.Unlock()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.dispatcher != nil {
				s.dispatcher.Close()
				s.dispatcher = nil
			}
			s.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// Reconcile runs a single reconciliation pass. Exposed for callers
// that drive the loop themselves.
func (s *Service) Reconcile(ctx context.Context) {
	s.reconcile(ctx)
}

func (s *Service) reconcile(ctx context.Context) {
	next, err := s.store.Load()
	if err != nil {
		s.logger.Error("settings reload failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	s.current = next

	if next.DiscoveryChanged(prev) {
		s.logger.Info("nvr endpoint changed, rebuilding discovery client")
		s.rebuildDiscoveryLocked(ctx, next)
	}

	switch {
	case next.BrokerChanged(prev) || s.dispatcher == nil:
		if s.dispatcher != nil {
			s.logger.Info("broker settings changed, recreating dispatcher")
		}
		s.rebuildDispatcherLocked(ctx, next)
	case next.FilterChanged(prev):
		s.logger.Info("filter settings changed, applying to live dispatcher")
		s.dispatcher.SetFilters(filterConfig(next))
	default:
		if !s.dispatcher.IsConnected() {
			s.logger.Warn("dispatcher not connected, waiting for reconnect")
		}
	}
}

func (s *Service) rebuildDiscoveryLocked(ctx context.Context, cfg settings.Settings) {
	s.discovery = s.newDiscovery(cfg.NVRURL, cfg.NVRUsername, cfg.NVRPassword)

	cameras, err := s.discovery.GetCameras(ctx)
	if err != nil {
		s.logger.Error("camera discovery failed", zap.Error(err))
		s.alert(ctx, fmt.Sprintf("Camera discovery failed: %v", err))
		return
	}
	s.cameras = cameras
	s.logger.Info("cameras discovered", zap.Int("count", len(cameras)))
}

func (s *Service) rebuildDispatcherLocked(ctx context.Context, cfg settings.Settings) {
	if s.dispatcher != nil {
		s.dispatcher.Close()
		s.dispatcher = nil
	}

	d := s.newDispatcher(dispatch.Config{
		Host:        cfg.BrokerHost,
		Port:        cfg.BrokerPort,
		Username:    cfg.BrokerUsername,
		Password:    cfg.BrokerPassword,
		TopicPrefix: cfg.TopicPrefix,
	}, s.onEvent)
	d.SetFilters(filterConfig(cfg))

	if err := d.Connect(); err != nil {
		s.logger.Error("broker connect failed", zap.Error(err))
		s.alert(ctx, fmt.Sprintf("Broker connection failed: %v", err))
		d.Close()
		return
	}
	s.dispatcher = d
}

// onEvent handles a detection that passed the filters. Unknown and
// disabled cameras are dropped; the camera cache is refreshed once
// when an unknown camera appears, covering cameras added to the NVR
// after startup.
func (s *Service) onEvent(camera, label string, raw []byte) {
	ctx := context.Background()

	cam, ok := s.lookupCamera(ctx, camera)
	if !ok {
		s.logger.Warn("event for unknown camera dropped", zap.String("camera", camera))
		return
	}
	if !cam.Enabled {
		s.logger.Debug("event for disabled camera dropped", zap.String("camera", camera))
		return
	}

	s.display.RequestDisplay(camera)
	s.hub.BroadcastEvent(ws.NewEventMessage(camera, label, eventScore(raw)))

	if s.alerter.Enabled() {
		go s.announce(camera, label)
	}
}

func (s *Service) lookupCamera(ctx context.Context, camera string) (nvr.Camera, bool) {
	s.mu.Lock()
	cam, ok := s.cameras[camera]
	discovery := s.discovery
	s.mu.Unlock()
	if ok {
		return cam, true
	}

	cameras, err := discovery.GetCameras(ctx)
	if err != nil {
		s.logger.Error("camera refresh failed", zap.Error(err))
		return nvr.Camera{}, false
	}

	s.mu.Lock()
	s.cameras = cameras
	cam, ok = s.cameras[camera]
	s.mu.Unlock()
	return cam, ok
}

func (s *Service) announce(camera, label string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.mu.Lock()
	discovery := s.discovery
	s.mu.Unlock()

	snapshot, err := discovery.FetchSnapshot(ctx, camera)
	if err != nil {
		s.logger.Debug("snapshot for notification unavailable",
			zap.String("camera", camera), zap.Error(err))
	}
	if err := s.alerter.SendDetection(ctx, camera, label, snapshot); err != nil {
		s.logger.Warn("detection notification failed", zap.Error(err))
	}
}

func (s *Service) alert(ctx context.Context, text string) {
	if !s.alerter.Enabled() {
		return
	}
	if err := s.alerter.SendServiceAlert(ctx, text); err != nil {
		s.logger.Warn("service alert failed", zap.Error(err))
	}
}

// FetchSnapshot fetches a still image through the current discovery
// client. Satisfies the overlay manager's fetcher dependency so
// overlays follow NVR endpoint changes.
func (s *Service) FetchSnapshot(ctx context.Context, camera string) ([]byte, error) {
	s.mu.Lock()
	discovery := s.discovery
	s.mu.Unlock()
	if discovery == nil {
		return nil, fmt.Errorf("discovery client not ready")
	}
	return discovery.FetchSnapshot(ctx, camera)
}

// Cameras returns the current camera cache.
func (s *Service) Cameras() map[string]nvr.Camera {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]nvr.Camera, len(s.cameras))
	for id, cam := range s.cameras {
		out[id] = cam
	}
	return out
}

// filterConfig converts stored filter settings to dispatcher form.
// Confidence is stored as a percentage and compared as a fraction.
func filterConfig(cfg settings.Settings) dispatch.FilterConfig {
	return dispatch.FilterConfig{
		Objects:       settings.SplitList(cfg.TriggerObjects),
		Cameras:       settings.SplitList(cfg.TriggerCameras),
		MinConfidence: float64(cfg.MinConfidence) / 100,
		NewOnly:       cfg.NewEventsOnly,
	}
}

func eventScore(raw []byte) float64 {
	var payload struct {
		After struct {
			Score float64 `json:"score"`
		} `json:"after"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0
	}
	return payload.After.Score
}
