package screensaver

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the compositor lifecycle. All transitions happen on the run
// loop goroutine; Stop only raises a flag the loop observes, so there is
// a single writer for every transition.
type State int32

const (
	StateIdle State = iota
	StateComposing
	StateRotating
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComposing:
		return "composing"
	case StateRotating:
		return "rotating"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// ErrNoStreams is returned when initialization finds nothing to display.
var ErrNoStreams = errors.New("no camera streams to display")

// Config tunes the compositor.
type Config struct {
	// StreamsPerView is how many cameras share one composition (1-4).
	StreamsPerView int
	// CycleInterval is how long each camera window stays up.
	CycleInterval time.Duration
	// Width and Height set the output resolution.
	Width  int
	Height int
	// WorkDir hosts the pipe and the encoder log.
	WorkDir string

	// Tick is the rotation/activity loop granularity. GracePeriod
	// suppresses activity checks right after startup so the input that
	// launched the screensaver does not immediately dismiss it.
	// IdleThreshold is the reading below which input is considered fresh.
	Tick             time.Duration
	GracePeriod      time.Duration
	IdleThreshold    time.Duration
	PlayerStartDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.StreamsPerView < 1 {
		c.StreamsPerView = 1
	}
	if c.StreamsPerView > maxStreamsPerView {
		c.StreamsPerView = maxStreamsPerView
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = 10 * time.Second
	}
	if c.Width <= 0 {
		c.Width = 1920
	}
	if c.Height <= 0 {
		c.Height = 1080
	}
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 3 * time.Second
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = 3 * time.Second
	}
	if c.PlayerStartDelay <= 0 {
		c.PlayerStartDelay = 500 * time.Millisecond
	}
	return c
}

// Compositor rotates windows of camera streams through one composition,
// rebuilding the encoder pipeline on every rotation and terminating
// itself on user activity. The encoder process and the pipe are torn
// down unconditionally before a successor is created, so at most one of
// each is ever live.
type Compositor struct {
	cfg       Config
	encoder   Encoder
	player    Player
	transport Transport
	activity  ActivityMonitor
	logger    *zap.Logger

	streams []Stream
	index   int

	state    atomic.Int32
	stopFlag atomic.Bool

	mu       sync.Mutex
	pipeLive bool
	pipePath string
}

// New creates a compositor. A nil activity monitor disables the
// user-activity exit; rotation then runs until Stop.
func New(cfg Config, encoder Encoder, player Player, transport Transport, activity ActivityMonitor, logger *zap.Logger) *Compositor {
	return &Compositor{
		cfg:       cfg.withDefaults(),
		encoder:   encoder,
		player:    player,
		transport: transport,
		activity:  activity,
		logger:    logger,
	}
}

// State returns the current lifecycle state.
func (c *Compositor) State() State {
	return State(c.state.Load())
}

func (c *Compositor) setState(s State) {
	c.state.Store(int32(s))
	c.logger.Debug("compositor state", zap.String("state", s.String()))
}

// Initialize validates the camera set and builds the first composition
// window. A composition failure aborts initialization with everything
// cleaned up.
func (c *Compositor) Initialize(streams []Stream) error {
	if len(streams) == 0 {
		return ErrNoStreams
	}
	c.streams = streams
	c.index = 0

	c.logger.Info("screensaver initialized",
		zap.Int("cameras", len(streams)),
		zap.Int("per_view", c.cfg.StreamsPerView))

	c.setState(StateComposing)
	if err := c.compose(); err != nil {
		c.teardownComposition()
		c.setState(StateIdle)
		return err
	}
	return nil
}

// Run drives rotation and activity monitoring until user input or Stop.
// It blocks, and always leaves the encoder, player and pipe torn down.
func (c *Compositor) Run() {
	start := time.Now()
	countdown := c.cfg.CycleInterval

	for !c.stopFlag.Load() {
		time.Sleep(c.cfg.Tick)
		if c.stopFlag.Load() {
			break
		}

		if c.activity != nil && time.Since(start) > c.cfg.GracePeriod {
			idle, err := c.activity.IdleTime()
			if err != nil {
				c.logger.Debug("idle sample failed", zap.Error(err))
			} else if idle < c.cfg.IdleThreshold {
				c.logger.Info("user activity detected, exiting screensaver",
					zap.Duration("idle", idle))
				break
			}
		}

		countdown -= c.cfg.Tick
		if countdown <= 0 {
			countdown = c.cfg.CycleInterval
			if err := c.Cycle(); err != nil {
				c.logger.Error("rotation failed, stopping screensaver", zap.Error(err))
				break
			}
		}
	}

	c.setState(StateTerminating)
	c.Teardown()
}

// Stop requests termination; the run loop observes it within one tick.
func (c *Compositor) Stop() {
	c.stopFlag.Store(true)
}

// Cycle advances to the next window of cameras and rebuilds the
// composition from scratch.
func (c *Compositor) Cycle() error {
	if len(c.streams) <= c.cfg.StreamsPerView {
		return nil
	}

	c.setState(StateRotating)
	c.index = (c.index + c.cfg.StreamsPerView) % len(c.streams)
	c.logger.Info("cycling camera window", zap.Int("index", c.index))

	err := c.compose()
	if err == nil {
		c.setState(StateComposing)
	}
	return err
}

// Teardown stops the player, the encoder and removes the pipe.
func (c *Compositor) Teardown() {
	c.teardownComposition()
	c.setState(StateIdle)
	c.logger.Info("screensaver stopped")
}

// currentWindow returns the contiguous run of streams for this
// composition, circular over the full list.
func (c *Compositor) currentWindow() []Stream {
	n := c.cfg.StreamsPerView
	if n > len(c.streams) {
		n = len(c.streams)
	}

	window := make([]Stream, 0, n)
	for i := 0; i < n; i++ {
		window = append(window, c.streams[(c.index+i)%len(c.streams)])
	}
	return window
}

// compose tears down the previous pipeline and builds one for the
// current window. Single-stream windows bypass the encoder and hand the
// URL straight to the player.
func (c *Compositor) compose() error {
	c.teardownComposition()

	window := c.currentWindow()
	for i, s := range window {
		c.logger.Info("camera slot",
			zap.Int("slot", i),
			zap.String("camera", s.CameraID),
			zap.String("url", s.URL))
	}

	if len(window) == 1 {
		return c.player.Play(window[0].URL)
	}

	pipePath := filepath.Join(c.cfg.WorkDir, "screensaver.ts")
	if err := c.transport.Create(pipePath); err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	c.setPipe(pipePath)

	cols, rows := gridShape(len(window))
	plan := Plan{
		Streams:  window,
		Columns:  cols,
		Rows:     rows,
		Width:    c.cfg.Width,
		Height:   c.cfg.Height,
		PipePath: pipePath,
	}

	// The player must be reading the pipe before the encoder starts
	// writing, otherwise the encoder blocks on a writer-less pipe.
	if err := c.player.Play(pipePath); err != nil {
		c.removePipe()
		return fmt.Errorf("attach player: %w", err)
	}
	time.Sleep(c.cfg.PlayerStartDelay)

	if err := c.encoder.Start(plan); err != nil {
		c.player.Stop()
		c.removePipe()
		return fmt.Errorf("start encoder: %w", err)
	}

	return nil
}

// teardownComposition unconditionally stops the previous player and
// encoder and removes the pipe. Runs before every rebuild and on every
// error path, so a second live encoder or pipe can never exist.
func (c *Compositor) teardownComposition() {
	c.player.Stop()
	c.encoder.Stop()
	c.removePipe()
}

func (c *Compositor) setPipe(path string) {
	c.mu.Lock()
	c.pipeLive = true
	c.pipePath = path
	c.mu.Unlock()
}

func (c *Compositor) removePipe() {
	c.mu.Lock()
	live, path := c.pipeLive, c.pipePath
	c.pipeLive = false
	c.pipePath = ""
	c.mu.Unlock()

	if !live {
		return
	}
	if err := c.transport.Remove(path); err != nil {
		c.logger.Warn("failed to remove pipe", zap.Error(err))
	}
}
