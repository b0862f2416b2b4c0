package screensaver

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// The fakes below track live resource counts so the tests can assert the
// exclusivity invariant: never two live encoders or pipes at once.

type fakeEncoder struct {
	mu       sync.Mutex
	live     int
	maxLive  int
	starts   []Plan
	startErr error
}

func (e *fakeEncoder) Start(plan Plan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.live++
	if e.live > e.maxLive {
		e.maxLive = e.live
	}
	e.starts = append(e.starts, plan)
	return nil
}

func (e *fakeEncoder) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.live > 0 {
		e.live--
	}
}

type fakeTransport struct {
	mu        sync.Mutex
	live      int
	maxLive   int
	createErr error
}

func (tr *fakeTransport) Create(path string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.createErr != nil {
		return tr.createErr
	}
	tr.live++
	if tr.live > tr.maxLive {
		tr.maxLive = tr.live
	}
	return nil
}

func (tr *fakeTransport) Remove(path string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.live > 0 {
		tr.live--
	}
	return nil
}

type fakePlayer struct {
	mu     sync.Mutex
	played []string
}

func (p *fakePlayer) Play(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, path)
	return nil
}

func (p *fakePlayer) Stop() {}

func (p *fakePlayer) lastPlayed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.played) == 0 {
		return ""
	}
	return p.played[len(p.played)-1]
}

func (p *fakePlayer) history() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

type fakeActivity struct {
	mu   sync.Mutex
	idle time.Duration
}

func (a *fakeActivity) IdleTime() (time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.idle, nil
}

func (a *fakeActivity) setIdle(d time.Duration) {
	a.mu.Lock()
	a.idle = d
	a.mu.Unlock()
}

func fastCompositorConfig(perView int) Config {
	return Config{
		StreamsPerView:   perView,
		CycleInterval:    40 * time.Millisecond,
		WorkDir:          "/tmp",
		Tick:             10 * time.Millisecond,
		GracePeriod:      30 * time.Millisecond,
		IdleThreshold:    20 * time.Millisecond,
		PlayerStartDelay: time.Millisecond,
	}
}

func testStreams(n int) []Stream {
	streams := make([]Stream, n)
	names := []string{"front", "back", "side", "garage", "drive", "gate"}
	for i := range streams {
		streams[i] = Stream{CameraID: names[i%len(names)], URL: "rtsp://host/" + names[i%len(names)]}
	}
	return streams
}

func newTestCompositor(perView int) (*Compositor, *fakeEncoder, *fakePlayer, *fakeTransport, *fakeActivity) {
	enc := &fakeEncoder{}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	act := &fakeActivity{idle: time.Hour}
	c := New(fastCompositorConfig(perView), enc, pl, tr, act, zap.NewNop())
	return c, enc, pl, tr, act
}

func TestInitializeEmptySet(t *testing.T) {
	c, _, _, _, _ := newTestCompositor(2)
	if err := c.Initialize(nil); !errors.Is(err, ErrNoStreams) {
		t.Errorf("expected ErrNoStreams, got %v", err)
	}
}

func TestSingleStreamBypassesEncoder(t *testing.T) {
	c, enc, pl, tr, _ := newTestCompositor(1)

	if err := c.Initialize(testStreams(3)); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer c.Teardown()

	if pl.lastPlayed() != "rtsp://host/front" {
		t.Errorf("player should get the stream URL directly, got %s", pl.lastPlayed())
	}
	if len(enc.starts) != 0 {
		t.Error("encoder must not start for a single-stream view")
	}
	if tr.maxLive != 0 {
		t.Error("no pipe should exist for a single-stream view")
	}
}

func TestMultiStreamComposition(t *testing.T) {
	c, enc, pl, tr, _ := newTestCompositor(4)

	if err := c.Initialize(testStreams(6)); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer c.Teardown()

	if tr.live != 1 {
		t.Errorf("expected 1 live pipe, got %d", tr.live)
	}
	if len(enc.starts) != 1 {
		t.Fatalf("expected 1 encoder start, got %d", len(enc.starts))
	}

	plan := enc.starts[0]
	if len(plan.Streams) != 4 || plan.Columns != 2 || plan.Rows != 2 {
		t.Errorf("unexpected plan: %d streams, %dx%d", len(plan.Streams), plan.Columns, plan.Rows)
	}
	if pl.lastPlayed() != plan.PipePath {
		t.Errorf("player should read the pipe, got %s", pl.lastPlayed())
	}
	if c.State() != StateComposing {
		t.Errorf("expected composing state, got %s", c.State())
	}
}

func TestSingleStreamCycleRotatesDirectly(t *testing.T) {
	c, enc, pl, tr, _ := newTestCompositor(1)

	if err := c.Initialize(testStreams(3)); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer c.Teardown()

	if err := c.Cycle(); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if err := c.Cycle(); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	want := []string{"rtsp://host/front", "rtsp://host/back", "rtsp://host/side"}
	got := pl.history()
	if len(got) != len(want) {
		t.Fatalf("player saw %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("rotation %d played %s, want %s", i, got[i], want[i])
		}
	}
	if len(enc.starts) != 0 {
		t.Error("encoder must stay idle across single-stream rotations")
	}
	if tr.maxLive != 0 {
		t.Error("no pipe should ever exist for single-stream rotations")
	}
}

func TestCycleRotatesWindow(t *testing.T) {
	c, enc, _, _, _ := newTestCompositor(2)

	if err := c.Initialize(testStreams(5)); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer c.Teardown()

	if err := c.Cycle(); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if err := c.Cycle(); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if len(enc.starts) != 3 {
		t.Fatalf("expected 3 compositions, got %d", len(enc.starts))
	}
	// Windows advance by the view size, circular over 5 cameras.
	if got := enc.starts[1].Streams[0].CameraID; got != "side" {
		t.Errorf("second window should start at side, got %s", got)
	}
	if got := enc.starts[2].Streams[0].CameraID; got != "drive" {
		t.Errorf("third window should start at drive, got %s", got)
	}
	// Fifth camera wraps around.
	if got := enc.starts[2].Streams[1].CameraID; got != "front" {
		t.Errorf("wraparound slot should be front, got %s", got)
	}
}

func TestCycleNoopWhenTooFewCameras(t *testing.T) {
	c, enc, _, _, _ := newTestCompositor(4)

	if err := c.Initialize(testStreams(3)); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer c.Teardown()

	if err := c.Cycle(); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if len(enc.starts) != 1 {
		t.Errorf("cycle with too few cameras must not recompose, got %d starts", len(enc.starts))
	}
}

func TestResourceExclusivityAcrossCycles(t *testing.T) {
	c, enc, _, tr, _ := newTestCompositor(2)

	if err := c.Initialize(testStreams(6)); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := c.Cycle(); err != nil {
			t.Fatalf("Cycle %d failed: %v", i, err)
		}
	}
	c.Teardown()

	if enc.maxLive > 1 {
		t.Errorf("two encoders were live simultaneously (max %d)", enc.maxLive)
	}
	if tr.maxLive > 1 {
		t.Errorf("two pipes were live simultaneously (max %d)", tr.maxLive)
	}
	if enc.live != 0 || tr.live != 0 {
		t.Errorf("resources leaked after teardown: enc=%d pipe=%d", enc.live, tr.live)
	}
}

func TestEncoderFailureCleansPipe(t *testing.T) {
	c, enc, _, tr, _ := newTestCompositor(2)
	enc.startErr = errors.New("spawn failed")

	if err := c.Initialize(testStreams(4)); err == nil {
		t.Fatal("Initialize should fail when the encoder cannot start")
	}
	if tr.live != 0 {
		t.Errorf("pipe leaked after encoder failure: %d", tr.live)
	}
	if c.State() != StateIdle {
		t.Errorf("expected idle state after failed init, got %s", c.State())
	}
}

func TestTransportFailureAborts(t *testing.T) {
	c, enc, _, tr, _ := newTestCompositor(2)
	tr.createErr = errors.New("mkfifo failed")

	if err := c.Initialize(testStreams(4)); err == nil {
		t.Fatal("Initialize should fail when the pipe cannot be created")
	}
	if len(enc.starts) != 0 {
		t.Error("encoder must not start without a transport")
	}
}

func TestRunExitsOnUserActivity(t *testing.T) {
	c, enc, _, tr, act := newTestCompositor(2)

	if err := c.Initialize(testStreams(4)); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		c.Run()
		close(done)
	}()

	// Wait out the grace period, then simulate fresh input.
	time.Sleep(50 * time.Millisecond)
	act.setIdle(0)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit on user activity")
	}

	if enc.live != 0 || tr.live != 0 {
		t.Errorf("resources leaked after activity exit: enc=%d pipe=%d", enc.live, tr.live)
	}
	if c.State() != StateIdle {
		t.Errorf("expected idle after teardown, got %s", c.State())
	}
}

func TestRunStop(t *testing.T) {
	c, _, _, _, _ := newTestCompositor(2)

	if err := c.Initialize(testStreams(4)); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		c.Run()
		close(done)
	}()

	c.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not observe Stop")
	}
}
