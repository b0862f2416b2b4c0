package screensaver

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Encoder runs the external video-processing tool that merges the
// streams of one plan into the plan's pipe. Exactly one encoder is live
// per compositor at any time; Stop is always called before a successor
// starts.
type Encoder interface {
	Start(plan Plan) error
	Stop()
}

// Player consumes a stream path (pipe or direct URL). The concrete
// display shell is a collaborator; CommandPlayer covers standalone use.
type Player interface {
	Play(path string) error
	Stop()
}

// ActivityMonitor samples how long the user has been idle.
type ActivityMonitor interface {
	IdleTime() (time.Duration, error)
}

// FFmpegEncoder spawns ffmpeg with a synthesized filter graph, piping
// MPEG-TS into the plan's pipe. Diagnostics go to a log file, never to
// the parent's stderr.
type FFmpegEncoder struct {
	Binary  string
	LogPath string
	logger  *zap.Logger

	cmd *exec.Cmd
}

// NewFFmpegEncoder creates an encoder backed by the ffmpeg binary.
func NewFFmpegEncoder(logPath string, logger *zap.Logger) *FFmpegEncoder {
	return &FFmpegEncoder{
		Binary:  "ffmpeg",
		LogPath: logPath,
		logger:  logger,
	}
}

// Start spawns the encoder process for a plan.
func (e *FFmpegEncoder) Start(plan Plan) error {
	args := []string{"-y", "-threads", "5"}
	for _, s := range plan.Streams {
		args = append(args, "-i", s.URL)
	}
	args = append(args,
		"-filter_complex", filterGraph(plan),
		"-map", "[out]",
		"-f", "mpegts",
		"-codec:v", "mpeg2video",
		"-b:v", "8M",
		"-maxrate", "8M",
		"-bufsize", "4M",
		"-r", "30",
		plan.PipePath,
	)

	cmd := exec.Command(e.Binary, args...)

	logFile, err := os.Create(e.LogPath)
	if err != nil {
		return fmt.Errorf("open encoder log: %w", err)
	}
	cmd.Stderr = logFile
	cmd.Stdout = nil

	e.logger.Info("starting encoder",
		zap.String("command", e.Binary+" "+strings.Join(args, " ")),
		zap.String("log", e.LogPath))

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("start encoder: %w", err)
	}
	// The child owns the log file descriptor now.
	logFile.Close()

	e.cmd = cmd
	e.logger.Info("encoder started", zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Stop kills the encoder process immediately. Graceful termination is
// pointless for a pipe writer whose reader is going away.
func (e *FFmpegEncoder) Stop() {
	if e.cmd == nil || e.cmd.Process == nil {
		return
	}
	if err := e.cmd.Process.Kill(); err != nil {
		e.logger.Debug("encoder kill failed", zap.Error(err))
	}
	e.cmd.Wait()
	e.cmd = nil
}

// CommandPlayer starts an external player process pointed at the stream
// path and kills it on Stop.
type CommandPlayer struct {
	Binary string
	Args   []string
	logger *zap.Logger

	cmd *exec.Cmd
}

// NewCommandPlayer creates a player that runs the given binary with the
// stream path appended to args.
func NewCommandPlayer(binary string, args []string, logger *zap.Logger) *CommandPlayer {
	return &CommandPlayer{Binary: binary, Args: args, logger: logger}
}

func (p *CommandPlayer) Play(path string) error {
	p.Stop()

	args := append(append([]string{}, p.Args...), path)
	cmd := exec.Command(p.Binary, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	p.cmd = cmd
	p.logger.Info("player started",
		zap.String("binary", p.Binary),
		zap.String("path", path))
	return nil
}

func (p *CommandPlayer) Stop() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	if err := p.cmd.Process.Kill(); err != nil {
		p.logger.Debug("player kill failed", zap.Error(err))
	}
	p.cmd.Wait()
	p.cmd = nil
}

// CommandActivityMonitor shells out to an idle-time reporter such as
// xprintidle, which prints idle milliseconds.
type CommandActivityMonitor struct {
	Binary string
}

func (m *CommandActivityMonitor) IdleTime() (time.Duration, error) {
	out, err := exec.Command(m.Binary).Output()
	if err != nil {
		return 0, fmt.Errorf("sample idle time: %w", err)
	}

	var ms int64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%d", &ms); err != nil {
		return 0, fmt.Errorf("parse idle time %q: %w", out, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
