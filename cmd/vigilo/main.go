package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"vigilo/internal/nvr"
	"vigilo/internal/overlay"
	"vigilo/internal/screensaver"
	"vigilo/internal/settings"
)

const (
	defaultConfigPath = "/etc/vigilo/config.yml"
	defaultStateDir   = "/var/lib/vigilo"
)

// env bundles what every command needs: parsed file config, the
// settings store and a logger.
type env struct {
	cfg      *settings.FileConfig
	store    *settings.Store
	snap     settings.Settings
	stateDir string
	logger   *zap.Logger
}

func loadEnv(c *cli.Context) (*env, error) {
	cfg, err := settings.LoadFile(c.String("config"))
	if err != nil {
		return nil, err
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = defaultStateDir
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(stateDir, "settings.db")
	}
	store, err := settings.NewStore(dbPath)
	if err != nil {
		return nil, err
	}

	snap, err := store.Load()
	if err != nil {
		store.Close()
		return nil, err
	}

	logger := zap.NewNop()
	if c.Bool("verbose") {
		if logger, err = zap.NewDevelopment(); err != nil {
			store.Close()
			return nil, err
		}
	}

	return &env{cfg: cfg, store: store, snap: snap, stateDir: stateDir, logger: logger}, nil
}

func (e *env) close() {
	e.store.Close()
	e.logger.Sync()
}

func main() {
	app := &cli.App{
		Name:  "vigilo",
		Usage: "camera overlay and screensaver control",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   defaultConfigPath,
				Usage:   "path to the daemon configuration file",
				EnvVars: []string{"VIGILO_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug output",
			},
		},
		Commands: []*cli.Command{
			showCommand(),
			camerasCommand(),
			screensaverCommand(),
			configCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "vigilo: %v\n", err)
		os.Exit(1)
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "display the overlay for a camera, or extend it when already up",
		ArgsUsage: "<camera>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "duration",
				Usage: "seconds before the overlay auto-closes (0 = stored setting)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: vigilo show <camera>", 1)
			}
			cameraID := c.Args().First()

			e, err := loadEnv(c)
			if err != nil {
				return err
			}
			defer e.close()

			cfg := overlay.SessionConfig{
				RefreshInterval: e.snap.RefreshInterval,
				AutoClose:       e.snap.AutoClose,
				Duration:        e.snap.OverlayDuration,
				Width:           e.snap.OverlayWidth,
				Height:          e.snap.OverlayHeight,
			}
			if d := c.Int("duration"); d > 0 {
				cfg.AutoClose = true
				cfg.Duration = time.Duration(d) * time.Second
			}

			client := nvr.NewClient(e.snap.NVRURL, e.snap.NVRUsername, e.snap.NVRPassword, e.logger)
			manager := overlay.NewManager(e.stateDir, cfg, client, nil, e.logger)

			// Fast path: an overlay owned by any process is extended
			// without touching the NVR.
			if manager.ExtendIfActive(cameraID) {
				fmt.Println("overlay extended")
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			cameras, err := client.GetCameras(ctx)
			cancel()
			if err != nil {
				return fmt.Errorf("camera discovery: %w", err)
			}
			cam, ok := cameras[cameraID]
			if !ok {
				return cli.Exit(fmt.Sprintf("unknown camera %q", cameraID), 1)
			}
			if !cam.Enabled {
				return cli.Exit(fmt.Sprintf("camera %q is disabled", cameraID), 1)
			}

			manager.RequestDisplay(cameraID)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-manager.Wait(cameraID):
			case <-sig:
				manager.StopAll()
			}
			return nil
		},
	}
}

func camerasCommand() *cli.Command {
	return &cli.Command{
		Name:  "cameras",
		Usage: "list cameras known to the NVR",
		Action: func(c *cli.Context) error {
			e, err := loadEnv(c)
			if err != nil {
				return err
			}
			defer e.close()

			client := nvr.NewClient(e.snap.NVRURL, e.snap.NVRUsername, e.snap.NVRPassword, e.logger)
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			cameras, err := client.GetCameras(ctx)
			if err != nil {
				return fmt.Errorf("camera discovery: %w", err)
			}

			ids := make([]string, 0, len(cameras))
			for id := range cameras {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			for _, id := range ids {
				cam := cameras[id]
				state := "enabled"
				if !cam.Enabled {
					state = "disabled"
				}
				fmt.Printf("%-20s %-9s %s\n", id, state, client.StreamURL(cam))
			}
			return nil
		},
	}
}

func screensaverCommand() *cli.Command {
	return &cli.Command{
		Name:  "screensaver",
		Usage: "run the rotating multi-camera wall until user activity",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "cameras-per-view",
				Usage: "streams composited per screen (0 = stored setting)",
			},
		},
		Action: func(c *cli.Context) error {
			e, err := loadEnv(c)
			if err != nil {
				return err
			}
			defer e.close()

			client := nvr.NewClient(e.snap.NVRURL, e.snap.NVRUsername, e.snap.NVRPassword, e.logger)
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			cameras, err := client.GetCameras(ctx)
			cancel()
			if err != nil {
				return fmt.Errorf("camera discovery: %w", err)
			}

			streams := selectStreams(client, cameras, e.snap.ScreensaverCameras)
			if len(streams) == 0 {
				return cli.Exit("no enabled cameras to display", 1)
			}

			perView := e.snap.CamerasPerView
			if n := c.Int("cameras-per-view"); n > 0 {
				perView = n
			}

			playerBinary := e.cfg.Player.Binary
			if playerBinary == "" {
				playerBinary = "ffplay"
			}
			var activity screensaver.ActivityMonitor
			if e.cfg.Player.IdleCommand != "" {
				activity = &screensaver.CommandActivityMonitor{Binary: e.cfg.Player.IdleCommand}
			}

			comp := screensaver.New(screensaver.Config{
				StreamsPerView: perView,
				CycleInterval:  e.snap.CycleInterval,
				WorkDir:        e.stateDir,
			},
				screensaver.NewFFmpegEncoder(filepath.Join(e.stateDir, "encoder.log"), e.logger),
				screensaver.NewCommandPlayer(playerBinary, e.cfg.Player.Args, e.logger),
				screensaver.FIFOTransport{},
				activity,
				e.logger,
			)
			if err := comp.Initialize(streams); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sig
				comp.Stop()
			}()

			comp.Run()
			return nil
		},
	}
}

// selectStreams builds the rotation set: enabled cameras only,
// restricted to the configured allow-list when one is set.
func selectStreams(client *nvr.Client, cameras map[string]nvr.Camera, allowList string) []screensaver.Stream {
	allowed := map[string]bool{}
	for _, id := range settings.SplitList(allowList) {
		allowed[id] = true
	}

	ids := make([]string, 0, len(cameras))
	for id := range cameras {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	streams := make([]screensaver.Stream, 0, len(ids))
	for _, id := range ids {
		cam := cameras[id]
		if !cam.Enabled {
			continue
		}
		if len(allowed) > 0 && !allowed[id] {
			continue
		}
		streams = append(streams, screensaver.Stream{CameraID: id, URL: client.StreamURL(cam)})
	}
	return streams
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "inspect and edit runtime settings",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "print a setting",
				ArgsUsage: "<key>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: vigilo config get <key>", 1)
					}
					e, err := loadEnv(c)
					if err != nil {
						return err
					}
					defer e.close()

					value, err := e.store.Get(c.Args().First())
					if err != nil {
						return err
					}
					fmt.Println(value)
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "update a setting; the daemon picks it up on its next poll",
				ArgsUsage: "<key> <value>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return cli.Exit("usage: vigilo config set <key> <value>", 1)
					}
					e, err := loadEnv(c)
					if err != nil {
						return err
					}
					defer e.close()

					return e.store.Set(c.Args().Get(0), c.Args().Get(1))
				},
			},
		},
	}
}
