package nvr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Camera describes one camera discovered from the NVR configuration.
// Instances are rebuilt on every discovery call and never mutated.
type Camera struct {
	ID           string
	Enabled      bool
	SnapshotURL  string
	LiveURL      string
	RawStreamURL string // first configured input path, usually RTSP
}

// Client talks to the NVR HTTP API to discover cameras and fetch snapshots.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an NVR API client. Credentials may be empty.
func NewClient(baseURL, username, password string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// BaseURL returns the configured NVR base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// nvrConfig mirrors the subset of the NVR /api/config response we consume.
type nvrConfig struct {
	Cameras map[string]cameraConfig `json:"cameras"`
}

type cameraConfig struct {
	Enabled *bool `json:"enabled"`
	FFmpeg  struct {
		Inputs []struct {
			Path string `json:"path"`
		} `json:"inputs"`
	} `json:"ffmpeg"`
}

// GetCameras queries the NVR configuration endpoint and builds the camera
// map. An unexpected response shape yields an empty map, not an error.
func (c *Client) GetCameras(ctx context.Context) (map[string]Camera, error) {
	body, err := c.get(ctx, "/api/config")
	if err != nil {
		return nil, err
	}

	var cfg nvrConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("decode NVR config: %w", err)
	}

	cameras := make(map[string]Camera, len(cfg.Cameras))
	for name, cam := range cfg.Cameras {
		enabled := true
		if cam.Enabled != nil {
			enabled = *cam.Enabled
		}

		info := Camera{
			ID:          name,
			Enabled:     enabled,
			SnapshotURL: c.SnapshotURL(name),
			LiveURL:     c.LiveURL(name),
		}
		if len(cam.FFmpeg.Inputs) > 0 {
			info.RawStreamURL = cam.FFmpeg.Inputs[0].Path
		}

		cameras[name] = info
		c.logger.Debug("discovered camera",
			zap.String("camera", name),
			zap.Bool("enabled", enabled))
	}

	return cameras, nil
}

// SnapshotURL returns the point-in-time image endpoint for a camera.
func (c *Client) SnapshotURL(camera string) string {
	return fmt.Sprintf("%s/api/%s/latest.jpg", c.baseURL, camera)
}

// LiveURL returns the continuous MJPEG endpoint for a camera.
func (c *Client) LiveURL(camera string) string {
	return fmt.Sprintf("%s/api/%s", c.baseURL, camera)
}

// StreamURL resolves the best playable stream for a camera: the raw RTSP
// URL when configured, falling back to the MJPEG endpoint. Loopback hosts
// in the raw URL are rewritten to the NVR host, since they are only valid
// from the NVR's own machine.
func (c *Client) StreamURL(cam Camera) string {
	stream := cam.RawStreamURL

	if stream != "" && (strings.Contains(stream, "127.0.0.1") || strings.Contains(stream, "localhost")) {
		if host := c.hostname(); host != "" {
			rewritten := strings.ReplaceAll(stream, "127.0.0.1", host)
			rewritten = strings.ReplaceAll(rewritten, "localhost", host)
			c.logger.Debug("rewrote loopback stream URL",
				zap.String("camera", cam.ID),
				zap.String("url", rewritten))
			stream = rewritten
		}
	}

	if stream == "" {
		stream = cam.LiveURL
	}
	return stream
}

// FetchSnapshot downloads the latest still image for a camera.
func (c *Client) FetchSnapshot(ctx context.Context, camera string) ([]byte, error) {
	return c.get(ctx, fmt.Sprintf("/api/%s/latest.jpg", camera))
}

func (c *Client) hostname() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	reqURL := c.baseURL + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", endpoint, err)
	}
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
