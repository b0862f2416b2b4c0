package nvr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

const configPayload = `{
	"cameras": {
		"front_door": {
			"enabled": true,
			"ffmpeg": {"inputs": [{"path": "rtsp://127.0.0.1:8554/front_door"}]}
		},
		"garage": {
			"enabled": false,
			"ffmpeg": {"inputs": [{"path": "rtsp://10.0.0.5:8554/garage"}]}
		},
		"yard": {}
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "", "", zap.NewNop()), srv
}

func TestGetCameras(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/config" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(configPayload))
	})

	cameras, err := client.GetCameras(context.Background())
	if err != nil {
		t.Fatalf("GetCameras failed: %v", err)
	}
	if len(cameras) != 3 {
		t.Fatalf("expected 3 cameras, got %d", len(cameras))
	}

	front := cameras["front_door"]
	if !front.Enabled {
		t.Error("front_door should be enabled")
	}
	if front.RawStreamURL != "rtsp://127.0.0.1:8554/front_door" {
		t.Errorf("unexpected raw stream URL: %s", front.RawStreamURL)
	}
	if front.SnapshotURL != client.BaseURL()+"/api/front_door/latest.jpg" {
		t.Errorf("unexpected snapshot URL: %s", front.SnapshotURL)
	}
	if front.LiveURL != client.BaseURL()+"/api/front_door" {
		t.Errorf("unexpected live URL: %s", front.LiveURL)
	}

	if cameras["garage"].Enabled {
		t.Error("garage should be disabled")
	}

	// No enabled key and no inputs: defaults apply.
	yard := cameras["yard"]
	if !yard.Enabled {
		t.Error("yard should default to enabled")
	}
	if yard.RawStreamURL != "" {
		t.Errorf("yard should have no raw stream URL, got %s", yard.RawStreamURL)
	}
}

func TestGetCamerasMissingShape(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version": "0.14"}`))
	})

	cameras, err := client.GetCameras(context.Background())
	if err != nil {
		t.Fatalf("GetCameras failed: %v", err)
	}
	if len(cameras) != 0 {
		t.Fatalf("expected empty camera set, got %d", len(cameras))
	}
}

func TestStreamURLRewritesLoopback(t *testing.T) {
	client := NewClient("http://nvr.local:5000", "", "", zap.NewNop())

	cam := Camera{
		ID:           "front_door",
		LiveURL:      "http://nvr.local:5000/api/front_door",
		RawStreamURL: "rtsp://127.0.0.1:8554/front_door",
	}
	if got := client.StreamURL(cam); got != "rtsp://nvr.local:8554/front_door" {
		t.Errorf("expected loopback rewrite, got %s", got)
	}

	cam.RawStreamURL = "rtsp://localhost:8554/front_door"
	if got := client.StreamURL(cam); got != "rtsp://nvr.local:8554/front_door" {
		t.Errorf("expected localhost rewrite, got %s", got)
	}

	// Non-loopback raw URLs pass through untouched.
	cam.RawStreamURL = "rtsp://10.0.0.5:8554/front_door"
	if got := client.StreamURL(cam); got != "rtsp://10.0.0.5:8554/front_door" {
		t.Errorf("expected passthrough, got %s", got)
	}

	// No raw URL: MJPEG fallback.
	cam.RawStreamURL = ""
	if got := client.StreamURL(cam); got != cam.LiveURL {
		t.Errorf("expected MJPEG fallback, got %s", got)
	}
}

func TestBasicAuthForwarded(t *testing.T) {
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		w.Write([]byte(`{"cameras": {}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "viewer", "secret", zap.NewNop())
	if _, err := client.GetCameras(context.Background()); err != nil {
		t.Fatalf("GetCameras failed: %v", err)
	}
	if gotUser != "viewer" || gotPass != "secret" {
		t.Errorf("credentials not forwarded: %s/%s", gotUser, gotPass)
	}
}

func TestFetchSnapshot(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/front_door/latest.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte{0xFF, 0xD8, 0xFF})
	})

	data, err := client.FetchSnapshot(context.Background(), "front_door")
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
	if len(data) != 3 || data[0] != 0xFF {
		t.Errorf("unexpected snapshot bytes: %v", data)
	}

	if _, err := client.FetchSnapshot(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing camera snapshot")
	}
}
