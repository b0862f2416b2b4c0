package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// Config holds Telegram notification settings.
type Config struct {
	Token           string
	ChatID          int64
	CooldownSeconds int
}

// Notifier pushes detection and service alerts to a Telegram chat.
// Detections are rate-limited per camera so a lingering object does
// not flood the chat; service alerts share a single cooldown slot.
type Notifier struct {
	mu         sync.Mutex
	token      string
	chatID     string
	apiBase    string
	httpClient *http.Client
	cooldown   time.Duration
	lastSent   map[string]time.Time
	now        func() time.Time
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

func New(cfg Config) *Notifier {
	cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}
	return &Notifier{
		token:      cfg.Token,
		chatID:     strconv.FormatInt(cfg.ChatID, 10),
		apiBase:    defaultAPIBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cooldown:   cooldown,
		lastSent:   make(map[string]time.Time),
		now:        time.Now,
	}
}

// Enabled reports whether a token and chat are configured. Callers
// skip notification work entirely when false.
func (n *Notifier) Enabled() bool {
	return n.token != "" && n.chatID != "0"
}

// SendDetection announces an accepted detection, attaching a snapshot
// when one is available. Returns without sending while the camera is
// in its cooldown window.
func (n *Notifier) SendDetection(ctx context.Context, camera, label string, snapshot []byte) error {
	if !n.Enabled() {
		return nil
	}
	if !n.tryAcquire("camera:" + camera) {
		return nil
	}

	caption := fmt.Sprintf("<b>%s</b> detected on <b>%s</b>\n%s",
		label, camera, n.now().Format("2 Jan 2006, 15:04:05"))

	if len(snapshot) > 0 {
		return n.sendPhoto(ctx, snapshot, caption)
	}
	return n.sendMessage(ctx, caption)
}

// SendServiceAlert reports a configuration or connectivity problem.
func (n *Notifier) SendServiceAlert(ctx context.Context, text string) error {
	if !n.Enabled() {
		return nil
	}
	if !n.tryAcquire("service") {
		return nil
	}
	return n.sendMessage(ctx, text)
}

func (n *Notifier) tryAcquire(slot string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	last, ok := n.lastSent[slot]
	if ok && n.now().Sub(last) < n.cooldown {
		return false
	}
	n.lastSent[slot] = n.now()
	return true
}

func (n *Notifier) sendMessage(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id":    n.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

func (n *Notifier) sendPhoto(ctx context.Context, photo []byte, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", n.chatID); err != nil {
		return err
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return err
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return err
		}
	}

	part, err := writer.CreateFormFile("photo", "snapshot.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(photo); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendPhoto", n.apiBase, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

func handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !api.OK {
		return fmt.Errorf("telegram API error %d: %s", api.ErrorCode, api.Description)
	}
	return nil
}
