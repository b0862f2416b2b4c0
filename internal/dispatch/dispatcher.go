package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"go.uber.org/zap"
)

// Callback receives each event that passed the full filter chain. It is
// invoked synchronously, exactly once per accepted event, from the broker
// client's delivery goroutine.
type Callback func(camera, label string, raw []byte)

// Config holds the broker connection parameters for a Dispatcher.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
}

// Dispatcher maintains the event bus subscription, filters incoming
// detection events and invokes the display callback for accepted ones.
//
// Reconnection after a transport drop is delegated to the client
// library's auto-reconnect; the Dispatcher only reports IsConnected so
// the reconciliation loop can decide to rebuild it. Event delivery is
// at-most-once: nothing is retried.
type Dispatcher struct {
	cfg      Config
	callback Callback
	logger   *zap.Logger

	client mqtt.Client

	mu        sync.RWMutex
	filters   FilterConfig
	connected bool
}

// NewDispatcher creates a dispatcher. Connect must be called before any
// events are delivered.
func NewDispatcher(cfg Config, callback Callback, logger *zap.Logger) *Dispatcher {
	if cfg.ClientID == "" {
		cfg.ClientID = "vigilo-dispatch"
	}
	return &Dispatcher{
		cfg:      cfg,
		callback: callback,
		logger:   logger,
	}
}

// SetFilters atomically replaces the active filter set without touching
// the broker connection.
func (d *Dispatcher) SetFilters(filters FilterConfig) {
	normalized := filters.normalize()

	d.mu.Lock()
	d.filters = normalized
	d.mu.Unlock()

	cameras := "all"
	if len(normalized.Cameras) > 0 {
		cameras = fmt.Sprintf("%v", normalized.Cameras)
	}
	d.logger.Info("event filters set",
		zap.Strings("objects", normalized.Objects),
		zap.Float64("min_confidence", normalized.MinConfidence),
		zap.Bool("new_only", normalized.NewOnly),
		zap.String("cameras", cameras))
}

// Connect establishes the broker connection and subscribes to the events
// topic. The subscription is re-established by the OnConnect handler
// after every automatic reconnect.
func (d *Dispatcher) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", d.cfg.Host, d.cfg.Port))
	opts.SetClientID(d.cfg.ClientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	// Handlers must run one at a time so filter evaluation and the
	// display callback are never concurrent for this subscription.
	opts.SetOrderMatters(true)

	if d.cfg.Username != "" {
		opts.SetUsername(d.cfg.Username)
		opts.SetPassword(d.cfg.Password)
	}

	topic := fmt.Sprintf("%s/events", d.cfg.TopicPrefix)

	opts.OnConnect = func(c mqtt.Client) {
		d.setConnected(true)
		d.logger.Info("connected to event broker",
			zap.String("host", d.cfg.Host),
			zap.Int("port", d.cfg.Port))

		token := c.Subscribe(topic, 0, d.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			d.logger.Error("subscribe failed",
				zap.String("topic", topic),
				zap.Error(err))
			return
		}
		d.logger.Info("subscribed to events topic", zap.String("topic", topic))
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		d.setConnected(false)
		d.logger.Warn("event broker connection lost, auto-reconnect pending",
			zap.Error(err))
	}

	d.client = mqtt.NewClient(opts)

	d.logger.Info("connecting to event broker",
		zap.String("host", d.cfg.Host),
		zap.Int("port", d.cfg.Port))

	token := d.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("broker connection timeout")
	}
	if err := token.Error(); err != nil {
		d.logger.Error("broker connection failed",
			zap.String("reason", connectFailureReason(err)),
			zap.Error(err))
		return fmt.Errorf("broker connection failed: %w", err)
	}

	return nil
}

// onMessage decodes, filters and dispatches one event bus message.
// Malformed payloads are dropped with a log line.
func (d *Dispatcher) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ev, err := decodeEvent(msg.Payload())
	if err != nil {
		d.logger.Error("dropping malformed event", zap.Error(err))
		return
	}

	d.mu.RLock()
	filters := d.filters
	d.mu.RUnlock()

	d.logger.Debug("received event",
		zap.String("type", string(ev.Type)),
		zap.String("camera", ev.Camera),
		zap.String("object", ev.Label),
		zap.Float64("confidence", ev.Score))

	if reason := filters.Evaluate(ev); reason != Accepted {
		d.logger.Debug("skipping event",
			zap.String("camera", ev.Camera),
			zap.String("object", ev.Label),
			zap.String("reason", reason.String()))
		return
	}

	d.logger.Info("triggering display",
		zap.String("camera", ev.Camera),
		zap.String("object", ev.Label))

	if d.callback != nil {
		d.callback(ev.Camera, ev.Label, ev.Raw)
	}
}

// IsConnected reports whether the broker session is currently up.
func (d *Dispatcher) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// Close stops the subscription and disconnects from the broker.
func (d *Dispatcher) Close() {
	if d.client != nil && d.client.IsConnected() {
		d.client.Disconnect(250)
	}
	d.setConnected(false)
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) setConnected(connected bool) {
	d.mu.Lock()
	d.connected = connected
	d.mu.Unlock()
}

// connectFailureReason maps broker CONNACK refusals to a stable reason
// string so authentication problems are distinguishable from outages.
func connectFailureReason(err error) string {
	switch {
	case errors.Is(err, packets.ErrorRefusedBadProtocolVersion):
		return "incorrect protocol version"
	case errors.Is(err, packets.ErrorRefusedIDRejected):
		return "invalid client identifier"
	case errors.Is(err, packets.ErrorRefusedServerUnavailable):
		return "server unavailable"
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword):
		return "bad username or password"
	case errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return "not authorized"
	default:
		return "transport error"
	}
}
