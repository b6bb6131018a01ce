package plugins

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is how many events a slow subscriber may lag
// before events are dropped for it
const DefaultSubscriberBuffer = 64

// tokenRecheckInterval is how often an open event stream re-validates the
// token it connected with
const tokenRecheckInterval = 30 * time.Second

// Event is one notification about sensor activity
type Event struct {
	Type   string      `json:"type"`
	Sensor string      `json:"sensor,omitempty"`
	Time   time.Time   `json:"time"`
	Data   interface{} `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time
func NewEvent(kind, sensorName string, data interface{}) Event {
	return Event{Type: kind, Sensor: sensorName, Time: time.Now(), Data: data}
}

// EventHub fans events out to subscribers. Publishing never blocks.
type EventHub struct {
	mu      sync.RWMutex
	subs    map[string]chan Event
	dropped atomic.Uint64
}

// NewEventHub creates an empty hub
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[string]chan Event)}
}

// Subscribe registers a new subscriber and returns its id and channel
func (h *EventHub) Subscribe(buffer int) (string, <-chan Event) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	id := uuid.New().String()
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel
func (h *EventHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish delivers e to every subscriber with room in its buffer
func (h *EventHub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
			slog.Debug("Event dropped for slow subscriber", "subscriber", id, "type", e.Type)
		}
	}
}

// Dropped returns how many deliveries were skipped for full buffers
func (h *EventHub) Dropped() uint64 {
	return h.dropped.Load()
}

// Subscribers returns the number of active subscribers
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops every subscriber
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// EventsConfig holds events plugin configuration
type EventsConfig struct {
	Buffer int        `yaml:"buffer"`
	MQTT   MQTTConfig `yaml:"mqtt"`
}

// EventsPlugin streams hub events over websocket and optionally MQTT
type EventsPlugin struct {
	config   EventsConfig
	hub      *EventHub
	mqtt     *MQTTBridge
	validate TokenValidator
}

// NewEventsPlugin creates a new events plugin instance
func NewEventsPlugin(cfg EventsConfig, env *Env) (*EventsPlugin, error) {
	if env == nil || env.Events == nil {
		return nil, fmt.Errorf("events plugin requires an event hub")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultSubscriberBuffer
	}

	p := &EventsPlugin{config: cfg, hub: env.Events, validate: env.ValidateToken}

	if cfg.MQTT.Broker != "" {
		bridge, err := NewMQTTBridge(cfg.MQTT, env.Events, env.dispatcher)
		if err != nil {
			return nil, err
		}
		if err := bridge.Start(); err != nil {
			return nil, err
		}
		p.mqtt = bridge
	}

	return p, nil
}

// Name returns the plugin identifier
func (p *EventsPlugin) Name() string {
	return "events"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *EventsPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/events")

	api.Use("/ws", p.upgrade)
	api.Get("/ws", websocket.New(p.handleWebSocket))
	api.Get("/status", p.handleStatus)
}

// Shutdown performs cleanup
func (p *EventsPlugin) Shutdown() error {
	if p.mqtt != nil {
		p.mqtt.Stop()
	}
	p.hub.Close()
	return nil
}

// upgrade rejects plain HTTP requests and remembers the token the stream
// was opened with
func (p *EventsPlugin) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return SendErrorMessage(c, fiber.StatusUpgradeRequired, "Websocket upgrade required")
	}
	token := c.Get("X-Auth-Token")
	if token == "" {
		token = c.Query("token")
	}
	c.Locals("token", token)
	return c.Next()
}

// handleWebSocket streams events until the client goes away or its login
// session ends
func (p *EventsPlugin) handleWebSocket(c *websocket.Conn) {
	id, events := p.hub.Subscribe(p.config.Buffer)
	defer p.hub.Unsubscribe(id)

	token, _ := c.Locals("token").(string)
	recheck := time.NewTicker(tokenRecheckInterval)
	defer recheck.Stop()

	slog.Info("Event subscriber connected", "subscriber", id)

	// Reader goroutine notices the client closing the connection
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := c.WriteJSON(NewEvent("hello", "", fiber.Map{"subscriber": id})); err != nil {
		return
	}

	for {
		select {
		case <-done:
			slog.Info("Event subscriber disconnected", "subscriber", id)
			return
		case <-recheck.C:
			if p.validate != nil && !p.validate(token) {
				slog.Info("Event subscriber session expired", "subscriber", id)
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(e); err != nil {
				return
			}
		}
	}
}

func (p *EventsPlugin) handleStatus(c *fiber.Ctx) error {
	status := map[string]interface{}{
		"subscribers": p.hub.Subscribers(),
		"dropped":     p.hub.Dropped(),
		"mqtt":        p.mqtt != nil,
	}
	if p.mqtt != nil {
		status["mqtt_broker"] = p.config.MQTT.Broker
		status["mqtt_connected"] = p.mqtt.Connected()
	}
	return SendSuccess(c, status, "")
}

// Register the plugin
func init() {
	Register("events", func(env *Env) (Plugin, error) {
		var cfg EventsConfig
		if err := decodeConfig(env.Config, &cfg); err != nil {
			return nil, fmt.Errorf("invalid config for events plugin: %w", err)
		}

		slog.Info("Events plugin config parsed",
			"buffer", cfg.Buffer,
			"mqtt_broker", cfg.MQTT.Broker,
			"mqtt_topic", cfg.MQTT.Topic)

		return NewEventsPlugin(cfg, env)
	})
}
