package plugins

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/linht/sensor-manager/sensor"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttQuiesceMillis  = 250
)

// MQTTConfig holds the broker settings for event publishing
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	// Commands subscribes to <topic>/command/<op> and runs requests
	// through the sensor dispatcher
	Commands bool `yaml:"commands"`
}

// Dispatcher runs one sensor request
type Dispatcher func(req sensor.Request) (sensor.Response, error)

// MQTTBridge publishes hub events to a broker and optionally accepts
// commands from it
type MQTTBridge struct {
	config   MQTTConfig
	client   mqtt.Client
	hub      *EventHub
	dispatch Dispatcher
	subID    string
	wg       sync.WaitGroup
}

// NewMQTTBridge prepares a client; Start connects it
func NewMQTTBridge(cfg MQTTConfig, hub *EventHub, dispatch Dispatcher) (*MQTTBridge, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "sensor-manager"
	}
	if cfg.Topic == "" {
		cfg.Topic = "sensor-manager"
	}
	cfg.Topic = strings.TrimSuffix(cfg.Topic, "/")
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err)
	})

	return &MQTTBridge{
		config:   cfg,
		client:   mqtt.NewClient(opts),
		hub:      hub,
		dispatch: dispatch,
	}, nil
}

// Start connects to the broker and begins forwarding events
func (b *MQTTBridge) Start() error {
	token := b.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("timed out connecting to mqtt broker %s", b.config.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker %s: %w", b.config.Broker, err)
	}
	slog.Info("MQTT connected", "broker", b.config.Broker, "client_id", b.config.ClientID)

	if b.config.Commands && b.dispatch != nil {
		topic := b.config.Topic + "/command/+"
		token := b.client.Subscribe(topic, b.config.QoS, b.handleCommand)
		if token.Wait() && token.Error() != nil {
			b.client.Disconnect(mqttQuiesceMillis)
			return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
		}
		slog.Info("MQTT command topic subscribed", "topic", topic)
	}

	id, events := b.hub.Subscribe(0)
	b.subID = id
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for e := range events {
			b.publish(e)
		}
	}()

	return nil
}

// Stop detaches from the hub and disconnects
func (b *MQTTBridge) Stop() {
	if b.subID != "" {
		b.hub.Unsubscribe(b.subID)
		b.wg.Wait()
		b.subID = ""
	}
	b.client.Disconnect(mqttQuiesceMillis)
}

// Connected reports the client connection state
func (b *MQTTBridge) Connected() bool {
	return b.client.IsConnected()
}

func (b *MQTTBridge) publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Error("Failed to encode event", "type", e.Type, "error", err)
		return
	}
	b.client.Publish(eventTopic(b.config.Topic, e), b.config.QoS, false, payload)
}

func (b *MQTTBridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	op := strings.TrimPrefix(msg.Topic(), b.config.Topic+"/command/")
	result := runCommand(b.dispatch, op, msg.Payload())

	payload, err := json.Marshal(result)
	if err != nil {
		slog.Error("Failed to encode command result", "op", op, "error", err)
		return
	}
	b.client.Publish(b.config.Topic+"/result/"+op, b.config.QoS, false, payload)
}

// eventTopic places events under <prefix>/events/<sensor>/<type>
func eventTopic(prefix string, e Event) string {
	if e.Sensor == "" {
		return prefix + "/events/" + e.Type
	}
	return prefix + "/events/" + e.Sensor + "/" + e.Type
}

// runCommand decodes and dispatches one command message. An empty payload
// is a request without arguments.
func runCommand(dispatch Dispatcher, opName string, payload []byte) APIResponse {
	op, err := sensor.ParseOpcode(opName)
	if err != nil {
		return APIResponse{Success: false, Error: err.Error()}
	}

	var req sensor.Request
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return APIResponse{Success: false, Error: fmt.Sprintf("invalid payload: %v", err)}
		}
	}
	req.Op = op

	resp, err := dispatch(req)
	if err != nil {
		slog.Warn("MQTT command failed", "op", opName, "error", err)
		return APIResponse{Success: false, Error: err.Error()}
	}
	return APIResponse{Success: true, Data: resp}
}
