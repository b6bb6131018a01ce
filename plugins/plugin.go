package plugins

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"gopkg.in/yaml.v3"
)

// Plugin interface that all plugins must implement
type Plugin interface {
	// Name returns the plugin identifier
	Name() string

	// RegisterRoutes adds the plugin's HTTP routes to the app
	RegisterRoutes(app *fiber.App)

	// Shutdown performs cleanup when the plugin is stopped
	Shutdown() error
}

// Env is shared by all plugins of one process. Plugins loaded earlier may
// fill in fields that later plugins depend on.
type Env struct {
	// Config is the plugin's own section of config.yaml
	Config map[string]interface{}

	// Events carries sensor activity to websocket and MQTT subscribers
	Events *EventHub

	// Sensor is set once the sensor plugin has opened its hardware
	Sensor *SensorDevice

	// ValidateToken checks API tokens for endpoints that cannot use the
	// header based middleware
	ValidateToken TokenValidator
}

// PluginFactory creates a new plugin instance
type PluginFactory func(env *Env) (Plugin, error)

var registry = make(map[string]PluginFactory)

// Register adds a plugin factory to the registry
func Register(name string, factory PluginFactory) {
	registry[name] = factory
}

// Get retrieves a plugin factory by name
func Get(name string) (PluginFactory, bool) {
	factory, exists := registry[name]
	return factory, exists
}

// TokenValidator is a function type for validating authentication tokens
type TokenValidator func(token string) bool

// decodeConfig fills out from a generic plugin config section. Fields
// missing from raw keep the values already set in out.
func decodeConfig(raw map[string]interface{}, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode plugin config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode plugin config: %w", err)
	}
	return nil
}
