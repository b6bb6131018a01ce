package plugins

import (
	"log/slog"
	"sync"

	"github.com/linht/sensor-manager/sensor"
)

// Event types raised while the video interface is reprogrammed
const (
	EventCSIDConfig   = "csid_config"
	EventCIDChanged   = "cid_changed"
	EventCSIPhyConfig = "csiphy_config"
)

// CSIState is the interface configuration last applied to the receiver
type CSIState struct {
	Logical  *sensor.CSIDParams   `json:"csid,omitempty"`
	Physical *sensor.CSIPhyParams `json:"csiphy,omitempty"`
	Changes  int                  `json:"changes"`
}

// CSIConfigurator stands in for the host receiver. It keeps the applied
// parameters for status output and announces every step on the event hub.
type CSIConfigurator struct {
	mu     sync.Mutex
	state  CSIState
	sensor string
	events *EventHub
}

// NewCSIConfigurator creates a configurator reporting for the named sensor
func NewCSIConfigurator(sensorName string, events *EventHub) *CSIConfigurator {
	return &CSIConfigurator{sensor: sensorName, events: events}
}

// ConfigureLogical applies the capture identifier parameters
func (c *CSIConfigurator) ConfigureLogical(p sensor.CSIDParams) error {
	c.mu.Lock()
	c.state.Logical = &p
	c.mu.Unlock()

	slog.Debug("CSID configured", "sensor", c.sensor, "lanes", p.LaneCount, "format", p.DataFormat)
	c.publish(EventCSIDConfig, p)
	return nil
}

// NotifyConfigChanged tells downstream consumers the stream identifiers moved
func (c *CSIConfigurator) NotifyConfigChanged() {
	c.mu.Lock()
	c.state.Changes++
	changes := c.state.Changes
	c.mu.Unlock()

	c.publish(EventCIDChanged, map[string]interface{}{"changes": changes})
}

// ConfigurePhysical applies the PHY parameters
func (c *CSIConfigurator) ConfigurePhysical(p sensor.CSIPhyParams) error {
	c.mu.Lock()
	c.state.Physical = &p
	c.mu.Unlock()

	slog.Debug("CSIPHY configured", "sensor", c.sensor, "lanes", p.LaneCount, "settle", p.SettleCount)
	c.publish(EventCSIPhyConfig, p)
	return nil
}

// State returns a copy of the applied configuration
func (c *CSIConfigurator) State() CSIState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CSIConfigurator) publish(kind string, data interface{}) {
	if c.events != nil {
		c.events.Publish(NewEvent(kind, c.sensor, data))
	}
}
