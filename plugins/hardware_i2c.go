package plugins

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// I2CDevice is the two-wire link to one sensor using periph.io
type I2CDevice struct {
	bus    i2c.BusCloser
	dev    *i2c.Dev
	name   string
	speed  physic.Frequency
	closed bool
}

// NewI2CDevice opens the named bus and binds the sensor address. addr is
// the 8-bit write address from the datasheet; periph.io wants the 7-bit
// form.
func NewI2CDevice(busName string, addr uint16, speed uint32) (*I2CDevice, error) {
	// Initialize periph.io host
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", busName, err)
	}

	freq := physic.Frequency(speed) * physic.Hertz
	if speed > 0 {
		if err := bus.SetSpeed(freq); err != nil {
			bus.Close()
			return nil, fmt.Errorf("failed to set I2C bus speed %s: %w", freq, err)
		}
	}

	return &I2CDevice{
		bus:   bus,
		dev:   &i2c.Dev{Bus: bus, Addr: addr >> 1},
		name:  busName,
		speed: freq,
	}, nil
}

// Tx runs one bus transaction. A non-empty r turns it into a combined
// write-then-read with a repeated start.
func (d *I2CDevice) Tx(w, r []byte) error {
	if d.closed {
		return fmt.Errorf("I2C bus %s closed", d.name)
	}
	return d.dev.Tx(w, r)
}

// Close releases the bus
func (d *I2CDevice) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.bus.Close()
}

// Info describes the link for status output
func (d *I2CDevice) Info() map[string]interface{} {
	return map[string]interface{}{
		"bus":     d.name,
		"address": fmt.Sprintf("0x%02X", d.dev.Addr),
		"speed":   d.speed.String(),
		"open":    !d.closed,
	}
}
