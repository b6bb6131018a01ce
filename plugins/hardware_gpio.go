package plugins

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Power sequencing waits. The sensor needs 1 to 2ms around reset edges.
const (
	resetAssertDelay  = 1 * time.Millisecond
	resetReleaseDelay = 1 * time.Millisecond
)

// gpioLine is the part of *gpiocdev.Line the power sequencer drives
type gpioLine interface {
	SetValue(value int) error
	Value() (int, error)
	Close() error
}

// GPIOPower drives the sensor reset line and, when wired, the input clock
// enable. It implements sensor.PowerSequencer.
type GPIOPower struct {
	chip      *gpiocdev.Chip
	resetLine gpioLine
	clockLine gpioLine
	chipPath  string
	resetPin  int
	clockPin  int
	sleep     func(time.Duration)
}

// NewGPIOPower requests the reset line (held low) and the optional clock
// enable line. A negative clockPin means the clock is always running.
func NewGPIOPower(chipPath string, resetPin int, clockPin int) (*GPIOPower, error) {
	// Open GPIO chip
	chip, err := gpiocdev.NewChip(chipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", chipPath, err)
	}

	g := &GPIOPower{
		chip:     chip,
		chipPath: chipPath,
		resetPin: resetPin,
		clockPin: clockPin,
		sleep:    time.Sleep,
	}

	// Request the reset pin as output, initially low (sensor held in reset)
	resetLine, err := chip.RequestLine(
		resetPin,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("sensor-reset"),
	)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("failed to request reset pin %d: %w", resetPin, err)
	}
	g.resetLine = resetLine

	if clockPin >= 0 {
		clockLine, err := chip.RequestLine(
			clockPin,
			gpiocdev.AsOutput(0),
			gpiocdev.WithConsumer("sensor-mclk"),
		)
		if err != nil {
			resetLine.Close()
			chip.Close()
			return nil, fmt.Errorf("failed to request clock enable pin %d: %w", clockPin, err)
		}
		g.clockLine = clockLine
	}

	return g, nil
}

// PowerUp enables the clock and pulses reset low then high
func (g *GPIOPower) PowerUp() error {
	if g.resetLine == nil {
		return fmt.Errorf("reset line not initialized")
	}

	if g.clockLine != nil {
		if err := g.clockLine.SetValue(1); err != nil {
			return fmt.Errorf("failed to enable sensor clock: %w", err)
		}
	}

	if err := g.resetLine.SetValue(0); err != nil {
		return fmt.Errorf("failed to set reset pin LOW: %w", err)
	}
	g.sleep(resetAssertDelay)

	if err := g.resetLine.SetValue(1); err != nil {
		return fmt.Errorf("failed to set reset pin HIGH: %w", err)
	}
	g.sleep(resetReleaseDelay)

	return nil
}

// PowerDown puts the sensor back into reset and stops the clock
func (g *GPIOPower) PowerDown() error {
	if g.resetLine == nil {
		return fmt.Errorf("reset line not initialized")
	}

	if err := g.resetLine.SetValue(0); err != nil {
		return fmt.Errorf("failed to set reset pin LOW: %w", err)
	}
	g.sleep(resetAssertDelay)

	if g.clockLine != nil {
		if err := g.clockLine.SetValue(0); err != nil {
			return fmt.Errorf("failed to disable sensor clock: %w", err)
		}
	}

	return nil
}

// InReset reports whether the reset line is currently asserted
func (g *GPIOPower) InReset() (bool, error) {
	if g.resetLine == nil {
		return false, fmt.Errorf("reset line not initialized")
	}

	value, err := g.resetLine.Value()
	if err != nil {
		return false, fmt.Errorf("failed to read reset pin: %w", err)
	}

	return value == 0, nil
}

// Close releases all GPIO resources
func (g *GPIOPower) Close() error {
	var errs []error

	if g.clockLine != nil {
		if err := g.clockLine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close clock line: %w", err))
		}
		g.clockLine = nil
	}

	if g.resetLine != nil {
		if err := g.resetLine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close reset line: %w", err))
		}
		g.resetLine = nil
	}

	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close GPIO chip: %w", err))
		}
		g.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing GPIO: %v", errs)
	}

	return nil
}

// Info returns information about the GPIO lines
func (g *GPIOPower) Info() map[string]interface{} {
	info := map[string]interface{}{
		"path":      g.chipPath,
		"reset_pin": g.resetPin,
		"clock_pin": g.clockPin,
	}
	if g.chip != nil {
		info["name"] = g.chip.Name
		info["label"] = g.chip.Label
	}
	if inReset, err := g.InReset(); err == nil {
		info["in_reset"] = inReset
	}
	return info
}
