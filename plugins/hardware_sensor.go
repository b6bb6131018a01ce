package plugins

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/linht/sensor-manager/sensor"
	"periph.io/x/conn/v3/physic"
)

// Event types raised by the sensor device
const (
	EventSessionOpened   = "session_opened"
	EventSessionReleased = "session_released"
	EventCommand         = "command"
	EventStream          = "stream"
	EventInspection      = "inspection_attached"
)

var errInspectionDetached = errors.New("stream inspection not attached: run sensor_init first")

// SensorConfig holds the hardware wiring of one sensor
type SensorConfig struct {
	Descriptor   string `yaml:"descriptor" json:"descriptor"`
	I2CBus       string `yaml:"i2c_bus" json:"i2c_bus"`
	I2CSpeed     uint32 `yaml:"i2c_speed" json:"i2c_speed"`
	GPIOChip     string `yaml:"gpio_chip" json:"gpio_chip"`
	ResetPin     int    `yaml:"reset_pin" json:"reset_pin"`
	ClockPin     int    `yaml:"clock_pin" json:"clock_pin"`
	ClockFreq    uint32 `yaml:"clock_freq" json:"clock_freq"`
	ProbeOnStart bool   `yaml:"probe_on_start" json:"probe_on_start"`
	Inspection   bool   `yaml:"inspection" json:"inspection"`
}

// Inspector is the manual stream toggle. The controller hands it a toggler
// when the sensor is initialised.
type Inspector struct {
	mu      sync.Mutex
	toggler sensor.StreamToggler
	events  *EventHub
}

// Attach implements sensor.Diagnostics. It runs with the session lock held
// and must not call back into the toggler.
func (i *Inspector) Attach(sensorName string, t sensor.StreamToggler) {
	i.mu.Lock()
	first := i.toggler == nil
	i.toggler = t
	i.mu.Unlock()

	if first && i.events != nil {
		i.events.Publish(NewEvent(EventInspection, sensorName, nil))
	}
}

// Attached reports whether a toggler has been handed over
func (i *Inspector) Attached() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.toggler != nil
}

// Toggle starts or stops streaming through the session lock
func (i *Inspector) Toggle(on bool) error {
	i.mu.Lock()
	t := i.toggler
	i.mu.Unlock()

	if t == nil {
		return errInspectionDetached
	}
	return t.SetStream(on)
}

// SensorDevice composes the bus link, power sequencing and video
// interface around one sensor controller
type SensorDevice struct {
	ctrl      *sensor.Controller
	link      sensor.Transport
	power     sensor.PowerSequencer
	csi       *CSIConfigurator
	inspect   *Inspector
	events    *EventHub
	clockFreq uint32
	closers   []io.Closer
}

// OpenSensorDevice loads the descriptor and opens the hardware it names
func OpenSensorDevice(cfg SensorConfig, events *EventHub) (*SensorDevice, error) {
	desc, err := sensor.LoadDescriptor(cfg.Descriptor)
	if err != nil {
		return nil, err
	}

	link, err := NewI2CDevice(cfg.I2CBus, desc.I2CAddress, cfg.I2CSpeed)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize I2C: %w", err)
	}
	closers := []io.Closer{link}

	var power sensor.PowerSequencer
	if cfg.GPIOChip != "" {
		gpio, err := NewGPIOPower(cfg.GPIOChip, cfg.ResetPin, cfg.ClockPin)
		if err != nil {
			link.Close()
			return nil, fmt.Errorf("failed to initialize GPIO: %w", err)
		}
		power = gpio
		closers = append(closers, gpio)
	}

	dev, err := newSensorDevice(desc, link, power, events, cfg.Inspection)
	if err != nil {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}
	dev.clockFreq = cfg.ClockFreq
	dev.closers = closers
	return dev, nil
}

func newSensorDevice(desc *sensor.Descriptor, link sensor.Transport, power sensor.PowerSequencer,
	events *EventHub, inspection bool, opts ...sensor.Option) (*SensorDevice, error) {
	d := &SensorDevice{
		link:   link,
		power:  power,
		csi:    NewCSIConfigurator(desc.Name, events),
		events: events,
	}

	all := []sensor.Option{
		sensor.WithLogger(slog.Default().With("sensor", desc.Name)),
		sensor.WithInterface(d.csi),
	}
	if power != nil {
		all = append(all, sensor.WithPower(power))
	}
	if inspection {
		d.inspect = &Inspector{events: events}
		all = append(all, sensor.WithDiagnostics(d.inspect))
	}
	all = append(all, opts...)

	ctrl, err := sensor.NewController(desc, link, all...)
	if err != nil {
		return nil, err
	}
	d.ctrl = ctrl
	return d, nil
}

// Controller returns the underlying mode controller
func (d *SensorDevice) Controller() *sensor.Controller {
	return d.ctrl
}

// Name returns the sensor name
func (d *SensorDevice) Name() string {
	return d.ctrl.Name()
}

// Open powers up the sensor and starts a session
func (d *SensorDevice) Open() error {
	if err := d.ctrl.Open(); err != nil {
		return err
	}
	st, _ := d.ctrl.Snapshot()
	d.publish(EventSessionOpened, map[string]interface{}{"session": st.ID})
	return nil
}

// Release ends the session and powers the sensor down
func (d *SensorDevice) Release() error {
	st, open := d.ctrl.Snapshot()
	if err := d.ctrl.Release(); err != nil {
		return err
	}
	if open {
		d.publish(EventSessionReleased, map[string]interface{}{"session": st.ID})
	}
	return nil
}

// Dispatch runs one configuration request and announces the outcome
func (d *SensorDevice) Dispatch(req sensor.Request) (sensor.Response, error) {
	resp, err := d.ctrl.Dispatch(req)

	data := map[string]interface{}{"op": req.Op.String(), "success": err == nil}
	if err != nil {
		data["error"] = err.Error()
	}
	d.publish(EventCommand, data)
	return resp, err
}

// SetStream toggles streaming through the inspection hook
func (d *SensorDevice) SetStream(on bool) error {
	if d.inspect == nil {
		return errInspectionDetached
	}
	if err := d.inspect.Toggle(on); err != nil {
		return err
	}
	d.publish(EventStream, map[string]interface{}{"on": on})
	return nil
}

// ReadRegister reads one register under the session lock
func (d *SensorDevice) ReadRegister(addr uint16, dw sensor.DataWidth) (uint16, error) {
	scope := d.ctrl.Acquire()
	defer scope.Close()
	return scope.ReadRegister(addr, dw)
}

// WriteRegister writes one register under the session lock
func (d *SensorDevice) WriteRegister(addr, value uint16, dw sensor.DataWidth) error {
	scope := d.ctrl.Acquire()
	defer scope.Close()
	return scope.WriteRegister(addr, value, dw)
}

// RegisterValue is one entry of a register dump
type RegisterValue struct {
	Address     string `json:"address"`
	Value       string `json:"value"`
	ValueDec    uint16 `json:"value_dec"`
	Description string `json:"description"`
}

// DumpRegisters reads every known CCI register in one locked pass. The
// first failing read ends the dump.
func (d *SensorDevice) DumpRegisters() ([]RegisterValue, error) {
	scope := d.ctrl.Acquire()
	defer scope.Close()

	regs := make([]RegisterValue, 0, len(RegisterDumpOrder))
	for _, addr := range RegisterDumpOrder {
		info := RegisterDescriptions[addr]
		value, err := scope.ReadRegister(addr, sensor.DataWidth(info.Width))
		if err != nil {
			return regs, err
		}
		regs = append(regs, RegisterValue{
			Address:     fmt.Sprintf("0x%04X", addr),
			Value:       fmt.Sprintf("0x%0*X", int(info.Width)*2, value),
			ValueDec:    value,
			Description: info.Name,
		})
	}
	return regs, nil
}

// Status summarises the session and the hardware around it
func (d *SensorDevice) Status() map[string]interface{} {
	status := map[string]interface{}{
		"sensor": d.ctrl.Name(),
		"csi":    d.csi.State(),
	}

	if st, open := d.ctrl.Snapshot(); open {
		status["open"] = true
		status["session"] = st
	} else {
		status["open"] = false
	}

	if d.inspect != nil {
		status["inspection"] = d.inspect.Attached()
	}
	if info, ok := d.link.(interface{ Info() map[string]interface{} }); ok {
		status["link"] = info.Info()
	}
	if info, ok := d.power.(interface{ Info() map[string]interface{} }); ok {
		status["power"] = info.Info()
	}
	if d.clockFreq > 0 {
		status["clock_freq"] = (physic.Frequency(d.clockFreq) * physic.Hertz).String()
	}
	return status
}

// Close releases the session and all hardware handles
func (d *SensorDevice) Close() error {
	var errs []error

	if err := d.Release(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil

	return errors.Join(errs...)
}

func (d *SensorDevice) publish(kind string, data interface{}) {
	if d.events != nil {
		d.events.Publish(NewEvent(kind, d.ctrl.Name(), data))
	}
}

// dispatcher routes requests to whichever sensor is loaded at call time
func (e *Env) dispatcher(req sensor.Request) (sensor.Response, error) {
	if e.Sensor == nil {
		return sensor.Response{}, fmt.Errorf("no sensor loaded: %w", sensor.ErrSessionClosed)
	}
	return e.Sensor.Dispatch(req)
}
