package plugins

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/sensor-manager/sensor"
)

// SensorPlugin exposes the sensor control plane over REST.
// The device stays open for the lifetime of the process; every request
// goes through the controller's session lock.
type SensorPlugin struct {
	config SensorConfig
	device *SensorDevice
}

// NewSensorPlugin opens the configured sensor and publishes it in env
func NewSensorPlugin(cfg SensorConfig, env *Env) (*SensorPlugin, error) {
	if cfg.Descriptor == "" {
		return nil, fmt.Errorf("descriptor is required in sensor plugin configuration")
	}
	if cfg.I2CBus == "" {
		return nil, fmt.Errorf("i2c_bus is required in sensor plugin configuration")
	}
	if cfg.I2CSpeed == 0 {
		cfg.I2CSpeed = 400000 // Default 400 kHz fast mode
	}
	if cfg.ClockFreq == 0 {
		cfg.ClockFreq = 24000000 // Default 24 MHz
	}

	slog.Info("Sensor plugin initializing",
		"descriptor", cfg.Descriptor,
		"i2c_bus", cfg.I2CBus,
		"i2c_speed", cfg.I2CSpeed,
		"gpio_chip", cfg.GPIOChip,
		"reset_pin", cfg.ResetPin,
		"clock_pin", cfg.ClockPin,
		"clock_freq", cfg.ClockFreq)

	device, err := OpenSensorDevice(cfg, env.Events)
	if err != nil {
		return nil, err
	}

	if cfg.ProbeOnStart {
		if err := device.Controller().Probe(); err != nil {
			device.Close()
			return nil, fmt.Errorf("sensor probe failed: %w", err)
		}
		slog.Info("Sensor probed", "sensor", device.Name())
	}

	env.Sensor = device
	return &SensorPlugin{config: cfg, device: device}, nil
}

// Name returns the plugin identifier
func (p *SensorPlugin) Name() string {
	return "sensor"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *SensorPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/sensor")

	// Session control endpoints
	api.Post("/open", p.handleOpen)
	api.Post("/release", p.handleRelease)
	api.Post("/probe", p.handleProbe)
	api.Get("/status", p.handleStatus)
	api.Get("/info", p.handleInfo)

	// Capabilities
	api.Get("/formats", p.handleFormats)
	api.Get("/output", p.handleOutput)

	// Command surface
	api.Get("/commands", p.handleCommands)
	api.Post("/command/:op", p.handleCommand)

	// Register access endpoints
	api.Get("/register/:addr", p.handleReadRegister)
	api.Post("/register/:addr", p.handleWriteRegister)
	api.Get("/registers", p.handleReadAllRegisters)

	// Manual stream toggle
	api.Post("/stream", p.handleStream)

	slog.Info("Sensor plugin routes registered")
}

// Shutdown performs cleanup
func (p *SensorPlugin) Shutdown() error {
	return p.device.Close()
}

// Session control handlers

func (p *SensorPlugin) handleOpen(c *fiber.Ctx) error {
	if err := p.device.Open(); err != nil {
		slog.Error("Failed to open sensor session", "error", err)
		return SendSensorError(c, err)
	}

	st, _ := p.device.Controller().Snapshot()
	slog.Info("Sensor session opened", "session", st.ID)
	return SendSuccess(c, map[string]interface{}{
		"session": st.ID,
	}, "Sensor session opened")
}

func (p *SensorPlugin) handleRelease(c *fiber.Ctx) error {
	if err := p.device.Release(); err != nil {
		slog.Error("Failed to release sensor session", "error", err)
		return SendSensorError(c, err)
	}

	return SendSuccess(c, nil, "Sensor session released")
}

func (p *SensorPlugin) handleProbe(c *fiber.Ctx) error {
	if err := p.device.Controller().Probe(); err != nil {
		slog.Warn("Sensor probe failed", "error", err)
		return SendSensorError(c, err)
	}

	desc := p.device.Controller().Descriptor()
	return SendSuccess(c, map[string]interface{}{
		"sensor":  desc.Name,
		"chip_id": fmt.Sprintf("0x%04X", desc.ChipID),
	}, "Sensor identified")
}

func (p *SensorPlugin) handleStatus(c *fiber.Ctx) error {
	return SendSuccess(c, p.device.Status(), "")
}

func (p *SensorPlugin) handleInfo(c *fiber.Ctx) error {
	desc := p.device.Controller().Descriptor()
	return SendSuccess(c, map[string]interface{}{
		"config":            p.config,
		"sensor":            desc.Name,
		"i2c_address":       fmt.Sprintf("0x%02X", desc.I2CAddress),
		"address_width":     desc.AddressWidth.String(),
		"data_width":        desc.DataWidth.String(),
		"resolutions":       desc.NumResolutions(),
		"exposure_strategy": desc.ExposureStrategy,
	}, "")
}

func (p *SensorPlugin) handleFormats(c *fiber.Ctx) error {
	ctrl := p.device.Controller()

	formats := make([]sensor.Format, 0)
	for i := 0; ; i++ {
		f, err := ctrl.EnumFormat(i)
		if err != nil {
			break
		}
		formats = append(formats, f)
	}

	return SendSuccess(c, map[string]interface{}{
		"formats": formats,
		"count":   len(formats),
	}, "")
}

func (p *SensorPlugin) handleOutput(c *fiber.Ctx) error {
	desc := p.device.Controller().Descriptor()

	out := make([]map[string]interface{}, 0, desc.NumResolutions())
	for i, r := range desc.Resolutions {
		out = append(out, map[string]interface{}{
			"index":     i,
			"name":      r.Name,
			"output":    r.Output,
			"interface": desc.InterfaceParams[r.Interface].Name,
		})
	}

	return SendSuccess(c, map[string]interface{}{
		"resolutions": out,
	}, "")
}

// Command handlers

func (p *SensorPlugin) handleCommands(c *fiber.Ctx) error {
	ops := sensor.Opcodes()
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.String()
	}
	return SendSuccess(c, map[string]interface{}{
		"commands": names,
	}, "")
}

func (p *SensorPlugin) handleCommand(c *fiber.Ctx) error {
	op, err := sensor.ParseOpcode(c.Params("op"))
	if err != nil {
		return SendSensorError(c, err)
	}

	var req sensor.Request
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return SendErrorMessage(c, 400, "Invalid request body")
		}
	}
	req.Op = op

	resp, err := p.device.Dispatch(req)
	if err != nil {
		slog.Warn("Sensor command failed", "op", op, "error", err)
		return SendSensorError(c, err)
	}

	slog.Debug("Sensor command", "op", op)
	return SendSuccess(c, resp, "")
}

// Register access handlers

func (p *SensorPlugin) handleReadRegister(c *fiber.Ctx) error {
	addr, err := parseRegisterAddress(c.Params("addr"))
	if err != nil {
		return SendErrorMessage(c, 400, "Invalid register address")
	}
	dw, err := p.registerWidth(addr, c.Query("width"))
	if err != nil {
		return SendSensorError(c, err)
	}

	value, err := p.device.ReadRegister(addr, dw)
	if err != nil {
		return SendSensorError(c, err)
	}

	desc := RegisterDescriptions[addr].Name
	if desc == "" {
		desc = "Unknown register"
	}

	return SendSuccess(c, map[string]interface{}{
		"address":     fmt.Sprintf("0x%04X", addr),
		"value":       fmt.Sprintf("0x%0*X", int(dw)*2, value),
		"value_dec":   value,
		"width":       dw.String(),
		"description": desc,
	}, "")
}

func (p *SensorPlugin) handleWriteRegister(c *fiber.Ctx) error {
	addr, err := parseRegisterAddress(c.Params("addr"))
	if err != nil {
		return SendErrorMessage(c, 400, "Invalid register address")
	}

	var req struct {
		Value uint16 `json:"value"`
		Width string `json:"width"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}
	dw, err := p.registerWidth(addr, req.Width)
	if err != nil {
		return SendSensorError(c, err)
	}

	if err := p.device.WriteRegister(addr, req.Value, dw); err != nil {
		return SendSensorError(c, err)
	}

	slog.Info("Register write", "address", fmt.Sprintf("0x%04X", addr), "value", fmt.Sprintf("0x%04X", req.Value))
	return SendSuccess(c, nil, "Register written successfully")
}

func (p *SensorPlugin) handleReadAllRegisters(c *fiber.Ctx) error {
	regs, err := p.device.DumpRegisters()
	if err != nil {
		return SendSensorError(c, err)
	}

	return SendSuccess(c, map[string]interface{}{
		"registers": regs,
		"count":     len(regs),
	}, "")
}

func (p *SensorPlugin) handleStream(c *fiber.Ctx) error {
	var req struct {
		On bool `json:"on"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	if err := p.device.SetStream(req.On); err != nil {
		if errors.Is(err, errInspectionDetached) {
			return SendError(c, fiber.StatusConflict, err)
		}
		return SendSensorError(c, err)
	}

	state := map[bool]string{true: "started", false: "stopped"}[req.On]
	slog.Info("Stream toggled", "on", req.On)
	return SendSuccess(c, map[string]interface{}{
		"on": req.On,
	}, fmt.Sprintf("Stream %s", state))
}

// parseRegisterAddress accepts decimal or 0x-prefixed hex
func parseRegisterAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// registerWidth resolves a requested width, falling back to the known
// register width and then to word
func (p *SensorPlugin) registerWidth(addr uint16, requested string) (sensor.DataWidth, error) {
	switch strings.ToLower(requested) {
	case "":
		if info, ok := RegisterDescriptions[addr]; ok {
			return sensor.DataWidth(info.Width), nil
		}
		return sensor.WordData, nil
	case "byte", "1":
		return sensor.ByteData, nil
	case "word", "2":
		return sensor.WordData, nil
	default:
		return 0, fmt.Errorf("%w: %q", sensor.ErrInvalidWidth, requested)
	}
}

// Register the plugin
func init() {
	Register("sensor", func(env *Env) (Plugin, error) {
		cfg := SensorConfig{ClockPin: -1}
		if err := decodeConfig(env.Config, &cfg); err != nil {
			return nil, fmt.Errorf("invalid config for sensor plugin: %w", err)
		}

		slog.Info("Sensor plugin config parsed",
			"descriptor", cfg.Descriptor,
			"i2c_bus", cfg.I2CBus,
			"gpio_chip", cfg.GPIOChip,
			"inspection", cfg.Inspection)

		return NewSensorPlugin(cfg, env)
	})
}
