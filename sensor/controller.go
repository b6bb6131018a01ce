package sensor

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Fixed waits around mode switches.
const (
	streamSettle    = 30 * time.Millisecond // after stream stop and start
	interfaceSettle = 20 * time.Millisecond // after video-interface reconfiguration
)

// Defaults applied when a camera mode is initialised.
const (
	DefaultFPS        = 30 * Q8
	DefaultFPSDivider = Q10
)

const (
	noResolution = -1
	noInterface  = -1
)

// CameraMode is the operating mode requested by the camera stack.
type CameraMode int

const (
	ModeInvalid CameraMode = iota
	ModePreview
	ModeSnapshot
	ModeRawSnapshot
)

var cameraModeNames = map[CameraMode]string{
	ModeInvalid:     "invalid",
	ModePreview:     "preview",
	ModeSnapshot:    "snapshot",
	ModeRawSnapshot: "raw_snapshot",
}

func (m CameraMode) String() string {
	if name, ok := cameraModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("CameraMode(%d)", int(m))
}

// ParseCameraMode converts a mode name back into a CameraMode.
func ParseCameraMode(s string) (CameraMode, error) {
	for m, name := range cameraModeNames {
		if m != ModeInvalid && strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return ModeInvalid, fmt.Errorf("%w: unknown camera mode %q", ErrInvalidArgument, s)
}

func (m CameraMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *CameraMode) UnmarshalText(b []byte) error {
	mode, err := ParseCameraMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

func (m CameraMode) valid() bool {
	return m == ModePreview || m == ModeSnapshot || m == ModeRawSnapshot
}

// State is the mutable per-session state. It only changes while the
// controller lock is held.
type State struct {
	ID                string     `json:"id"`
	CameraMode        CameraMode `json:"camera_mode"`
	CurrentResolution int        `json:"current_resolution"` // -1 until the first mode switch
	PreviewResolution int        `json:"preview_resolution"`
	PictureResolution int        `json:"picture_resolution"`
	FPS               uint16     `json:"fps_q8"`
	FPSDivider        uint32     `json:"fps_divider_q10"`
	FrameLengthLines  uint32     `json:"frame_length_lines"`
	LineLengthPclk    uint32     `json:"line_length_pclk"`
	ActiveInterface   int        `json:"active_interface"` // -1 when none applied
	Initialized       bool       `json:"initialized"`     // init tables written for CameraMode
}

type updateType int

const (
	updateInit updateType = iota
	updatePeriodic
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for bus and mode-switch messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock replaces the wall clock used for settle delays.
func WithClock(clk Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithPower wires the reset/clock power sequencer.
func WithPower(p PowerSequencer) Option {
	return func(c *Controller) { c.power = p }
}

// WithInterface wires the video-interface configurator.
func WithInterface(i InterfaceConfigurator) Option {
	return func(c *Controller) { c.iface = i }
}

// WithDiagnostics attaches an inspection hook on sensor init.
func WithDiagnostics(d Diagnostics) Option {
	return func(c *Controller) { c.diag = d }
}

// Controller is the mode/resolution/exposure state machine for one sensor.
type Controller struct {
	mu      sync.Mutex
	desc    *Descriptor
	variant Variant
	bus     *Bus
	clock   Clock
	power   PowerSequencer
	iface   InterfaceConfigurator
	diag    Diagnostics
	logger  *slog.Logger
	state   *State // nil while released

	fence atomic.Uint64
}

// NewController builds a controller for the sensor described by desc,
// talking to it through tr.
func NewController(desc *Descriptor, tr Transport, opts ...Option) (*Controller, error) {
	if desc == nil {
		return nil, fmt.Errorf("%w: nil descriptor", ErrInvalidArgument)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		desc:   desc,
		clock:  SystemClock{},
		power:  nopPower{},
		iface:  nopInterface{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	variant, err := NewVariant(desc, c.logger)
	if err != nil {
		return nil, err
	}
	c.variant = variant
	c.bus = NewBus(tr, desc.AddressWidth, c.clock, c.logger)
	return c, nil
}

// Name returns the sensor name from the descriptor.
func (c *Controller) Name() string {
	return c.desc.Name
}

// Descriptor returns the sensor descriptor.
func (c *Controller) Descriptor() *Descriptor {
	return c.desc
}

// Open powers the sensor up and starts a fresh session.
func (c *Controller) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != nil {
		return nil
	}
	if err := c.power.PowerUp(); err != nil {
		return fmt.Errorf("failed to power up %s: %w", c.desc.Name, err)
	}
	c.state = &State{
		ID:                uuid.New().String(),
		CameraMode:        ModeInvalid,
		CurrentResolution: noResolution,
		FPS:               DefaultFPS,
		FPSDivider:        DefaultFPSDivider,
		ActiveInterface:   noInterface,
	}
	c.logger.Info("Sensor session opened", "sensor", c.desc.Name, "session", c.state.ID)
	return nil
}

// Release powers the sensor down and ends the session. A new session needs
// Open followed by a mode init.
func (c *Controller) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == nil {
		return nil
	}
	id := c.state.ID
	c.state = nil
	if err := c.power.PowerDown(); err != nil {
		return fmt.Errorf("failed to power down %s: %w", c.desc.Name, err)
	}
	c.logger.Info("Sensor session released", "sensor", c.desc.Name, "session", id)
	return nil
}

// Probe checks the chip id. Outside a session the sensor is powered up for
// the read and powered down again.
func (c *Controller) Probe() error {
	scope := c.Acquire()
	defer scope.Close()

	if c.state != nil {
		return scope.MatchID()
	}
	if err := c.power.PowerUp(); err != nil {
		return fmt.Errorf("failed to power up %s: %w", c.desc.Name, err)
	}
	err := scope.MatchID()
	if perr := c.power.PowerDown(); perr != nil && err == nil {
		err = fmt.Errorf("failed to power down %s: %w", c.desc.Name, perr)
	}
	return err
}

// Snapshot returns a copy of the session state and whether a session is open.
func (c *Controller) Snapshot() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == nil {
		return State{}, false
	}
	return *c.state, true
}

// SetStream starts or stops streaming directly. It is the inspection
// entry point and takes the session lock like any other request.
func (c *Controller) SetStream(on bool) error {
	scope := c.Acquire()
	defer scope.Close()

	if _, err := scope.session(); err != nil {
		return err
	}
	if on {
		return c.variant.StartStream(c.bus)
	}
	return c.variant.StopStream(c.bus)
}

// OutputInfo returns the output geometry of every resolution.
func (c *Controller) OutputInfo() []OutputGeometry {
	return c.desc.Geometry()
}

// EnumFormat returns entry i of the fixed format table.
func (c *Controller) EnumFormat(i int) (Format, error) {
	if i < 0 || i >= len(c.desc.Formats) {
		return Format{}, fmt.Errorf("%w: format index %d of %d", ErrInvalidArgument, i, len(c.desc.Formats))
	}
	return c.desc.Formats[i], nil
}

// Scope is an exclusive hold on the controller for the duration of one
// configuration request.
type Scope struct {
	c      *Controller
	closed bool
}

// Acquire blocks until the session lock is free. The caller must Close the
// returned scope on every path.
func (c *Controller) Acquire() *Scope {
	c.mu.Lock()
	return &Scope{c: c}
}

// Close releases the session lock. It is safe to call more than once.
func (s *Scope) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.c.mu.Unlock()
}

// Active reports whether a session is open.
func (s *Scope) Active() bool {
	return s.c.state != nil
}

func (s *Scope) session() (*State, error) {
	if s.c.state == nil {
		return nil, ErrSessionClosed
	}
	return s.c.state, nil
}

func (s *Scope) checkResolution(res int) error {
	if res < 0 || res >= s.c.desc.NumResolutions() {
		return fmt.Errorf("%w: resolution %d of %d", ErrInvalidArgument, res, s.c.desc.NumResolutions())
	}
	return nil
}

// ModeInit enters a camera mode with the given preview and picture
// resolutions and writes the sensor's init tables. Re-initialising the
// mode already in effect does nothing.
func (s *Scope) ModeInit(mode CameraMode, prev, pict int) error {
	st, err := s.session()
	if err != nil {
		return err
	}
	if st.Initialized && mode == st.CameraMode {
		return nil
	}
	if !mode.valid() {
		return fmt.Errorf("mode init: %w: camera mode %s", ErrInvalidArgument, mode)
	}
	if err := s.checkResolution(prev); err != nil {
		return fmt.Errorf("mode init: preview: %w", err)
	}
	if err := s.checkResolution(pict); err != nil {
		return fmt.Errorf("mode init: picture: %w", err)
	}

	st.FPS = DefaultFPS
	st.FPSDivider = DefaultFPSDivider
	st.PreviewResolution = prev
	st.PictureResolution = pict
	st.CurrentResolution = noResolution
	st.CameraMode = mode
	g := s.c.desc.Resolutions[prev].Output
	st.FrameLengthLines = uint32(g.FrameLengthLines)
	st.LineLengthPclk = uint32(g.LineLengthPclk)

	s.c.logger.Info("Sensor mode init", "sensor", s.c.desc.Name, "mode", mode, "preview", prev, "picture", pict)
	st.Initialized = false
	if err := s.c.applySettings(st, updateInit, prev); err != nil {
		return fmt.Errorf("mode init: %w", err)
	}
	st.Initialized = true
	return nil
}

// SetSensorMode switches to resolution res for the given mode. The current
// resolution only advances when the whole switch sequence succeeds.
func (s *Scope) SetSensorMode(mode CameraMode, res int) error {
	st, err := s.session()
	if err != nil {
		return err
	}
	if res == st.CurrentResolution {
		return nil
	}
	if err := s.checkResolution(res); err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	switch mode {
	case ModePreview:
		st.PreviewResolution = res
	case ModeSnapshot, ModeRawSnapshot:
		st.PictureResolution = res
	default:
		return fmt.Errorf("set mode: %w: camera mode %s", ErrInvalidArgument, mode)
	}

	g := s.c.desc.Resolutions[res].Output
	st.FrameLengthLines = uint32(g.FrameLengthLines)
	st.LineLengthPclk = uint32(g.LineLengthPclk)

	if err := s.c.applySettings(st, updatePeriodic, res); err != nil {
		return fmt.Errorf("set mode %s resolution %d: %w", mode, res, err)
	}
	s.c.logger.Info("Sensor resolution switched", "sensor", s.c.desc.Name, "mode", mode, "from", st.CurrentResolution, "to", res)
	st.CurrentResolution = res
	return nil
}

// SetFPS applies a Q10 frame-rate divider by stretching the frame length.
func (s *Scope) SetFPS(divider uint32) error {
	st, err := s.session()
	if err != nil {
		return err
	}
	st.FPSDivider = divider
	total := uint16(scaledFrameLines(st.FrameLengthLines, divider))
	if err := s.c.bus.Write(s.c.desc.OutputRegisters.FrameLengthLines, total, WordData); err != nil {
		return fmt.Errorf("set fps: %w", err)
	}
	return nil
}

// WriteExposureGain programs integration time (in lines) and gain using
// the variant's exposure strategy.
func (s *Scope) WriteExposureGain(gain uint16, line uint32) error {
	st, err := s.session()
	if err != nil {
		return err
	}
	ew, ok := s.c.variant.(ExposureWriter)
	if !ok {
		return fmt.Errorf("exposure/gain on %s: %w", s.c.desc.Name, ErrUnsupported)
	}
	t := Timing{
		FrameLengthLines: st.FrameLengthLines,
		LineLengthPclk:   st.LineLengthPclk,
		FPSDivider:       st.FPSDivider,
	}
	if err := ew.WriteExposureGain(s.c.bus, t, gain, line); err != nil {
		return fmt.Errorf("exposure/gain: %w", err)
	}
	return nil
}

// PreviewLinesPerFrame returns the preview resolution's frame length.
func (s *Scope) PreviewLinesPerFrame() (uint16, error) {
	g, err := s.geometry(func(st *State) int { return st.PreviewResolution })
	return g.FrameLengthLines, err
}

// PreviewPixelsPerLine returns the preview resolution's line length.
func (s *Scope) PreviewPixelsPerLine() (uint16, error) {
	g, err := s.geometry(func(st *State) int { return st.PreviewResolution })
	return g.LineLengthPclk, err
}

// PictureLinesPerFrame returns the picture resolution's frame length.
func (s *Scope) PictureLinesPerFrame() (uint16, error) {
	g, err := s.geometry(func(st *State) int { return st.PictureResolution })
	return g.FrameLengthLines, err
}

// PicturePixelsPerLine returns the picture resolution's line length.
func (s *Scope) PicturePixelsPerLine() (uint16, error) {
	g, err := s.geometry(func(st *State) int { return st.PictureResolution })
	return g.LineLengthPclk, err
}

// PictureFPS derives the snapshot frame rate from a preview frame rate.
func (s *Scope) PictureFPS(prevFPS uint16) (uint16, error) {
	st, err := s.session()
	if err != nil {
		return 0, err
	}
	res := s.c.desc.Resolutions
	return FramesPerSecond(res[st.PreviewResolution].Output, res[st.PictureResolution].Output, prevFPS), nil
}

// MaxPictureExposureLines returns the snapshot integration-time ceiling.
func (s *Scope) MaxPictureExposureLines() (uint32, error) {
	g, err := s.geometry(func(st *State) int { return st.PreviewResolution })
	if err != nil {
		return 0, err
	}
	return MaxPictureExposureLines(g), nil
}

func (s *Scope) geometry(pick func(*State) int) (OutputGeometry, error) {
	st, err := s.session()
	if err != nil {
		return OutputGeometry{}, err
	}
	return s.c.desc.Resolutions[pick(st)].Output, nil
}

// MatchID reads the chip id register and compares it with the descriptor.
func (s *Scope) MatchID() error {
	id, err := s.c.bus.Read(s.c.desc.ChipIDRegister, WordData)
	if err != nil {
		return fmt.Errorf("read chip id: %w", err)
	}
	if id != s.c.desc.ChipID {
		return fmt.Errorf("%s: %w: read 0x%04X, expected 0x%04X", s.c.desc.Name, ErrDeviceMismatch, id, s.c.desc.ChipID)
	}
	return nil
}

// ReadRegister reads one register of an open session.
func (s *Scope) ReadRegister(addr uint16, dw DataWidth) (uint16, error) {
	if _, err := s.session(); err != nil {
		return 0, err
	}
	return s.c.bus.Read(addr, dw)
}

// WriteRegister writes one register of an open session.
func (s *Scope) WriteRegister(addr, value uint16, dw DataWidth) error {
	if _, err := s.session(); err != nil {
		return err
	}
	return s.c.bus.Write(addr, value, dw)
}

// applySettings runs the stream-stop / reprogram / stream-start sequence.
// The first failing step ends it.
func (c *Controller) applySettings(st *State, update updateType, res int) error {
	if err := c.variant.StopStream(c.bus); err != nil {
		return err
	}
	c.clock.Sleep(streamSettle)

	if update == updateInit {
		st.ActiveInterface = noInterface
		if c.diag != nil {
			c.diag.Attach(c.desc.Name, c)
		}
		if err := c.bus.WriteAllTables(c.desc.Init); err != nil {
			return fmt.Errorf("init settings: %w", err)
		}
		return nil
	}

	r := c.desc.Resolutions[res]
	if err := c.bus.WriteTableAndSettle(r.Table); err != nil {
		return fmt.Errorf("mode settings: %w", err)
	}
	out := OutputWriteSet(c.desc.OutputRegisters, r.Output)
	if err := c.bus.WriteTable(out[:], WordData); err != nil {
		return fmt.Errorf("output settings: %w", err)
	}

	if st.ActiveInterface != r.Interface {
		st.ActiveInterface = r.Interface
		p := c.desc.InterfaceParams[r.Interface]
		if err := c.iface.ConfigureLogical(p.Logical); err != nil {
			return fmt.Errorf("csid config %s: %w", p.Name, err)
		}
		c.iface.NotifyConfigChanged()
		c.barrier()
		if err := c.iface.ConfigurePhysical(p.Physical); err != nil {
			return fmt.Errorf("csiphy config %s: %w", p.Name, err)
		}
		c.barrier()
		c.clock.Sleep(interfaceSettle)
	}

	if err := c.variant.StartStream(c.bus); err != nil {
		return err
	}
	c.clock.Sleep(streamSettle)
	return nil
}

// barrier is a sequentially consistent read-modify-write; the logical
// interface configuration is visible to the physical layer once it returns.
func (c *Controller) barrier() {
	c.fence.Add(1)
}
