package sensor

import (
	"fmt"
	"log/slog"
)

// ExposureGainLayout locates the integration-time and gain registers.
type ExposureGainLayout struct {
	CoarseIntegrationTime uint16 `yaml:"coarse_integration_time"`
	GlobalGain            uint16 `yaml:"global_gain"`
	// VerticalOffset is the number of lines the sensor needs between the
	// end of integration and the end of the frame.
	VerticalOffset uint8 `yaml:"vertical_offset"`
}

// Timing is the frame timing an exposure request is balanced against.
type Timing struct {
	FrameLengthLines uint32
	LineLengthPclk   uint32
	FPSDivider       uint32 // Q10
}

// FrameLengthExposure returns the frame length needed to admit line rows of
// integration. The frame only ever grows.
func FrameLengthExposure(t Timing, offset uint8, line uint32) uint32 {
	frameLines := scaledFrameLines(t.FrameLengthLines, t.FPSDivider)
	if int64(line) > int64(frameLines)-int64(offset) {
		frameLines = line + uint32(offset)
	}
	return frameLines
}

// LineLengthExposure keeps the frame length and stretches the line instead
// when line does not fit. It returns the line length and the clamped line.
func LineLengthExposure(t Timing, offset uint8, line uint32) (lineLength, clamped uint32, err error) {
	frameLines := scaledFrameLines(t.FrameLengthLines, t.FPSDivider)
	lineLength = t.LineLengthPclk
	if frameLines <= uint32(offset) {
		return 0, 0, fmt.Errorf("%w: frame of %d lines has no room for vertical offset %d", ErrInvalidArgument, frameLines, offset)
	}
	headroom := frameLines - uint32(offset)
	if line > headroom {
		ratio := line * Q10 / headroom
		lineLength = lineLength * ratio / Q10
		line = headroom
	}
	return lineLength, line, nil
}

// Variant is the per-sensor-family behaviour the mode controller drives.
type Variant interface {
	StartStream(b *Bus) error
	StopStream(b *Bus) error
	GroupHoldOn(b *Bus) error
	GroupHoldOff(b *Bus) error
}

// ExposureWriter is implemented by variants that can program exposure and
// gain.
type ExposureWriter interface {
	WriteExposureGain(b *Bus, t Timing, gain uint16, line uint32) error
}

// Exposure strategy names accepted in sensor descriptors.
const (
	StrategyFrameLength = "frame_length"
	StrategyLineLength  = "line_length"
	StrategyNone        = "none"
)

type streamVariant struct {
	start, stop     []RegisterEntry
	holdOn, holdOff []RegisterEntry
	dw              DataWidth
}

func (v *streamVariant) StartStream(b *Bus) error {
	if err := b.WriteTable(v.start, v.dw); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	return nil
}

func (v *streamVariant) StopStream(b *Bus) error {
	if err := b.WriteTable(v.stop, v.dw); err != nil {
		return fmt.Errorf("stop stream: %w", err)
	}
	return nil
}

func (v *streamVariant) GroupHoldOn(b *Bus) error {
	if err := b.WriteTable(v.holdOn, v.dw); err != nil {
		return fmt.Errorf("group hold on: %w", err)
	}
	return nil
}

func (v *streamVariant) GroupHoldOff(b *Bus) error {
	if err := b.WriteTable(v.holdOff, v.dw); err != nil {
		return fmt.Errorf("group hold off: %w", err)
	}
	return nil
}

// frameLengthVariant grows the frame to fit long exposures.
type frameLengthVariant struct {
	streamVariant
	output RegisterLayout
	exp    ExposureGainLayout
	logger *slog.Logger
}

func (v *frameLengthVariant) WriteExposureGain(b *Bus, t Timing, gain uint16, line uint32) error {
	frameLines := FrameLengthExposure(t, v.exp.VerticalOffset, line)
	return groupHeld(b, v, v.logger, []RegisterEntry{
		{Addr: v.output.FrameLengthLines, Value: uint16(frameLines)},
		{Addr: v.exp.CoarseIntegrationTime, Value: uint16(line)},
		{Addr: v.exp.GlobalGain, Value: gain},
	})
}

// lineLengthVariant keeps the frame length and trades horizontal blanking
// for integration time.
type lineLengthVariant struct {
	streamVariant
	output RegisterLayout
	exp    ExposureGainLayout
	logger *slog.Logger
}

func (v *lineLengthVariant) WriteExposureGain(b *Bus, t Timing, gain uint16, line uint32) error {
	lineLength, line, err := LineLengthExposure(t, v.exp.VerticalOffset, line)
	if err != nil {
		return err
	}
	return groupHeld(b, v, v.logger, []RegisterEntry{
		{Addr: v.output.LineLengthPclk, Value: uint16(lineLength)},
		{Addr: v.exp.CoarseIntegrationTime, Value: uint16(line)},
		{Addr: v.exp.GlobalGain, Value: gain},
	})
}

// groupHeld writes entries as word data between group hold on and off so
// the sensor latches them on the same frame. Every write and the release
// are attempted regardless of earlier failures; the first error wins.
func groupHeld(b *Bus, v Variant, logger *slog.Logger, entries []RegisterEntry) error {
	var first error
	record := func(step string, err error) {
		if err == nil {
			return
		}
		logger.Warn("Group hold write failed", "step", step, "error", err)
		if first == nil {
			first = err
		}
	}

	record("hold_on", v.GroupHoldOn(b))
	for _, e := range entries {
		record(fmt.Sprintf("0x%04X", e.Addr), b.Write(e.Addr, e.Value, WordData))
	}
	record("hold_off", v.GroupHoldOff(b))
	return first
}

// NewVariant builds the variant selected by the descriptor's exposure
// strategy.
func NewVariant(d *Descriptor, logger *slog.Logger) (Variant, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base := streamVariant{
		start:   d.StartStream,
		stop:    d.StopStream,
		holdOn:  d.GroupHoldOn,
		holdOff: d.GroupHoldOff,
		dw:      d.DataWidth,
	}
	switch d.ExposureStrategy {
	case StrategyFrameLength:
		return &frameLengthVariant{streamVariant: base, output: d.OutputRegisters, exp: d.Exposure, logger: logger}, nil
	case StrategyLineLength:
		return &lineLengthVariant{streamVariant: base, output: d.OutputRegisters, exp: d.Exposure, logger: logger}, nil
	case StrategyNone, "":
		return &base, nil
	default:
		return nil, fmt.Errorf("%w: unknown exposure strategy %q", ErrInvalidArgument, d.ExposureStrategy)
	}
}
