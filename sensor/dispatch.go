package sensor

import (
	"fmt"
	"strings"
)

// Opcode identifies one configuration request.
type Opcode int

const (
	OpGetPictFPS Opcode = iota
	OpGetPrevLinesPerFrame
	OpGetPrevPixelsPerLine
	OpGetPictLinesPerFrame
	OpGetPictPixelsPerLine
	OpGetPictMaxExpLines
	OpSetFPS
	OpSetPictFPS
	OpSetExpGain
	OpSetPictExpGain
	OpSetMode
	OpPowerDown
	OpMoveFocus
	OpSetDefaultFocus
	OpGetAFMaxSteps
	OpSetEffect
	OpSendWBInfo
	OpSensorInit
	OpGetOutputInfo
)

// AFMaxSteps is reported for OpGetAFMaxSteps. Focus is not driven.
const AFMaxSteps = 32

var opcodeNames = []string{
	OpGetPictFPS:           "get_pict_fps",
	OpGetPrevLinesPerFrame: "get_prev_lines_per_frame",
	OpGetPrevPixelsPerLine: "get_prev_pixels_per_line",
	OpGetPictLinesPerFrame: "get_pict_lines_per_frame",
	OpGetPictPixelsPerLine: "get_pict_pixels_per_line",
	OpGetPictMaxExpLines:   "get_pict_max_exp_lines",
	OpSetFPS:               "set_fps",
	OpSetPictFPS:           "set_pict_fps",
	OpSetExpGain:           "set_exp_gain",
	OpSetPictExpGain:       "set_pict_exp_gain",
	OpSetMode:              "set_mode",
	OpPowerDown:            "power_down",
	OpMoveFocus:            "move_focus",
	OpSetDefaultFocus:      "set_default_focus",
	OpGetAFMaxSteps:        "get_af_max_steps",
	OpSetEffect:            "set_effect",
	OpSendWBInfo:           "send_wb_info",
	OpSensorInit:           "sensor_init",
	OpGetOutputInfo:        "get_output_info",
}

func (op Opcode) String() string {
	if op >= 0 && int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", int(op))
}

// ParseOpcode looks an opcode up by its string name.
func ParseOpcode(s string) (Opcode, error) {
	for i, name := range opcodeNames {
		if strings.EqualFold(s, name) {
			return Opcode(i), nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// Opcodes lists every known opcode in numeric order.
func Opcodes() []Opcode {
	ops := make([]Opcode, len(opcodeNames))
	for i := range ops {
		ops[i] = Opcode(i)
	}
	return ops
}

// InitRequest carries the resolutions for OpSensorInit.
type InitRequest struct {
	Preview int `json:"preview"`
	Picture int `json:"picture"`
}

// Request is the typed payload of a configuration request. Only the fields
// used by Op are read.
type Request struct {
	Op         Opcode      `json:"-"`
	Mode       CameraMode  `json:"mode"`
	Resolution int         `json:"resolution"`
	PrevFPS    uint16      `json:"prev_fps"`
	FPSDivider uint32      `json:"fps_divider"`
	Gain       uint16      `json:"gain"`
	Line       uint32      `json:"line"`
	Init       InitRequest `json:"init"`
}

// Response holds whatever a request reports back.
type Response struct {
	Op         string           `json:"op"`
	FPS        uint16           `json:"fps,omitempty"`
	Lines      uint16           `json:"lines,omitempty"`
	Pixels     uint16           `json:"pixels,omitempty"`
	MaxExpLine uint32           `json:"max_exp_lines,omitempty"`
	AFMaxSteps int              `json:"af_max_steps,omitempty"`
	Output     []OutputGeometry `json:"output,omitempty"`
}

// Dispatch runs one request with the session lock held for its whole
// duration.
func (c *Controller) Dispatch(req Request) (Response, error) {
	scope := c.Acquire()
	defer scope.Close()

	resp := Response{Op: req.Op.String()}
	var err error
	switch req.Op {
	case OpGetPictFPS:
		resp.FPS, err = scope.PictureFPS(req.PrevFPS)
	case OpGetPrevLinesPerFrame:
		resp.Lines, err = scope.PreviewLinesPerFrame()
	case OpGetPrevPixelsPerLine:
		resp.Pixels, err = scope.PreviewPixelsPerLine()
	case OpGetPictLinesPerFrame:
		resp.Lines, err = scope.PictureLinesPerFrame()
	case OpGetPictPixelsPerLine:
		resp.Pixels, err = scope.PicturePixelsPerLine()
	case OpGetPictMaxExpLines:
		resp.MaxExpLine, err = scope.MaxPictureExposureLines()
	case OpSetFPS, OpSetPictFPS:
		err = scope.SetFPS(req.FPSDivider)
	case OpSetExpGain, OpSetPictExpGain:
		err = scope.WriteExposureGain(req.Gain, req.Line)
	case OpSetMode:
		err = scope.SetSensorMode(req.Mode, req.Resolution)
	case OpSensorInit:
		err = scope.ModeInit(req.Mode, req.Init.Preview, req.Init.Picture)
	case OpGetOutputInfo:
		resp.Output = c.OutputInfo()
	case OpGetAFMaxSteps:
		resp.AFMaxSteps = AFMaxSteps
	case OpPowerDown, OpMoveFocus, OpSetDefaultFocus, OpSetEffect, OpSendWBInfo:
		// accepted, no effect
	default:
		return resp, fmt.Errorf("%w: %s", ErrUnknownCommand, req.Op)
	}
	if err != nil {
		return resp, fmt.Errorf("%s: %w", req.Op, err)
	}
	return resp, nil
}
