package sensor

// Fixed-point scales used by the timing arithmetic.
const (
	Q8  = 256
	Q10 = 1024
)

// maxExposureFrameMultiplier bounds snapshot integration time in units of
// preview frames.
const maxExposureFrameMultiplier = 24

// OutputGeometry is the output size and frame timing of one resolution.
type OutputGeometry struct {
	XOutput          uint16 `yaml:"x_output" json:"x_output"`
	YOutput          uint16 `yaml:"y_output" json:"y_output"`
	LineLengthPclk   uint16 `yaml:"line_length_pclk" json:"line_length_pclk"`
	FrameLengthLines uint16 `yaml:"frame_length_lines" json:"frame_length_lines"`
}

// RegisterLayout holds the register addresses backing OutputGeometry.
type RegisterLayout struct {
	XOutput          uint16 `yaml:"x_output"`
	YOutput          uint16 `yaml:"y_output"`
	LineLengthPclk   uint16 `yaml:"line_length_pclk"`
	FrameLengthLines uint16 `yaml:"frame_length_lines"`
}

// OutputWriteSet maps a resolution's geometry onto its registers. The set
// is always written with word data.
func OutputWriteSet(layout RegisterLayout, g OutputGeometry) [4]RegisterEntry {
	return [4]RegisterEntry{
		{Addr: layout.XOutput, Value: g.XOutput},
		{Addr: layout.YOutput, Value: g.YOutput},
		{Addr: layout.LineLengthPclk, Value: g.LineLengthPclk},
		{Addr: layout.FrameLengthLines, Value: g.FrameLengthLines},
	}
}

// FramesPerSecond derives the picture frame rate from the preview rate.
// Both ratios are scaled by Q10 before dividing so integer truncation does
// not swallow them.
func FramesPerSecond(prev, pict OutputGeometry, fps uint16) uint16 {
	if pict.FrameLengthLines == 0 || pict.LineLengthPclk == 0 {
		return 0
	}
	d1 := uint32(prev.FrameLengthLines) * Q10 / uint32(pict.FrameLengthLines)
	d2 := uint32(prev.LineLengthPclk) * Q10 / uint32(pict.LineLengthPclk)
	divider := d1 * d2 / Q10
	return uint16(uint32(fps) * divider / Q10)
}

// MaxPictureExposureLines is the longest snapshot integration time, in
// lines, allowed for the given preview geometry.
func MaxPictureExposureLines(prev OutputGeometry) uint32 {
	return uint32(prev.FrameLengthLines) * maxExposureFrameMultiplier
}

// scaledFrameLines applies the Q10 fps divider to a frame length.
func scaledFrameLines(frameLengthLines, divider uint32) uint32 {
	return frameLengthLines * divider / Q10
}
