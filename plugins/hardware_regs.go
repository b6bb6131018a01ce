package plugins

// CCI (SMIA++ style) register addresses shared by most raw bayer sensors
const (
	// Identification
	RegModelID      = 0x0000 // Model id, 16-bit
	RegRevision     = 0x0002 // Revision number
	RegManufacturer = 0x0003 // Manufacturer id
	RegFrameCount   = 0x0005 // Frame counter
	RegPixelOrder   = 0x0006 // Bayer pixel order
	RegDataPedestal = 0x0008 // Black level pedestal, 16-bit

	// Setup
	RegModeSelect    = 0x0100 // Streaming on/off
	RegImageOrient   = 0x0101 // Mirror/flip
	RegSoftwareReset = 0x0103 // Software reset
	RegGroupHold     = 0x0104 // Grouped parameter hold
	RegDataFormat    = 0x0112 // CSI data format, 16-bit
	RegLaneMode      = 0x0114 // CSI lane count minus one

	// Integration time and gain
	RegFineIntegration   = 0x0200 // Fine integration time, 16-bit
	RegCoarseIntegration = 0x0202 // Coarse integration time, 16-bit
	RegGlobalGain        = 0x0204 // Analogue gain code global, 16-bit
	RegDigitalGain       = 0x020E // Digital gain, 16-bit

	// Clock setup
	RegVTPixClkDiv = 0x0300 // Video timing pixel clock divider, 16-bit
	RegVTSysClkDiv = 0x0302 // Video timing system clock divider, 16-bit
	RegPrePLLDiv   = 0x0304 // Pre-PLL clock divider, 16-bit
	RegPLLMult     = 0x0306 // PLL multiplier, 16-bit

	// Frame timing
	RegFrameLengthLines = 0x0340 // Frame length in lines, 16-bit
	RegLineLengthPclk   = 0x0342 // Line length in pixel clocks, 16-bit
	RegXAddrStart       = 0x0344 // Crop window x start, 16-bit
	RegYAddrStart       = 0x0346 // Crop window y start, 16-bit
	RegXAddrEnd         = 0x0348 // Crop window x end, 16-bit
	RegYAddrEnd         = 0x034A // Crop window y end, 16-bit
	RegXOutputSize      = 0x034C // Output width, 16-bit
	RegYOutputSize      = 0x034E // Output height, 16-bit

	// Subsampling
	RegXEvenInc = 0x0380 // Horizontal even increment
	RegXOddInc  = 0x0382 // Horizontal odd increment
	RegYEvenInc = 0x0384 // Vertical even increment
	RegYOddInc  = 0x0386 // Vertical odd increment
)

// RegisterInfo describes one register for the raw access endpoints
type RegisterInfo struct {
	Name  string
	Width uint8 // bytes
}

// RegisterDescriptions provides human-readable register names
var RegisterDescriptions = map[uint16]RegisterInfo{
	RegModelID:       {"MODEL_ID - Sensor model id", 2},
	RegRevision:      {"REVISION - Revision number", 1},
	RegManufacturer:  {"MANUFACTURER_ID - Manufacturer id", 1},
	RegFrameCount:    {"FRAME_COUNT - Frame counter", 1},
	RegPixelOrder:    {"PIXEL_ORDER - Bayer pixel order", 1},
	RegDataPedestal:  {"DATA_PEDESTAL - Black level pedestal", 2},
	RegModeSelect:    {"MODE_SELECT - Streaming control", 1},
	RegImageOrient:   {"IMAGE_ORIENTATION - Mirror and flip", 1},
	RegSoftwareReset: {"SOFTWARE_RESET - Software reset", 1},
	RegGroupHold:     {"GROUPED_PARAMETER_HOLD - Group hold", 1},
	RegDataFormat:    {"CSI_DATA_FORMAT - Output data format", 2},
	RegLaneMode:      {"CSI_LANE_MODE - Lane count", 1},

	RegFineIntegration:   {"FINE_INTEGRATION_TIME - Fine integration", 2},
	RegCoarseIntegration: {"COARSE_INTEGRATION_TIME - Coarse integration", 2},
	RegGlobalGain:        {"ANALOGUE_GAIN_CODE_GLOBAL - Analogue gain", 2},
	RegDigitalGain:       {"DIGITAL_GAIN - Digital gain", 2},

	RegVTPixClkDiv: {"VT_PIX_CLK_DIV - Pixel clock divider", 2},
	RegVTSysClkDiv: {"VT_SYS_CLK_DIV - System clock divider", 2},
	RegPrePLLDiv:   {"PRE_PLL_CLK_DIV - Pre-PLL divider", 2},
	RegPLLMult:     {"PLL_MULTIPLIER - PLL multiplier", 2},

	RegFrameLengthLines: {"FRAME_LENGTH_LINES - Frame length", 2},
	RegLineLengthPclk:   {"LINE_LENGTH_PCK - Line length", 2},
	RegXAddrStart:       {"X_ADDR_START - Crop x start", 2},
	RegYAddrStart:       {"Y_ADDR_START - Crop y start", 2},
	RegXAddrEnd:         {"X_ADDR_END - Crop x end", 2},
	RegYAddrEnd:         {"Y_ADDR_END - Crop y end", 2},
	RegXOutputSize:      {"X_OUTPUT_SIZE - Output width", 2},
	RegYOutputSize:      {"Y_OUTPUT_SIZE - Output height", 2},

	RegXEvenInc: {"X_EVEN_INC - Horizontal even increment", 1},
	RegXOddInc:  {"X_ODD_INC - Horizontal odd increment", 1},
	RegYEvenInc: {"Y_EVEN_INC - Vertical even increment", 1},
	RegYOddInc:  {"Y_ODD_INC - Vertical odd increment", 1},
}

// RegisterDumpOrder lists the registers read by the register dump, in
// address order
var RegisterDumpOrder = []uint16{
	RegModelID, RegRevision, RegManufacturer, RegFrameCount, RegPixelOrder, RegDataPedestal,
	RegModeSelect, RegImageOrient, RegGroupHold, RegDataFormat, RegLaneMode,
	RegFineIntegration, RegCoarseIntegration, RegGlobalGain, RegDigitalGain,
	RegVTPixClkDiv, RegVTSysClkDiv, RegPrePLLDiv, RegPLLMult,
	RegFrameLengthLines, RegLineLengthPclk,
	RegXAddrStart, RegYAddrStart, RegXAddrEnd, RegYAddrEnd, RegXOutputSize, RegYOutputSize,
	RegXEvenInc, RegXOddInc, RegYEvenInc, RegYOddInc,
}
