package sensor

// PowerSequencer drives the sensor's reset line and input clock. The
// controller only calls it when a session opens or is released.
type PowerSequencer interface {
	PowerUp() error
	PowerDown() error
}

// CSIDParams configures the logical (capture identifier) layer of the
// video interface.
type CSIDParams struct {
	LaneCount      uint8  `yaml:"lane_count" json:"lane_count"`
	LaneAssign     uint16 `yaml:"lane_assign" json:"lane_assign"`
	DataFormat     uint16 `yaml:"data_format" json:"data_format"`
	VirtualChannel uint8  `yaml:"virtual_channel" json:"virtual_channel"`
}

// CSIPhyParams configures the physical layer of the video interface.
type CSIPhyParams struct {
	LaneCount   uint8 `yaml:"lane_count" json:"lane_count"`
	SettleCount uint8 `yaml:"settle_count" json:"settle_count"`
	LaneMask    uint8 `yaml:"lane_mask" json:"lane_mask"`
}

// InterfaceParams is the video-interface configuration a resolution
// streams with.
type InterfaceParams struct {
	Name     string       `yaml:"name" json:"name"`
	Logical  CSIDParams   `yaml:"csid" json:"csid"`
	Physical CSIPhyParams `yaml:"csiphy" json:"csiphy"`
}

// InterfaceConfigurator reprograms the host side of the video interface.
// The controller calls ConfigureLogical, NotifyConfigChanged and
// ConfigurePhysical in that order, with a full barrier before the physical
// layer is touched.
type InterfaceConfigurator interface {
	ConfigureLogical(p CSIDParams) error
	NotifyConfigChanged()
	ConfigurePhysical(p CSIPhyParams) error
}

// StreamToggler starts or stops streaming under the session lock.
type StreamToggler interface {
	SetStream(on bool) error
}

// Diagnostics is an optional inspection hook. It is handed a StreamToggler
// when the sensor is initialised.
type Diagnostics interface {
	Attach(sensorName string, t StreamToggler)
}

// nopInterface is used when no video-interface layer is wired.
type nopInterface struct{}

func (nopInterface) ConfigureLogical(CSIDParams) error    { return nil }
func (nopInterface) NotifyConfigChanged()                 {}
func (nopInterface) ConfigurePhysical(CSIPhyParams) error { return nil }

type nopPower struct{}

func (nopPower) PowerUp() error   { return nil }
func (nopPower) PowerDown() error { return nil }
