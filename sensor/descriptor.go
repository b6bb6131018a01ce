package sensor

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Format is one entry of the sensor's fixed media-bus format table.
type Format struct {
	Code uint32 `yaml:"code" json:"code"`
	Name string `yaml:"name" json:"name"`
}

// Resolution bundles everything the controller programs for one
// resolution index.
type Resolution struct {
	Name      string
	Table     RegisterTable
	Output    OutputGeometry
	Interface int // index into Descriptor.InterfaceParams
}

// Descriptor is the immutable description of one sensor variant.
type Descriptor struct {
	Name         string
	I2CAddress   uint16 // 8-bit write address, as printed in datasheets
	AddressWidth AddressWidth
	DataWidth    DataWidth // width of stream and group hold tables

	ChipIDRegister uint16
	ChipID         uint16

	StartStream  []RegisterEntry
	StopStream   []RegisterEntry
	GroupHoldOn  []RegisterEntry
	GroupHoldOff []RegisterEntry

	Init            []RegisterTable
	Resolutions     []Resolution
	InterfaceParams []InterfaceParams
	Formats         []Format

	OutputRegisters  RegisterLayout
	Exposure         ExposureGainLayout
	ExposureStrategy string
}

// NumResolutions is the number of configured resolution indices.
func (d *Descriptor) NumResolutions() int {
	return len(d.Resolutions)
}

// Geometry returns the output geometry for every resolution, in index order.
func (d *Descriptor) Geometry() []OutputGeometry {
	out := make([]OutputGeometry, len(d.Resolutions))
	for i, r := range d.Resolutions {
		out[i] = r.Output
	}
	return out
}

type tableFile struct {
	DataWidth DataWidth       `yaml:"data_width"`
	DelayMs   uint16          `yaml:"delay_ms"`
	Entries   []RegisterEntry `yaml:"entries"`
}

type resolutionFile struct {
	Name      string         `yaml:"name"`
	Table     tableFile      `yaml:"table"`
	Output    OutputGeometry `yaml:"output"`
	Interface int            `yaml:"interface"`
}

type descriptorFile struct {
	Name         string       `yaml:"name"`
	I2CAddress   uint16       `yaml:"i2c_address"`
	AddressWidth AddressWidth `yaml:"address_width"`
	DataWidth    DataWidth    `yaml:"data_width"`
	ChipID       struct {
		Register uint16 `yaml:"register"`
		Value    uint16 `yaml:"value"`
	} `yaml:"chip_id"`
	StartStream     []RegisterEntry   `yaml:"start_stream"`
	StopStream      []RegisterEntry   `yaml:"stop_stream"`
	GroupHoldOn     []RegisterEntry   `yaml:"group_hold_on"`
	GroupHoldOff    []RegisterEntry   `yaml:"group_hold_off"`
	Init            []tableFile       `yaml:"init"`
	Resolutions     []resolutionFile  `yaml:"resolutions"`
	InterfaceParams []InterfaceParams `yaml:"interface_params"`
	Formats         []Format          `yaml:"formats"`
	OutputRegisters RegisterLayout    `yaml:"output_registers"`
	Exposure        struct {
		Strategy           string `yaml:"strategy"`
		ExposureGainLayout `yaml:",inline"`
	} `yaml:"exposure"`
}

// LoadDescriptor reads and validates a sensor descriptor file.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sensor descriptor: %w", err)
	}
	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// ParseDescriptor decodes and validates a YAML sensor descriptor.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var f descriptorFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse sensor descriptor: %w", err)
	}

	d := &Descriptor{
		Name:             f.Name,
		I2CAddress:       f.I2CAddress,
		AddressWidth:     f.AddressWidth,
		DataWidth:        f.DataWidth,
		ChipIDRegister:   f.ChipID.Register,
		ChipID:           f.ChipID.Value,
		StartStream:      f.StartStream,
		StopStream:       f.StopStream,
		GroupHoldOn:      f.GroupHoldOn,
		GroupHoldOff:     f.GroupHoldOff,
		InterfaceParams:  f.InterfaceParams,
		Formats:          f.Formats,
		OutputRegisters:  f.OutputRegisters,
		Exposure:         f.Exposure.ExposureGainLayout,
		ExposureStrategy: f.Exposure.Strategy,
	}
	for _, t := range f.Init {
		d.Init = append(d.Init, t.table())
	}
	for _, r := range f.Resolutions {
		d.Resolutions = append(d.Resolutions, Resolution{
			Name:      r.Name,
			Table:     r.Table.table(),
			Output:    r.Output,
			Interface: r.Interface,
		})
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (t tableFile) table() RegisterTable {
	return RegisterTable{
		Entries:   t.Entries,
		DataWidth: t.DataWidth,
		Delay:     time.Duration(t.DelayMs) * time.Millisecond,
	}
}

// Validate checks widths and cross references so that a loaded descriptor
// can never index out of range at runtime.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: descriptor has no name", ErrInvalidArgument)
	}
	if !d.AddressWidth.Valid() {
		return fmt.Errorf("descriptor %s: %w: address %s", d.Name, ErrInvalidWidth, d.AddressWidth)
	}
	if !d.DataWidth.Valid() {
		return fmt.Errorf("descriptor %s: %w: data %s", d.Name, ErrInvalidWidth, d.DataWidth)
	}
	for i, t := range d.Init {
		if !t.DataWidth.Valid() {
			return fmt.Errorf("descriptor %s: init table %d: %w: data %s", d.Name, i, ErrInvalidWidth, t.DataWidth)
		}
	}
	if len(d.Resolutions) == 0 {
		return fmt.Errorf("descriptor %s: %w: no resolutions", d.Name, ErrInvalidArgument)
	}
	for i, r := range d.Resolutions {
		if !r.Table.DataWidth.Valid() {
			return fmt.Errorf("descriptor %s: resolution %d: %w: data %s", d.Name, i, ErrInvalidWidth, r.Table.DataWidth)
		}
		if r.Interface < 0 || r.Interface >= len(d.InterfaceParams) {
			return fmt.Errorf("descriptor %s: resolution %d: %w: interface params %d of %d",
				d.Name, i, ErrInvalidArgument, r.Interface, len(d.InterfaceParams))
		}
	}
	switch d.ExposureStrategy {
	case StrategyFrameLength, StrategyLineLength, StrategyNone, "":
	default:
		return fmt.Errorf("descriptor %s: %w: unknown exposure strategy %q", d.Name, ErrInvalidArgument, d.ExposureStrategy)
	}
	return nil
}

// UnmarshalYAML accepts "byte"/"word" or the byte count.
func (w *AddressWidth) UnmarshalYAML(node *yaml.Node) error {
	n, err := parseWidth(node)
	if err != nil {
		return fmt.Errorf("address_width: %w", err)
	}
	*w = AddressWidth(n)
	return nil
}

// UnmarshalYAML accepts "byte"/"word" or the byte count.
func (w *DataWidth) UnmarshalYAML(node *yaml.Node) error {
	n, err := parseWidth(node)
	if err != nil {
		return fmt.Errorf("data_width: %w", err)
	}
	*w = DataWidth(n)
	return nil
}

func parseWidth(node *yaml.Node) (uint8, error) {
	switch strings.ToLower(node.Value) {
	case "byte":
		return 1, nil
	case "word":
		return 2, nil
	}
	var n uint8
	if err := node.Decode(&n); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWidth, node.Value)
	}
	return n, nil
}
