package sensor

import "fmt"

// AddressWidth is the size of a register address on the wire.
type AddressWidth uint8

// DataWidth is the size of a register value on the wire.
type DataWidth uint8

const (
	ByteAddr AddressWidth = 1 // 8-bit register address
	WordAddr AddressWidth = 2 // 16-bit register address, MSB first
)

const (
	ByteData DataWidth = 1 // 8-bit register value
	WordData DataWidth = 2 // 16-bit register value, MSB first
)

// Valid reports whether w is one of the legal address widths.
func (w AddressWidth) Valid() bool {
	return w == ByteAddr || w == WordAddr
}

// Valid reports whether w is one of the legal data widths.
func (w DataWidth) Valid() bool {
	return w == ByteData || w == WordData
}

func (w AddressWidth) String() string {
	switch w {
	case ByteAddr:
		return "byte"
	case WordAddr:
		return "word"
	default:
		return fmt.Sprintf("AddressWidth(%d)", uint8(w))
	}
}

func (w DataWidth) String() string {
	switch w {
	case ByteData:
		return "byte"
	case WordData:
		return "word"
	default:
		return fmt.Sprintf("DataWidth(%d)", uint8(w))
	}
}

// EncodeAddress packs a register address for the read-setup phase of a
// combined transaction.
func EncodeAddress(aw AddressWidth, addr uint16) ([]byte, error) {
	if !aw.Valid() {
		return nil, fmt.Errorf("encode address 0x%04X: %w: address %s", addr, ErrInvalidWidth, aw)
	}
	buf := make([]byte, 0, int(aw))
	return appendAddress(buf, aw, addr), nil
}

// EncodeWrite packs a register address and value into one write
// transaction. The value is truncated to dw.
func EncodeWrite(aw AddressWidth, addr uint16, dw DataWidth, data uint16) ([]byte, error) {
	if !aw.Valid() || !dw.Valid() {
		return nil, fmt.Errorf("encode write 0x%04X: %w: address %s, data %s", addr, ErrInvalidWidth, aw, dw)
	}
	buf := make([]byte, 0, int(aw)+int(dw))
	buf = appendAddress(buf, aw, addr)
	if dw == WordData {
		buf = append(buf, byte(data>>8), byte(data))
	} else {
		buf = append(buf, byte(data))
	}
	return buf, nil
}

// DecodeRead reassembles a register value read back from the bus.
func DecodeRead(dw DataWidth, b []byte) (uint16, error) {
	if !dw.Valid() || len(b) != int(dw) {
		return 0, fmt.Errorf("decode %d bytes as %s: %w", len(b), dw, ErrInvalidWidth)
	}
	if dw == WordData {
		return uint16(b[0])<<8 | uint16(b[1]), nil
	}
	return uint16(b[0]), nil
}

func appendAddress(buf []byte, aw AddressWidth, addr uint16) []byte {
	if aw == WordAddr {
		return append(buf, byte(addr>>8), byte(addr))
	}
	return append(buf, byte(addr))
}
