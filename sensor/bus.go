package sensor

import (
	"fmt"
	"log/slog"
)

// Transport moves bytes over the physical link to one device. It has the
// same shape as periph.io's *i2c.Dev: a write-only transaction when r is
// empty, otherwise w is written and len(r) bytes are read back in a single
// combined bus operation.
type Transport interface {
	Tx(w, r []byte) error
}

// Bus issues register transactions to a sensor through a Transport.
type Bus struct {
	tr     Transport
	aw     AddressWidth
	clock  Clock
	logger *slog.Logger
}

// NewBus binds a transport to a register address width. A nil clock uses
// wall-clock sleeps.
func NewBus(tr Transport, aw AddressWidth, clock Clock, logger *slog.Logger) *Bus {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{tr: tr, aw: aw, clock: clock, logger: logger}
}

// AddressWidth returns the register address width used on this bus.
func (b *Bus) AddressWidth() AddressWidth {
	return b.aw
}

// Write writes a single register.
func (b *Bus) Write(addr, data uint16, dw DataWidth) error {
	buf, err := EncodeWrite(b.aw, addr, dw, data)
	if err != nil {
		return err
	}
	if err := b.tr.Tx(buf, nil); err != nil {
		b.logger.Debug("Register write failed", "address", fmt.Sprintf("0x%04X", addr), "error", err)
		return fmt.Errorf("write register 0x%04X: %w: %w", addr, ErrTransport, err)
	}
	return nil
}

// WriteSeq writes len(data) raw bytes starting at addr in one transaction.
func (b *Bus) WriteSeq(addr uint16, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("sequential write at 0x%04X: %w: no data", addr, ErrInvalidArgument)
	}
	prefix, err := EncodeAddress(b.aw, addr)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(prefix)+len(data))
	buf = append(buf, prefix...)
	buf = append(buf, data...)
	if err := b.tr.Tx(buf, nil); err != nil {
		b.logger.Debug("Sequential write failed", "address", fmt.Sprintf("0x%04X", addr), "count", len(data), "error", err)
		return fmt.Errorf("sequential write at 0x%04X: %w: %w", addr, ErrTransport, err)
	}
	return nil
}

// Read reads a single register.
func (b *Bus) Read(addr uint16, dw DataWidth) (uint16, error) {
	if !dw.Valid() {
		return 0, fmt.Errorf("read register 0x%04X: %w: data %s", addr, ErrInvalidWidth, dw)
	}
	w, err := EncodeAddress(b.aw, addr)
	if err != nil {
		return 0, err
	}
	r := make([]byte, int(dw))
	if err := b.tr.Tx(w, r); err != nil {
		b.logger.Debug("Register read failed", "address", fmt.Sprintf("0x%04X", addr), "error", err)
		return 0, fmt.Errorf("read register 0x%04X: %w: %w", addr, ErrTransport, err)
	}
	return DecodeRead(dw, r)
}

// ReadSeq reads n consecutive bytes starting at addr.
func (b *Bus) ReadSeq(addr uint16, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sequential read at 0x%04X: %w: count %d", addr, ErrInvalidArgument, n)
	}
	w, err := EncodeAddress(b.aw, addr)
	if err != nil {
		return nil, err
	}
	r := make([]byte, n)
	if err := b.tr.Tx(w, r); err != nil {
		return nil, fmt.Errorf("sequential read at 0x%04X: %w: %w", addr, ErrTransport, err)
	}
	return r, nil
}
