package sensor

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

var errBus = errors.New("nack")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockTransport records every transaction and answers reads from regs.
type mockTransport struct {
	mu     sync.Mutex
	calls  int
	failAt int // 1-based call that fails; 0 never fails
	writes [][]byte
	regs   map[uint16][]byte
}

func (m *mockTransport) Tx(w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failAt != 0 && m.calls == m.failAt {
		return errBus
	}
	if len(r) == 0 {
		m.writes = append(m.writes, append([]byte(nil), w...))
		return nil
	}
	var addr uint16
	for _, b := range w {
		addr = addr<<8 | uint16(b)
	}
	copy(r, m.regs[addr])
	return nil
}

func (m *mockTransport) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// wordWrites decodes recorded 16-bit-address writes.
func (m *mockTransport) wordWrites() []RegisterEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RegisterEntry, 0, len(m.writes))
	for _, w := range m.writes {
		e := RegisterEntry{Addr: uint16(w[0])<<8 | uint16(w[1])}
		for _, b := range w[2:] {
			e.Value = e.Value<<8 | uint16(b)
		}
		out = append(out, e)
	}
	return out
}

func (m *mockTransport) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = 0
	m.writes = nil
}

// mockClock records sleeps without blocking.
type mockClock struct {
	sleeps []time.Duration
	ranges [][2]time.Duration
}

func (c *mockClock) Sleep(d time.Duration) { c.sleeps = append(c.sleeps, d) }

func (c *mockClock) SleepRange(min, max time.Duration) {
	c.ranges = append(c.ranges, [2]time.Duration{min, max})
}

// mockInterface records interface reconfiguration in call order.
type mockInterface struct {
	calls    []string
	seq      int
	seenSeq  int
	logical  []CSIDParams
	physical []CSIPhyParams
	failPhy  bool
}

func (m *mockInterface) ConfigureLogical(p CSIDParams) error {
	m.calls = append(m.calls, "logical")
	m.logical = append(m.logical, p)
	m.seq++
	return nil
}

func (m *mockInterface) NotifyConfigChanged() {
	m.calls = append(m.calls, "notify")
}

func (m *mockInterface) ConfigurePhysical(p CSIPhyParams) error {
	m.calls = append(m.calls, "physical")
	m.physical = append(m.physical, p)
	m.seenSeq = m.seq
	if m.failPhy {
		return errBus
	}
	return nil
}

type mockPower struct {
	ups, downs int
}

func (m *mockPower) PowerUp() error   { m.ups++; return nil }
func (m *mockPower) PowerDown() error { m.downs++; return nil }

type mockDiagnostics struct {
	name    string
	toggler StreamToggler
}

func (m *mockDiagnostics) Attach(name string, t StreamToggler) {
	m.name = name
	m.toggler = t
}
