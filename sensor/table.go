package sensor

import (
	"fmt"
	"time"
)

// coarseSettleThreshold separates scheduler-granularity sleeps from short
// settle windows that must not oversleep.
const coarseSettleThreshold = 20 * time.Millisecond

// RegisterEntry is one logical register write.
type RegisterEntry struct {
	Addr  uint16 `yaml:"addr" json:"addr"`
	Value uint16 `yaml:"value" json:"value"`
}

// RegisterTable is an ordered list of writes of one data width followed by
// a settle delay.
type RegisterTable struct {
	Entries   []RegisterEntry
	DataWidth DataWidth
	Delay     time.Duration
}

// Clock provides the blocking sleeps used between register sequences.
type Clock interface {
	// Sleep blocks for at least d.
	Sleep(d time.Duration)
	// SleepRange blocks for somewhere between min and max.
	SleepRange(min, max time.Duration)
}

// SystemClock sleeps on the calling goroutine.
type SystemClock struct{}

func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

func (SystemClock) SleepRange(min, max time.Duration) { time.Sleep(min) }

// WriteTable applies entries in order and stops at the first failure.
// Entries written before the failure stay applied on the device.
func (b *Bus) WriteTable(entries []RegisterEntry, dw DataWidth) error {
	for i, e := range entries {
		if err := b.Write(e.Addr, e.Value, dw); err != nil {
			return fmt.Errorf("table entry %d: %w", i, err)
		}
	}
	return nil
}

// WriteTableAndSettle applies one table and waits for its settle delay.
// The delay is honoured even when the table fails part way.
func (b *Bus) WriteTableAndSettle(t RegisterTable) error {
	err := b.WriteTable(t.Entries, t.DataWidth)
	settle(b.clock, t.Delay)
	return err
}

// WriteAllTables applies each table with its settle delay, stopping at the
// first table that fails.
func (b *Bus) WriteAllTables(tables []RegisterTable) error {
	for i, t := range tables {
		if err := b.WriteTableAndSettle(t); err != nil {
			return fmt.Errorf("table %d: %w", i, err)
		}
	}
	return nil
}

func settle(c Clock, d time.Duration) {
	if d > coarseSettleThreshold {
		c.Sleep(d)
		return
	}
	c.SleepRange(d, d+time.Millisecond)
}
