package sensor

import (
	"errors"
	"testing"
	"time"
)

func TestWriteTable_StopsAtFirstFailure(t *testing.T) {
	tr := &mockTransport{failAt: 3}
	b := NewBus(tr, WordAddr, &mockClock{}, quietLogger())

	entries := []RegisterEntry{
		{0x3000, 1}, {0x3001, 2}, {0x3002, 3}, {0x3003, 4}, {0x3004, 5},
	}
	err := b.WriteTable(entries, ByteData)
	if !errors.Is(err, ErrTransport) || !errors.Is(err, errBus) {
		t.Fatalf("err = %v, want transport failure wrapping the bus error", err)
	}
	if tr.callCount() != 3 {
		t.Errorf("attempted %d entries, want 3", tr.callCount())
	}
	if got := tr.wordWrites(); len(got) != 2 || got[1].Addr != 0x3001 {
		t.Errorf("applied = %+v, want entries 1-2", got)
	}
}

func TestWriteTableAndSettle(t *testing.T) {
	t.Run("short delay uses range", func(t *testing.T) {
		clk := &mockClock{}
		b := NewBus(&mockTransport{}, WordAddr, clk, quietLogger())
		if err := b.WriteTableAndSettle(RegisterTable{DataWidth: ByteData, Delay: 10 * time.Millisecond}); err != nil {
			t.Fatal(err)
		}
		if len(clk.sleeps) != 0 || len(clk.ranges) != 1 {
			t.Fatalf("sleeps=%v ranges=%v", clk.sleeps, clk.ranges)
		}
		if clk.ranges[0] != [2]time.Duration{10 * time.Millisecond, 11 * time.Millisecond} {
			t.Errorf("range = %v", clk.ranges[0])
		}
	})

	t.Run("long delay uses coarse sleep", func(t *testing.T) {
		clk := &mockClock{}
		b := NewBus(&mockTransport{}, WordAddr, clk, quietLogger())
		if err := b.WriteTableAndSettle(RegisterTable{DataWidth: ByteData, Delay: 50 * time.Millisecond}); err != nil {
			t.Fatal(err)
		}
		if len(clk.sleeps) != 1 || clk.sleeps[0] != 50*time.Millisecond {
			t.Errorf("sleeps = %v", clk.sleeps)
		}
	})

	t.Run("settles after failure", func(t *testing.T) {
		clk := &mockClock{}
		b := NewBus(&mockTransport{failAt: 1}, WordAddr, clk, quietLogger())
		err := b.WriteTableAndSettle(RegisterTable{
			Entries:   []RegisterEntry{{0x0100, 1}},
			DataWidth: ByteData,
			Delay:     5 * time.Millisecond,
		})
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("err = %v", err)
		}
		if len(clk.ranges) != 1 {
			t.Errorf("settle skipped after failure")
		}
	})
}

func TestWriteAllTables_StopsAtFailingTable(t *testing.T) {
	tr := &mockTransport{failAt: 2}
	clk := &mockClock{}
	b := NewBus(tr, WordAddr, clk, quietLogger())
	tables := []RegisterTable{
		{Entries: []RegisterEntry{{0x0103, 1}}, DataWidth: ByteData},
		{Entries: []RegisterEntry{{0x3000, 0}}, DataWidth: ByteData},
		{Entries: []RegisterEntry{{0x3001, 0}}, DataWidth: ByteData},
	}
	if err := b.WriteAllTables(tables); !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v", err)
	}
	if tr.callCount() != 2 {
		t.Errorf("calls = %d, want 2", tr.callCount())
	}
	if len(clk.ranges) != 2 {
		t.Errorf("settles = %d, want 2", len(clk.ranges))
	}
}

func TestBus_ReadAndSequential(t *testing.T) {
	tr := &mockTransport{regs: map[uint16][]byte{0x0000: {0x56, 0x48}}}
	b := NewBus(tr, WordAddr, nil, quietLogger())

	v, err := b.Read(0x0000, WordData)
	if err != nil || v != 0x5648 {
		t.Fatalf("Read = 0x%04X, %v", v, err)
	}

	if err := b.WriteSeq(0x5000, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty WriteSeq err = %v", err)
	}
	if err := b.WriteSeq(0x5000, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if got := tr.writes[0]; len(got) != 5 || got[0] != 0x50 || got[4] != 3 {
		t.Errorf("WriteSeq wire = % X", got)
	}

	data, err := b.ReadSeq(0x0000, 2)
	if err != nil || data[0] != 0x56 {
		t.Errorf("ReadSeq = % X, %v", data, err)
	}
}
