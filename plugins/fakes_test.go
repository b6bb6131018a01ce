package plugins

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/sensor-manager/sensor"
)

const sampleDescriptor = "../sensors/sample5m.yaml"

var errNack = errors.New("nack")

// regFile emulates a sensor with 16-bit register addresses
type regFile struct {
	mu   sync.Mutex
	mem  map[uint16]byte
	fail error
	txs  int
}

func newRegFile(chipID uint16) *regFile {
	return &regFile{mem: map[uint16]byte{
		0x0000: byte(chipID >> 8),
		0x0001: byte(chipID),
	}}
}

func (f *regFile) Tx(w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs++
	if f.fail != nil {
		return f.fail
	}
	if len(w) < 2 {
		return fmt.Errorf("short address: %d bytes", len(w))
	}
	addr := uint16(w[0])<<8 | uint16(w[1])
	if len(r) == 0 {
		for i, b := range w[2:] {
			f.mem[addr+uint16(i)] = b
		}
		return nil
	}
	for i := range r {
		r[i] = f.mem[addr+uint16(i)]
	}
	return nil
}

func (f *regFile) get(addr uint16) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem[addr]
}

func (f *regFile) set(addr uint16, v byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mem[addr] = v
}

// noSleep satisfies sensor.Clock without blocking
type noSleep struct{}

func (noSleep) Sleep(time.Duration)                     {}
func (noSleep) SleepRange(time.Duration, time.Duration) {}

// recordingPower counts power transitions
type recordingPower struct {
	mu   sync.Mutex
	ups  int
	down int
}

func (p *recordingPower) PowerUp() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ups++
	return nil
}

func (p *recordingPower) PowerDown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down++
	return nil
}

// fakeLine records every value written to a GPIO line into a shared log
type fakeLine struct {
	name   string
	value  int
	log    *[]string
	closed bool
	err    error
}

func (l *fakeLine) SetValue(v int) error {
	if l.err != nil {
		return l.err
	}
	l.value = v
	*l.log = append(*l.log, fmt.Sprintf("%s=%d", l.name, v))
	return nil
}

func (l *fakeLine) Value() (int, error) {
	return l.value, nil
}

func (l *fakeLine) Close() error {
	l.closed = true
	return nil
}

type testRig struct {
	regs   *regFile
	power  *recordingPower
	hub    *EventHub
	device *SensorDevice
	app    *fiber.App
}

func newTestRig(t *testing.T, chipID uint16, inspection bool) *testRig {
	t.Helper()

	desc, err := sensor.LoadDescriptor(sampleDescriptor)
	if err != nil {
		t.Fatalf("LoadDescriptor: %v", err)
	}

	rig := &testRig{
		regs:  newRegFile(chipID),
		power: &recordingPower{},
		hub:   NewEventHub(),
	}
	rig.device, err = newSensorDevice(desc, rig.regs, rig.power, rig.hub, inspection,
		sensor.WithClock(noSleep{}))
	if err != nil {
		t.Fatalf("newSensorDevice: %v", err)
	}

	p := &SensorPlugin{config: SensorConfig{Descriptor: sampleDescriptor}, device: rig.device}
	rig.app = fiber.New()
	p.RegisterRoutes(rig.app)

	t.Cleanup(func() {
		rig.device.Close()
		rig.hub.Close()
	})
	return rig
}

// call sends one request and decodes the standard response envelope
func call(t *testing.T, app *fiber.App, method, path, body string) (int, APIResponse) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out APIResponse
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
	}
	return resp.StatusCode, out
}

// dataMap returns the response data as a JSON object
func dataMap(t *testing.T, r APIResponse) map[string]interface{} {
	t.Helper()
	m, ok := r.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data is %T, want object", r.Data)
	}
	return m
}

// drain collects the event types currently queued on ch
func drain(ch <-chan Event) []string {
	var types []string
	for {
		select {
		case e := <-ch:
			types = append(types, e.Type)
		default:
			return types
		}
	}
}
