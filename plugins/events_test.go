package plugins

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/sensor-manager/sensor"
)

func TestEventHub(t *testing.T) {
	t.Run("fan out", func(t *testing.T) {
		hub := NewEventHub()
		defer hub.Close()

		_, a := hub.Subscribe(4)
		_, b := hub.Subscribe(4)
		hub.Publish(NewEvent("stream", "sample5m", nil))

		for i, ch := range []<-chan Event{a, b} {
			select {
			case e := <-ch:
				if e.Type != "stream" || e.Sensor != "sample5m" {
					t.Errorf("subscriber %d got %+v", i, e)
				}
			default:
				t.Errorf("subscriber %d got nothing", i)
			}
		}
	})

	t.Run("slow subscriber drops", func(t *testing.T) {
		hub := NewEventHub()
		defer hub.Close()

		_, ch := hub.Subscribe(1)
		hub.Publish(NewEvent("one", "", nil))
		hub.Publish(NewEvent("two", "", nil))

		if got := hub.Dropped(); got != 1 {
			t.Errorf("Dropped() = %d, want 1", got)
		}
		if e := <-ch; e.Type != "one" {
			t.Errorf("kept %q, want the first event", e.Type)
		}
	})

	t.Run("unsubscribe closes", func(t *testing.T) {
		hub := NewEventHub()
		defer hub.Close()

		id, ch := hub.Subscribe(0)
		if hub.Subscribers() != 1 {
			t.Fatalf("Subscribers() = %d, want 1", hub.Subscribers())
		}
		hub.Unsubscribe(id)
		hub.Unsubscribe(id)

		if _, ok := <-ch; ok {
			t.Error("channel still open after Unsubscribe")
		}
		if hub.Subscribers() != 0 {
			t.Errorf("Subscribers() = %d, want 0", hub.Subscribers())
		}
	})

	t.Run("close drops everyone", func(t *testing.T) {
		hub := NewEventHub()
		_, a := hub.Subscribe(0)
		_, b := hub.Subscribe(0)
		hub.Close()

		for _, ch := range []<-chan Event{a, b} {
			if _, ok := <-ch; ok {
				t.Error("channel still open after Close")
			}
		}
		// Publishing to an empty hub is fine
		hub.Publish(NewEvent("late", "", nil))
	})
}

func TestEventTopic(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{Event{Type: "stream", Sensor: "sample5m"}, "cam/events/sample5m/stream"},
		{Event{Type: "health"}, "cam/events/health"},
	}

	for _, tt := range tests {
		if got := eventTopic("cam", tt.event); got != tt.want {
			t.Errorf("eventTopic(%+v) = %q, want %q", tt.event, got, tt.want)
		}
	}
}

func TestRunCommand(t *testing.T) {
	var seen []sensor.Request
	dispatch := func(req sensor.Request) (sensor.Response, error) {
		seen = append(seen, req)
		if req.Op == sensor.OpSetMode && req.Resolution > 1 {
			return sensor.Response{}, sensor.ErrInvalidArgument
		}
		return sensor.Response{Op: req.Op.String(), AFMaxSteps: sensor.AFMaxSteps}, nil
	}

	t.Run("empty payload", func(t *testing.T) {
		res := runCommand(dispatch, "get_af_max_steps", nil)
		if !res.Success {
			t.Fatalf("failed: %s", res.Error)
		}
		resp := res.Data.(sensor.Response)
		if resp.AFMaxSteps != 32 {
			t.Errorf("AFMaxSteps = %d", resp.AFMaxSteps)
		}
	})

	t.Run("payload decoded", func(t *testing.T) {
		res := runCommand(dispatch, "set_mode", []byte(`{"mode":"snapshot","resolution":1}`))
		if !res.Success {
			t.Fatalf("failed: %s", res.Error)
		}
		last := seen[len(seen)-1]
		if last.Op != sensor.OpSetMode || last.Mode != sensor.ModeSnapshot || last.Resolution != 1 {
			t.Errorf("dispatched %+v", last)
		}
	})

	t.Run("dispatch error", func(t *testing.T) {
		res := runCommand(dispatch, "set_mode", []byte(`{"mode":"preview","resolution":5}`))
		if res.Success || res.Error == "" {
			t.Errorf("got %+v, want failure", res)
		}
	})

	t.Run("unknown op", func(t *testing.T) {
		calls := len(seen)
		res := runCommand(dispatch, "warp_drive", nil)
		if res.Success {
			t.Error("unknown op succeeded")
		}
		if len(seen) != calls {
			t.Error("unknown op reached the dispatcher")
		}
	})

	t.Run("bad payload", func(t *testing.T) {
		res := runCommand(dispatch, "set_fps", []byte(`{"fps_divider":`))
		if res.Success {
			t.Error("truncated payload succeeded")
		}
	})
}

func TestEnvDispatcher(t *testing.T) {
	env := &Env{}
	if _, err := env.dispatcher(sensor.Request{Op: sensor.OpGetAFMaxSteps}); err == nil {
		t.Fatal("dispatch without a sensor succeeded")
	}

	rig := newTestRig(t, 0x5648, false)
	env.Sensor = rig.device
	resp, err := env.dispatcher(sensor.Request{Op: sensor.OpGetAFMaxSteps})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.AFMaxSteps != 32 {
		t.Errorf("AFMaxSteps = %d", resp.AFMaxSteps)
	}
}

func TestEventsPlugin_Status(t *testing.T) {
	hub := NewEventHub()
	p, err := NewEventsPlugin(EventsConfig{}, &Env{Events: hub})
	if err != nil {
		t.Fatalf("NewEventsPlugin: %v", err)
	}
	defer p.Shutdown()

	app := fiber.New()
	p.RegisterRoutes(app)

	hub.Subscribe(0)
	status, resp := call(t, app, "GET", "/api/events/status", "")
	if status != fiber.StatusOK {
		t.Fatalf("status %d", status)
	}
	data := dataMap(t, resp)
	if data["subscribers"] != float64(1) || data["mqtt"] != false {
		t.Errorf("status = %v", data)
	}

	// Plain HTTP on the stream endpoint is refused before the upgrade
	status, _ = call(t, app, "GET", "/api/events/ws", "")
	if status != fiber.StatusUpgradeRequired {
		t.Errorf("ws without upgrade: status %d, want %d", status, fiber.StatusUpgradeRequired)
	}
}

func TestEventJSON(t *testing.T) {
	e := NewEvent(EventStream, "sample5m", map[string]interface{}{"on": true})
	if time.Since(e.Time) > time.Minute {
		t.Errorf("event time %v not current", e.Time)
	}

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["type"] != EventStream || decoded["sensor"] != "sample5m" {
		t.Errorf("decoded %v", decoded)
	}
}
