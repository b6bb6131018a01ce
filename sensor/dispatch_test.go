package sensor

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func TestDispatch(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.Open(); err != nil {
		t.Fatal(err)
	}

	_, err := f.ctrl.Dispatch(Request{Op: OpSensorInit, Mode: ModePreview, Init: InitRequest{Preview: 0, Picture: 1}})
	if err != nil {
		t.Fatalf("sensor_init: %v", err)
	}
	if _, err := f.ctrl.Dispatch(Request{Op: OpSetMode, Mode: ModePreview, Resolution: 0}); err != nil {
		t.Fatalf("set_mode: %v", err)
	}

	tests := []struct {
		name  string
		req   Request
		check func(Response) bool
	}{
		{"pict fps", Request{Op: OpGetPictFPS, PrevFPS: 30 * Q8}, func(r Response) bool { return r.FPS == 30*Q8 }},
		{"prev lines", Request{Op: OpGetPrevLinesPerFrame}, func(r Response) bool { return r.Lines == 1000 }},
		{"prev pixels", Request{Op: OpGetPrevPixelsPerLine}, func(r Response) bool { return r.Pixels == 2000 }},
		{"pict lines", Request{Op: OpGetPictLinesPerFrame}, func(r Response) bool { return r.Lines == 2000 }},
		{"pict pixels", Request{Op: OpGetPictPixelsPerLine}, func(r Response) bool { return r.Pixels == 1000 }},
		{"max exp", Request{Op: OpGetPictMaxExpLines}, func(r Response) bool { return r.MaxExpLine == 24000 }},
		{"af steps", Request{Op: OpGetAFMaxSteps}, func(r Response) bool { return r.AFMaxSteps == 32 }},
		{"output info", Request{Op: OpGetOutputInfo}, func(r Response) bool { return len(r.Output) == 2 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := f.ctrl.Dispatch(tc.req)
			if err != nil {
				t.Fatal(err)
			}
			if !tc.check(resp) {
				t.Errorf("response = %+v", resp)
			}
		})
	}

	t.Run("placeholders have no effect", func(t *testing.T) {
		f.tr.reset()
		for _, op := range []Opcode{OpPowerDown, OpMoveFocus, OpSetDefaultFocus, OpSetEffect, OpSendWBInfo} {
			if _, err := f.ctrl.Dispatch(Request{Op: op}); err != nil {
				t.Errorf("%s: %v", op, err)
			}
		}
		if f.tr.callCount() != 0 {
			t.Errorf("calls = %d, want 0", f.tr.callCount())
		}
	})

	t.Run("exp gain variants share handler", func(t *testing.T) {
		for _, op := range []Opcode{OpSetExpGain, OpSetPictExpGain} {
			f.tr.reset()
			if _, err := f.ctrl.Dispatch(Request{Op: op, Gain: 0x20, Line: 100}); err != nil {
				t.Fatal(err)
			}
			if f.tr.callCount() != 5 {
				t.Errorf("%s: calls = %d, want 5", op, f.tr.callCount())
			}
		}
	})

	t.Run("unknown opcode", func(t *testing.T) {
		for _, op := range []Opcode{-1, 99} {
			if _, err := f.ctrl.Dispatch(Request{Op: op}); !errors.Is(err, ErrUnknownCommand) {
				t.Errorf("op %d: err = %v", op, err)
			}
		}
	})

	t.Run("lock released after error", func(t *testing.T) {
		if _, err := f.ctrl.Dispatch(Request{Op: OpSetMode, Mode: ModePreview, Resolution: 9}); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("err = %v", err)
		}
		if _, err := f.ctrl.Dispatch(Request{Op: OpGetAFMaxSteps}); err != nil {
			t.Fatal(err)
		}
	})
}

func TestDispatch_Unsupported(t *testing.T) {
	data, err := os.ReadFile("testdata/sample.yaml")
	if err != nil {
		t.Fatal(err)
	}
	desc, err := ParseDescriptor([]byte(strings.Replace(string(data), "strategy: frame_length", "strategy: none", 1)))
	if err != nil {
		t.Fatal(err)
	}
	ctrl, err := NewController(desc, &mockTransport{}, WithLogger(quietLogger()), WithClock(&mockClock{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := ctrl.Open(); err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.Dispatch(Request{Op: OpSetExpGain, Gain: 1, Line: 1}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestParseOpcode(t *testing.T) {
	for _, op := range Opcodes() {
		got, err := ParseOpcode(op.String())
		if err != nil || got != op {
			t.Errorf("ParseOpcode(%q) = %v, %v", op.String(), got, err)
		}
	}
	if _, err := ParseOpcode("zoom"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("err = %v", err)
	}
}
