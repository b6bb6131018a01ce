package plugins

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/sensor-manager/sensor"
	"gopkg.in/yaml.v3"
)

func newDescriptorApp(t *testing.T) (*fiber.App, string) {
	t.Helper()

	data, err := os.ReadFile(sampleDescriptor)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "sensor.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	p, err := NewDescriptorPlugin(path)
	if err != nil {
		t.Fatal(err)
	}
	app := fiber.New()
	p.RegisterRoutes(app)
	return app, path
}

func TestDescriptorPlugin_Load(t *testing.T) {
	app, _ := newDescriptorApp(t)

	status, resp := call(t, app, "GET", "/api/descriptor/load", "")
	if status != fiber.StatusOK {
		t.Fatalf("status %d, error %q", status, resp.Error)
	}

	data := dataMap(t, resp)
	if data["name"] != "sample5m" {
		t.Errorf("name = %v", data["name"])
	}
	if data["i2c_address"] != "0x6C" {
		t.Errorf("hex literal not preserved: i2c_address = %v", data["i2c_address"])
	}
	res := data["resolutions"].([]interface{})
	first := res[0].(map[string]interface{})
	if first["interface"] != float64(0) {
		t.Errorf("decimal int = %v, want 0", first["interface"])
	}
}

func TestOrderedObject_KeepsFileOrder(t *testing.T) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte("zeta: 1\nalpha: 0x10\nmid: [a, b]\n"), &root); err != nil {
		t.Fatal(err)
	}

	raw, err := json.Marshal(nodeToJSON(&root))
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"zeta":1,"alpha":"0x10","mid":["a","b"]}`; string(raw) != want {
		t.Errorf("got %s, want %s", raw, want)
	}
}

func TestDescriptorPlugin_Save(t *testing.T) {
	app, path := newDescriptorApp(t)

	status, resp := call(t, app, "POST", "/api/descriptor/save",
		`{"name":"renamed","i2c_address":"0x6E","chip_id":{"value":"0x5649"}}`)
	if status != fiber.StatusOK {
		t.Fatalf("status %d, error %q", status, resp.Error)
	}

	desc, err := sensor.LoadDescriptor(path)
	if err != nil {
		t.Fatalf("saved descriptor does not load: %v", err)
	}
	if desc.Name != "renamed" || desc.I2CAddress != 0x6E || desc.ChipID != 0x5649 {
		t.Errorf("saved %s addr 0x%02X id 0x%04X", desc.Name, desc.I2CAddress, desc.ChipID)
	}
	if desc.NumResolutions() != 2 {
		t.Errorf("untouched resolutions lost: %d", desc.NumResolutions())
	}

	saved, _ := os.ReadFile(path)
	if !strings.Contains(string(saved), "i2c_address: 0x6E") {
		t.Errorf("address not written as hex:\n%s", saved)
	}
	if !strings.HasPrefix(string(saved), "# 5MP bayer sensor") {
		t.Error("head comment lost")
	}
}

func TestDescriptorPlugin_SaveRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad width", `{"address_width":"triple"}`, fiber.StatusBadRequest},
		{"bad strategy", `{"exposure":{"strategy":"guess"}}`, fiber.StatusBadRequest},
		{"no resolutions", `{"resolutions":[]}`, fiber.StatusBadRequest},
		{"not json", `{"name":`, fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, path := newDescriptorApp(t)
			before, _ := os.ReadFile(path)

			status, resp := call(t, app, "POST", "/api/descriptor/save", tt.body)
			if status != tt.want {
				t.Errorf("status = %d, want %d (error %q)", status, tt.want, resp.Error)
			}

			after, _ := os.ReadFile(path)
			if !bytes.Equal(before, after) {
				t.Error("rejected edit changed the file")
			}
		})
	}
}

func TestMergeJSON_Sequences(t *testing.T) {
	var root yaml.Node
	src := "entries:\n  - {addr: 0x0100, value: 0x01}\nname: x\n"
	if err := yaml.Unmarshal([]byte(src), &root); err != nil {
		t.Fatal(err)
	}

	mergeJSON(&root, map[string]interface{}{
		"entries": []interface{}{
			map[string]interface{}{"value": "0x00", "addr": "0x0100"},
			map[string]interface{}{"value": float64(1), "addr": "0x0104"},
		},
	})

	var out struct {
		Entries []sensor.RegisterEntry `yaml:"entries"`
		Name    string                 `yaml:"name"`
	}
	if err := root.Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Entries) != 2 || out.Entries[1].Addr != 0x0104 || out.Entries[1].Value != 1 {
		t.Errorf("entries = %+v", out.Entries)
	}
	if out.Name != "x" {
		t.Errorf("untouched key changed: %q", out.Name)
	}
}

func TestDescriptorPlugin_SaveAddsKeys(t *testing.T) {
	app, path := newDescriptorApp(t)
	data, _ := os.ReadFile(path)
	stripped := strings.Replace(string(data), "formats:\n  - {code: 0x3007, name: SBGGR10_1X10}\n", "", 1)
	if stripped == string(data) {
		t.Fatal("sample descriptor has no formats block")
	}
	if err := os.WriteFile(path, []byte(stripped), 0644); err != nil {
		t.Fatal(err)
	}

	status, resp := call(t, app, "POST", "/api/descriptor/save",
		`{"formats":[{"code":"0x3007","name":"SBGGR10_1X10"}]}`)
	if status != fiber.StatusOK {
		t.Fatalf("status %d, error %q", status, resp.Error)
	}

	desc, err := sensor.LoadDescriptor(path)
	if err != nil {
		t.Fatalf("saved descriptor does not load: %v", err)
	}
	if len(desc.Formats) != 1 || desc.Formats[0].Code != 0x3007 || desc.Formats[0].Name != "SBGGR10_1X10" {
		t.Errorf("formats = %+v", desc.Formats)
	}

	status, resp = call(t, app, "GET", "/api/descriptor/load", "")
	if status != fiber.StatusOK {
		t.Fatalf("load status %d", status)
	}
	formats, _ := dataMap(t, resp)["formats"].([]interface{})
	if len(formats) != 1 {
		t.Fatalf("reloaded formats = %v", formats)
	}
	if code := formats[0].(map[string]interface{})["code"]; code != "0x3007" {
		t.Errorf("code = %v, want hex literal", code)
	}
}

func TestMergeJSON_NewKeys(t *testing.T) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte("name: x\nnested:\n  a: 1\n"), &root); err != nil {
		t.Fatal(err)
	}

	mergeJSON(&root, map[string]interface{}{
		"zeta":   "z",
		"alpha":  "0x10",
		"nested": map[string]interface{}{"b": float64(2)},
	})

	raw, err := json.Marshal(nodeToJSON(&root))
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"name":"x","nested":{"a":1,"b":2},"alpha":"0x10","zeta":"z"}`; string(raw) != want {
		t.Errorf("got %s, want %s", raw, want)
	}
}

func TestNewDescriptorPlugin_RequiresPath(t *testing.T) {
	if _, err := NewDescriptorPlugin(""); err == nil {
		t.Error("empty path accepted")
	}
}
