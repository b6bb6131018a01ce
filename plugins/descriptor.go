package plugins

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/sensor-manager/sensor"
	"gopkg.in/yaml.v3"
)

// orderedObject is a YAML mapping rendered as a JSON object with its keys
// in file order
type orderedObject struct {
	keys   []string
	values map[string]interface{}
}

// MarshalJSON implements json.Marshaler
func (o *orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// isHexLiteral reports whether an int scalar was written in 0x form.
// Register addresses stay readable that way in the editor.
func isHexLiteral(s string) bool {
	return strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
}

// nodeToJSON converts a descriptor node tree into JSON-ready values.
// Hex ints are kept as their literal text.
func nodeToJSON(n *yaml.Node) interface{} {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil
		}
		return nodeToJSON(n.Content[0])

	case yaml.MappingNode:
		obj := &orderedObject{values: make(map[string]interface{}, len(n.Content)/2)}
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i].Value
			obj.keys = append(obj.keys, k)
			obj.values[k] = nodeToJSON(n.Content[i+1])
		}
		return obj

	case yaml.SequenceNode:
		items := make([]interface{}, 0, len(n.Content))
		for _, c := range n.Content {
			items = append(items, nodeToJSON(c))
		}
		return items

	case yaml.AliasNode:
		if n.Alias == nil {
			return nil
		}
		return nodeToJSON(n.Alias)

	case yaml.ScalarNode:
		return scalarToJSON(n)
	}
	return n.Value
}

func scalarToJSON(n *yaml.Node) interface{} {
	switch n.ShortTag() {
	case "!!null":
		return nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err == nil {
			return b
		}
	case "!!int":
		if isHexLiteral(n.Value) {
			return n.Value
		}
		var v int64
		if err := n.Decode(&v); err == nil {
			return v
		}
	case "!!float":
		var v float64
		if err := n.Decode(&v); err == nil {
			return v
		}
	}
	return n.Value
}

// mergeJSON writes edited values back into the node tree. Keys the edit
// does not mention keep their original text and comments.
func mergeJSON(n *yaml.Node, edit interface{}) {
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) > 0 {
			mergeJSON(n.Content[0], edit)
		}
		return
	}

	switch v := edit.(type) {
	case map[string]interface{}:
		if n.Kind != yaml.MappingNode {
			*n = *jsonToNode(v)
			return
		}
		seen := make(map[string]bool, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			seen[n.Content[i].Value] = true
			if nv, ok := v[n.Content[i].Value]; ok {
				mergeJSON(n.Content[i+1], nv)
			}
		}
		// new keys go after the existing ones, sorted
		added := make([]string, 0, len(v))
		for k := range v {
			if !seen[k] {
				added = append(added, k)
			}
		}
		sort.Strings(added)
		for _, k := range added {
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				jsonToNode(v[k]))
		}

	case []interface{}:
		// Sequences are replaced wholesale; table entries have no identity
		// to merge on.
		seq := jsonToNode(v)
		seq.Style = n.Style
		*n = *seq

	default:
		setScalar(n, v)
	}
}

// jsonToNode builds a fresh node for a decoded JSON value. Object keys are
// sorted so saves are reproducible.
func jsonToNode(v interface{}) *yaml.Node {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range keys {
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				jsonToNode(t[k]))
		}
		return n

	case []interface{}:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range t {
			n.Content = append(n.Content, jsonToNode(item))
		}
		return n

	default:
		n := &yaml.Node{Kind: yaml.ScalarNode}
		setScalar(n, t)
		return n
	}
}

func setScalar(n *yaml.Node, v interface{}) {
	n.Kind = yaml.ScalarNode
	n.Content = nil
	n.Style = 0

	switch t := v.(type) {
	case nil:
		n.Tag, n.Value = "!!null", "null"
	case bool:
		n.Tag, n.Value = "!!bool", strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			n.Tag, n.Value = "!!int", strconv.FormatInt(int64(t), 10)
		} else {
			n.Tag, n.Value = "!!float", strconv.FormatFloat(t, 'g', -1, 64)
		}
	case string:
		if isHexLiteral(t) {
			if _, err := strconv.ParseUint(t, 0, 64); err == nil {
				n.Tag, n.Value = "!!int", t
				return
			}
		}
		n.Tag, n.Value = "!!str", t
	default:
		n.Tag, n.Value = "!!str", fmt.Sprint(t)
	}
}

// DescriptorPlugin edits a sensor descriptor file in place
type DescriptorPlugin struct {
	path string
}

// NewDescriptorPlugin creates a new descriptor plugin instance
func NewDescriptorPlugin(path string) (*DescriptorPlugin, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required in descriptor plugin configuration")
	}
	return &DescriptorPlugin{path: path}, nil
}

// Name returns the plugin identifier
func (p *DescriptorPlugin) Name() string {
	return "descriptor"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *DescriptorPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/descriptor")

	api.Get("/load", p.handleLoad)
	api.Post("/save", p.handleSave)
}

// Shutdown performs cleanup
func (p *DescriptorPlugin) Shutdown() error {
	return nil
}

func (p *DescriptorPlugin) readNode() (*yaml.Node, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor: %w", err)
	}
	return &root, nil
}

// handleLoad handles GET /api/descriptor/load
func (p *DescriptorPlugin) handleLoad(c *fiber.Ctx) error {
	root, err := p.readNode()
	if err != nil {
		return SendError(c, 500, err)
	}
	return SendSuccess(c, nodeToJSON(root), "Descriptor loaded")
}

// handleSave handles POST /api/descriptor/save. The merged file must
// still be a valid descriptor before it replaces the original.
func (p *DescriptorPlugin) handleSave(c *fiber.Ctx) error {
	var edit map[string]interface{}
	if err := c.BodyParser(&edit); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	root, err := p.readNode()
	if err != nil {
		return SendError(c, 500, err)
	}
	mergeJSON(root, edit)

	data, err := yaml.Marshal(root)
	if err != nil {
		return SendError(c, 500, fmt.Errorf("failed to serialize descriptor: %w", err))
	}

	desc, err := sensor.ParseDescriptor(data)
	if err != nil {
		return SendError(c, 400, err)
	}

	if err := os.WriteFile(p.path, data, 0644); err != nil {
		return SendError(c, 500, fmt.Errorf("failed to write descriptor: %w", err))
	}

	slog.Info("Descriptor saved", "path", p.path, "sensor", desc.Name)
	return SendSuccess(c, nil, "Descriptor saved, restart to apply")
}

// Register the plugin
func init() {
	Register("descriptor", func(env *Env) (Plugin, error) {
		var cfg struct {
			Path string `yaml:"path"`
		}
		if err := decodeConfig(env.Config, &cfg); err != nil {
			return nil, fmt.Errorf("invalid config for descriptor plugin: %w", err)
		}
		return NewDescriptorPlugin(cfg.Path)
	})
}
