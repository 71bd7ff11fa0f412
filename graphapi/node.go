package graphapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/richinsley/comfydrive/internal/ordered"
)

// Node is a single operation of an API-format workflow. Inputs hold either
// literal values or link references ([source id, output slot]).
//
// Literal numbers decoded from JSON are kept as json.Number so that seeds and
// other large integers are written back exactly as they were read.
type Node struct {
	ClassType string
	Inputs    map[string]interface{}
	Meta      map[string]interface{}

	inputOrder []string
	extra      []extraField
}

type extraField struct {
	key string
	raw json.RawMessage
}

// NewNode creates an empty node of the given class type.
func NewNode(classType string) *Node {
	return &Node{
		ClassType: classType,
		Inputs:    make(map[string]interface{}),
	}
}

// Title returns the node's _meta.title, or "" when absent.
func (n *Node) Title() string {
	if n.Meta == nil {
		return ""
	}
	title, _ := n.Meta["title"].(string)
	return title
}

// SetTitle sets the node's _meta.title.
func (n *Node) SetTitle(title string) {
	if n.Meta == nil {
		n.Meta = make(map[string]interface{})
	}
	n.Meta["title"] = title
}

// Input returns the value of the named input field.
func (n *Node) Input(name string) (interface{}, bool) {
	v, ok := n.Inputs[name]
	return v, ok
}

// InputString returns the named input when it holds a literal string.
func (n *Node) InputString(name string) (string, bool) {
	v, ok := n.Inputs[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// SetInput writes a leaf value. New fields are appended after the existing
// ones so that InputNames stays stable.
func (n *Node) SetInput(name string, value interface{}) {
	if n.Inputs == nil {
		n.Inputs = make(map[string]interface{})
	}
	if _, ok := n.Inputs[name]; !ok {
		n.inputOrder = append(n.inputOrder, name)
	}
	n.Inputs[name] = value
}

// InputNames returns the input field names in document order. Fields added
// directly to the Inputs map without SetInput come last, sorted.
func (n *Node) InputNames() []string {
	retv := make([]string, 0, len(n.Inputs))
	seen := make(map[string]bool, len(n.Inputs))
	for _, k := range n.inputOrder {
		if _, ok := n.Inputs[k]; ok && !seen[k] {
			retv = append(retv, k)
			seen[k] = true
		}
	}
	if len(retv) == len(n.Inputs) {
		return retv
	}
	rest := make([]string, 0)
	for k := range n.Inputs {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(retv, rest...)
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := &Node{
		ClassType:  n.ClassType,
		Inputs:     make(map[string]interface{}, len(n.Inputs)),
		inputOrder: append([]string(nil), n.inputOrder...),
	}
	for k, v := range n.Inputs {
		c.Inputs[k] = cloneValue(v)
	}
	if n.Meta != nil {
		c.Meta = cloneValue(n.Meta).(map[string]interface{})
	}
	for _, e := range n.extra {
		c.extra = append(c.extra, extraField{key: e.key, raw: append(json.RawMessage(nil), e.raw...)})
	}
	return c
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, e := range val {
			m[k] = cloneValue(e)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(val))
		for i, e := range val {
			s[i] = cloneValue(e)
		}
		return s
	default:
		// strings, numbers, bools and nil are immutable
		return val
	}
}

func (n *Node) UnmarshalJSON(b []byte) error {
	n.ClassType = ""
	n.Inputs = make(map[string]interface{})
	n.Meta = nil
	n.inputOrder = nil
	n.extra = nil

	err := ordered.ForEach(b, func(key string, raw json.RawMessage) error {
		switch key {
		case "class_type":
			// a non-string class type simply matches no taxonomy
			var ct interface{}
			if err := json.Unmarshal(raw, &ct); err != nil {
				return err
			}
			n.ClassType, _ = ct.(string)
		case "inputs":
			return ordered.ForEach(raw, func(name string, value json.RawMessage) error {
				var v interface{}
				if err := ordered.Decode(value, &v); err != nil {
					return err
				}
				n.Inputs[name] = v
				n.inputOrder = append(n.inputOrder, name)
				return nil
			})
		case "_meta":
			var meta interface{}
			if err := ordered.Decode(raw, &meta); err != nil {
				return err
			}
			n.Meta, _ = meta.(map[string]interface{})
		default:
			n.extra = append(n.extra, extraField{key: key, raw: append(json.RawMessage(nil), raw...)})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	return nil
}

func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"inputs":{`)
	for i, name := range n.InputNames() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, name, n.Inputs[name]); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`},`)
	if err := writeMember(&buf, "class_type", n.ClassType); err != nil {
		return nil, err
	}
	if n.Meta != nil {
		buf.WriteByte(',')
		if err := writeMember(&buf, "_meta", n.Meta); err != nil {
			return nil, err
		}
	}
	for _, e := range n.extra {
		buf.WriteByte(',')
		if err := writeMember(&buf, e.key, e.raw); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, key string, value interface{}) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}
