package graphapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/richinsley/comfydrive/internal/ordered"
)

// Graph is an API-format workflow: a mapping from node id to Node. Node ids
// keep the order in which they appear in the source document, which makes
// every walk over the graph deterministic.
type Graph struct {
	order []string
	nodes map[string]*Node
	// top level members that are not node objects, e.g. a "version" entry
	extra []extraField
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// Len returns the number of nodes.
func (t *Graph) Len() int {
	return len(t.nodes)
}

// IDs returns the node ids in encounter order.
func (t *Graph) IDs() []string {
	return append([]string(nil), t.order...)
}

// GetNodeById returns the node with the given id, or nil.
func (t *Graph) GetNodeById(id string) *Node {
	if t.nodes == nil {
		return nil
	}
	return t.nodes[id]
}

// SetNode adds or replaces a node. New ids are appended to the encounter order.
func (t *Graph) SetNode(id string, n *Node) {
	if t.nodes == nil {
		t.nodes = make(map[string]*Node)
	}
	if _, ok := t.nodes[id]; !ok {
		t.order = append(t.order, id)
	}
	t.nodes[id] = n
}

// Each calls fn for every node in encounter order.
func (t *Graph) Each(fn func(id string, n *Node)) {
	for _, id := range t.order {
		fn(id, t.nodes[id])
	}
}

// GetNodesWithType returns the ids of all nodes with the given class type.
func (t *Graph) GetNodesWithType(classType string) []string {
	retv := make([]string, 0)
	t.Each(func(id string, n *Node) {
		if n.ClassType == classType {
			retv = append(retv, id)
		}
	})
	return retv
}

// Clone returns a deep copy of the graph; the copy shares nothing with t.
func (t *Graph) Clone() *Graph {
	c := &Graph{
		order: append([]string(nil), t.order...),
		nodes: make(map[string]*Node, len(t.nodes)),
		extra: append([]extraField(nil), t.extra...),
	}
	for id, n := range t.nodes {
		c.nodes[id] = n.Clone()
	}
	return c
}

// UnmarshalJSON decodes an API-format document. Members that are not JSON
// objects are not nodes; they are kept aside and written back unchanged.
func (t *Graph) UnmarshalJSON(b []byte) error {
	t.order = nil
	t.nodes = make(map[string]*Node)
	t.extra = nil

	return ordered.ForEach(b, func(id string, raw json.RawMessage) error {
		if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
			t.extra = append(t.extra, extraField{key: id, raw: append(json.RawMessage(nil), raw...)})
			return nil
		}
		n := &Node{}
		if err := json.Unmarshal(raw, n); err != nil {
			return fmt.Errorf("node %q: %w", id, err)
		}
		if _, dup := t.nodes[id]; !dup {
			t.order = append(t.order, id)
		}
		t.nodes[id] = n
		return nil
	})
}

func (t *Graph) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range t.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, id, t.nodes[id]); err != nil {
			return nil, err
		}
	}
	for i, e := range t.extra {
		if i > 0 || len(t.order) > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, e.key, e.raw); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ErrEmptyGraph is returned when a document decodes to a graph without nodes.
var ErrEmptyGraph = errors.New("graph has no nodes")

func NewGraphFromJsonReader(r io.Reader) (*Graph, error) {
	fileContent, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	graph := NewGraph()
	if err := json.Unmarshal(fileContent, graph); err != nil {
		return nil, err
	}
	if graph.Len() == 0 {
		return nil, ErrEmptyGraph
	}
	return graph, nil
}

func NewGraphFromJsonFile(path string) (*Graph, error) {
	freader, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer freader.Close()

	return NewGraphFromJsonReader(freader)
}

func NewGraphFromJsonString(data string) (*Graph, error) {
	return NewGraphFromJsonReader(strings.NewReader(data))
}

func (t *Graph) GraphToJSON() (string, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (t *Graph) SaveGraphToFile(path string) error {
	data, err := t.GraphToJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(data), 0o644)
}
