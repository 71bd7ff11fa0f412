package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/richinsley/comfydrive/internal/ordered"
)

// HistoryEntry is the history record of one prompt.
type HistoryEntry struct {
	PromptID string
	// HasOutputs is set once the record carries an outputs section, even an
	// empty one.
	HasOutputs bool
	// Outputs are in the order the server listed them.
	Outputs []NodeOutput
	Status  *HistoryStatus
}

type NodeOutput struct {
	NodeID string
	Images []DataOutput
}

type HistoryStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages"`
}

// Failed reports whether the server marked the prompt as failed.
func (h *HistoryEntry) Failed() bool {
	return h.Status != nil && h.Status.StatusStr == "error"
}

// ErrorMessage returns the exception message of the execution_error event in
// the status messages, or a generic text.
func (h *HistoryEntry) ErrorMessage() string {
	if h.Status == nil {
		return "execution error"
	}
	for _, raw := range h.Status.Messages {
		var pair []json.RawMessage
		if json.Unmarshal(raw, &pair) != nil || len(pair) != 2 {
			continue
		}
		var kind string
		if json.Unmarshal(pair[0], &kind) != nil || kind != "execution_error" {
			continue
		}
		var data WSMessageExecutionError
		if json.Unmarshal(pair[1], &data) != nil {
			continue
		}
		msg := strings.TrimSpace(data.ExceptionMessage)
		if data.NodeType != "" {
			return fmt.Sprintf("%s (node %s %s)", msg, data.Node, data.NodeType)
		}
		if msg != "" {
			return msg
		}
	}
	return "execution error"
}

// SelectImage picks the artifact to download: the first image stored in the
// "output" folder, otherwise the first image of any type.
func (h *HistoryEntry) SelectImage() (DataOutput, bool) {
	var first *DataOutput
	for _, o := range h.Outputs {
		for i := range o.Images {
			img := &o.Images[i]
			if img.Type == "output" {
				return *img, true
			}
			if first == nil {
				first = img
			}
		}
	}
	if first == nil {
		return DataOutput{}, false
	}
	return *first, true
}

// parseHistory extracts promptID's record from a /history/{id} response.
func parseHistory(body []byte, promptID string) (*HistoryEntry, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, err
	}
	raw, ok := top[promptID]
	if !ok {
		return nil, ErrHistoryNotReady
	}

	entry := &HistoryEntry{PromptID: promptID}
	err := ordered.ForEach(raw, func(key string, value json.RawMessage) error {
		switch key {
		case "outputs":
			entry.HasOutputs = true
			return ordered.ForEach(value, func(nodeID string, out json.RawMessage) error {
				entry.Outputs = append(entry.Outputs, NodeOutput{NodeID: nodeID, Images: parseImages(out)})
				return nil
			})
		case "status":
			if string(value) == "null" {
				return nil
			}
			entry.Status = &HistoryStatus{}
			return json.Unmarshal(value, entry.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// parseImages reads the "images" list of a node output. Entries that are not
// file descriptors are skipped and a missing type means "output".
func parseImages(out json.RawMessage) []DataOutput {
	var node struct {
		Images []json.RawMessage `json:"images"`
	}
	if json.Unmarshal(out, &node) != nil {
		return nil
	}

	images := make([]DataOutput, 0, len(node.Images))
	for _, raw := range node.Images {
		var m map[string]interface{}
		if json.Unmarshal(raw, &m) != nil {
			continue
		}
		filename, _ := m["filename"].(string)
		if filename == "" {
			continue
		}
		subfolder, _ := m["subfolder"].(string)
		kind, ok := m["type"].(string)
		if !ok || kind == "" {
			kind = "output"
		}
		images = append(images, DataOutput{Filename: filename, Subfolder: subfolder, Type: kind})
	}
	return images
}
