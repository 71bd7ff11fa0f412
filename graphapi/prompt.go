package graphapi

// Prompt is the data that is enqueued to an instance of ComfyUI
type Prompt struct {
	ClientID string `json:"client_id"`
	Nodes    *Graph `json:"prompt"`
}

// GraphToPrompt wraps the graph for submission under the given client identity.
// The graph is serialized as is; seed enforcement happens before this call.
func (t *Graph) GraphToPrompt(clientID string) Prompt {
	return Prompt{
		ClientID: clientID,
		Nodes:    t,
	}
}
