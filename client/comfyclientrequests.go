package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/richinsley/comfydrive/graphapi"
)

/*
Endpoints used:

@routes.get("/system_stats")
@routes.get("/prompt")
@routes.get("/queue")
@routes.get("/history/{prompt_id}")
@routes.get("/view")

@routes.post("/prompt")
@routes.post("/queue")
@routes.post("/interrupt")
@routes.post("/upload/image")
*/

func (c *ComfyClient) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	retv := &SystemStats{}
	if err := c.getJSON(ctx, "system stats", "/system_stats", capTimeout(c.requestTimeout, healthTimeoutCap), retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// CheckHealth returns nil when the server answers its stats endpoint.
func (c *ComfyClient) CheckHealth(ctx context.Context) error {
	_, err := c.request(ctx, "health check", http.MethodGet, "/system_stats", nil, nil, "", capTimeout(c.requestTimeout, healthTimeoutCap))
	return err
}

func (c *ComfyClient) GetQueueExecutionInfo(ctx context.Context) (*QueueExecInfo, error) {
	queueExec := &QueueExecInfo{}
	if err := c.getJSON(ctx, "queue info", "/prompt", controlTimeout, queueExec); err != nil {
		return nil, err
	}
	return queueExec, nil
}

// GetQueueStatus returns the number of running and pending queue entries.
func (c *ComfyClient) GetQueueStatus(ctx context.Context) (*QueueStatus, error) {
	var raw struct {
		Running []json.RawMessage `json:"queue_running"`
		Pending []json.RawMessage `json:"queue_pending"`
	}
	if err := c.getJSON(ctx, "queue status", "/queue", controlTimeout, &raw); err != nil {
		return nil, err
	}
	return &QueueStatus{Running: len(raw.Running), Pending: len(raw.Pending)}, nil
}

// QueuePrompt submits graph as is. Seeds should already be enforced.
func (c *ComfyClient) QueuePrompt(ctx context.Context, graph *graphapi.Graph) (*QueueItem, error) {
	const op = "queue prompt"

	body, err := c.postJSON(ctx, op, "/prompt", graph.GraphToPrompt(c.clientid), c.requestTimeout)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Kind == KindStatus {
			// {"error": {"type": "prompt_no_outputs", "message": "Prompt has no outputs", ...}, "node_errors": {}}
			perror := &PromptErrorMessage{}
			if json.Unmarshal(body, perror) == nil && perror.Error.Message != "" {
				apiErr.Body = perror.Error.Message
			}
		}
		return nil, err
	}

	item := &QueueItem{}
	if err := json.Unmarshal(body, item); err != nil {
		return nil, &APIError{Op: op, Kind: KindProtocol, StatusCode: http.StatusOK, Body: truncateBody(body), Err: err}
	}
	if item.PromptID == "" {
		return nil, &APIError{Op: op, Kind: KindProtocol, StatusCode: http.StatusOK, Body: truncateBody(body), Err: errors.New("response has no prompt_id")}
	}
	return item, nil
}

// GetHistory fetches the history record of one prompt. ErrHistoryNotReady is
// returned while the backend has not recorded the prompt yet.
func (c *ComfyClient) GetHistory(ctx context.Context, promptID string) (*HistoryEntry, error) {
	const op = "get history"

	body, err := c.request(ctx, op, http.MethodGet, "/history/"+url.PathEscape(promptID), nil, nil, "", capTimeout(c.requestTimeout, historyTimeoutCap))
	if err != nil {
		return nil, err
	}
	entry, err := parseHistory(body, promptID)
	if err != nil && !errors.Is(err, ErrHistoryNotReady) {
		return nil, &APIError{Op: op, Kind: KindProtocol, StatusCode: http.StatusOK, Body: truncateBody(body), Err: err}
	}
	return entry, err
}

// GetImage downloads a stored file.
func (c *ComfyClient) GetImage(ctx context.Context, image DataOutput) ([]byte, error) {
	params := url.Values{}
	params.Add("filename", image.Filename)
	params.Add("subfolder", image.Subfolder)
	params.Add("type", image.Type)
	return c.request(ctx, "get image", http.MethodGet, "/view", params, nil, "", c.requestTimeout)
}

// DeleteFromQueue removes pending prompts from the server queue.
func (c *ComfyClient) DeleteFromQueue(ctx context.Context, promptIDs ...string) error {
	_, err := c.postJSON(ctx, "delete from queue", "/queue", map[string][]string{"delete": promptIDs}, controlTimeout)
	return err
}

// Interrupt stops whatever the server is executing right now.
func (c *ComfyClient) Interrupt(ctx context.Context) error {
	_, err := c.postJSON(ctx, "interrupt", "/interrupt", struct{}{}, controlTimeout)
	return err
}
