package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/comfydrive/graphapi"
)

func TestProgressMonitorRoutesEvents(t *testing.T) {
	messages := []string{
		`{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 1}}, "sid": "test-client"}}`,
		`{"type": "execution_start", "data": {"prompt_id": "other"}}`,
		`{"type": "execution_start", "data": {"prompt_id": "42"}}`,
		`{"type": "execution_cached", "data": {"nodes": ["4"], "prompt_id": "42"}}`,
		`{"type": "executing", "data": {"node": "3", "display_node": "3", "prompt_id": "42"}}`,
		`{"type": "progress", "data": {"value": 1, "max": 20, "prompt_id": "42", "node": "3"}}`,
		`{"type": "progress", "data": {"value": 20, "max": 20, "prompt_id": "42", "node": "3"}}`,
		`{"type": "crystools.monitor", "data": {"cpu_utilization": 3.2}}`,
		`{"type": "executed", "data": {"node": "9", "output": {"images": [{"filename": "out.png", "subfolder": "", "type": "output"}]}, "prompt_id": "42"}}`,
		`{"type": "executing", "data": {"node": null, "prompt_id": "42"}}`,
		`{"type": "execution_success", "data": {"prompt_id": "42", "timestamp": 1}}`,
	}

	gotClientID := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClientID <- r.URL.Query().Get("clientId")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.BinaryMessage, []byte{0, 0, 0, 1})
		for _, m := range messages {
			if conn.WriteMessage(websocket.TextMessage, []byte(m)) != nil {
				return
			}
		}
		// hold the connection until the client closes it
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	g, err := graphapi.NewGraphFromJsonString(`{"3": {"inputs": {}, "class_type": "KSampler", "_meta": {"title": "Base Sampler"}}}`)
	require.NoError(t, err)

	c := NewComfyClient(srv.URL, WithLogger(quietLogger()), WithClientID("test-client"))
	m := c.NewProgressMonitor()
	queue := make(chan int, 4)
	m.OnQueueCountChanged = func(n int) { queue <- n }

	var (
		started   []string
		executing []string
		progress  []int
		data      []string
	)
	stopped := make(chan *PromptMessageStopped, 2)
	m.Subscribe("42", g, &MessageHandlers{
		OnStarted:   func(msg *PromptMessageStarted) { started = append(started, msg.PromptID) },
		OnExecuting: func(msg *PromptMessageExecuting) { executing = append(executing, msg.Title) },
		OnProgress:  func(msg *PromptMessageProgress) { progress = append(progress, msg.Value) },
		OnData: func(msg *PromptMessageData) {
			for _, img := range msg.Data["images"] {
				data = append(data, msg.NodeID+":"+img.Filename)
			}
		},
		OnStopped: func(msg *PromptMessageStopped) { stopped <- msg },
	})

	require.NoError(t, m.Start(context.Background()))
	defer m.Close()
	assert.Equal(t, "test-client", <-gotClientID)

	select {
	case msg := <-stopped:
		assert.Equal(t, QueuedItemStoppedReasonFinished, msg.Reason)
		assert.Nil(t, msg.Exception)
	case <-time.After(5 * time.Second):
		t.Fatal("no stopped event")
	}

	require.NoError(t, m.Close())
	assert.Equal(t, 1, <-queue)
	assert.Equal(t, []string{"42"}, started)
	assert.Equal(t, []string{"Base Sampler"}, executing)
	assert.Equal(t, []int{1, 20}, progress)
	assert.Equal(t, []string{"9:out.png"}, data)
	// execution_success after the final executing event is not delivered twice
	assert.Len(t, stopped, 0)
}

func TestTranslateExecutionError(t *testing.T) {
	msg := &WSStatusMessage{}
	require.NoError(t, msg.UnmarshalJSON([]byte(`{"type": "execution_error", "data": {
		"prompt_id": "42", "node_id": "57:8", "node_type": "VAEDecode",
		"exception_message": "boom", "exception_type": "RuntimeError", "traceback": ["a"]}}`)))
	assert.Equal(t, "42", msg.PromptID())

	g, err := graphapi.NewGraphFromJsonString(`{"57": {"inputs": {}, "class_type": "MyGroupNode"}}`)
	require.NoError(t, err)

	pm, ok := translate(msg, g)
	require.True(t, ok)
	stopped := pm.ToPromptMessageStopped()
	assert.Equal(t, QueuedItemStoppedReasonError, stopped.Reason)
	require.NotNil(t, stopped.Exception)
	assert.Equal(t, "MyGroupNode", stopped.Exception.NodeName)
	assert.Equal(t, "boom", stopped.Exception.ExceptionMessage)

	var gotErr *PromptMessageStoppedException
	h := &MessageHandlers{}
	h.WithErrorHandler(func(e *PromptMessageStoppedException) { gotErr = e })
	assert.True(t, h.Dispatch(pm))
	assert.Same(t, stopped.Exception, gotErr)
}

func TestWebSocketConnectGivesUp(t *testing.T) {
	w := &WebSocketConnection{
		WebSocketURL: "ws://127.0.0.1:1/ws",
		MaxRetry:     1,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Logger:       quietLogger(),
	}
	assert.Error(t, w.Connect(context.Background()))
	assert.NoError(t, w.Close())
}

func TestExecutedKeepsTextOutput(t *testing.T) {
	msg := &WSStatusMessage{}
	require.NoError(t, msg.UnmarshalJSON([]byte(`{"type": "executed", "data": {"node": "12", "prompt_id": "42",
		"output": {"text": ["a caption"], "images": [{"filename": "x.png", "subfolder": "", "type": "temp"}]}}}`)))

	executed, ok := msg.Data.(*WSMessageDataExecuted)
	require.True(t, ok)
	assert.Equal(t, "12", executed.Node)
	assert.Equal(t, []DataOutput{{Type: "text", Text: "a caption"}}, executed.Output["text"])
	assert.Equal(t, []DataOutput{{Filename: "x.png", Type: "temp"}}, executed.Output["images"])
}

func TestProgressMonitorReplaysEventsBeforeSubscribe(t *testing.T) {
	m := NewComfyClient("http://localhost:8188", WithLogger(quietLogger())).NewProgressMonitor()

	m.OnMessage(`{"type": "execution_start", "data": {"prompt_id": "42"}}`)
	m.OnMessage(`{"type": "executing", "data": {"node": "3", "prompt_id": "42"}}`)
	m.OnMessage(`{"type": "progress", "data": {"value": 1, "max": 20, "prompt_id": "42", "node": "3"}}`)

	var events []string
	h := &MessageHandlers{
		OnStarted:   func(*PromptMessageStarted) { events = append(events, "started") },
		OnExecuting: func(msg *PromptMessageExecuting) { events = append(events, "executing "+msg.NodeID) },
		OnProgress:  func(*PromptMessageProgress) { events = append(events, "progress") },
		OnStopped:   func(*PromptMessageStopped) { events = append(events, "stopped") },
	}
	m.Subscribe("42", nil, h)
	assert.Equal(t, []string{"started", "executing 3", "progress"}, events)

	m.OnMessage(`{"type": "executing", "data": {"node": null, "prompt_id": "42"}}`)
	assert.Equal(t, []string{"started", "executing 3", "progress", "stopped"}, events)

	// held events are handed out once
	events = nil
	m.Subscribe("42", nil, h)
	assert.Empty(t, events)
}

func TestProgressMonitorBoundsHeldEvents(t *testing.T) {
	m := NewComfyClient("http://localhost:8188", WithLogger(quietLogger())).NewProgressMonitor()

	for i := 0; i < maxPendingPrompts+4; i++ {
		m.OnMessage(fmt.Sprintf(`{"type": "execution_start", "data": {"prompt_id": "p%d"}}`, i))
	}
	for i := 0; i < maxPendingEvents+10; i++ {
		m.OnMessage(`{"type": "progress", "data": {"value": 1, "max": 2, "prompt_id": "p10", "node": "3"}}`)
	}

	var started, progress int
	h := &MessageHandlers{
		OnStarted:  func(*PromptMessageStarted) { started++ },
		OnProgress: func(*PromptMessageProgress) { progress++ },
	}

	// the oldest prompts were evicted
	m.Subscribe("p0", nil, h)
	assert.Equal(t, 0, started)

	m.Subscribe("p10", nil, h)
	assert.Equal(t, 1, started)
	assert.Equal(t, maxPendingEvents-1, progress)
}
