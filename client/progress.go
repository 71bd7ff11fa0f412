package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/richinsley/comfydrive/graphapi"
)

// Events of prompts nobody subscribed to yet are held so a Subscribe made
// right after submission still sees the start of the run.
const (
	maxPendingPrompts = 16
	maxPendingEvents  = 64
)

// ProgressMonitor follows the server's websocket stream for this client's
// identity and routes events to per-prompt handlers. It only observes: job
// outcomes are decided by the Orchestrator's history polling.
type ProgressMonitor struct {
	client *ComfyClient
	conn   *WebSocketConnection
	logger *slog.Logger

	// dispatchMu keeps replayed events ahead of live ones.
	dispatchMu sync.Mutex

	mu           sync.Mutex
	subs         map[string]*subscription
	pending      map[string][]*WSStatusMessage
	pendingOrder []string
	// OnQueueCountChanged, when set, receives the server's queue length.
	OnQueueCountChanged func(int)
}

type subscription struct {
	graph    *graphapi.Graph
	handlers *MessageHandlers
}

// NewProgressMonitor creates a monitor. Call Start to connect.
func (c *ComfyClient) NewProgressMonitor() *ProgressMonitor {
	return &ProgressMonitor{
		client: c,
		logger: c.logger,
		subs:    make(map[string]*subscription),
		pending: make(map[string][]*WSStatusMessage),
	}
}

// Start connects to the event stream.
func (m *ProgressMonitor) Start(ctx context.Context) error {
	wsURL, err := m.client.WebSocketURL()
	if err != nil {
		return err
	}
	m.conn = &WebSocketConnection{
		WebSocketURL: wsURL,
		MaxRetry:     3,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Callback:     m,
		Logger:       m.logger,
	}
	return m.conn.Connect(ctx)
}

func (m *ProgressMonitor) Close() error {
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}

// Subscribe routes events of promptID to h until the prompt stops or the
// returned function is called. Events that arrived for promptID before the
// call are delivered first. g is used to resolve node titles and may be nil.
// Handlers must not call Subscribe.
func (m *ProgressMonitor) Subscribe(promptID string, g *graphapi.Graph, h *MessageHandlers) func() {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	sub := &subscription{graph: g, handlers: h}
	m.mu.Lock()
	held := m.pending[promptID]
	m.dropPending(promptID)
	m.subs[promptID] = sub
	m.mu.Unlock()

	for _, message := range held {
		if m.deliver(promptID, sub, message) {
			break
		}
	}

	return func() {
		m.mu.Lock()
		delete(m.subs, promptID)
		m.mu.Unlock()
	}
}

// lookupOrHold returns the subscription of promptID, or keeps message for a
// later Subscribe when there is none.
func (m *ProgressMonitor) lookupOrHold(promptID string, message *WSStatusMessage) *subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub := m.subs[promptID]; sub != nil {
		return sub
	}

	held, ok := m.pending[promptID]
	if !ok {
		if len(m.pendingOrder) >= maxPendingPrompts {
			m.dropPending(m.pendingOrder[0])
		}
		m.pendingOrder = append(m.pendingOrder, promptID)
	}
	if len(held) < maxPendingEvents {
		m.pending[promptID] = append(held, message)
	}
	return nil
}

// dropPending must be called with m.mu held.
func (m *ProgressMonitor) dropPending(promptID string) {
	if _, ok := m.pending[promptID]; !ok {
		return
	}
	delete(m.pending, promptID)
	for i, id := range m.pendingOrder {
		if id == promptID {
			m.pendingOrder = append(m.pendingOrder[:i], m.pendingOrder[i+1:]...)
			break
		}
	}
}

// deliver hands message to sub and reports whether the prompt stopped.
func (m *ProgressMonitor) deliver(promptID string, sub *subscription, message *WSStatusMessage) bool {
	pm, ok := translate(message, sub.graph)
	if !ok {
		return false
	}
	pm.PromptID = promptID
	if !sub.handlers.Dispatch(pm) {
		return false
	}
	m.mu.Lock()
	if m.subs[promptID] == sub {
		delete(m.subs, promptID)
	}
	m.mu.Unlock()
	return true
}

// OnMessage processes each message received from the websocket connection to ComfyUI.
// The messages are parsed, translated into PromptMessages and handed to the
// subscriber of their prompt.
func (m *ProgressMonitor) OnMessage(msg string) {
	message := &WSStatusMessage{}
	if err := json.Unmarshal([]byte(msg), message); err != nil {
		m.logger.Warn("failed to decode websocket message", "error", err)
		return
	}

	if s, ok := message.Data.(*WSMessageDataStatus); ok {
		if m.OnQueueCountChanged != nil {
			m.OnQueueCountChanged(s.Status.ExecInfo.QueueRemaining)
		}
		return
	}

	promptID := message.PromptID()
	if promptID == "" {
		return
	}

	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	if sub := m.lookupOrHold(promptID, message); sub != nil {
		m.deliver(promptID, sub, message)
	}
}

func translate(message *WSStatusMessage, g *graphapi.Graph) (PromptMessage, bool) {
	switch s := message.Data.(type) {
	case *WSMessageDataExecutionStart:
		return PromptMessage{Type: "started", Message: &PromptMessageStarted{PromptID: s.PromptID}}, true
	case *WSMessageDataExecuting:
		if s.Node == nil {
			// final node was processed
			return PromptMessage{Type: "stopped", Message: &PromptMessageStopped{
				PromptID: s.PromptID,
				Reason:   QueuedItemStoppedReasonFinished,
			}}, true
		}
		return PromptMessage{Type: "executing", Message: &PromptMessageExecuting{
			NodeID: *s.Node,
			Title:  nodeTitle(g, *s.Node),
		}}, true
	case *WSMessageDataProgress:
		return PromptMessage{Type: "progress", Message: &PromptMessageProgress{
			NodeID: s.Node,
			Value:  s.Value,
			Max:    s.Max,
		}}, true
	case *WSMessageDataExecuted:
		return PromptMessage{Type: "data", Message: &PromptMessageData{NodeID: s.Node, Data: s.Output}}, true
	case *WSMessageDataExecutionSuccess:
		return PromptMessage{Type: "stopped", Message: &PromptMessageStopped{
			PromptID: s.PromptID,
			Reason:   QueuedItemStoppedReasonFinished,
		}}, true
	case *WSMessageExecutionInterrupted:
		return PromptMessage{Type: "stopped", Message: &PromptMessageStopped{
			PromptID: s.PromptID,
			Reason:   QueuedItemStoppedReasonInterrupted,
		}}, true
	case *WSMessageExecutionError:
		return PromptMessage{Type: "stopped", Message: &PromptMessageStopped{
			PromptID: s.PromptID,
			Reason:   QueuedItemStoppedReasonError,
			Exception: &PromptMessageStoppedException{
				NodeID:           s.Node,
				NodeType:         s.NodeType,
				NodeName:         nodeTitle(g, s.Node),
				ExceptionMessage: s.ExceptionMessage,
				ExceptionType:    s.ExceptionType,
				Traceback:        s.Traceback,
			},
		}}, true
	}
	return PromptMessage{}, false
}

// nodeTitle resolves a node id to its title. For compound ids like "57:8" the
// outer node is used.
func nodeTitle(g *graphapi.Graph, id string) string {
	if g == nil {
		return id
	}
	n := g.GetNodeById(id)
	if n == nil {
		if outer, _, found := strings.Cut(id, ":"); found {
			n = g.GetNodeById(outer)
		}
	}
	if n == nil {
		return id
	}
	if title := n.Title(); title != "" {
		return title
	}
	if n.ClassType != "" {
		return n.ClassType
	}
	return id
}
