package client

import (
	"log/slog"
)

// MessageHandlers defines optional callback functions for handling different message types
// of a prompt. All handlers are optional - only provide handlers for the messages you care about.
// Handlers run on the websocket read goroutine and should return quickly.
type MessageHandlers struct {
	// OnStarted is called when execution begins
	OnStarted func(*PromptMessageStarted)

	// OnExecuting is called when a node starts executing
	OnExecuting func(*PromptMessageExecuting)

	// OnProgress is called with progress updates during node execution
	OnProgress func(*PromptMessageProgress)

	// OnData is called when output data is available
	OnData func(*PromptMessageData)

	// OnStopped is called when execution stops (success, error, or interruption)
	OnStopped func(*PromptMessageStopped)

	// OnError is called if there was an exception during execution
	// This is called before OnStopped when an error occurs
	OnError func(*PromptMessageStoppedException)
}

// DefaultMessageHandlers returns MessageHandlers that log started, executing,
// stopped and error messages to logger.
func DefaultMessageHandlers(logger *slog.Logger) *MessageHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageHandlers{
		OnStarted: func(msg *PromptMessageStarted) {
			logger.Info("execution started", "prompt_id", msg.PromptID)
		},
		OnExecuting: func(msg *PromptMessageExecuting) {
			logger.Debug("executing node", "node_id", msg.NodeID, "title", msg.Title)
		},
		OnError: func(err *PromptMessageStoppedException) {
			logger.Error("execution error",
				"node_id", err.NodeID,
				"node_type", err.NodeType,
				"error", err.ExceptionMessage,
			)
		},
		OnStopped: func(msg *PromptMessageStopped) {
			logger.Debug("execution stopped", "prompt_id", msg.PromptID, "reason", msg.Reason)
		},
	}
}

// WithStartedHandler adds a started handler (builder pattern)
func (h *MessageHandlers) WithStartedHandler(fn func(*PromptMessageStarted)) *MessageHandlers {
	h.OnStarted = fn
	return h
}

// WithExecutingHandler adds an executing handler (builder pattern)
func (h *MessageHandlers) WithExecutingHandler(fn func(*PromptMessageExecuting)) *MessageHandlers {
	h.OnExecuting = fn
	return h
}

// WithProgressHandler adds a progress handler (builder pattern)
func (h *MessageHandlers) WithProgressHandler(fn func(*PromptMessageProgress)) *MessageHandlers {
	h.OnProgress = fn
	return h
}

// WithDataHandler adds a data handler (builder pattern)
func (h *MessageHandlers) WithDataHandler(fn func(*PromptMessageData)) *MessageHandlers {
	h.OnData = fn
	return h
}

// WithStoppedHandler adds a stopped handler (builder pattern)
func (h *MessageHandlers) WithStoppedHandler(fn func(*PromptMessageStopped)) *MessageHandlers {
	h.OnStopped = fn
	return h
}

// WithErrorHandler adds an error handler (builder pattern)
func (h *MessageHandlers) WithErrorHandler(fn func(*PromptMessageStoppedException)) *MessageHandlers {
	h.OnError = fn
	return h
}

// Dispatch calls the handler for msg. It reports whether msg ends the prompt.
func (h *MessageHandlers) Dispatch(msg PromptMessage) bool {
	switch msg.Type {
	case "started":
		if h.OnStarted != nil {
			h.OnStarted(msg.ToPromptMessageStarted())
		}
	case "executing":
		if h.OnExecuting != nil {
			h.OnExecuting(msg.ToPromptMessageExecuting())
		}
	case "progress":
		if h.OnProgress != nil {
			h.OnProgress(msg.ToPromptMessageProgress())
		}
	case "data":
		if h.OnData != nil {
			h.OnData(msg.ToPromptMessageData())
		}
	case "stopped":
		stopped := msg.ToPromptMessageStopped()
		if stopped.Exception != nil && h.OnError != nil {
			h.OnError(stopped.Exception)
		}
		if h.OnStopped != nil {
			h.OnStopped(stopped)
		}
		return true
	}
	return false
}
