package client

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Callback interface for handling incoming WebSocket messages
type WebSocketCallback interface {
	OnMessage(message string)
}

// WebSocketConnection dials the server's event stream, retrying with
// exponential backoff, and feeds every text frame to Callback.
type WebSocketConnection struct {
	WebSocketURL string
	MaxRetry     int
	Callback     WebSocketCallback

	// Exponential backoff configuration
	BaseDelay time.Duration // The initial delay, e.g., 1 second
	MaxDelay  time.Duration // The maximum delay, e.g., 1 minute
	Dialer    websocket.Dialer
	Logger    *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	retryCount int
	done       chan struct{}
}

// Connect dials until it succeeds, MaxRetry attempts have failed, or ctx is
// done. Messages are then read on a separate goroutine until Close.
func (w *WebSocketConnection) Connect(ctx context.Context) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for {
		conn, _, err := w.Dialer.DialContext(ctx, w.WebSocketURL, nil)
		if err == nil {
			w.mu.Lock()
			w.conn = conn
			w.retryCount = 0
			w.done = make(chan struct{})
			done := w.done
			w.mu.Unlock()

			go w.handleMessages(conn, done, logger)
			return nil
		}

		logger.Warn("websocket connection attempt failed", "url", w.WebSocketURL, "error", err)
		w.mu.Lock()
		attempts := w.retryCount + 1
		w.mu.Unlock()
		if attempts > w.MaxRetry {
			return errors.Join(errors.New("websocket: maximum number of retries reached"), err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.getReconnectDelay()):
		}
	}
}

// Handle incoming WebSocket messages
func (w *WebSocketConnection) handleMessages(conn *websocket.Conn, done chan struct{}, logger *slog.Logger) {
	defer close(done)
	for {
		kind, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
				logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		// binary frames carry preview images
		if kind != websocket.TextMessage {
			continue
		}
		if w.Callback != nil {
			w.Callback.OnMessage(string(message))
		}
	}
}

// Close shuts the connection down and waits for the read loop to exit.
func (w *WebSocketConnection) Close() error {
	w.mu.Lock()
	conn, done := w.conn, w.done
	w.conn = nil
	w.mu.Unlock()
	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := conn.Close()
	<-done
	return err
}

// exponential backoff calculation
func (w *WebSocketConnection) getReconnectDelay() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Calculate the delay as BaseDelay * 2^(RetryCount), capped at MaxDelay
	delay := w.BaseDelay * time.Duration(math.Pow(2, float64(w.retryCount)))
	if w.MaxDelay > 0 && delay > w.MaxDelay {
		delay = w.MaxDelay
	}
	w.retryCount++ // Increment the retry counter for the next attempt
	return delay
}
