package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultRequestTimeout = 120 * time.Second

	healthTimeoutCap  = 10 * time.Second
	historyTimeoutCap = 30 * time.Second
	controlTimeout    = 5 * time.Second
)

// ComfyClient is the top level object that allows for interaction with the ComfyUI backend.
// It is safe for concurrent use; all calls share one HTTP client, which is
// built on first use.
type ComfyClient struct {
	baseURL        string
	clientid       string
	requestTimeout time.Duration
	logger         *slog.Logger

	httpOnce   sync.Once
	httpclient *http.Client
}

type Option func(*ComfyClient)

// WithHTTPClient makes the client use hc instead of building its own.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *ComfyClient) {
		c.httpclient = hc
	}
}

// WithRequestTimeout bounds submit, upload and image calls. Health and history
// calls use the smaller of this and their own cap.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *ComfyClient) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

func WithClientID(id string) Option {
	return func(c *ComfyClient) {
		if id != "" {
			c.clientid = id
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *ComfyClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewComfyClient creates a client for the server at baseURL, for example
// http://localhost:8188. The client identity is a random UUID unless
// WithClientID is given.
func NewComfyClient(baseURL string, opts ...Option) *ComfyClient {
	c := &ComfyClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		clientid:       uuid.New().String(),
		requestTimeout: DefaultRequestTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID returns the unique client ID for the connection to the ComfyUI backend
func (c *ComfyClient) ClientID() string {
	return c.clientid
}

func (c *ComfyClient) BaseURL() string {
	return c.baseURL
}

func (c *ComfyClient) RequestTimeout() time.Duration {
	return c.requestTimeout
}

// HttpClient returns the shared http client, creating it on first call.
func (c *ComfyClient) HttpClient() *http.Client {
	c.httpOnce.Do(func() {
		if c.httpclient == nil {
			transport := http.DefaultTransport.(*http.Transport).Clone()
			transport.MaxIdleConnsPerHost = 16
			c.httpclient = &http.Client{Transport: transport}
		}
	})
	return c.httpclient
}

// WebSocketURL returns the address of the server's event stream for this
// client identity.
func (c *ComfyClient) WebSocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"clientId": {c.clientid}}.Encode()
	return u.String(), nil
}

func capTimeout(d, limit time.Duration) time.Duration {
	if d <= 0 || d > limit {
		return limit
	}
	return d
}

// request performs a single call and returns the body of a 200 response.
func (c *ComfyClient) request(ctx context.Context, op, method, path string, query url.Values, body io.Reader, contentType string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, &APIError{Op: op, Kind: KindConnectivity, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HttpClient().Do(req)
	if err != nil {
		return nil, &APIError{Op: op, Kind: KindConnectivity, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Op: op, Kind: KindConnectivity, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return data, &APIError{Op: op, Kind: KindStatus, StatusCode: resp.StatusCode, Body: truncateBody(data)}
	}
	return data, nil
}

func (c *ComfyClient) getJSON(ctx context.Context, op, path string, timeout time.Duration, v interface{}) error {
	data, err := c.request(ctx, op, http.MethodGet, path, nil, nil, "", timeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &APIError{Op: op, Kind: KindProtocol, StatusCode: http.StatusOK, Body: truncateBody(data), Err: err}
	}
	return nil
}

func (c *ComfyClient) postJSON(ctx context.Context, op, path string, payload interface{}, timeout time.Duration) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return c.request(ctx, op, http.MethodPost, path, nil, bytes.NewReader(data), "application/json", timeout)
}
