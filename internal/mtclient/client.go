// Package mtclient calls the remote Spanish–Pamiwa sequence-to-sequence
// model over HTTP.
package mtclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"cubeo/internal/cubeo"
)

const (
	// DefaultConnectTimeout bounds establishing the connection.
	DefaultConnectTimeout = 30 * time.Second
	// DefaultResponseTimeout bounds waiting for response headers; model
	// inference on a cold instance is slow.
	DefaultResponseTimeout = 60 * time.Second

	// maxBody caps how much of a response is read.
	maxBody = 1 << 20
)

// Client is a cubeo.TranslationClient over the model's HTTP API.
// It makes a single attempt per call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     cubeo.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client for the model served at baseURL.
func New(baseURL string, logger cubeo.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: DefaultConnectTimeout}).DialContext,
				TLSHandshakeTimeout:   DefaultConnectTimeout,
				ResponseHeaderTimeout: DefaultResponseTimeout,
			},
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type translateRequest struct {
	Text string `json:"texto"`
}

type translateResponse struct {
	Success     bool   `json:"exito"`
	Original    string `json:"original"`
	Translation string `json:"traduccion"`
	Error       string `json:"error"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"modelo_cargado"`
}

// Translate sends text to the model. A response with exito=false is
// returned as a result, not an error.
func (c *Client) Translate(ctx context.Context, text string) (*cubeo.RemoteResult, error) {
	body, err := json.Marshal(translateRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("mtclient: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/traducir", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mtclient: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	var out translateResponse
	if err := c.do(req, &out); err != nil {
		c.logger.Warn("remote translation failed", "error", err, "elapsed", time.Since(start))
		return nil, err
	}
	c.logger.Debug("remote translation", "success", out.Success, "elapsed", time.Since(start))

	return &cubeo.RemoteResult{
		Success:     out.Success,
		Original:    out.Original,
		Translation: out.Translation,
		Error:       out.Error,
	}, nil
}

// Health probes the model server.
func (c *Client) Health(ctx context.Context) (*cubeo.Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("mtclient: create request: %w", err)
	}

	var out healthResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &cubeo.Health{Status: out.Status, ModelLoaded: out.ModelLoaded}, nil
}

func (c *Client) do(req *http.Request, out any) error {
	// Free tunnels serve an interstitial page without this header.
	req.Header.Set("ngrok-skip-browser-warning", "true")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mtclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("mtclient: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mtclient: unexpected status %d: %s", resp.StatusCode, snippet(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("mtclient: decode json: %w", err)
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

var _ cubeo.TranslationClient = (*Client)(nil)
