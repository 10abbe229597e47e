// Package stream opens a streaming completion against the AI service and
// decodes its server-sent events into a channel of chunks.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/rs/zerolog"

	"github.com/diogo/eda/internal/models"
)

const (
	defaultReadSize = 4096
	maxErrorBody    = 4 << 10
)

// Doer sends a single HTTP request. tls_client.HttpClient satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client opens completion streams against the AI service.
type Client struct {
	baseURL  string
	token    string
	doer     Doer
	log      zerolog.Logger
	readSize int
	timeout  int
}

// Option configures a Client.
type Option func(*Client)

// WithDoer replaces the default TLS client transport.
func WithDoer(d Doer) Option {
	return func(c *Client) {
		c.doer = d
	}
}

// WithToken sends an Authorization bearer header with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithReadSize sets the size of each body read.
func WithReadSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.readSize = n
		}
	}
}

// WithTimeoutSeconds bounds the whole request on the default transport.
// Zero leaves streams unbounded.
func WithTimeoutSeconds(s int) Option {
	return func(c *Client) {
		c.timeout = s
	}
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("ai service url cannot be empty")
	}

	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		log:      zerolog.Nop(),
		readSize: defaultReadSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.doer == nil {
		options := []tls_client.HttpClientOption{
			tls_client.WithClientProfile(profiles.Chrome_120),
			tls_client.WithNotFollowRedirects(),
		}
		if c.timeout > 0 {
			options = append(options, tls_client.WithTimeoutSeconds(c.timeout))
		}
		httpClient, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
		c.doer = httpClient
	}

	return c, nil
}

// Request is the conversational context for one completion.
type Request struct {
	Messages  []models.ChatMessage
	SessionID string
}

type chatPayload struct {
	Messages  []models.ChatMessage `json:"messages"`
	SessionID string               `json:"session_id,omitempty"`
}

// URL returns the completion endpoint.
func (c *Client) URL() string {
	return c.baseURL + models.PathChat
}

// Stream starts a completion and returns immediately. Events are delivered
// on the returned Stream until exactly one terminal event has been sent.
// Cancelling ctx has the same effect as Stream.Cancel.
func (c *Client) Stream(ctx context.Context, req Request) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)
	go s.run(ctx, c, req)
	return s
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	messages := req.Messages
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	body, err := json.Marshal(chatPayload{Messages: messages, SessionID: req.SessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	return httpReq, nil
}
