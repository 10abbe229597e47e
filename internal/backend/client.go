// Package backend is the REST client for the chat persistence service.
// Responses are converted to internal/models types at this boundary.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	apierrors "github.com/diogo/eda/internal/errors"
	"github.com/diogo/eda/internal/models"
)

const defaultTimeoutSeconds = 30

// Doer sends a single HTTP request. tls_client.HttpClient satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the persistence backend with a bearer token.
type Client struct {
	baseURL string
	token   string
	doer    Doer
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithDoer replaces the default TLS client transport.
func WithDoer(d Doer) Option {
	return func(c *Client) {
		c.doer = d
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient creates a backend client for baseURL authenticated with token.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("server url cannot be empty")
	}
	if strings.TrimSpace(token) == "" {
		return nil, apierrors.NewAuthError("no auth token configured")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.doer == nil {
		httpClient, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(),
			tls_client.WithTimeoutSeconds(defaultTimeoutSeconds),
			tls_client.WithClientProfile(profiles.Chrome_120),
			tls_client.WithNotFollowRedirects(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
		c.doer = httpClient
	}
	return c, nil
}

func sessionPath(id string) string {
	return models.PathSessions + "/" + url.PathEscape(id)
}

func messagesPath(sessionID string) string {
	return sessionPath(sessionID) + "/messages"
}

// do performs one JSON request and returns the raw response body.
func (c *Client) do(ctx context.Context, method, path string, payload any) (string, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debug().Str("method", method).Str("path", path).Msg("backend request")

	resp, err := c.doer.Do(req)
	if err != nil {
		return "", apierrors.NewNetworkErrorWithEndpoint(strings.ToLower(method), path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apierrors.NewNetworkErrorWithEndpoint("read response", path, err)
	}
	text := string(raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(resp.StatusCode, path, text)
	}
	return text, nil
}

// statusError maps a non-2xx response, including Laravel's
// {message, errors:{field:[...]}} body, to the error taxonomy.
func statusError(status int, path, body string) error {
	message := ""
	if gjson.Valid(body) {
		message = gjson.Get(body, "message").String()
	}

	switch {
	case status == http.StatusUnauthorized:
		return apierrors.NewAuthError(message)
	case gjson.Get(body, "errors").IsObject():
		v := &apierrors.ValidationError{Message: message, Fields: make(map[string][]string)}
		gjson.Get(body, "errors").ForEach(func(key, value gjson.Result) bool {
			var msgs []string
			if value.IsArray() {
				for _, m := range value.Array() {
					msgs = append(msgs, m.String())
				}
			} else {
				msgs = append(msgs, value.String())
			}
			v.Fields[key.String()] = msgs
			return true
		})
		return v
	}

	if message == "" {
		message = http.StatusText(status)
	}
	if len(body) > 4<<10 {
		body = body[:4<<10]
	}
	return apierrors.NewAPIErrorWithBody(status, path, message, body)
}

// envelope returns the object under key, or the document itself when the
// response is not wrapped.
func envelope(body, key string) gjson.Result {
	if r := gjson.Get(body, key); r.Exists() {
		return r
	}
	if r := gjson.Get(body, "data"); r.Exists() {
		return r
	}
	return gjson.Parse(body)
}
