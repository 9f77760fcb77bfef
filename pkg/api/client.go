// Package api provides the wire types of the chat relay HTTP API and a client
// for it.
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/tidwall/gjson"
)

// Error is returned for responses with a non-2xx status.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Client talks to a chat relay server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	config     clientConfig
}

// ClientOption is a function type for configuring client behavior.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout    time.Duration
	maxRetries uint
	retryDelay time.Duration
	httpClient *http.Client
}

// WithTimeout bounds each non-streaming call.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithMaxRetries sets how many times a call is attempted when the server
// cannot be reached.
func WithMaxRetries(maxRetries uint) ClientOption {
	return func(c *clientConfig) {
		c.maxRetries = maxRetries
	}
}

// WithRetryDelay sets the initial delay between attempts.
func WithRetryDelay(delay time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.retryDelay = delay
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *clientConfig) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	config := clientConfig{
		timeout:    30 * time.Second,
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("server url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url: %q", baseURL)
	}
	if config.maxRetries == 0 {
		config.maxRetries = 1
	}
	hc := config.httpClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
		config:     config,
	}, nil
}

// NewConversation asks the server for a fresh session id.
func (c *Client) NewConversation(ctx context.Context) (string, error) {
	var rsp NewConversationRsp
	if err := c.doJSON(ctx, http.MethodPost, "/new_conversation", &rsp); err != nil {
		return "", err
	}
	return rsp.SessionID, nil
}

// ListConversations returns the ids of stored conversations.
func (c *Client) ListConversations(ctx context.Context) ([]string, error) {
	var rsp ListConversationsRsp
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", &rsp); err != nil {
		return nil, err
	}
	return rsp.Sessions, nil
}

// GetConversation returns the messages of a conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (*ConversationRsp, error) {
	var rsp ConversationRsp
	if err := c.doJSON(ctx, http.MethodGet, "/conversation/"+url.PathEscape(id), &rsp); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// DeleteConversation removes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/conversation/"+url.PathEscape(id), nil)
}

// Health returns the server health report. A degraded server answers with 503
// and a body; the report is returned together with the error.
func (c *Client) Health(ctx context.Context) (*HealthRsp, error) {
	var rsp HealthRsp
	err := c.doJSON(ctx, http.MethodGet, "/health", &rsp)
	var apiErr *Error
	if err != nil && !(errors.As(err, &apiErr) && rsp.Status != "") {
		return nil, err
	}
	return &rsp, err
}

// Version returns the server version.
func (c *Client) Version(ctx context.Context) (*VersionRsp, error) {
	var rsp VersionRsp
	if err := c.doJSON(ctx, http.MethodGet, "/version", &rsp); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// ChatStream sends message on session id and calls fn for every event frame.
// It returns when the terminal frame has been handled, the stream ends, or fn
// returns an error.
func (c *Client) ChatStream(ctx context.Context, sessionID, message string, fn func(ChatEvent) error) error {
	body, err := json.Marshal(&ChatRequest{Message: message})
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}
	u := c.baseURL + "/chat/stream?session_id=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	rd := bufio.NewReader(resp.Body)
	for {
		line, readErr := rd.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			var ev ChatEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
				return fmt.Errorf("failed to decode event: %w", err)
			}
			if err := fn(ev); err != nil {
				return err
			}
			if ev.Done {
				return nil
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return fmt.Errorf("stream ended before the reply was complete")
			}
			return readErr
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, out any) error {
	return retry.Do(func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.config.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, nil)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(resp.Body)
			if out != nil && gjson.GetBytes(body, "status").Exists() {
				_ = json.Unmarshal(body, out)
			}
			return retry.Unrecoverable(errorFromBody(resp.StatusCode, body))
		}
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(c.config.maxRetries),
		retry.Delay(c.config.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func readError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return errorFromBody(resp.StatusCode, body)
}

func errorFromBody(status int, body []byte) error {
	msg := gjson.GetBytes(body, "error").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return &Error{StatusCode: status, Message: msg}
}
