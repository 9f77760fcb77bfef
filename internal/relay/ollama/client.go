// Package ollama is a client for the Ollama generate API. Streaming responses
// are exposed as a Stream of GenerationEvent values in backend order.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/tansive/chatrelay/internal/relay/relaycommon"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const generatePath = "/api/generate"

// maxErrorBody bounds how much of a failed response body is read.
const maxErrorBody = 4096

// Client talks to one Ollama server with one model.
type Client struct {
	baseURL    string
	model      string
	stream     bool
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. The client must not set a Timeout
// shorter than the longest generation; use the request context instead.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithStreamDefault sets the stream flag used by Do.
func WithStreamDefault(stream bool) Option {
	return func(c *Client) {
		c.stream = stream
	}
}

// New creates a client for baseURL using model.
func New(baseURL, model string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the model name sent with each request.
func (c *Client) Model() string {
	return c.model
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StreamDefault returns the configured stream flag.
func (c *Client) StreamDefault() bool {
	return c.stream
}

type generateRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Stream  bool   `json:"stream"`
	Context []int  `json:"context,omitempty"`
}

// GenerateStream starts a streaming generation. The prompt is sent as is, even
// when empty. An empty or nil context starts a fresh conversation. The caller
// must Close the returned stream.
func (c *Client) GenerateStream(ctx context.Context, prompt string, continuation []int) (*Stream, error) {
	rsp, err := c.post(ctx, prompt, continuation, true)
	if err != nil {
		return nil, err
	}
	return newStream(ctx, rsp.Body), nil
}

// Generate runs a non-streaming generation and returns its terminal event.
func (c *Client) Generate(ctx context.Context, prompt string, continuation []int) (GenerationEvent, error) {
	rsp, err := c.post(ctx, prompt, continuation, false)
	if err != nil {
		return GenerationEvent{}, err
	}
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return GenerationEvent{}, relaycommon.ErrUpstreamUnavailable.MsgErr("unable to read response", err)
	}
	return decodeTerminal(body)
}

// Do runs a generation with the configured stream default and returns the
// terminal event. When streaming, the fragments are joined into its text.
func (c *Client) Do(ctx context.Context, prompt string, continuation []int) (GenerationEvent, error) {
	if !c.stream {
		return c.Generate(ctx, prompt, continuation)
	}
	s, err := c.GenerateStream(ctx, prompt, continuation)
	if err != nil {
		return GenerationEvent{}, err
	}
	defer s.Close()

	var text strings.Builder
	for s.Next() {
		ev := s.Current()
		text.WriteString(ev.Response)
		if ev.IsTerminal() {
			ev.Response = text.String()
			return ev, nil
		}
	}
	return GenerationEvent{}, s.Err()
}

func (c *Client) post(ctx context.Context, prompt string, continuation []int, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(&generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  stream,
		Context: continuation,
	})
	if err != nil {
		return nil, relaycommon.ErrRelayError.MsgErr("unable to encode generate request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generatePath, bytes.NewReader(payload))
	if err != nil {
		return nil, relaycommon.ErrUpstreamUnavailable.Err(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "application/x-ndjson")
	}

	log.Ctx(ctx).Debug().Str("model", c.model).Bool("stream", stream).Int("context_len", len(continuation)).Msg("sending generate request")

	rsp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, relaycommon.ErrUpstreamUnavailable.Err(err)
	}
	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		defer rsp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(rsp.Body, maxErrorBody))
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, relaycommon.ErrUpstreamUnavailable.Err(fmt.Errorf("status %d: %s", rsp.StatusCode, msg))
	}
	return rsp, nil
}

func decodeTerminal(body []byte) (GenerationEvent, error) {
	if !gjson.ValidBytes(body) {
		return GenerationEvent{}, relaycommon.ErrUpstreamProtocolError.Err(fmt.Errorf("response is not json"))
	}
	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return GenerationEvent{}, relaycommon.ErrUpstreamProtocolError.Err(fmt.Errorf("backend error: %s", msg.String()))
	}
	var ev GenerationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return GenerationEvent{}, relaycommon.ErrUpstreamProtocolError.MsgErr("malformed terminal frame", err)
	}
	if !ev.Done {
		return GenerationEvent{}, relaycommon.ErrUpstreamProtocolError.Err(fmt.Errorf("response is not terminal"))
	}
	return ev, nil
}

func newLineReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 64*1024)
}
