package ollama

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tansive/chatrelay/internal/relay/relaycommon"
)

type capturedRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Stream  bool   `json:"stream"`
	Context []int  `json:"context"`
	raw     string
}

func fakeBackend(t *testing.T, status int, lines ...string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	got := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		got.raw = string(body)
		assert.NoError(t, json.Unmarshal(body, got))
		w.WriteHeader(status)
		for _, l := range lines {
			io.WriteString(w, l+"\n")
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func collect(s *Stream) []GenerationEvent {
	var evs []GenerationEvent
	for s.Next() {
		evs = append(evs, s.Current())
	}
	return evs
}

func TestGenerateStream(t *testing.T) {
	srv, got := fakeBackend(t, http.StatusOK,
		`{"model":"phi3","created_at":"2024-01-01T00:00:00Z","response":"Hi","done":false}`,
		``,
		`not json at all`,
		`{"model":"phi3","response":" there","done":false}`,
		`{"model":"phi3","response":"","done":true,"context":[1,2,3],"eval_count":7,"total_duration":2500000000}`,
		`{"response":"after terminal","done":false}`,
	)
	c := New(srv.URL+"/", "phi3")
	s, err := c.GenerateStream(context.Background(), "abc", []int{9, 9})
	require.NoError(t, err)
	defer s.Close()

	evs := collect(s)
	require.NoError(t, s.Err())
	require.Len(t, evs, 3)
	assert.Equal(t, "Hi", evs[0].Response)
	assert.False(t, evs[0].IsTerminal())
	assert.Equal(t, " there", evs[1].Response)

	term := evs[2]
	assert.True(t, term.IsTerminal())
	fc, ok := term.FinalContext()
	assert.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, fc)
	assert.Equal(t, 7, term.TokenCount)
	assert.Equal(t, 2.5, term.Duration().Seconds())

	assert.Equal(t, "phi3", got.Model)
	assert.Equal(t, "abc", got.Prompt)
	assert.True(t, got.Stream)
	assert.Equal(t, []int{9, 9}, got.Context)
	assert.False(t, s.Next())
}

func TestGenerateStreamOmitsEmptyContext(t *testing.T) {
	srv, got := fakeBackend(t, http.StatusOK, `{"response":"","done":true}`)
	c := New(srv.URL, "phi3")
	s, err := c.GenerateStream(context.Background(), "", nil)
	require.NoError(t, err)
	evs := collect(s)
	s.Close()

	require.NoError(t, s.Err())
	require.Len(t, evs, 1)
	_, ok := evs[0].FinalContext()
	assert.False(t, ok)
	assert.NotContains(t, got.raw, "context")
	assert.Contains(t, got.raw, `"prompt":""`)
}

func TestGenerateStreamFailures(t *testing.T) {
	t.Run("no terminal frame", func(t *testing.T) {
		srv, _ := fakeBackend(t, http.StatusOK, `{"response":"Hi","done":false}`)
		s, err := New(srv.URL, "phi3").GenerateStream(context.Background(), "p", nil)
		require.NoError(t, err)
		defer s.Close()
		evs := collect(s)
		assert.Len(t, evs, 1)
		assert.ErrorIs(t, s.Err(), relaycommon.ErrUpstreamProtocolError)
	})

	t.Run("in-band error", func(t *testing.T) {
		srv, _ := fakeBackend(t, http.StatusOK, `{"response":"Hi","done":false}`, `{"error":"model crashed"}`)
		s, err := New(srv.URL, "phi3").GenerateStream(context.Background(), "p", nil)
		require.NoError(t, err)
		defer s.Close()
		evs := collect(s)
		assert.Len(t, evs, 1)
		require.ErrorIs(t, s.Err(), relaycommon.ErrUpstreamProtocolError)
		assert.Contains(t, s.Err().(interface{ ErrorAll() string }).ErrorAll(), "model crashed")
	})

	t.Run("malformed terminal frame", func(t *testing.T) {
		srv, _ := fakeBackend(t, http.StatusOK, `{"response":"","done":true,"context":"oops"}`)
		s, err := New(srv.URL, "phi3").GenerateStream(context.Background(), "p", nil)
		require.NoError(t, err)
		defer s.Close()
		assert.Empty(t, collect(s))
		assert.ErrorIs(t, s.Err(), relaycommon.ErrUpstreamProtocolError)
	})

	t.Run("non-2xx status", func(t *testing.T) {
		srv, _ := fakeBackend(t, http.StatusNotFound, `{"error":"model 'phi9' not found"}`)
		_, err := New(srv.URL, "phi9").GenerateStream(context.Background(), "p", nil)
		require.ErrorIs(t, err, relaycommon.ErrUpstreamUnavailable)
		assert.Contains(t, err.(interface{ ErrorAll() string }).ErrorAll(), "not found")
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := New(url, "phi3").GenerateStream(context.Background(), "p", nil)
		assert.ErrorIs(t, err, relaycommon.ErrUpstreamUnavailable)
	})
}

func TestGenerate(t *testing.T) {
	srv, got := fakeBackend(t, http.StatusOK,
		`{"model":"phi3","response":"Hello there","done":true,"context":[4,5],"eval_count":3,"total_duration":1000}`)
	ev, err := New(srv.URL, "phi3").Generate(context.Background(), "hi", []int{1})
	require.NoError(t, err)
	assert.False(t, got.Stream)
	assert.Equal(t, "Hello there", ev.Response)
	assert.Equal(t, []int{4, 5}, ev.Context)
	assert.Equal(t, 3, ev.TokenCount)

	srv, _ = fakeBackend(t, http.StatusOK, `{"error":"out of memory"}`)
	_, err = New(srv.URL, "phi3").Generate(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, relaycommon.ErrUpstreamProtocolError)

	srv, _ = fakeBackend(t, http.StatusOK, `{"response":"x","done":false}`)
	_, err = New(srv.URL, "phi3").Generate(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, relaycommon.ErrUpstreamProtocolError)
}

func TestDoUsesStreamDefault(t *testing.T) {
	srv, got := fakeBackend(t, http.StatusOK,
		`{"response":"Hel","done":false}`,
		`{"response":"lo","done":false}`,
		`{"response":"","done":true,"context":[7]}`)
	c := New(srv.URL, "phi3", WithStreamDefault(true), WithHTTPClient(srv.Client()))
	assert.True(t, c.StreamDefault())
	ev, err := c.Do(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.True(t, got.Stream)
	assert.Equal(t, "Hello", ev.Response)
	assert.Equal(t, []int{7}, ev.Context)
}

func TestEventJSON(t *testing.T) {
	b, err := json.Marshal(Partial("Hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"response":"Hi","done":false}`, string(b))

	b, err = json.Marshal(Terminal("", []int{1, 2, 3}, Metrics{}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"response":"","done":true,"context":[1,2,3]}`, string(b))

	b, err = json.Marshal(Terminal("", nil, Metrics{TokenCount: 2, DurationNanos: 5}))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `"eval_count":2`))
}
