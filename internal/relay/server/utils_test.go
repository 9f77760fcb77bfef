package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tansive/chatrelay/internal/relay/chat"
	"github.com/tansive/chatrelay/internal/relay/config"
	"github.com/tansive/chatrelay/internal/relay/ollama"
	"github.com/tansive/chatrelay/internal/relay/store"
)

// fakeOllama serves /api/generate with a fixed list of NDJSON lines and
// records the request bodies it received.
type fakeOllama struct {
	mu       sync.Mutex
	lines    []string
	requests []string
	srv      *httptest.Server
}

func newFakeOllama(t *testing.T, lines ...string) *fakeOllama {
	t.Helper()
	f := &fakeOllama{lines: lines}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, string(body))
		lines := f.lines
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			io.WriteString(w, l+"\n")
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeOllama) setLines(lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = lines
}

func (f *fakeOllama) request(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func newTestServer(t *testing.T, baseURL string, st store.Store) *RelayServer {
	t.Helper()
	config.TestInit()
	config.Config().Ollama.BaseURL = baseURL
	if st == nil {
		st = store.NewMemory()
	}
	client := ollama.New(baseURL, config.Config().Ollama.Model)
	relay := chat.New(st, chat.FromClient(client), chat.Options{})
	s, err := CreateNewServer(relay)
	require.NoError(t, err, "create new server")
	s.MountHandlers()
	return s
}

func executeTestRequest(t *testing.T, s *RelayServer, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req.WithContext(context.Background()))
	return rr
}

func checkHeader(t *testing.T, h http.Header) {
	expected := "application/json"
	got := h.Get("Content-Type")
	assert.Equal(t, expected, got, "Content-Type expected %s, got %s", expected, got)
	assert.NotEmpty(t, h.Get("X-Chatrelay-Request-ID"), "No Request Id")
}

func compareJson(t *testing.T, expected any, actual string) {
	var j []byte
	var err error

	switch v := expected.(type) {
	case string:
		if json.Valid([]byte(v)) {
			j = []byte(v)
		} else {
			j, err = json.Marshal(v)
			assert.NoError(t, err, "json marshal")
		}
	default:
		j, err = json.Marshal(expected)
		assert.NoError(t, err, "json marshal")
	}

	assert.JSONEq(t, string(j), actual, "Expected: %v\nGot: %v\n", expected, actual)
}

func setRequestBody(req *http.Request, body string) {
	req.Body = io.NopCloser(strings.NewReader(body))
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/json")
}

// sseFrames returns the data payloads of an event-stream body.
func sseFrames(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	for _, chunk := range strings.Split(body, "\n\n") {
		if chunk == "" {
			continue
		}
		data, ok := strings.CutPrefix(chunk, "data: ")
		require.True(t, ok, "unexpected chunk %q", chunk)
		frames = append(frames, data)
	}
	return frames
}
