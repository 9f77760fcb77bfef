package server

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tansive/chatrelay/internal/common/uuid"
	"github.com/tansive/chatrelay/internal/relay/relaycommon"
	"github.com/tansive/chatrelay/internal/relay/store"
	"github.com/tansive/chatrelay/internal/relay/versions"
)

const (
	hiFrame       = `{"model":"phi3","created_at":"2024-05-01T10:00:00Z","response":"Hi","done":false}`
	terminalFrame = `{"model":"phi3","created_at":"2024-05-01T10:00:01Z","response":"","done":true,"context":[1,2,3],"eval_count":1,"total_duration":120000000}`
)

func chatRequest(t *testing.T, sessionID, message string) *http.Request {
	t.Helper()
	url := "/chat/stream"
	if sessionID != "" {
		url += "?session_id=" + sessionID
	}
	req, err := http.NewRequest(http.MethodPost, url, nil)
	require.NoError(t, err)
	body, err := sjson.Set("", "message", message)
	require.NoError(t, err)
	setRequestBody(req, body)
	return req
}

func TestChatStream(t *testing.T) {
	backend := newFakeOllama(t, hiFrame, "garbage line", terminalFrame)
	s := newTestServer(t, backend.srv.URL, nil)

	response := executeTestRequest(t, s, chatRequest(t, "abc", "Hello"))
	require.Equal(t, http.StatusOK, response.Code, response.Body.String())
	assert.Equal(t, "text/event-stream", response.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", response.Header().Get("Cache-Control"))

	frames := sseFrames(t, response.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "Hi", gjson.Get(frames[0], "response").String())
	assert.False(t, gjson.Get(frames[0], "done").Bool())
	assert.Equal(t, "phi3", gjson.Get(frames[0], "model").String())
	assert.True(t, gjson.Get(frames[1], "done").Bool())
	assert.Equal(t, "[1,2,3]", gjson.Get(frames[1], "context").Raw)
	assert.Equal(t, int64(1), gjson.Get(frames[1], "eval_count").Int())

	sent := backend.request(0)
	assert.Equal(t, "Hello", gjson.Get(sent, "prompt").String())
	assert.True(t, gjson.Get(sent, "stream").Bool())
	assert.False(t, gjson.Get(sent, "context").Exists())

	req, _ := http.NewRequest(http.MethodGet, "/conversation/abc", nil)
	response = executeTestRequest(t, s, req)
	require.Equal(t, http.StatusOK, response.Code)
	checkHeader(t, response.Result().Header)
	compareJson(t, `{
		"session_id": "abc",
		"messages": [
			{"role": "user", "content": "Hello"},
			{"role": "assistant", "content": "Hi"}
		]
	}`, response.Body.String())

	// the second turn carries the context of the first
	backend.setLines(`{"response":"Again","done":false}`, `{"response":"","done":true,"context":[1,2,3,4]}`)
	response = executeTestRequest(t, s, chatRequest(t, "abc", "More"))
	require.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, "[1,2,3]", gjson.Get(backend.request(1), "context").Raw)

	tokens, _, err := s.relay.Store().GetContext(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, tokens)
}

func TestChatStreamInvalidRequests(t *testing.T) {
	backend := newFakeOllama(t, hiFrame, terminalFrame)
	s := newTestServer(t, backend.srv.URL, nil)

	tests := []struct {
		name    string
		session string
		message string
		want    string
	}{
		{"empty message", "abc", "", "Empty message"},
		{"whitespace message", "abc", "  \n ", "Empty message"},
		{"missing session", "", "Hello", "Missing session_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response := executeTestRequest(t, s, chatRequest(t, tt.session, tt.message))
			require.Equal(t, http.StatusBadRequest, response.Code)
			checkHeader(t, response.Result().Header)
			compareJson(t, `{"result":0,"error":"`+tt.want+`"}`, response.Body.String())
		})
	}

	req, _ := http.NewRequest(http.MethodPost, "/chat/stream?session_id=abc", nil)
	setRequestBody(req, `{"message":`)
	response := executeTestRequest(t, s, req)
	assert.Equal(t, http.StatusBadRequest, response.Code)

	msgs, err := s.relay.Store().GetMessages(context.Background(), "abc")
	require.NoError(t, err)
	assert.Empty(t, msgs, "rejected requests must not touch the store")
	assert.Empty(t, backend.requests)
}

func TestChatStreamBackendDown(t *testing.T) {
	backend := newFakeOllama(t)
	url := backend.srv.URL
	backend.srv.Close()
	s := newTestServer(t, url, nil)

	response := executeTestRequest(t, s, chatRequest(t, "abc", "Hello"))
	require.Equal(t, http.StatusBadGateway, response.Code)
	checkHeader(t, response.Result().Header)
	assert.Contains(t, gjson.Get(response.Body.String(), "error").String(), "inference backend unavailable")

	msgs, err := s.relay.Store().GetMessages(context.Background(), "abc")
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "the user message stays")
}

func TestChatStreamFailsMidStream(t *testing.T) {
	backend := newFakeOllama(t, hiFrame)
	s := newTestServer(t, backend.srv.URL, nil)
	ctx := context.Background()
	require.NoError(t, s.relay.Store().SetContext(ctx, "abc", []int{5}))

	response := executeTestRequest(t, s, chatRequest(t, "abc", "Hello"))
	require.Equal(t, http.StatusOK, response.Code)
	assert.Len(t, sseFrames(t, response.Body.String()), 1)

	tokens, _, err := s.relay.Store().GetContext(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []int{5}, tokens)
}

func TestConversations(t *testing.T) {
	backend := newFakeOllama(t, hiFrame, terminalFrame)
	s := newTestServer(t, backend.srv.URL, nil)

	req, _ := http.NewRequest(http.MethodPost, "/new_conversation", nil)
	response := executeTestRequest(t, s, req)
	require.Equal(t, http.StatusOK, response.Code)
	checkHeader(t, response.Result().Header)
	sid := gjson.Get(response.Body.String(), "session_id").String()
	u, err := uuid.Parse(sid)
	require.NoError(t, err)
	assert.True(t, uuid.IsUUIDv7(u))

	req, _ = http.NewRequest(http.MethodGet, "/conversations", nil)
	response = executeTestRequest(t, s, req)
	require.Equal(t, http.StatusOK, response.Code)
	compareJson(t, `{"sessions":[]}`, response.Body.String())

	response = executeTestRequest(t, s, chatRequest(t, sid, "Hello"))
	require.Equal(t, http.StatusOK, response.Code)

	req, _ = http.NewRequest(http.MethodGet, "/conversations", nil)
	response = executeTestRequest(t, s, req)
	compareJson(t, `{"sessions":["`+sid+`"]}`, response.Body.String())

	req, _ = http.NewRequest(http.MethodGet, "/conversation/unknown", nil)
	response = executeTestRequest(t, s, req)
	require.Equal(t, http.StatusOK, response.Code)
	compareJson(t, `{"session_id":"unknown","messages":[]}`, response.Body.String())

	req, _ = http.NewRequest(http.MethodDelete, "/conversation/"+sid, nil)
	response = executeTestRequest(t, s, req)
	require.Equal(t, http.StatusNoContent, response.Code)

	req, _ = http.NewRequest(http.MethodGet, "/conversation/"+sid, nil)
	response = executeTestRequest(t, s, req)
	compareJson(t, `{"session_id":"`+sid+`","messages":[]}`, response.Body.String())

	req, _ = http.NewRequest(http.MethodGet, "/conversations", nil)
	response = executeTestRequest(t, s, req)
	compareJson(t, `{"sessions":[]}`, response.Body.String())
}

func TestHealth(t *testing.T) {
	backend := newFakeOllama(t, hiFrame, terminalFrame)
	s := newTestServer(t, backend.srv.URL, nil)
	executeTestRequest(t, s, chatRequest(t, "abc", "Hello"))

	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	response := executeTestRequest(t, s, req)
	require.Equal(t, http.StatusOK, response.Code)
	checkHeader(t, response.Result().Header)
	compareJson(t, `{
		"status": "ok",
		"model": "phi3",
		"base_url": "`+backend.srv.URL+`",
		"store": "memory",
		"sessions": 1
	}`, response.Body.String())
}

type unreachableStore struct {
	store.Store
}

func (unreachableStore) Ping(context.Context) error {
	return relaycommon.ErrStoreUnavailable.Err(errors.New("dial tcp: connection refused"))
}

func (unreachableStore) ListSessions(context.Context) ([]string, error) {
	return nil, relaycommon.ErrStoreUnavailable.Err(errors.New("dial tcp: connection refused"))
}

func TestHealthStoreDown(t *testing.T) {
	backend := newFakeOllama(t)
	s := newTestServer(t, backend.srv.URL, unreachableStore{Store: store.NewMemory()})

	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	response := executeTestRequest(t, s, req)
	require.Equal(t, http.StatusServiceUnavailable, response.Code)
	assert.Equal(t, "degraded", gjson.Get(response.Body.String(), "status").String())

	req, _ = http.NewRequest(http.MethodGet, "/conversations", nil)
	response = executeTestRequest(t, s, req)
	require.Equal(t, http.StatusServiceUnavailable, response.Code)
	compareJson(t, `{"result":0,"error":"session store unavailable"}`, response.Body.String())
}

func TestVersion(t *testing.T) {
	s := newTestServer(t, "http://localhost:11434", nil)
	req, _ := http.NewRequest(http.MethodGet, "/version", nil)
	response := executeTestRequest(t, s, req)
	require.Equal(t, http.StatusOK, response.Code)
	checkHeader(t, response.Result().Header)
	compareJson(t, `{"serverVersion":"Chat Relay Server: `+versions.Version+`","apiVersion":"`+versions.ApiVersion+`"}`, response.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, "http://localhost:11434", nil)
	req, _ := http.NewRequest(http.MethodOptions, "/chat/stream?session_id=abc", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	response := executeTestRequest(t, s, req)
	assert.Equal(t, "*", response.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, response.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, "http://localhost:11434", nil)
	req, _ := http.NewRequest(http.MethodGet, "/chat/stream?session_id=abc", nil)
	response := executeTestRequest(t, s, req)
	assert.Equal(t, http.StatusMethodNotAllowed, response.Code)
}
