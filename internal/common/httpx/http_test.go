package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tansive/chatrelay/internal/common/apperrors"
)

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var rsp errorRsp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rsp))
	assert.Equal(t, Failure, rsp.Result)
	return rsp.Error
}

func TestWrapHttpRsp(t *testing.T) {
	t.Run("json response", func(t *testing.T) {
		h := WrapHttpRsp(func(r *http.Request) (*Response, error) {
			return &Response{StatusCode: http.StatusOK, Response: map[string]string{"status": "ok"}}, nil
		})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	})

	t.Run("http error", func(t *testing.T) {
		h := WrapHttpRsp(func(r *http.Request) (*Response, error) {
			return nil, ErrInvalidRequest("Empty message")
		})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Empty message", decodeError(t, rr))
	})

	t.Run("app error keeps its status", func(t *testing.T) {
		ErrStore := apperrors.New("store unavailable").SetStatusCode(http.StatusServiceUnavailable)
		h := WrapHttpRsp(func(r *http.Request) (*Response, error) {
			return nil, ErrStore.Err(fmt.Errorf("dial tcp"))
		})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "store unavailable", decodeError(t, rr))
	})

	t.Run("plain error", func(t *testing.T) {
		h := WrapHttpRsp(func(r *http.Request) (*Response, error) {
			return nil, fmt.Errorf("boom")
		})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "boom", decodeError(t, rr))
	})

	t.Run("no content", func(t *testing.T) {
		h := WrapHttpRsp(func(r *http.Request) (*Response, error) {
			return &Response{StatusCode: http.StatusNoContent}, nil
		})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/", nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Empty(t, rr.Body.String())
	})
}

func TestGetRequestData(t *testing.T) {
	type body struct {
		Message string `json:"message"`
	}

	var b body
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, GetRequestData(req, &b))
	assert.Equal(t, "hi", b.Message)

	b = body{}
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	require.NoError(t, GetRequestData(req, &b))
	assert.Empty(t, b.Message)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":`))
	assert.Error(t, GetRequestData(req, &b))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	err := GetRequestData(req, &b)
	require.Error(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, err.(*Error).StatusCode)
}

func TestEventStream(t *testing.T) {
	h := WrapStreamHandler(func(r *http.Request) (*StreamResponse, error) {
		return &StreamResponse{
			WriteEvents: func(es *EventStream) error {
				if err := es.Send([]byte(`{"response":"Hi","done":false}`)); err != nil {
					return err
				}
				if err := es.Send([]byte(`{"response":"","done":true}`)); err != nil {
					return err
				}
				assert.Equal(t, 2, es.Frames())
				es.Close()
				assert.ErrorIs(t, es.Send([]byte(`{}`)), ErrStreamClosed)
				return nil
			},
		}, nil
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, "data: {\"response\":\"Hi\",\"done\":false}\n\ndata: {\"response\":\"\",\"done\":true}\n\n", rr.Body.String())
	assert.True(t, rr.Flushed)
}

func TestStreamHandlerErrorBeforeStream(t *testing.T) {
	h := WrapStreamHandler(func(r *http.Request) (*StreamResponse, error) {
		return nil, ErrInvalidRequest("Missing session_id")
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Missing session_id", decodeError(t, rr))
}

func TestResponseWriterTimeout(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := NewResponseWriter(rr)
	assert.True(t, rw.MarkTimedOut())
	_, err := rw.Write([]byte("late"))
	assert.ErrorIs(t, err, http.ErrHandlerTimeout)
	assert.False(t, rw.Written())

	rr = httptest.NewRecorder()
	rw = NewResponseWriter(rr)
	rw.WriteHeader(http.StatusCreated)
	assert.False(t, rw.MarkTimedOut())
	assert.Equal(t, http.StatusCreated, rw.Status())
}
