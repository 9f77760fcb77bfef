// Package httpx provides HTTP request/response handling utilities: JSON request
// parsing, JSON and error responses, and Server-Sent Event streams.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tansive/chatrelay/internal/common/apperrors"
)

// MaxRequestBodyBytes bounds JSON request bodies.
const MaxRequestBodyBytes int64 = 1 << 20

// GetRequestData parses a JSON request body into data. Only POST and PUT are
// accepted. An empty body is not an error; data is left untouched.
func GetRequestData(r *http.Request, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBodyBytes+1))
	if err := dec.Decode(data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) && dec.InputOffset() > MaxRequestBodyBytes {
			return ErrRequestTooLarge(MaxRequestBodyBytes)
		}
		log.Ctx(r.Context()).Debug().Err(err).Msg("unable to decode request body")
		return ErrUnableToParseReqData()
	}
	return nil
}

// Response represents a JSON response.
type Response struct {
	StatusCode int
	Response   any
}

// RequestHandler defines a function type for handling HTTP requests.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp adapts a RequestHandler to http.HandlerFunc, converting returned
// errors into JSON error responses.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			sendAnyError(w, err)
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response)
	})
}

// StreamResponse describes an event stream. WriteEvents runs after the stream
// headers have been sent; its error is only logged since the status line is
// already gone.
type StreamResponse struct {
	WriteEvents func(es *EventStream) error
}

// StreamHandler defines a function type for handling streaming HTTP responses.
// Errors returned by the handler itself are sent as JSON before any event.
type StreamHandler func(r *http.Request) (*StreamResponse, error)

// WrapStreamHandler adapts a StreamHandler to http.HandlerFunc.
func WrapStreamHandler(handler StreamHandler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			sendAnyError(w, err)
			return
		}
		if rsp == nil || rsp.WriteEvents == nil {
			ErrApplicationError("unable to write events").Send(w)
			return
		}
		es, err := NewEventStream(w)
		if err != nil {
			sendAnyError(w, err)
			return
		}
		if err := rsp.WriteEvents(es); err != nil {
			log.Ctx(r.Context()).Error().Err(err).Msg("event stream ended with error")
		}
	})
}

func sendAnyError(w http.ResponseWriter, err error) {
	var httperror *Error
	var appErr apperrors.Error
	switch {
	case errors.As(err, &httperror):
		httperror.Send(w)
	case errors.As(err, &appErr):
		SendError(w, appErr)
	default:
		ErrApplicationError(err.Error()).Send(w)
	}
}
