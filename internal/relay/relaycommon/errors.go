package relaycommon

import (
	"net/http"

	"github.com/tansive/chatrelay/internal/common/apperrors"
)

var (
	ErrRelayError = apperrors.New("relay error").SetStatusCode(http.StatusInternalServerError)

	ErrInvalidRequest = ErrRelayError.New("invalid request").SetStatusCode(http.StatusBadRequest)
	ErrEmptyMessage   = ErrInvalidRequest.New("Empty message")
	ErrMissingSession = ErrInvalidRequest.New("Missing session_id")

	ErrUpstreamUnavailable   = ErrRelayError.New("inference backend unavailable").SetStatusCode(http.StatusBadGateway).SetExpandError(true)
	ErrUpstreamProtocolError = ErrRelayError.New("inference backend protocol error").SetStatusCode(http.StatusBadGateway).SetExpandError(true)

	ErrStoreUnavailable = ErrRelayError.New("session store unavailable").SetStatusCode(http.StatusServiceUnavailable)
	ErrStoreWriteFailed = ErrRelayError.New("session store write failed").SetStatusCode(http.StatusInternalServerError).SetExpandError(true)
)
