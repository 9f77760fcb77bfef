package relaycommon

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for _, s := range []string{"user", "assistant", "system"} {
		r, err := ParseRole(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(r))
	}
	_, err := ParseRole("tool")
	assert.Error(t, err)
}

func TestErrorTaxonomy(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, ErrEmptyMessage.StatusCode())
	assert.Equal(t, "Empty message", ErrEmptyMessage.Error())
	assert.ErrorIs(t, ErrEmptyMessage, ErrInvalidRequest)
	assert.ErrorIs(t, ErrMissingSession, ErrRelayError)

	err := ErrUpstreamUnavailable.Err(errors.New("connection refused"))
	assert.Equal(t, http.StatusBadGateway, err.StatusCode())
	assert.Equal(t, "inference backend unavailable; connection refused", err.ErrorAll())
	assert.NotErrorIs(t, err, ErrUpstreamProtocolError)

	assert.Equal(t, http.StatusServiceUnavailable, ErrStoreUnavailable.StatusCode())
	assert.Equal(t, http.StatusInternalServerError, ErrStoreWriteFailed.StatusCode())
}
