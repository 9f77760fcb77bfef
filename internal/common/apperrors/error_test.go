package apperrors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("chain", func(t *testing.T) {
		ErrBase := New("relay error")
		assert.Equal(t, "relay error", ErrBase.Error())
		assert.Equal(t, "msg", ErrBase.New("msg").Error())
		assert.ErrorIs(t, ErrBase, ErrBase)

		ErrUpstream := ErrBase.New("upstream unavailable")
		assert.Equal(t, "upstream unavailable", ErrUpstream.Error())
		assert.ErrorIs(t, ErrUpstream, ErrBase)

		ErrDial := New("dial failed").Msg("dial tcp 127.0.0.1:11434")
		ErrReset := New("connection reset").Msg("read: connection reset by peer")
		wrapped := ErrUpstream.Err(ErrDial, ErrReset)
		assert.Equal(t, "upstream unavailable", wrapped.Error())
		assert.ErrorIs(t, wrapped, ErrBase)
		assert.ErrorIs(t, wrapped, ErrUpstream)
		assert.ErrorIs(t, wrapped, ErrDial)
		assert.ErrorIs(t, wrapped, ErrReset)

		goErr := errors.New("io timeout")
		wrapped = ErrUpstream.MsgErr("request failed", goErr)
		assert.Equal(t, "request failed", wrapped.Error())
		assert.ErrorIs(t, wrapped, ErrBase)
		assert.ErrorIs(t, wrapped, goErr)

		other := fmt.Errorf("unrelated")
		assert.NotErrorIs(t, wrapped, other)
	})

	t.Run("status code is inherited", func(t *testing.T) {
		ErrStore := New("store error").SetStatusCode(http.StatusServiceUnavailable)
		child := ErrStore.New("store unavailable")
		assert.Equal(t, http.StatusServiceUnavailable, child.StatusCode())
		assert.Equal(t, http.StatusBadRequest, child.SetStatusCode(http.StatusBadRequest).StatusCode())
		assert.Equal(t, http.StatusServiceUnavailable, child.StatusCode())
	})

	t.Run("expanded message", func(t *testing.T) {
		ErrWrite := New("store write failed").SetExpandError(true)
		err := ErrWrite.Err(fmt.Errorf("dial tcp: refused"))
		assert.Equal(t, "store write failed; dial tcp: refused", err.ErrorAll())
		assert.Equal(t, "store write failed", err.Error())
		assert.Len(t, err.UnwrapAll(), 2)

		quiet := New("quiet").Err(fmt.Errorf("hidden"))
		assert.Equal(t, "quiet", quiet.ErrorAll())
	})
}
