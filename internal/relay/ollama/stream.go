package ollama

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/tansive/chatrelay/internal/relay/relaycommon"
)

var errNoTerminal = errors.New("stream ended without a terminal frame")

// Stream iterates over the events of one streaming generation.
// Usage:
//
//	for s.Next() {
//	    ev := s.Current()
//	}
//	if err := s.Err(); err != nil {
//	    // partial output already consumed stays valid
//	}
type Stream struct {
	ctx     context.Context
	body    io.ReadCloser
	rd      *bufio.Reader
	current GenerationEvent
	err     error
	done    bool
}

func newStream(ctx context.Context, body io.ReadCloser) *Stream {
	return &Stream{
		ctx:  ctx,
		body: body,
		rd:   newLineReader(body),
	}
}

// Next advances to the next event. It returns false after the terminal event,
// at the end of the body, or on error. Lines that are not JSON are skipped.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	for {
		line, readErr := s.rd.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			ev, ok, err := decodeLine(s.ctx, line)
			if err != nil {
				return s.fail(err)
			}
			if ok {
				s.current = ev
				if ev.Done {
					s.done = true
				}
				return true
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return s.fail(relaycommon.ErrUpstreamProtocolError.Err(errNoTerminal))
			}
			return s.fail(relaycommon.ErrUpstreamUnavailable.Err(readErr))
		}
	}
}

func (s *Stream) fail(err error) bool {
	s.err = err
	s.done = true
	return false
}

// Current returns the most recent event returned by Next.
func (s *Stream) Current() GenerationEvent {
	return s.current
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the response body.
func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}

// decodeLine turns one NDJSON line into an event. ok is false for lines that
// should be dropped.
func decodeLine(ctx context.Context, line []byte) (GenerationEvent, bool, error) {
	if !gjson.ValidBytes(line) {
		log.Ctx(ctx).Debug().Int("len", len(line)).Msg("dropping non-json line")
		return GenerationEvent{}, false, nil
	}
	if msg := gjson.GetBytes(line, "error"); msg.Exists() {
		return GenerationEvent{}, false, relaycommon.ErrUpstreamProtocolError.Err(fmt.Errorf("backend error: %s", msg.String()))
	}
	var ev GenerationEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		if gjson.GetBytes(line, "done").Bool() {
			return GenerationEvent{}, false, relaycommon.ErrUpstreamProtocolError.MsgErr("malformed terminal frame", err)
		}
		log.Ctx(ctx).Debug().Err(err).Msg("dropping undecodable frame")
		return GenerationEvent{}, false, nil
	}
	return ev, true, nil
}
