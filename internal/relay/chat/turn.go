package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/tansive/chatrelay/internal/relay/ollama"
	"github.com/tansive/chatrelay/internal/relay/relaycommon"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TurnState is the lifecycle position of a turn.
type TurnState int

const (
	StateIdle TurnState = iota
	StateAwaitingPrompt
	StateStreaming
	StateCommitting
	StateClosed
	StateFailed
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPrompt:
		return "awaiting_prompt"
	case StateStreaming:
		return "streaming"
	case StateCommitting:
		return "committing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Turn is one prompt and its streamed reply.
type Turn struct {
	relay     *Relay
	sessionID string
	prompt    string
	started   time.Time

	genCtx  context.Context
	cancel  context.CancelFunc
	release func()
	src     EventSource

	state TurnState
	err   error
}

// TurnResult summarises a finished turn.
type TurnResult struct {
	SessionID  string
	Frames     int  // frames delivered to the client
	ClientGone bool // the client stopped accepting frames
	Text       string
	Metrics    ollama.Metrics
	Committed  bool
}

// State returns the current state.
func (t *Turn) State() TurnState {
	return t.state
}

// Err returns the error that failed the turn.
func (t *Turn) Err() error {
	return t.err
}

// Stream forwards every event to sink as it arrives and commits the session
// state when the terminal event is seen. If sink fails or ctx is cancelled the
// remaining events are still consumed, without being forwarded, so that the
// commit happens. Frames already delivered are never retracted.
func (t *Turn) Stream(ctx context.Context, sink FrameSink) (*TurnResult, error) {
	if t.src == nil {
		return nil, relaycommon.ErrRelayError.New("turn already streamed")
	}
	defer t.finish()

	res := &TurnResult{SessionID: t.sessionID}
	var text strings.Builder

	for t.src.Next() {
		ev := t.src.Current()
		text.WriteString(ev.Response)

		if !res.ClientGone && ctx.Err() != nil {
			res.ClientGone = true
			log.Ctx(ctx).Info().Str("session_id", t.sessionID).Msg("client disconnected, draining generation")
		}
		if !res.ClientGone {
			if err := t.forward(sink, ev); err != nil {
				res.ClientGone = true
				log.Ctx(ctx).Info().Err(err).Str("session_id", t.sessionID).Msg("client stopped accepting frames, draining generation")
			} else {
				res.Frames++
			}
		}

		if ev.IsTerminal() {
			res.Text = text.String()
			res.Metrics = ev.Metrics
			if err := t.commit(ctx, ev, res.Text); err != nil {
				return res, err
			}
			res.Committed = true
			t.state = StateClosed
			t.logCompletion(ctx, res)
			return res, nil
		}
	}

	err := t.src.Err()
	if err == nil {
		err = relaycommon.ErrUpstreamProtocolError.Err(fmt.Errorf("stream ended without a terminal frame"))
	}
	res.Text = text.String()
	t.fail(err)
	log.Ctx(ctx).Error().Err(err).Str("session_id", t.sessionID).Int("frames", res.Frames).Msg("generation failed")
	return res, err
}

func (t *Turn) forward(sink FrameSink, ev ollama.GenerationEvent) error {
	data, err := json.Marshal(&ev)
	if err != nil {
		return err
	}
	return sink.Send(data)
}

// commit writes the final context then the assistant message. A terminal
// event without context keeps the stored context.
func (t *Turn) commit(ctx context.Context, ev ollama.GenerationEvent, text string) error {
	t.state = StateCommitting
	st := t.relay.store

	finalContext, hasContext := ev.FinalContext()
	if !hasContext {
		log.Ctx(ctx).Warn().Str("session_id", t.sessionID).Msg("terminal event without context, keeping previous context")
	}

	contextStored := !hasContext
	err := retry.Do(func() error {
		if !contextStored {
			if err := st.SetContext(t.genCtx, t.sessionID, finalContext); err != nil {
				return err
			}
			contextStored = true
		}
		return st.AppendMessage(t.genCtx, t.sessionID, relaycommon.RoleAssistant, text)
	},
		retry.Attempts(t.relay.opts.CommitAttempts),
		retry.Delay(t.relay.opts.CommitDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(t.genCtx),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, relaycommon.ErrStoreWriteFailed)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n+1).Str("session_id", t.sessionID).Msg("retrying commit")
		}),
	)
	if err != nil {
		if !errors.Is(err, relaycommon.ErrStoreWriteFailed) {
			err = relaycommon.ErrStoreWriteFailed.Err(err)
		}
		t.fail(err)
		log.Ctx(ctx).Error().Err(err).Str("session_id", t.sessionID).Msg("failed to commit turn")
		return err
	}
	return nil
}

func (t *Turn) logCompletion(ctx context.Context, res *TurnResult) {
	l := log.Ctx(ctx).Info().
		Str("session_id", t.sessionID).
		Int("frames", res.Frames).
		Bool("client_gone", res.ClientGone).
		Dur("elapsed", time.Since(t.started))
	if res.Metrics.TokenCount > 0 && res.Metrics.DurationNanos > 0 {
		l = l.Int("eval_count", res.Metrics.TokenCount).
			Str("generation", fmt.Sprintf("%.2fs", res.Metrics.Duration().Seconds()))
	}
	l.Msg("turn completed")
}

func (t *Turn) fail(err error) {
	t.state = StateFailed
	t.err = err
}

// finish releases everything the turn holds. It is safe to call twice.
func (t *Turn) finish() {
	if t.src != nil {
		t.src.Close()
		t.src = nil
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.release != nil {
		t.release()
		t.release = nil
	}
}
