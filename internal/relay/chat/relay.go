// Package chat runs chat turns: it reads the session state, drives a streaming
// generation, forwards every event to the client as it arrives and commits the
// updated state once the generation completes.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/tansive/chatrelay/internal/common/uuid"
	"github.com/tansive/chatrelay/internal/relay/relaycommon"
	"github.com/tansive/chatrelay/internal/relay/store"
)

// Options tune a Relay. Zero values select the defaults.
type Options struct {
	CommitAttempts    uint          // attempts for the end-of-turn writes, default 1
	CommitDelay       time.Duration // initial backoff between commit attempts
	SerializeTurns    bool          // one turn at a time per session
	GenerationTimeout time.Duration // bound on a generation, including draining after a disconnect
}

const (
	defaultCommitDelay       = 100 * time.Millisecond
	defaultGenerationTimeout = 5 * time.Minute
	maxIdAttempts            = 3
)

// Relay runs chat turns against one store and one generator.
type Relay struct {
	store store.Store
	gen   Generator
	opts  Options
	gate  *turnGate
}

// New creates a Relay.
func New(st store.Store, gen Generator, opts Options) *Relay {
	if opts.CommitAttempts == 0 {
		opts.CommitAttempts = 1
	}
	if opts.CommitDelay <= 0 {
		opts.CommitDelay = defaultCommitDelay
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = defaultGenerationTimeout
	}
	r := &Relay{
		store: st,
		gen:   gen,
		opts:  opts,
	}
	if opts.SerializeTurns {
		r.gate = newTurnGate()
	}
	return r
}

// Store returns the backing session store.
func (r *Relay) Store() store.Store {
	return r.store
}

// TurnRequest is the input of one chat turn.
type TurnRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Message   string `json:"message" validate:"notblank"`
}

// Validate checks the request. A missing session id is reported before an
// empty message.
func (req *TurnRequest) Validate() error {
	err := relaycommon.V().Struct(req)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return relaycommon.ErrInvalidRequest.Err(err)
	}
	for _, e := range ve {
		if e.Field() == "session_id" {
			return relaycommon.ErrMissingSession
		}
	}
	return relaycommon.ErrEmptyMessage
}

// BeginTurn validates the request, records the user message, loads the
// session context and starts the generation. Errors returned here happen
// before anything was streamed. On success the caller must call Stream on the
// returned turn.
func (r *Relay) BeginTurn(ctx context.Context, req TurnRequest) (*Turn, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t := &Turn{
		relay:     r,
		sessionID: req.SessionID,
		prompt:    req.Message,
		state:     StateAwaitingPrompt,
		started:   time.Now(),
	}

	if r.gate != nil {
		release, err := r.gate.acquire(ctx, req.SessionID)
		if err != nil {
			return nil, relaycommon.ErrRelayError.MsgErr("turn cancelled while waiting for the session", err)
		}
		t.release = release
	}

	// The generation outlives the request so that a client disconnect does not
	// lose the commit.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.GenerationTimeout)
	t.genCtx = genCtx
	t.cancel = cancel

	if err := r.store.AppendMessage(ctx, req.SessionID, relaycommon.RoleUser, req.Message); err != nil {
		t.fail(err)
		t.finish()
		return nil, err
	}

	continuation, found, err := r.store.GetContext(ctx, req.SessionID)
	if err != nil {
		t.fail(err)
		t.finish()
		return nil, err
	}
	log.Ctx(ctx).Debug().
		Str("session_id", req.SessionID).
		Bool("has_context", found).
		Int("context_len", len(continuation)).
		Msg("starting turn")

	src, err := r.gen.GenerateStream(genCtx, req.Message, continuation)
	if err != nil {
		t.fail(err)
		t.finish()
		return nil, err
	}
	t.src = src
	t.state = StateStreaming
	return t, nil
}

// NewConversation allocates a fresh session id and clears anything stored
// under it.
func (r *Relay) NewConversation(ctx context.Context) (string, error) {
	for i := 0; i < maxIdAttempts; i++ {
		id, err := uuid.NewRandom()
		if err != nil {
			continue
		}
		sid := id.String()
		msgs, err := r.store.GetMessages(ctx, sid)
		if err != nil {
			return "", err
		}
		_, found, err := r.store.GetContext(ctx, sid)
		if err != nil {
			return "", err
		}
		if len(msgs) > 0 || found {
			log.Ctx(ctx).Warn().Str("session_id", sid).Msg("generated session id already in use")
			continue
		}
		if err := r.store.DeleteSession(ctx, sid); err != nil {
			return "", err
		}
		return sid, nil
	}
	return "", relaycommon.ErrRelayError.Err(fmt.Errorf("unable to allocate a session id"))
}

// DeleteConversation removes a session.
func (r *Relay) DeleteConversation(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return relaycommon.ErrMissingSession
	}
	return r.store.DeleteSession(ctx, id)
}
