package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/tansive/chatrelay/internal/common/httpx"
	"github.com/tansive/chatrelay/internal/relay/chat"
	"github.com/tansive/chatrelay/internal/relay/config"
	"github.com/tansive/chatrelay/internal/relay/relaycommon"
	"github.com/tansive/chatrelay/internal/relay/versions"
	"github.com/tansive/chatrelay/pkg/api"
)

// chatStream runs one chat turn and relays the generation as Server-Sent
// Events. Validation, store reads and backend connection errors are answered
// with a JSON error before the stream starts.
func (s *RelayServer) chatStream(r *http.Request) (*httpx.StreamResponse, error) {
	var body api.ChatRequest
	if err := httpx.GetRequestData(r, &body); err != nil {
		return nil, err
	}
	req := chat.TurnRequest{
		SessionID: r.URL.Query().Get("session_id"),
		Message:   body.Message,
	}
	turn, err := s.relay.BeginTurn(r.Context(), req)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("session_id", req.SessionID).Msg("unable to start turn")
		return nil, err
	}
	return &httpx.StreamResponse{
		WriteEvents: func(es *httpx.EventStream) error {
			_, err := turn.Stream(r.Context(), es)
			return err
		},
	}, nil
}

func (s *RelayServer) newConversation(r *http.Request) (*httpx.Response, error) {
	id, err := s.relay.NewConversation(r.Context())
	if err != nil {
		return nil, err
	}
	log.Ctx(r.Context()).Info().Str("session_id", id).Msg("new conversation")
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   &api.NewConversationRsp{SessionID: id},
	}, nil
}

func (s *RelayServer) listConversations(r *http.Request) (*httpx.Response, error) {
	ids, err := s.dir.ListConversations(r.Context())
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   &api.ListConversationsRsp{Sessions: ids},
	}, nil
}

func (s *RelayServer) getConversation(r *http.Request) (*httpx.Response, error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		return nil, relaycommon.ErrMissingSession
	}
	conv, err := s.dir.GetConversation(r.Context(), id)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   conv,
	}, nil
}

func (s *RelayServer) deleteConversation(r *http.Request) (*httpx.Response, error) {
	id := chi.URLParam(r, "id")
	if err := s.relay.DeleteConversation(r.Context(), id); err != nil {
		return nil, err
	}
	log.Ctx(r.Context()).Info().Str("session_id", id).Msg("conversation deleted")
	return &httpx.Response{
		StatusCode: http.StatusNoContent,
	}, nil
}

// getHealth reports the backend settings and the number of stored sessions.
// An unreachable store turns the report into a 503.
func (s *RelayServer) getHealth(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	st := s.relay.Store()
	cfg := config.Config()
	rsp := &api.HealthRsp{
		Status:  "ok",
		Model:   cfg.Ollama.Model,
		BaseURL: cfg.Ollama.BaseURL,
		Store:   st.Backend(),
	}

	err := st.Ping(ctx)
	if err == nil {
		rsp.Sessions, err = s.dir.CountConversations(ctx)
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("health check failed")
		rsp.Status = "degraded"
		rsp.Error = err.Error()
		return &httpx.Response{StatusCode: http.StatusServiceUnavailable, Response: rsp}, nil
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}

func (s *RelayServer) getVersion(r *http.Request) (*httpx.Response, error) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: &api.VersionRsp{
			ServerVersion: "Chat Relay Server: " + versions.Version,
			ApiVersion:    versions.ApiVersion,
		},
	}, nil
}
