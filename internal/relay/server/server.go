// Package server exposes the relay over HTTP: the streaming chat endpoint,
// conversation management, health and version.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/tansive/chatrelay/internal/common/logtrace"
	"github.com/tansive/chatrelay/internal/common/middleware"
	"github.com/tansive/chatrelay/internal/relay/chat"
	"github.com/tansive/chatrelay/internal/relay/config"
	"github.com/tansive/chatrelay/internal/relay/directory"
)

const defaultRequestTimeout = 30 * time.Second

// RelayServer provides the HTTP server for the chat relay.
type RelayServer struct {
	Router *chi.Mux
	relay  *chat.Relay
	dir    *directory.Directory
}

// CreateNewServer creates a server around relay. Conversations are read from
// the relay's store.
func CreateNewServer(relay *chat.Relay) (*RelayServer, error) {
	if relay == nil {
		return nil, fmt.Errorf("relay is required")
	}
	s := &RelayServer{
		Router: chi.NewRouter(),
		relay:  relay,
		dir:    directory.New(relay.Store()),
	}
	return s, nil
}

// MountHandlers sets up middleware and routes.
func (s *RelayServer) MountHandlers() {
	s.Router.Use(middleware.RequestLogger)
	s.Router.Use(middleware.PanicHandler)
	if config.Config().HandleCORS {
		s.Router.Use(s.HandleCORS)
	}
	s.mountResourceHandlers(s.Router)
	if logtrace.IsTraceEnabled() {
		fmt.Println("Routes in relay router")
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			fmt.Printf("%s %s\n", method, route)
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			log.Error().Err(err).Msg("Error walking router")
		}
	}
}

func (s *RelayServer) mountResourceHandlers(r chi.Router) {
	for _, h := range s.streamHandlers() {
		r.Method(h.Method, h.Path, h.Handler)
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.SetTimeout(requestTimeout()))
		for _, h := range s.jsonHandlers() {
			r.Method(h.Method, h.Path, h.Handler)
		}
	})
}

func requestTimeout() time.Duration {
	d, err := config.Config().GetRequestTimeout()
	if err != nil || d <= 0 {
		return defaultRequestTimeout
	}
	return d
}

// HandleCORS lets browser frontends served from another origin call the relay.
func (s *RelayServer) HandleCORS(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Cache-Control"},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}
