package server

import (
	"net/http"

	"github.com/tansive/chatrelay/internal/common/httpx"
)

// handlerParam binds a method and path to a handler.
type handlerParam struct {
	Method  string
	Path    string
	Handler http.Handler
}

func (s *RelayServer) streamHandlers() []handlerParam {
	return []handlerParam{
		{
			Method:  http.MethodPost,
			Path:    "/chat/stream",
			Handler: httpx.WrapStreamHandler(s.chatStream),
		},
	}
}

func (s *RelayServer) jsonHandlers() []handlerParam {
	return []handlerParam{
		{
			Method:  http.MethodPost,
			Path:    "/new_conversation",
			Handler: httpx.WrapHttpRsp(s.newConversation),
		},
		{
			Method:  http.MethodGet,
			Path:    "/conversations",
			Handler: httpx.WrapHttpRsp(s.listConversations),
		},
		{
			Method:  http.MethodGet,
			Path:    "/conversation/{id}",
			Handler: httpx.WrapHttpRsp(s.getConversation),
		},
		{
			Method:  http.MethodDelete,
			Path:    "/conversation/{id}",
			Handler: httpx.WrapHttpRsp(s.deleteConversation),
		},
		{
			Method:  http.MethodGet,
			Path:    "/health",
			Handler: httpx.WrapHttpRsp(s.getHealth),
		},
		{
			Method:  http.MethodGet,
			Path:    "/version",
			Handler: httpx.WrapHttpRsp(s.getVersion),
		},
	}
}
