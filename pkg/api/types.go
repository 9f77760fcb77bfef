package api

// ChatRequest is the body of POST /chat/stream.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatEvent is one Server-Sent Event frame of a chat stream.
type ChatEvent struct {
	Model         string `json:"model,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	Context       []int  `json:"context,omitempty"`
	EvalCount     int    `json:"eval_count,omitempty"`
	TotalDuration int64  `json:"total_duration,omitempty"`
}

// NewConversationRsp is returned by POST /new_conversation.
type NewConversationRsp struct {
	SessionID string `json:"session_id"`
}

// ListConversationsRsp is returned by GET /conversations.
type ListConversationsRsp struct {
	Sessions []string `json:"sessions"`
}

// Message is one entry of a conversation.
type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// ConversationRsp is returned by GET /conversation/{id}.
type ConversationRsp struct {
	SessionID string    `json:"session_id" yaml:"session_id"`
	Messages  []Message `json:"messages" yaml:"messages"`
}

// HealthRsp is returned by GET /health.
type HealthRsp struct {
	Status   string `json:"status"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	Store    string `json:"store"`
	Sessions int    `json:"sessions"`
	Error    string `json:"error,omitempty"`
}

// VersionRsp is returned by GET /version.
type VersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}

// ErrorRsp is the body of every error response.
type ErrorRsp struct {
	Result int    `json:"result"`
	Error  string `json:"error"`
}
