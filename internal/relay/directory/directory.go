// Package directory is the read path over stored conversations.
package directory

import (
	"context"

	"github.com/tansive/chatrelay/internal/relay/relaycommon"
	"github.com/tansive/chatrelay/internal/relay/store"
)

// Conversation is a session id with its message log.
type Conversation struct {
	SessionID string                `json:"session_id" yaml:"session_id"`
	Messages  []relaycommon.Message `json:"messages" yaml:"messages"`
}

// Directory lists and fetches conversations straight from the store.
type Directory struct {
	store store.Store
}

// New creates a Directory over st.
func New(st store.Store) *Directory {
	return &Directory{store: st}
}

// ListConversations returns the ids of sessions that have messages.
func (d *Directory) ListConversations(ctx context.Context) ([]string, error) {
	ids, err := d.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// GetConversation returns the message log of id. Unknown ids yield an empty
// conversation.
func (d *Directory) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	msgs, err := d.store.GetMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []relaycommon.Message{}
	}
	return &Conversation{SessionID: id, Messages: msgs}, nil
}

// CountConversations returns the number of sessions that have messages.
func (d *Directory) CountConversations(ctx context.Context) (int, error) {
	ids, err := d.store.ListSessions(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
