// Package store persists per-session conversation state: the continuation
// context returned by the inference backend and the ordered message log.
package store

import (
	"context"
	"fmt"

	"github.com/tansive/chatrelay/internal/relay/config"
	"github.com/tansive/chatrelay/internal/relay/relaycommon"
)

// Store maps a session id to its continuation context and message log.
// Operations on different ids are independent and safe for concurrent use.
type Store interface {
	// GetContext returns the stored context. found is false when none was set.
	GetContext(ctx context.Context, id string) (tokens []int, found bool, err error)
	// SetContext replaces the stored context.
	SetContext(ctx context.Context, id string, tokens []int) error
	// AppendMessage adds one entry at the end of the message log.
	AppendMessage(ctx context.Context, id string, role relaycommon.Role, content string) error
	// GetMessages returns the message log in order, empty for unknown ids.
	GetMessages(ctx context.Context, id string) ([]relaycommon.Message, error)
	// ListSessions returns the ids with at least one message.
	ListSessions(ctx context.Context) ([]string, error)
	// DeleteSession removes the context and the message log. Unknown ids are not an error.
	DeleteSession(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
	Backend() string
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg *config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return NewMemory(), nil
	case config.BackendRedis:
		ttl, err := cfg.GetSessionTTL()
		if err != nil {
			return nil, err
		}
		return NewRedis(ctx, RedisOptions{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      ttl,
		})
	case config.BackendPostgres:
		return NewPostgres(ctx, PostgresOptions{
			DSN:          cfg.Postgres.DSN,
			Schema:       cfg.Postgres.Schema,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
		})
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

func validRole(role relaycommon.Role) error {
	if !role.Valid() {
		return relaycommon.ErrInvalidRequest.Err(fmt.Errorf("unknown role %q", role))
	}
	return nil
}
