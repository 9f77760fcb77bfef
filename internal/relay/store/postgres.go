package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/tansive/chatrelay/internal/relay/config"
	"github.com/tansive/chatrelay/internal/relay/relaycommon"
)

const (
	messagesTable = "chat_messages"
	contextsTable = "chat_contexts"
)

// PostgresOptions configures the PostgreSQL store.
type PostgresOptions struct {
	DSN          string
	Schema       string
	MaxOpenConns int
}

type postgresStore struct {
	db       *sql.DB
	messages string
	contexts string
}

// formatSQLIdentifier quotes name, qualified by schema when one is set.
func formatSQLIdentifier(schema, name string) string {
	if schema == "" {
		return pq.QuoteIdentifier(name)
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(name)
}

// NewPostgres opens a connection pool, verifies it and creates the tables if
// they do not exist.
func NewPostgres(ctx context.Context, opts PostgresOptions) (Store, error) {
	db, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to open db")
		return nil, relaycommon.ErrStoreUnavailable.MsgErr("failed to open database connection", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(maxOpen, 10))
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		log.Ctx(ctx).Error().Err(err).Msg("failed to ping db")
		return nil, relaycommon.ErrStoreUnavailable.MsgErr("failed to ping database", err)
	}

	s := &postgresStore{
		db:       db,
		messages: formatSQLIdentifier(opts.Schema, messagesTable),
		contexts: formatSQLIdentifier(opts.Schema, contextsTable),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *postgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			session_id TEXT NOT NULL,
			seq BIGSERIAL NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, seq)
		)`, s.messages),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			session_id TEXT PRIMARY KEY,
			context BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.contexts),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to create tables")
			return relaycommon.ErrStoreUnavailable.MsgErr("failed to create tables", err)
		}
	}
	return nil
}

func (s *postgresStore) GetContext(ctx context.Context, id string) ([]int, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT context FROM %s WHERE session_id = $1`, s.contexts), id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, relaycommon.ErrStoreUnavailable.Err(err)
	}
	tokens, err := decodeContext(blob)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("session_id", id).Msg("ignoring undecodable context")
		return nil, false, nil
	}
	return tokens, true, nil
}

func (s *postgresStore) SetContext(ctx context.Context, id string, tokens []int) error {
	blob, err := encodeContext(tokens)
	if err != nil {
		return relaycommon.ErrStoreWriteFailed.Err(err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (session_id, context, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (session_id) DO UPDATE SET context = EXCLUDED.context, updated_at = now()`, s.contexts),
		id, blob)
	if err != nil {
		return relaycommon.ErrStoreWriteFailed.Err(err)
	}
	return nil
}

func (s *postgresStore) AppendMessage(ctx context.Context, id string, role relaycommon.Role, content string) error {
	if err := validRole(role); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (session_id, role, content) VALUES ($1, $2, $3)`, s.messages),
		id, string(role), content)
	if err != nil {
		return relaycommon.ErrStoreWriteFailed.Err(err)
	}
	return nil
}

func (s *postgresStore) GetMessages(ctx context.Context, id string) ([]relaycommon.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT role, content FROM %s WHERE session_id = $1 ORDER BY seq`, s.messages), id)
	if err != nil {
		return nil, relaycommon.ErrStoreUnavailable.Err(err)
	}
	defer rows.Close()

	msgs := []relaycommon.Message{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, relaycommon.ErrStoreUnavailable.Err(err)
		}
		msgs = append(msgs, relaycommon.Message{Role: relaycommon.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, relaycommon.ErrStoreUnavailable.Err(err)
	}
	return msgs, nil
}

func (s *postgresStore) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT session_id FROM %s ORDER BY session_id`, s.messages))
	if err != nil {
		return nil, relaycommon.ErrStoreUnavailable.Err(err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, relaycommon.ErrStoreUnavailable.Err(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, relaycommon.ErrStoreUnavailable.Err(err)
	}
	return ids, nil
}

func (s *postgresStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return relaycommon.ErrStoreWriteFailed.Err(err)
	}
	defer tx.Rollback()

	for _, table := range []string{s.messages, s.contexts} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, table), id); err != nil {
			return relaycommon.ErrStoreWriteFailed.Err(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return relaycommon.ErrStoreWriteFailed.Err(err)
	}
	return nil
}

func (s *postgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return relaycommon.ErrStoreUnavailable.Err(err)
	}
	return nil
}

func (s *postgresStore) Close() error {
	return s.db.Close()
}

func (s *postgresStore) Backend() string { return config.BackendPostgres }

// encodeContext stores the context as a snappy-compressed JSON array.
func encodeContext(tokens []int) ([]byte, error) {
	if tokens == nil {
		tokens = []int{}
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

func decodeContext(blob []byte) ([]int, error) {
	data, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, err
	}
	var tokens []int
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}
