package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tansive/chatrelay/internal/relay/config"
	"github.com/tansive/chatrelay/internal/relay/relaycommon"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	contextKeyPrefix = "context:"
	sessionKeyPrefix = "session:"
	scanBatch        = 100
)

func contextKey(id string) string { return contextKeyPrefix + id }
func sessionKey(id string) string { return sessionKeyPrefix + id }

// RedisOptions configures the Redis store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // refreshed on every write when non-zero
}

type redisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		log.Ctx(ctx).Error().Err(err).Str("addr", opts.Addr).Msg("failed to ping redis")
		return nil, relaycommon.ErrStoreUnavailable.Err(err)
	}
	return NewRedisFromClient(rdb, opts.TTL), nil
}

// NewRedisFromClient wraps an existing client. The store takes ownership and
// closes it on Close.
func NewRedisFromClient(rdb redis.UniversalClient, ttl time.Duration) Store {
	return &redisStore{rdb: rdb, ttl: ttl}
}

func (s *redisStore) GetContext(ctx context.Context, id string) ([]int, bool, error) {
	data, err := s.rdb.Get(ctx, contextKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, relaycommon.ErrStoreUnavailable.Err(err)
	}
	var tokens []int
	if err := json.Unmarshal(data, &tokens); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("session_id", id).Msg("ignoring undecodable context")
		return nil, false, nil
	}
	return tokens, true, nil
}

func (s *redisStore) SetContext(ctx context.Context, id string, tokens []int) error {
	if tokens == nil {
		tokens = []int{}
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return relaycommon.ErrStoreWriteFailed.Err(err)
	}
	if err := s.rdb.Set(ctx, contextKey(id), data, s.ttl).Err(); err != nil {
		return relaycommon.ErrStoreWriteFailed.Err(err)
	}
	return nil
}

func (s *redisStore) AppendMessage(ctx context.Context, id string, role relaycommon.Role, content string) error {
	if err := validRole(role); err != nil {
		return err
	}
	data, err := json.Marshal(&relaycommon.Message{Role: role, Content: content})
	if err != nil {
		return relaycommon.ErrStoreWriteFailed.Err(err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, sessionKey(id), data)
		if s.ttl > 0 {
			pipe.Expire(ctx, sessionKey(id), s.ttl)
			pipe.Expire(ctx, contextKey(id), s.ttl)
		}
		return nil
	})
	if err != nil {
		return relaycommon.ErrStoreWriteFailed.Err(err)
	}
	return nil
}

func (s *redisStore) GetMessages(ctx context.Context, id string) ([]relaycommon.Message, error) {
	items, err := s.rdb.LRange(ctx, sessionKey(id), 0, -1).Result()
	if err != nil {
		return nil, relaycommon.ErrStoreUnavailable.Err(err)
	}
	msgs := make([]relaycommon.Message, 0, len(items))
	for _, item := range items {
		var m relaycommon.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("session_id", id).Msg("skipping undecodable message")
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *redisStore) ListSessions(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	iter := s.rdb.Scan(ctx, 0, sessionKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		seen[strings.TrimPrefix(iter.Val(), sessionKeyPrefix)] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, relaycommon.ErrStoreUnavailable.Err(err)
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *redisStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, contextKey(id), sessionKey(id)).Err(); err != nil {
		return relaycommon.ErrStoreWriteFailed.Err(err)
	}
	return nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return relaycommon.ErrStoreUnavailable.Err(err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}

func (s *redisStore) Backend() string { return config.BackendRedis }
