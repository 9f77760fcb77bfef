package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/tansive/chatrelay/internal/relay/config"
	"github.com/tansive/chatrelay/internal/relay/relaycommon"
)

type memoryStore struct {
	mu       sync.RWMutex
	contexts map[string][]int
	messages map[string][]relaycommon.Message
}

// NewMemory returns a process-local store. State is lost on restart.
func NewMemory() Store {
	return &memoryStore{
		contexts: make(map[string][]int),
		messages: make(map[string][]relaycommon.Message),
	}
}

func (m *memoryStore) GetContext(_ context.Context, id string) ([]int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tokens, ok := m.contexts[id]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(tokens), true, nil
}

func (m *memoryStore) SetContext(_ context.Context, id string, tokens []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[id] = slices.Clone(tokens)
	return nil
}

func (m *memoryStore) AppendMessage(_ context.Context, id string, role relaycommon.Role, content string) error {
	if err := validRole(role); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[id] = append(m.messages[id], relaycommon.Message{Role: role, Content: content})
	return nil
}

func (m *memoryStore) GetMessages(_ context.Context, id string) ([]relaycommon.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[id]
	out := make([]relaycommon.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *memoryStore) ListSessions(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.messages))
	for id, msgs := range m.messages {
		if len(msgs) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, id)
	delete(m.messages, id)
	return nil
}

func (m *memoryStore) Ping(context.Context) error { return nil }

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) Backend() string { return config.BackendMemory }
