package chat

import (
	"context"
	"sync"
)

// turnGate lets one turn at a time run per session.
type turnGate struct {
	mu       sync.Mutex
	sessions map[string]*gateEntry
}

type gateEntry struct {
	slot chan struct{}
	refs int
}

func newTurnGate() *turnGate {
	return &turnGate{sessions: make(map[string]*gateEntry)}
}

// acquire blocks until the session is free or ctx is done.
func (g *turnGate) acquire(ctx context.Context, id string) (func(), error) {
	g.mu.Lock()
	e, ok := g.sessions[id]
	if !ok {
		e = &gateEntry{slot: make(chan struct{}, 1)}
		g.sessions[id] = e
	}
	e.refs++
	g.mu.Unlock()

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		g.drop(id, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.slot
			g.drop(id, e)
		})
	}, nil
}

func (g *turnGate) drop(id string, e *gateEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(g.sessions, id)
	}
}

func (g *turnGate) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}
