package chat

import (
	"context"

	"github.com/tansive/chatrelay/internal/relay/ollama"
)

// EventSource is a finite, single-use sequence of generation events.
type EventSource interface {
	Next() bool
	Current() ollama.GenerationEvent
	Err() error
	Close() error
}

// Generator starts streaming generations.
type Generator interface {
	GenerateStream(ctx context.Context, prompt string, continuation []int) (EventSource, error)
}

// FrameSink receives one encoded event per call. httpx.EventStream is the
// production sink.
type FrameSink interface {
	Send(data []byte) error
}

type clientGenerator struct {
	c *ollama.Client
}

// FromClient adapts an ollama client to Generator.
func FromClient(c *ollama.Client) Generator {
	return &clientGenerator{c: c}
}

func (g *clientGenerator) GenerateStream(ctx context.Context, prompt string, continuation []int) (EventSource, error) {
	s, err := g.c.GenerateStream(ctx, prompt, continuation)
	if err != nil {
		return nil, err
	}
	return s, nil
}
