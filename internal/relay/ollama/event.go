package ollama

import "time"

// Metrics are the generation statistics reported with the terminal event.
type Metrics struct {
	TokenCount    int   `json:"eval_count,omitempty"`
	DurationNanos int64 `json:"total_duration,omitempty"`
}

// Duration returns the total generation time.
func (m Metrics) Duration() time.Duration {
	return time.Duration(m.DurationNanos)
}

// GenerationEvent is one frame of a generation. Field names follow the
// backend's wire format so frames can be relayed to browsers unchanged.
type GenerationEvent struct {
	Model     string `json:"model,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	Context   []int  `json:"context,omitempty"`
	Metrics
}

// Partial builds a non-terminal event carrying a text fragment.
func Partial(text string) GenerationEvent {
	return GenerationEvent{Response: text}
}

// Terminal builds the final event of a generation.
func Terminal(text string, finalContext []int, m Metrics) GenerationEvent {
	return GenerationEvent{
		Response: text,
		Done:     true,
		Context:  finalContext,
		Metrics:  m,
	}
}

// IsTerminal reports whether e ends the generation.
func (e GenerationEvent) IsTerminal() bool {
	return e.Done
}

// FinalContext returns the continuation context of a terminal event. ok is
// false for partial events and for terminal events that carry no context.
func (e GenerationEvent) FinalContext() (ctx []int, ok bool) {
	if !e.Done || len(e.Context) == 0 {
		return nil, false
	}
	return e.Context, true
}
