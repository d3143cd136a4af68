// Package transcript folds streamed per-role transcript deltas into turns.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Role attributes a turn to a speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one finalized utterance.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Options controls aggregation behavior.
type Options struct {
	// SuppressAssistant clears assistant text at turn boundaries without emitting it.
	SuppressAssistant bool

	// Now stamps emitted turns. Defaults to time.Now.
	Now func() time.Time
}

// Aggregator accumulates deltas per role until a turn boundary.
type Aggregator struct {
	mu        sync.Mutex
	user      strings.Builder
	assistant strings.Builder
	opts      Options
}

func NewAggregator(opts Options) *Aggregator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{opts: opts}
}

// AppendDelta appends text to role's accumulator. Unknown roles are ignored.
func (a *Aggregator) AppendDelta(role Role, text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if buf := a.buffer(role); buf != nil {
		buf.WriteString(text)
	}
}

// OnTurnComplete emits at most one user turn followed by at most one
// assistant turn and leaves both accumulators empty. Turn text is the
// accumulated deltas byte for byte.
func (a *Aggregator) OnTurnComplete() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.opts.Now()
	turns := make([]Turn, 0, 2)

	if text := a.user.String(); text != "" {
		turns = append(turns, Turn{Role: RoleUser, Text: text, Timestamp: now})
	}
	a.user.Reset()

	if text := a.assistant.String(); text != "" && !a.opts.SuppressAssistant {
		turns = append(turns, Turn{Role: RoleAssistant, Text: text, Timestamp: now})
	}
	a.assistant.Reset()

	return turns
}

// Flush treats pending text as a completed turn. Used on stop.
func (a *Aggregator) Flush() []Turn {
	return a.OnTurnComplete()
}

// Pending returns the in-progress text per role.
func (a *Aggregator) Pending() map[Role]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[Role]string{
		RoleUser:      a.user.String(),
		RoleAssistant: a.assistant.String(),
	}
}

func (a *Aggregator) buffer(role Role) *strings.Builder {
	switch role {
	case RoleUser:
		return &a.user
	case RoleAssistant:
		return &a.assistant
	default:
		return nil
	}
}
