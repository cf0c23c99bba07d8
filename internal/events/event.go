package events

import (
	"time"

	"github.com/alejoacosta74/skinport-go/internal/common"
)

// FeedEvent is what the dispatcher publishes for every inbound feed event.
type FeedEvent struct {
	Channel    common.Channel
	Payload    any
	ReceivedAt time.Time
}

// ConnectionEvent is published on common.TopicConnection on every state change.
type ConnectionEvent struct {
	From      string
	To        string
	Epoch     uint64
	SessionID string
	At        time.Time
}

// HandlerFailure is published on common.TopicHandlerErr when a handler fails.
type HandlerFailure struct {
	Channel common.Channel
	Err     error
	Panic   bool
}

// RequestEvent is published on common.TopicREST after every REST attempt.
type RequestEvent struct {
	Route    string
	Status   int
	Duration time.Duration
	Err      error
}

// BreakerEvent is published on common.TopicBreaker when the REST circuit
// breaker changes state.
type BreakerEvent struct {
	From string
	To   string
}
