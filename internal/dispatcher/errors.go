package dispatcher

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyChannel = errors.New("channel name must not be empty")
	ErrNilHandler   = errors.New("handler must not be nil")
)

// ConfigError is returned synchronously when a registration is rejected.
type ConfigError struct {
	Channel string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("invalid listener registration: %v", e.Err)
	}
	return fmt.Sprintf("invalid listener registration for %q: %v", e.Channel, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// HandlerError reports a handler that returned an error or panicked.
type HandlerError struct {
	Channel string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler error for channel %s: %v", e.Channel, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
