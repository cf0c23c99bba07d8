package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// DebugHandler prints received payloads at trace level
type DebugHandler struct {
	channel string
	logger  *logrus.Entry
}

// NewDebugHandler creates a debug handler for one channel
func NewDebugHandler(channel string) *DebugHandler {
	return &DebugHandler{
		channel: channel,
		logger:  logrus.WithFields(logrus.Fields{"component": "debug_handler", "channel": channel}),
	}
}

// Handle prints the payload as indented JSON
func (h *DebugHandler) Handle(_ context.Context, payload any) error {
	pretty, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		return fmt.Errorf("error formatting payload: %w", err)
	}

	h.logger.Trace("Received event:\n", string(pretty))
	return nil
}
