package handlers

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// CatchAllHandler receives events for channels nobody listens to. It logs the
// channel name and counts the events; the payload only shows up at trace level.
type CatchAllHandler struct {
	logger *logrus.Entry
	count  atomic.Uint64
}

func NewCatchAllHandler() *CatchAllHandler {
	return &CatchAllHandler{
		logger: logrus.WithField("component", "catch_all"),
	}
}

func (h *CatchAllHandler) Handle(_ context.Context, channel string, payload any) {
	n := h.count.Add(1)
	log := h.logger.WithField("channel", channel)
	log.WithField("unhandled_total", n).Debug("No handler registered for channel")
	if log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		log.Tracef("Unhandled payload: %v", payload)
	}
}

// Count returns the number of events seen so far.
func (h *CatchAllHandler) Count() uint64 {
	return h.count.Load()
}
