package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejoacosta74/skinport-go/internal/config"
	"github.com/alejoacosta74/skinport-go/pkg/skinport"
)

// handleSignals cancels the context on SIGINT or SIGTERM. It returns when
// ctx ends.
func handleSignals(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		cancel()
	case <-ctx.Done():
	}
}

// signalContext returns a context cancelled by SIGINT, SIGTERM or the
// returned cancel func.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go handleSignals(ctx, cancel)
	return ctx, cancel
}

func restOptions(c config.RESTConfig) []skinport.HTTPOption {
	return []skinport.HTTPOption{
		skinport.WithBaseURL(c.BaseURL),
		skinport.WithTimeout(c.Timeout),
		skinport.WithCircuitBreaker(c.BreakerThreshold, c.BreakerTimeout),
	}
}

// newRESTClient builds a REST-only client from the loaded configuration.
func newRESTClient(c config.RESTConfig) *skinport.HTTPClient {
	h := skinport.NewHTTPClient(restOptions(c)...)
	if c.ClientID != "" {
		h.SetAuth(c.ClientID, c.ClientSecret)
	}
	return h
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
