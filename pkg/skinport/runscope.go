package skinport

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

// runScope owns what Run sets up for one call: a context cancelled on SIGINT
// or SIGTERM and the signal subscription itself. release undoes both.
type runScope struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sigChan chan os.Signal
	done    chan struct{}
}

func newRunScope(parent context.Context, logger *logrus.Entry) *runScope {
	ctx, cancel := context.WithCancel(parent)
	s := &runScope{
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
		done:    make(chan struct{}),
	}
	signal.Notify(s.sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-s.sigChan:
			logger.WithField("signal", sig.String()).Info("Received termination signal, shutting down")
			cancel()
		case <-s.done:
		}
	}()
	return s
}

func (s *runScope) release() {
	signal.Stop(s.sigChan)
	close(s.done)
	s.cancel()
}
