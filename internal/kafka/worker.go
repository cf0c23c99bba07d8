package kafka

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Worker forwards queued relay messages to a MessageSender until its queue is
// closed. Send failures are reported on errChan and do not stop the worker.
type Worker struct {
	id      int
	sender  MessageSender
	msgChan <-chan Message
	errChan chan<- error
	wg      *sync.WaitGroup
	logger  *logrus.Entry
	done    chan struct{}
}

// NewWorker creates a worker. wg.Done is called when Start returns.
func NewWorker(id int, sender MessageSender, msgChan <-chan Message, wg *sync.WaitGroup, errChan chan<- error) *Worker {
	return &Worker{
		id:      id,
		sender:  sender,
		msgChan: msgChan,
		errChan: errChan,
		wg:      wg,
		logger:  logrus.WithFields(logrus.Fields{"component": "kafka_relay_worker", "worker_id": id}),
		done:    make(chan struct{}),
	}
}

// Start processes messages until msgChan is closed. ctx bounds each send;
// pending messages are still attempted after ctx ends so the queue drains.
func (w *Worker) Start(ctx context.Context) {
	defer w.stop()

	for msg := range w.msgChan {
		w.logger.WithField("key", msg.Key).Trace("Relaying message")
		sendCtx := ctx
		if ctx.Err() != nil {
			sendCtx = context.Background()
		}
		if err := w.sender.Send(sendCtx, msg); err != nil {
			w.logger.WithError(err).Warn("Failed to relay message")
			select {
			case w.errChan <- err:
			default:
			}
		}
	}
	w.logger.Debug("Message channel closed, stopping worker")
}

func (w *Worker) wait() <-chan struct{} {
	return w.done
}

func (w *Worker) stop() {
	w.wg.Done()
	close(w.done)
	w.logger.Debug("Worker finished")
}
