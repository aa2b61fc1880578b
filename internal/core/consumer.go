package core

import (
	"context"
	"errors"
	"fmt"
	"kakigoori-worker/internal/messaging"
	"log/slog"
	"sync/atomic"
)

type LoopState string

const (
	LoopStarting LoopState = "starting"
	LoopRunning  LoopState = "running"
	LoopStopped  LoopState = "stopped"
	LoopFailed   LoopState = "failed"
)

// LoopStatus is a point-in-time view of one consumer loop.
type LoopStatus struct {
	Format    string    `json:"format"`
	Queue     string    `json:"queue"`
	State     LoopState `json:"state"`
	Processed int64     `json:"processed"`
	Failed    int64     `json:"failed"`
}

// ConsumerLoop drains one inbound queue, handing every message to its handler
// and acknowledging it whatever the outcome. Failed jobs are not retried.
type ConsumerLoop struct {
	format   string
	receiver messaging.Reciever
	handler  Handler

	state     atomic.Value
	processed atomic.Int64
	failed    atomic.Int64
}

func NewConsumerLoop(format string, receiver messaging.Reciever, handler Handler) *ConsumerLoop {
	loop := &ConsumerLoop{format: format, receiver: receiver, handler: handler}
	loop.state.Store(LoopStarting)
	return loop
}

// Run returns nil when the stream is closed gracefully or ctx is cancelled,
// and an error wrapping ErrStreamFailure when the broker ends the stream
// abnormally. Cancellation is only observed between messages.
func (l *ConsumerLoop) Run(ctx context.Context) error {
	l.state.Store(LoopRunning)
	slog.Info("waiting for messages", "format", l.format)

	for {
		select {
		case <-ctx.Done():
			l.state.Store(LoopStopped)
			slog.Info("consumer loop cancelled", "format", l.format)
			return nil

		case task, ok := <-l.receiver.Tasks():
			if !ok {
				if err := l.receiver.Err(); err != nil {
					l.state.Store(LoopFailed)
					return fmt.Errorf("%w: %w", ErrStreamFailure, err)
				}
				l.state.Store(LoopStopped)
				slog.Info("message stream closed", "format", l.format)
				return nil
			}
			l.processTask(ctx, task)
		}
	}
}

func (l *ConsumerLoop) processTask(ctx context.Context, task messaging.Task) {
	slog.Debug("received message", "format", l.format, "queue", task.Queue())

	if err := l.handler.Handle(ctx, task.Payload()); err != nil {
		l.failed.Add(1)
		logTaskError(l.format, err)
	} else {
		l.processed.Add(1)
	}

	if err := task.Ack(); err != nil {
		slog.Error("error acknowledging message from queue", "format", l.format, "queue", task.Queue(), "error", err)
	}
}

func logTaskError(format string, err error) {
	var encodeErr *EncodeError
	if errors.As(err, &encodeErr) {
		slog.Error("error handling task", "format", format, "exit_code", encodeErr.ExitCode, "output", string(encodeErr.Output), "error", err)
		return
	}
	slog.Error("error handling task", "format", format, "error", err)
}

func (l *ConsumerLoop) Status() LoopStatus {
	return LoopStatus{
		Format:    l.format,
		State:     l.state.Load().(LoopState),
		Processed: l.processed.Load(),
		Failed:    l.failed.Load(),
	}
}
