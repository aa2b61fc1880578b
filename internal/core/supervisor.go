package core

import (
	"context"
	"fmt"
	"kakigoori-worker/internal/encoder"
	"kakigoori-worker/internal/messaging"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

type SupervisorOptions struct {
	QueuePrefix   string
	OutboundQueue string
	ScratchDir    string
}

type supervisedLoop struct {
	queue     string
	loop      *ConsumerLoop
	receiver  messaging.Reciever
	publisher messaging.Publisher
}

func (s *supervisedLoop) close() {
	s.receiver.Close()
	s.publisher.Close()
}

// Supervisor runs one independent consumer loop per format.
type Supervisor struct {
	broker   messaging.Broker
	encoders []encoder.Encoder
	opts     SupervisorOptions

	ready bool
	loops []*supervisedLoop
}

func NewSupervisor(broker messaging.Broker, encoders []encoder.Encoder, opts SupervisorOptions) *Supervisor {
	if opts.QueuePrefix == "" {
		opts.QueuePrefix = messaging.DefaultQueuePrefix
	}
	if opts.OutboundQueue == "" {
		opts.OutboundQueue = messaging.ProcessVariantQueue
	}
	return &Supervisor{broker: broker, encoders: encoders, opts: opts}
}

func (s *Supervisor) setupLoop(enc encoder.Encoder) (*supervisedLoop, error) {
	queue := messaging.FormatQueue(s.opts.QueuePrefix, enc.Name())

	receiver, err := s.broker.Subscribe(queue)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribing to %s: %w", ErrQueueSetup, queue, err)
	}

	publisher, err := s.broker.NewPublisher(s.opts.OutboundQueue)
	if err != nil {
		receiver.Close()
		return nil, fmt.Errorf("%w: opening publisher on %s: %w", ErrQueueSetup, s.opts.OutboundQueue, err)
	}

	handler := NewTaskHandler(enc, publisher, s.opts.ScratchDir)

	return &supervisedLoop{
		queue:     queue,
		loop:      NewConsumerLoop(enc.Name(), receiver, handler),
		receiver:  receiver,
		publisher: publisher,
	}, nil
}

// Setup subscribes every format's queue. If any subscription fails, the ones
// already opened are closed and no loop is started.
func (s *Supervisor) Setup() error {
	for _, enc := range s.encoders {
		loop, err := s.setupLoop(enc)
		if err != nil {
			for _, l := range s.loops {
				l.close()
			}
			s.loops = nil
			return err
		}
		s.loops = append(s.loops, loop)
	}
	s.ready = true
	return nil
}

// Run sets up the loops if Setup has not been called and runs them until all
// of them have returned. One loop failing does not stop the others; the first
// loop error is returned once every loop is done.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.ready {
		if err := s.Setup(); err != nil {
			return err
		}
	}

	var g errgroup.Group
	for _, l := range s.loops {
		g.Go(func() error {
			defer l.close()

			err := l.loop.Run(ctx)
			if err != nil {
				slog.Error("consumer loop failed", "format", l.loop.format, "queue", l.queue, "error", err)
				return fmt.Errorf("%s consumer: %w", l.loop.format, err)
			}
			slog.Info("consumer loop stopped", "format", l.loop.format, "queue", l.queue)
			return nil
		})
	}

	return g.Wait()
}

// Status is safe to call concurrently with Run once Setup has returned.
func (s *Supervisor) Status() []LoopStatus {
	statuses := make([]LoopStatus, 0, len(s.loops))
	for _, l := range s.loops {
		status := l.loop.Status()
		status.Queue = l.queue
		statuses = append(statuses, status)
	}
	return statuses
}
