package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrQueueClosed = errors.New("queue is closed")

type inMemoryTask struct {
	queue   *InMemoryQueue
	payload []byte
}

func (t *inMemoryTask) Queue() string {
	return t.queue.name
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	t.queue.acked.Add(1)
	return nil
}

// InMemoryQueue is both ends of a single queue, used in place of RabbitMQ
// in tests.
type InMemoryQueue struct {
	name string

	mu        sync.Mutex
	tasks     chan Task
	closed    bool
	err       error
	published atomic.Int64
	acked     atomic.Int64
}

func NewInMemoryQueue(name string) *InMemoryQueue {
	return &InMemoryQueue{
		name:  name,
		tasks: make(chan Task, 100),
	}
}

func (q *InMemoryQueue) Publish(ctx context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- &inMemoryTask{queue: q, payload: body}:
		q.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

func (q *InMemoryQueue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func (q *InMemoryQueue) Close() {
	q.Fail(nil)
}

// Fail ends the task stream. Readers observe err through Err once Tasks is
// drained.
func (q *InMemoryQueue) Fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.err = err
	close(q.tasks)
}

func (q *InMemoryQueue) Published() int {
	return int(q.published.Load())
}

func (q *InMemoryQueue) Acked() int {
	return int(q.acked.Load())
}

type InMemoryBroker struct {
	mu         sync.Mutex
	queues     map[string]*InMemoryQueue
	subscribed []string

	// SubscribeErr, when set, is returned by Subscribe for the named queue.
	SubscribeErr map[string]error
}

func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{queues: make(map[string]*InMemoryQueue)}
}

func (b *InMemoryBroker) Queue(name string) *InMemoryQueue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		q = NewInMemoryQueue(name)
		b.queues[name] = q
	}
	return q
}

func (b *InMemoryBroker) Subscribe(queue string) (Reciever, error) {
	b.mu.Lock()
	err := b.SubscribeErr[queue]
	if err == nil {
		b.subscribed = append(b.subscribed, queue)
	}
	b.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &inMemoryReceiver{b.Queue(queue)}, nil
}

func (b *InMemoryBroker) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subscribed...)
}

func (b *InMemoryBroker) NewPublisher(queue string) (Publisher, error) {
	return &inMemoryPublisher{b.Queue(queue)}, nil
}

func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, q := range b.queues {
		q.Close()
	}
	return nil
}

// Handles returned by the broker do not close the shared queue, matching a
// channel close on a real broker.
type inMemoryReceiver struct {
	*InMemoryQueue
}

func (r *inMemoryReceiver) Close() {}

type inMemoryPublisher struct {
	*InMemoryQueue
}

func (p *inMemoryPublisher) Close() {}
