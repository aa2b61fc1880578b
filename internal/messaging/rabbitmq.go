package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQOptions struct {
	ConnectionName  string
	ConnectAttempts int
	RetryDelay      time.Duration
	PrefetchCount   int
}

func (o *RabbitMQOptions) setDefaults() {
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = MaxConnectRetry
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = RetryDelay
	}
	if o.PrefetchCount <= 0 {
		o.PrefetchCount = 1
	}
}

func connectToRabbitMQ(url string, opts RabbitMQOptions) (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	if opts.ConnectionName != "" {
		props.SetClientConnectionName(opts.ConnectionName)
	}
	config := amqp.Config{
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
		Properties: props,
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < opts.ConnectAttempts; i++ {
		conn, err = amqp.DialConfig(url, config)
		if err == nil {
			slog.Info("connected to rabbitmq")
			return conn, nil
		}
		slog.Warn("failed to connect to rabbitmq", "attempt", i+1, "max_attempts", opts.ConnectAttempts, "error", err)
		if i+1 < opts.ConnectAttempts {
			time.Sleep(opts.RetryDelay)
		}
	}
	slog.Error("failed to connect to rabbitmq", "attempts", opts.ConnectAttempts, "error", err)
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", opts.ConnectAttempts, err)
}

// RabbitMQBroker owns one connection. Every subscription and publisher gets
// a dedicated channel on it.
type RabbitMQBroker struct {
	conn     *amqp.Connection
	opts     RabbitMQOptions
	channels atomic.Int64
}

func NewRabbitMQBroker(rabbitMQURL string, opts RabbitMQOptions) (*RabbitMQBroker, error) {
	opts.setDefaults()
	conn, err := connectToRabbitMQ(rabbitMQURL, opts)
	if err != nil {
		return nil, err
	}
	return &RabbitMQBroker{conn: conn, opts: opts}, nil
}

// openChannel opens a channel and declares queue on it as durable.
func (b *RabbitMQBroker) openChannel(queue string) (*amqp.Channel, int64, error) {
	channel, err := b.conn.Channel()
	if err != nil {
		slog.Error("failed to open rabbitmq channel", "queue", queue, "error", err)
		return nil, 0, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	id := b.channels.Add(1)

	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		channel.Close()
		return nil, 0, fmt.Errorf("failed to declare rabbitmq queue %s: %w", queue, err)
	}
	return channel, id, nil
}

// ConsumerTag identifies one subscription on one channel of this process.
func ConsumerTag(channelId int64) string {
	return fmt.Sprintf("ctag%d.%s", channelId, uuid.NewString())
}

func (b *RabbitMQBroker) Subscribe(queue string) (Reciever, error) {
	channel, id, err := b.openChannel(queue)
	if err != nil {
		return nil, err
	}

	if err := channel.Qos(b.opts.PrefetchCount, 0, false); err != nil {
		channel.Close()
		slog.Error("failed to set channel qos", "queue", queue, "error", err)
		return nil, fmt.Errorf("failed to set channel qos: %w", err)
	}

	closed := channel.NotifyClose(make(chan *amqp.Error, 1))

	tag := ConsumerTag(id)
	msgs, err := channel.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		channel.Close()
		slog.Error("failed to consume from rabbitmq queue", "queue", queue, "error", err)
		return nil, fmt.Errorf("failed to consume from rabbitmq queue %s: %w", queue, err)
	}
	slog.Info("consuming from rabbitmq queue", "queue", queue, "consumer_tag", tag)

	r := &RabbitMQReceiver{
		queue:   queue,
		channel: channel,
		tasks:   make(chan Task),
		stop:    make(chan struct{}),
	}
	go r.consume(msgs, closed)

	return r, nil
}

func (b *RabbitMQBroker) NewPublisher(queue string) (Publisher, error) {
	channel, _, err := b.openChannel(queue)
	if err != nil {
		return nil, err
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &RabbitMQPublisher{queue: queue, channel: channel}, nil
}

func (b *RabbitMQBroker) Close() error {
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("error closing rabbitmq connection: %w", err)
	}
	return nil
}

type RabbitMQPublisher struct {
	queue      string
	channel    *amqp.Channel
	destructor sync.Once
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, body []byte) error {
	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		"",      // exchange (default)
		p.queue, // routing key (queue name)
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.queue, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm publish to %s: %w", p.queue, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected publish to %s", p.queue)
	}
	return nil
}

func (p *RabbitMQPublisher) Close() {
	p.destructor.Do(func() {
		if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			slog.Error("error closing rabbitmq publisher channel", "queue", p.queue, "error", err)
		}
	})
}

type RabbitMQTask struct {
	d amqp.Delivery
}

func (t *RabbitMQTask) Queue() string {
	return t.d.RoutingKey
}

func (t *RabbitMQTask) Payload() []byte {
	return t.d.Body
}

func (t *RabbitMQTask) Ack() error {
	return t.d.Ack(false)
}

type RabbitMQReceiver struct {
	queue      string
	channel    *amqp.Channel
	tasks      chan Task
	err        error
	stop       chan struct{}
	destructor sync.Once
}

func (r *RabbitMQReceiver) consume(msgs <-chan amqp.Delivery, closed <-chan *amqp.Error) {
	defer close(r.tasks)

	for d := range msgs {
		select {
		case r.tasks <- &RabbitMQTask{d: d}:
		case <-r.stop:
			return
		}
	}

	// An abnormal close is already buffered in closed by the time msgs ends.
	if err, ok := <-closed; ok && err != nil {
		slog.Warn("rabbitmq channel closed unexpectedly", "queue", r.queue, "error", err)
		r.err = err
		return
	}
	slog.Info("rabbitmq consumer closed", "queue", r.queue)
}

func (r *RabbitMQReceiver) Tasks() <-chan Task {
	return r.tasks
}

func (r *RabbitMQReceiver) Err() error {
	return r.err
}

func (r *RabbitMQReceiver) Close() {
	r.destructor.Do(func() {
		close(r.stop)
		if err := r.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			slog.Error("error closing rabbitmq consumer channel", "queue", r.queue, "error", err)
		}
	})
}
