package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/streadway/amqp"
)

// Outcome tells a consumer what to do with a delivery after handling it.
type Outcome int

const (
	// Ack removes the message from the queue.
	Ack Outcome = iota
	// Requeue puts the message back for another attempt.
	Requeue
	// Drop discards a message that can never be handled.
	Drop
)

func (o Outcome) String() string {
	switch o {
	case Requeue:
		return "requeue"
	case Drop:
		return "drop"
	default:
		return "ack"
	}
}

// Handler processes one message body.
type Handler interface {
	Handle(ctx context.Context, body []byte) Outcome
}

// ChannelProducerFactory creates producers that publish straight to the declared queue.
type ChannelProducerFactory struct{}

// ChannelProducer publishes persistent JSON messages to one queue.
type ChannelProducer struct {
	mu      sync.Mutex
	channel *amqp.Channel
	queue   *amqp.Queue
}

func (f *ChannelProducerFactory) CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error) {
	return &ChannelProducer{channel: ch, queue: queue}, nil
}

// Publish is a method on ChannelProducer for publishing a message to the AMQP queue.
// It accepts two arguments:
// - ctx: checked before publishing.
// - body: A byte array containing the message to be published.
//
// The function returns an error if there was a problem with publishing the message.
func (p *ChannelProducer) Publish(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.Publish(
		"",           // exchange
		p.queue.Name, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}
	return nil
}

// HandlerConsumerFactory creates consumers that pass every delivery to Handler.
type HandlerConsumerFactory struct {
	Handler Handler
	Logger  *log.Logger
}

// HandlerConsumer reads deliveries from a queue and settles each one
// according to its handler's Outcome.
type HandlerConsumer struct {
	channel *amqp.Channel
	queue   *amqp.Queue
	handler Handler
	log     *log.Logger
}

func (f *HandlerConsumerFactory) CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error) {
	return &HandlerConsumer{channel: ch, queue: queue, handler: f.Handler, log: f.Logger}, nil
}

// Consume is a method on HandlerConsumer for consuming messages from the AMQP queue.
// It sets up a consumer on the queue, then handles deliveries one at a time until
// ctx is done or the delivery channel is closed.
func (c *HandlerConsumer) Consume(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue.Name,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			outcome := c.handler.Handle(ctx, d.Body)
			if err := settle(d, outcome); err != nil {
				c.log.Error("failed to settle delivery", "queue", c.queue.Name, "outcome", outcome, "err", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func settle(d amqp.Delivery, outcome Outcome) error {
	switch outcome {
	case Requeue:
		return d.Nack(false, true)
	case Drop:
		return d.Nack(false, false)
	default:
		return d.Ack(false)
	}
}
