// Package queue moves background work through RabbitMQ.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/streadway/amqp"

	logging "github.com/jghoshh/fitquest/backend/logger"
)

// Producer interface provides the Publish method to publish messages to RabbitMQ.
// Publish sends a message body as a byte array to RabbitMQ.
// Returns an error if there was a problem.
type Producer interface {
	Publish(ctx context.Context, body []byte) error
}

// Consumer interface provides the Consume method to consume messages from RabbitMQ.
// Consume handles deliveries until the context is done or the delivery
// stream closes, then returns.
type Consumer interface {
	Consume(ctx context.Context) error
}

// ProducerFactory interface provides the CreateProducer method to instantiate new producers.
// CreateProducer uses a RabbitMQ connection, channel and queue details to create a new Producer.
// Returns the newly created Producer or an error.
type ProducerFactory interface {
	CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error)
}

// ConsumerFactory interface provides the CreateConsumer method to instantiate new consumers.
// CreateConsumer uses a RabbitMQ connection, channel and queue details to create a new Consumer.
// Returns the newly created Consumer or an error.
type ConsumerFactory interface {
	CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error)
}

// Queue struct holds slices of Producers and Consumers which can be used to send and consume messages.
type Queue struct {
	Name      string
	Producers []Producer
	Consumers []Consumer

	conn    *amqp.Connection
	channel *amqp.Channel
	next    uint64
	log     *log.Logger
}

// connect function establishes a connection to RabbitMQ and opens a new channel.
// The function listens for closure of connection and logs any closure error.
// Returns the RabbitMQ connection, channel, and an error if there was a problem.
func connect(url string, logger *log.Logger) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	notifyClose := make(chan *amqp.Error, 1)
	conn.NotifyClose(notifyClose)

	go func() {
		if err := <-notifyClose; err != nil {
			logger.Error("RabbitMQ connection closed", "err", err)
		}
	}()

	return conn, ch, nil
}

// InitQueue function initializes a Queue with producers and consumers.
// It first establishes a connection to the RabbitMQ instance using the provided URL.
// Upon a successful connection, it declares a durable queue using the provided queue name
// and limits unacknowledged deliveries to one per consumer.
// After declaring the queue, it uses the provided producer and consumer factories to create producers and consumers for the queue.
func InitQueue(url string, queueName string, prodFactories []ProducerFactory, consFactories []ConsumerFactory, logger *log.Logger) (*Queue, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	conn, ch, err := connect(url, logger)
	if err != nil {
		return nil, fmt.Errorf("error connecting to RabbitMQ: %v", err)
	}

	q := &Queue{Name: queueName, conn: conn, channel: ch, log: logger}

	queue, err := ch.QueueDeclare(
		queueName,
		true,  // Durable
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("error declaring queue: %v", err)
	}

	if len(consFactories) > 0 {
		if err := ch.Qos(len(consFactories), 0, false); err != nil {
			q.Close()
			return nil, fmt.Errorf("error setting prefetch: %v", err)
		}
	}

	for _, prodFactory := range prodFactories {
		producer, err := prodFactory.CreateProducer(conn, ch, &queue)
		if err != nil {
			q.Close()
			return nil, fmt.Errorf("error creating producer: %v", err)
		}
		q.Producers = append(q.Producers, producer)
	}

	for _, consFactory := range consFactories {
		consumer, err := consFactory.CreateConsumer(conn, ch, &queue)
		if err != nil {
			q.Close()
			return nil, fmt.Errorf("error creating consumer: %v", err)
		}
		q.Consumers = append(q.Consumers, consumer)
	}

	return q, nil
}

// Publish sends body through the queue's producers in round-robin order.
func (q *Queue) Publish(ctx context.Context, body []byte) error {
	producerCount := len(q.Producers)
	if producerCount == 0 {
		return errors.New("no producers available")
	}
	n := atomic.AddUint64(&q.next, 1) - 1
	return q.Producers[n%uint64(producerCount)].Publish(ctx, body)
}

// StartConsumers is a method on the Queue struct that starts all consumers in the queue.
// Each consumer is started in its own goroutine, allowing them to process messages independently and concurrently.
// Cancelling ctx stops the consumers; the returned WaitGroup is done once all of them have returned.
func (q *Queue) StartConsumers(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup

	for _, consumer := range q.Consumers {
		wg.Add(1)

		go func(c Consumer) {
			defer wg.Done()

			if err := c.Consume(ctx); err != nil {
				q.log.Error("consumer stopped", "queue", q.Name, "err", err)
			}
		}(consumer)
	}

	return &wg
}

// Close closes the channel and the connection.
func (q *Queue) Close() error {
	var errs []error
	if q.channel != nil {
		errs = append(errs, q.channel.Close())
	}
	if q.conn != nil {
		errs = append(errs, q.conn.Close())
	}
	return errors.Join(errs...)
}
