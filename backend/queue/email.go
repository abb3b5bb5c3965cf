package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jghoshh/fitquest/backend/server/notifications/email"
	cache "github.com/jghoshh/fitquest/backend/storage/cache"
)

// EmailQueueName is the RabbitMQ queue carrying verification emails.
const EmailQueueName = "emailQueue"

// sentTTL is how long a delivered message id is remembered for de-duplication.
const sentTTL = 24 * time.Hour

// EmailMessage is a struct for the content of email messages
type EmailMessage struct {
	ID   string `json:"id"`   // the id of the message
	Code string `json:"code"` // the verification code
	To   string `json:"to"`   // the recipient of the message
}

// EmailHandler sends verification emails, skipping ids it has already sent.
type EmailHandler struct {
	Sender email.Sender
	Cache  cache.CacheInterface
	Logger *log.Logger
}

func sentKey(id string) string { return "email_" + id }

// Handle checks the processed state of the message in the cache, then either
// sends it or acknowledges it as a duplicate. Transient failures are requeued.
func (h *EmailHandler) Handle(ctx context.Context, body []byte) Outcome {
	message := &EmailMessage{}
	if err := json.Unmarshal(body, message); err != nil || message.ID == "" || message.To == "" {
		h.Logger.Error("dropping malformed email message", "err", err)
		return Drop
	}

	_, err := h.Cache.Get(ctx, sentKey(message.ID))
	switch {
	case err == nil:
		return Ack
	case !errors.Is(err, cache.ErrKeyNotFound):
		h.Logger.Warn("error checking cache", "id", message.ID, "err", err)
		return Requeue
	}

	if err := h.Sender.Send(ctx, email.VerificationEmail(message.To, message.Code)); err != nil {
		h.Logger.Warn("failed to send email", "id", message.ID, "err", err)
		return Requeue
	}

	if err := h.Cache.Set(ctx, sentKey(message.ID), true, sentTTL); err != nil {
		h.Logger.Warn("failed to set key in cache", "id", message.ID, "err", err)
	}
	return Ack
}

// EmailQueue publishes verification emails to RabbitMQ.
type EmailQueue struct {
	queue *Queue
}

// BuildEmailQueue is a function that initializes a new Queue for handling email messages.
// It accepts five arguments:
// - rabbitMQURL: A string containing the URL of the RabbitMQ server.
// - numConsumers: An integer indicating the number of consumers to create.
// - sender: delivers each consumed message.
// - emailCache: A CacheInterface instance used to remember sent message ids.
// - logger: Receives consumer errors.
func BuildEmailQueue(rabbitMQURL string, numConsumers int, sender email.Sender, emailCache cache.CacheInterface, logger *log.Logger) (*EmailQueue, *Queue, error) {
	handler := &EmailHandler{Sender: sender, Cache: emailCache, Logger: logger}

	consFactories := make([]ConsumerFactory, numConsumers)
	for i := range consFactories {
		consFactories[i] = &HandlerConsumerFactory{Handler: handler, Logger: logger}
	}

	q, err := InitQueue(rabbitMQURL, EmailQueueName, []ProducerFactory{&ChannelProducerFactory{}}, consFactories, logger)
	if err != nil {
		return nil, nil, err
	}
	return &EmailQueue{queue: q}, q, nil
}

// SendVerification serializes a new EmailMessage and publishes it.
func (e *EmailQueue) SendVerification(ctx context.Context, to, code string) error {
	body, err := json.Marshal(&EmailMessage{ID: uuid.NewString(), Code: code, To: to})
	if err != nil {
		return fmt.Errorf("failed to marshal email message: %w", err)
	}
	if err := e.queue.Publish(ctx, body); err != nil {
		return fmt.Errorf("failed to publish email message: %w", err)
	}
	return nil
}

// InProcessEmailQueue runs the EmailHandler on goroutines instead of RabbitMQ.
// Requeued messages are retried a few times with a short pause.
type InProcessEmailQueue struct {
	handler  *EmailHandler
	attempts int
	backoff  time.Duration
	wg       sync.WaitGroup
}

// NewInProcessEmailQueue creates an InProcessEmailQueue around the handler.
func NewInProcessEmailQueue(handler *EmailHandler) *InProcessEmailQueue {
	return &InProcessEmailQueue{handler: handler, attempts: 3, backoff: 2 * time.Second}
}

func (e *InProcessEmailQueue) SendVerification(ctx context.Context, to, code string) error {
	body, err := json.Marshal(&EmailMessage{ID: uuid.NewString(), Code: code, To: to})
	if err != nil {
		return fmt.Errorf("failed to marshal email message: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for attempt := 1; attempt <= e.attempts; attempt++ {
			if e.handler.Handle(context.Background(), body) != Requeue {
				return
			}
			time.Sleep(e.backoff)
		}
		e.handler.Logger.Error("giving up on email", "to", to)
	}()
	return nil
}

// Wait blocks until every pending email has been handled.
func (e *InProcessEmailQueue) Wait() {
	e.wg.Wait()
}
