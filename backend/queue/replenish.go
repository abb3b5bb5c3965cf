package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/jghoshh/fitquest/backend/quest"
)

// ReplenishQueueName is the RabbitMQ queue carrying replenish jobs.
const ReplenishQueueName = "replenishQueue"

// ReplenishHandler runs replenish jobs taken off the queue.
type ReplenishHandler struct {
	Replenisher *quest.Replenisher
	Logger      *log.Logger
}

// Handle decodes a quest.ReplenishJob and runs it. Malformed jobs are dropped.
// A job whose generation fails is still acknowledged: the next quest load
// notices the shortfall and schedules a fresh one.
func (h *ReplenishHandler) Handle(ctx context.Context, body []byte) Outcome {
	var job quest.ReplenishJob
	if err := json.Unmarshal(body, &job); err != nil || job.UserID == "" {
		h.Logger.Error("dropping malformed replenish job", "body", string(body), "err", err)
		return Drop
	}

	runCtx, cancel := context.WithTimeout(ctx, h.Replenisher.JobTimeout())
	defer cancel()
	h.Replenisher.Run(runCtx, job)
	return Ack
}

// ReplenishQueue is a quest.Scheduler that hands jobs to RabbitMQ consumers.
type ReplenishQueue struct {
	queue       *Queue
	replenisher *quest.Replenisher
}

// BuildReplenishQueue is a function that initializes a new Queue for replenish jobs.
// It accepts four arguments:
// - rabbitMQURL: A string containing the URL of the RabbitMQ server.
// - numConsumers: An integer indicating the number of consumers to create.
// - replenisher: Runs each consumed job and owns the per-user lock.
// - logger: Receives consumer errors.
//
// The function returns the scheduler and the underlying Queue, whose consumers the caller starts.
func BuildReplenishQueue(rabbitMQURL string, numConsumers int, replenisher *quest.Replenisher, logger *log.Logger) (*ReplenishQueue, *Queue, error) {
	handler := &ReplenishHandler{Replenisher: replenisher, Logger: logger}

	consFactories := make([]ConsumerFactory, numConsumers)
	for i := range consFactories {
		consFactories[i] = &HandlerConsumerFactory{Handler: handler, Logger: logger}
	}

	q, err := InitQueue(rabbitMQURL, ReplenishQueueName, []ProducerFactory{&ChannelProducerFactory{}}, consFactories, logger)
	if err != nil {
		return nil, nil, err
	}
	return &ReplenishQueue{queue: q, replenisher: replenisher}, q, nil
}

// ScheduleReplenish publishes the job. Exclusive jobs first take the
// per-user lock, and give it back when publishing fails.
func (r *ReplenishQueue) ScheduleReplenish(ctx context.Context, job quest.ReplenishJob) (bool, error) {
	if job.Count <= 0 {
		return false, nil
	}
	if job.Exclusive {
		ok, err := r.replenisher.TryLock(ctx, job.UserID)
		if err != nil || !ok {
			return false, err
		}
	}

	body, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal replenish job: %w", err)
	}
	if err := r.queue.Publish(ctx, body); err != nil {
		if job.Exclusive {
			r.replenisher.Unlock(ctx, job.UserID)
		}
		return false, fmt.Errorf("failed to publish replenish job: %w", err)
	}
	return true, nil
}
