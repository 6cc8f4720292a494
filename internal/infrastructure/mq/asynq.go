package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"earnsystem/internal/config"

	"github.com/hibiken/asynq"
)

// AsynqPublisher enqueues each message as a task whose type is the topic.
// The message id becomes the task id, so a re-sent outbox row is not
// enqueued twice while the first task is still retained.
type AsynqPublisher struct {
	client *asynq.Client
	queue  string
}

func NewAsynqPublisher(redisCfg *config.RedisConfig, queue string) *AsynqPublisher {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisCfg.Addr(),
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	return &AsynqPublisher{client: client, queue: queue}
}

func (p *AsynqPublisher) Publish(ctx context.Context, msg Message) error {
	task := asynq.NewTask(msg.Topic, msg.Payload, asynq.MaxRetry(5), asynq.Timeout(time.Minute))
	_, err := p.client.EnqueueContext(ctx, task,
		asynq.Queue(p.queue),
		asynq.TaskID(msg.ID),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.Topic, err)
	}
	return nil
}

func (p *AsynqPublisher) Close() error {
	return p.client.Close()
}
