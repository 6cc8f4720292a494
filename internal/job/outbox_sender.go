package job

import (
	"context"
	"fmt"
	"time"

	"earnsystem/internal/infrastructure/mq"
	"earnsystem/internal/metrics"
	"earnsystem/internal/model"
	"earnsystem/internal/repository"
	"earnsystem/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSender drains notification rows written by the services and hands
// them to the configured transport. Delivery is at least once; consumers
// dedupe on the message id.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetry   int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, interval time.Duration, maxRetry int) *OutboxSender {
	if interval <= 0 {
		interval = time.Second
	}
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  100,
		maxRetry:   maxRetry,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	logger.Info("[OutboxSender] started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[OutboxSender] context done, exiting")
			return
		case <-s.stopCh:
			logger.Info("[OutboxSender] stopped")
			return
		case <-ticker.C:
			s.SendPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// SendPending publishes one batch and returns how many were sent.
func (s *OutboxSender) SendPending(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		logger.Error("[OutboxSender] load pending messages failed", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(ctx, mq.Message{
		ID:      fmt.Sprintf("outbox-%d", msg.ID),
		Topic:   msg.Topic,
		Key:     msg.MessageKey,
		Payload: []byte(msg.Payload),
	})

	if err == nil {
		metrics.OutboxMessages.WithLabelValues("sent").Inc()
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			// sent but still PENDING: it goes out again next tick
			logger.Error("[OutboxSender] mark sent failed", zap.Int64("id", msg.ID), zap.Error(updateErr))
		} else {
			logger.Debug("[OutboxSender] message sent",
				zap.Int64("id", msg.ID), zap.String("event", msg.EventKind), zap.String("key", msg.MessageKey))
		}
		return true
	}

	metrics.OutboxMessages.WithLabelValues("failed").Inc()
	logger.Warn("[OutboxSender] send failed",
		zap.Int64("id", msg.ID), zap.Int("retry_count", msg.RetryCount), zap.Error(err))

	if err := s.outboxRepo.RecordFailure(ctx, msg.ID, err.Error(), s.maxRetry); err != nil {
		logger.Error("[OutboxSender] record failure failed", zap.Int64("id", msg.ID), zap.Error(err))
		return false
	}
	if msg.RetryCount+1 >= s.maxRetry {
		metrics.OutboxMessages.WithLabelValues("parked").Inc()
		logger.Error("[OutboxSender] retries exhausted, message parked as FAILED",
			zap.Int64("id", msg.ID), zap.String("event", msg.EventKind))
	}
	return false
}
