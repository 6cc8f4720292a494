package job

import (
	"context"
	"time"

	"earnsystem/internal/service"
	"earnsystem/pkg/logger"

	"go.uber.org/zap"
)

// PaymentPollJob catches deposits whose webhook never arrived by asking
// the gateway directly.
type PaymentPollJob struct {
	payments *service.PaymentService
	stopCh   chan struct{}
	interval time.Duration
}

func NewPaymentPollJob(payments *service.PaymentService, interval time.Duration) *PaymentPollJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PaymentPollJob{
		payments: payments,
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

func (j *PaymentPollJob) Start(ctx context.Context) {
	logger.Info("[PaymentPollJob] started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[PaymentPollJob] context done, exiting")
			return
		case <-j.stopCh:
			logger.Info("[PaymentPollJob] stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *PaymentPollJob) Stop() {
	close(j.stopCh)
}

func (j *PaymentPollJob) RunOnce(ctx context.Context) service.PollResult {
	res, err := j.payments.PollOpenDeposits(ctx)
	if err != nil {
		logger.Error("[PaymentPollJob] poll failed", zap.Error(err))
		return res
	}
	if res.Checked > 0 {
		logger.Info("[PaymentPollJob] poll finished",
			zap.Int("checked", res.Checked), zap.Int("changed", res.Changed), zap.Int("errors", res.Errors))
	}
	return res
}
