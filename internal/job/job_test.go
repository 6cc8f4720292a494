package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"earnsystem/internal/infrastructure/lock"
	"earnsystem/internal/infrastructure/mq"
	"earnsystem/internal/ledger"
	"earnsystem/internal/model"
	"earnsystem/internal/repository"
	"earnsystem/internal/service"
	"earnsystem/internal/testutil"

	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedOutbox(t *testing.T, repo *repository.OutboxRepository, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, repo.Create(context.Background(), nil, &model.OutboxMessage{
			MessageKey:  "1",
			EventKind:   "welcome",
			RecipientID: 1,
			Topic:       "earnsystem.notification",
			Payload:     `{"kind":"welcome"}`,
			Status:      model.OutboxStatusPending,
		}))
	}
}

func TestOutboxSender_PublishesToKafka(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewOutboxRepository(db)
	seedOutbox(t, repo, 2)

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()

	sender := NewOutboxSender(db, mq.NewKafkaPublisher(producer), time.Second, 3)
	assert.Equal(t, 2, sender.SendPending(context.Background()))

	pending, err := repo.GetPendingMessages(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	require.NoError(t, producer.Close())
}

func TestOutboxSender_ParksAfterMaxRetries(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewOutboxRepository(db)
	seedOutbox(t, repo, 1)

	producer := mocks.NewSyncProducer(t, nil)
	boom := errors.New("broker unavailable")
	sender := NewOutboxSender(db, mq.NewKafkaPublisher(producer), time.Second, 2)

	producer.ExpectSendMessageAndFail(boom)
	assert.Equal(t, 0, sender.SendPending(context.Background()))
	pending, err := repo.GetPendingMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Contains(t, pending[0].LastError, "broker unavailable")

	producer.ExpectSendMessageAndFail(boom)
	assert.Equal(t, 0, sender.SendPending(context.Background()))
	failed, err := repo.GetFailedMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	// parked messages are not retried until requeued
	assert.Equal(t, 0, sender.SendPending(context.Background()))
	require.NoError(t, repo.Requeue(context.Background(), failed[0].ID))
	producer.ExpectSendMessageAndSucceed()
	assert.Equal(t, 1, sender.SendPending(context.Background()))
	require.NoError(t, producer.Close())
}

func newEngine(t *testing.T) (*service.SettlementEngine, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	l := ledger.New(db)
	cascade := service.NewCommissionCascade(db, l, nil)
	return service.NewSettlementEngine(db, l, cascade, nil, service.SettlementOptions{}), db
}

func TestSettlementJob_RunOnceHoldsDayLock(t *testing.T) {
	engine, db := newEngine(t)
	testutil.SeedAccount(t, db, 1, "0", nil)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&model.Subscription{
		SubscriptionNo:      "SUB-1",
		UserID:              1,
		Kind:                model.SubscriptionKindInvestment,
		Principal:           testutil.Dec("1000"),
		DailyRate:           testutil.Dec("0.5"),
		ExpectedDailyProfit: testutil.Dec("5"),
		Status:              model.SubscriptionStatusActive,
		StartDate:           day.AddDate(0, 0, -1),
		EndDate:             day.AddDate(0, 0, 10),
	}).Error)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	j := NewSettlementJob(engine, rdb, "5 0 * * *", time.UTC, time.Hour)
	ctx := context.Background()

	held := lock.NewSettlementLock(rdb, day, "other-host", time.Hour)
	ok, err := held.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = j.RunOnce(ctx, day)
	assert.ErrorIs(t, err, ErrSettlementInProgress)
	assert.True(t, testutil.Account(t, db, 1).Balance.IsZero())

	require.NoError(t, held.Unlock(ctx))
	report, err := j.RunOnce(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Investment.Processed)
	assert.True(t, testutil.Dec("5").Equal(testutil.Account(t, db, 1).Balance))

	// released after the run
	assert.False(t, mr.Exists("settlement:lock:2025-03-10"))
}

func TestSettlementJob_TodayUsesTimezone(t *testing.T) {
	engine, _ := newEngine(t)
	loc := time.FixedZone("UTC+8", 8*3600)
	j := NewSettlementJob(engine, nil, "5 0 * * *", loc, 0)
	j.now = func() time.Time { return time.Date(2025, 3, 9, 17, 0, 0, 0, time.UTC) }

	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), j.Today())
	require.NoError(t, j.Start())
	j.Stop()
}
