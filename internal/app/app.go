// Package app wires configuration, storage and services into a runnable
// process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"earnsystem/internal/config"
	"earnsystem/internal/gateway"
	"earnsystem/internal/handler"
	"earnsystem/internal/infrastructure/cache"
	"earnsystem/internal/infrastructure/database"
	"earnsystem/internal/infrastructure/mq"
	"earnsystem/internal/job"
	"earnsystem/internal/ledger"
	"earnsystem/internal/repository"
	"earnsystem/internal/service"
	"earnsystem/pkg/idgen"
	"earnsystem/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client
	Publisher mq.Publisher

	Services   handler.Services
	Engine     *service.SettlementEngine
	Settlement *job.SettlementJob
	Poller     *job.PaymentPollJob
	Outbox     *job.OutboxSender
}

// New loads .env and the config file, connects to the database, redis and
// the notification transport, and builds every service.
func New(configPath string) (*App, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.App.Env, cfg.App.LogLevel); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if err := idgen.Init(cfg.App.WorkerID); err != nil {
		return nil, err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb, err := cache.NewRedis(&cfg.Redis)
	if err != nil {
		return nil, err
	}

	publisher, err := newPublisher(cfg)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}

	a := &App{Config: cfg, DB: db, Redis: rdb, Publisher: publisher}
	a.build()
	return a, nil
}

func newPublisher(cfg *config.Config) (mq.Publisher, error) {
	switch strings.ToLower(cfg.Notification.Transport) {
	case "kafka":
		producer, err := mq.NewKafkaProducer(&cfg.Kafka)
		if err != nil {
			return nil, err
		}
		return mq.NewKafkaPublisher(producer), nil
	case "asynq":
		return mq.NewAsynqPublisher(&cfg.Redis, cfg.Notification.AsynqQueue), nil
	case "", "none":
		return mq.LogPublisher{}, nil
	}
	return nil, fmt.Errorf("unknown notification transport %q", cfg.Notification.Transport)
}

func (a *App) build() {
	cfg := a.Config
	ctx := context.Background()

	l := ledger.New(a.DB)
	settings := service.NewDBSettings(repository.NewSettingRepository(a.DB))
	notifier := service.NewNotifier(repository.NewOutboxRepository(a.DB), cfg.Kafka.Topic.Notification)

	rates := service.LoadCommissionRates(ctx, settings, service.RatesFromConfig(cfg.Referral))
	graph := service.NewReferralGraph(a.DB, rates)
	cascade := service.NewCommissionCascade(a.DB, l, notifier)

	a.Engine = service.NewSettlementEngine(a.DB, l, cascade, notifier, service.SettlementOptions{
		Workers:             settings.GetInt(ctx, service.SettingSettlementWorkerCount, cfg.Settlement.Workers),
		BatchSize:           cfg.Settlement.BatchSize,
		CascadeLookbackDays: cfg.Settlement.CascadeLookbackDays,
	})
	a.Settlement = job.NewSettlementJob(a.Engine, a.Redis, cfg.Settlement.Cron, cfg.Settlement.Location(), cfg.Settlement.LockTTL)

	payments := service.NewPaymentService(a.DB, l, gateway.NewClient(cfg.Payment.GatewayURL, cfg.Payment.GatewayAPIKey), settings, notifier, service.PaymentOptions{
		WebhookSecret: cfg.Payment.WebhookSecret,
		CallbackURL:   cfg.Payment.CallbackURL,
		Currency:      cfg.Payment.Currency,
		MinDeposit:    decimal.NewFromFloat(cfg.Payment.MinDeposit),
		DepositExpiry: cfg.Payment.DepositExpiry,
		PollBatchSize: cfg.Payment.PollBatchSize,
	})
	a.Poller = job.NewPaymentPollJob(payments, cfg.Payment.PollInterval)
	a.Outbox = job.NewOutboxSender(a.DB, a.Publisher, cfg.Notification.SendInterval, cfg.Notification.MaxRetryCount)

	a.Services = handler.Services{
		Accounts:  service.NewAccountService(a.DB, graph, notifier),
		Purchases: service.NewPurchaseService(a.DB, l, notifier, cfg.Payment.Currency),
		Payments:  payments,
		Withdrawals: service.NewWithdrawalService(a.DB, a.Redis, l, settings, notifier, service.WithdrawalOptions{
			FeePercent:           decimal.NewFromFloat(cfg.Withdrawal.FeePercent),
			MinAmount:            decimal.NewFromFloat(cfg.Withdrawal.MinAmount),
			AutoApproveMaxAmount: decimal.NewFromFloat(cfg.Withdrawal.AutoApproveMaxAmount),
			Currency:             cfg.Payment.Currency,
		}),
		Admin: service.NewAdminService(a.DB, l, payments, a.Settlement),
	}

	logger.Info("application wired",
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("notification_transport", cfg.Notification.Transport),
		zap.String("commission_rates", fmt.Sprintf("%s/%s/%s", rates.Level1, rates.Level2, rates.Level3)),
	)
}

func (a *App) Close() {
	if err := a.Publisher.Close(); err != nil {
		logger.Warn("close publisher failed", zap.Error(err))
	}
	if err := a.Redis.Close(); err != nil {
		logger.Warn("close redis failed", zap.Error(err))
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Sync()
}
