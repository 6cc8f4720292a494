package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"earnsystem/internal/infrastructure/lock"
	"earnsystem/internal/model"
	"earnsystem/internal/service"
	"earnsystem/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrSettlementInProgress means another instance holds the day's lock.
var ErrSettlementInProgress = errors.New("settlement already running for this day")

// SettlementJob schedules the daily settlement and keeps it to one
// instance per day across the fleet.
type SettlementJob struct {
	cron    *cron.Cron
	redis   *redis.Client
	engine  *service.SettlementEngine
	spec    string
	loc     *time.Location
	lockTTL time.Duration
	now     func() time.Time
}

func NewSettlementJob(engine *service.SettlementEngine, rdb *redis.Client, spec string, loc *time.Location, lockTTL time.Duration) *SettlementJob {
	if loc == nil {
		loc = time.UTC
	}
	if lockTTL <= 0 {
		lockTTL = 6 * time.Hour
	}
	return &SettlementJob{
		cron:    cron.New(cron.WithLocation(loc)),
		redis:   rdb,
		engine:  engine,
		spec:    spec,
		loc:     loc,
		lockTTL: lockTTL,
		now:     time.Now,
	}
}

func (j *SettlementJob) Start() error {
	if _, err := j.cron.AddFunc(j.spec, j.tick); err != nil {
		return fmt.Errorf("schedule settlement %q: %w", j.spec, err)
	}
	j.cron.Start()
	logger.Info("[SettlementJob] scheduled", zap.String("cron", j.spec), zap.String("timezone", j.loc.String()))
	return nil
}

// Stop waits for a running settlement to finish.
func (j *SettlementJob) Stop() {
	<-j.cron.Stop().Done()
	logger.Info("[SettlementJob] stopped")
}

// Today is the settlement day in the configured timezone.
func (j *SettlementJob) Today() time.Time {
	return model.Day(j.now().In(j.loc))
}

func (j *SettlementJob) tick() {
	day := j.Today()
	if _, err := j.RunOnce(context.Background(), day); err != nil {
		if errors.Is(err, ErrSettlementInProgress) {
			logger.Info("[SettlementJob] skipped, another instance is settling", zap.String("day", day.Format(model.DateLayout)))
			return
		}
		logger.Error("[SettlementJob] settlement failed", zap.String("day", day.Format(model.DateLayout)), zap.Error(err))
	}
}

// RunOnce settles day under the per-day lock.
func (j *SettlementJob) RunOnce(ctx context.Context, day time.Time) (*service.SettlementReport, error) {
	day = model.Day(day)
	if j.redis != nil {
		dayLock := lock.NewSettlementLock(j.redis, day, uuid.NewString(), j.lockTTL)
		ok, err := dayLock.TryLock(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire settlement lock: %w", err)
		}
		if !ok {
			return nil, ErrSettlementInProgress
		}
		defer func() {
			if err := dayLock.Unlock(context.Background()); err != nil {
				logger.Warn("[SettlementJob] release lock failed", zap.String("key", dayLock.Key()), zap.Error(err))
			}
		}()
	}
	return j.engine.RunDailySettlement(ctx, day)
}
