package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrLockFailed = errors.New("lock: could not acquire")
	ErrNotHeld    = errors.New("lock: not held by this owner")
)

// unlockScript deletes the key only if it still holds our value, so an owner
// whose lock expired cannot release the next owner's lock.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// DistributedLock is a SET NX PX lock on one redis key.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

func (l *DistributedLock) Key() string {
	return l.key
}

// TryLock makes one attempt and reports whether the lock was taken.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval, at most maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// NewSettlementLock guards one settlement day across hosts. The TTL must
// outlast the longest expected run.
func NewSettlementLock(client *redis.Client, day time.Time, owner string, ttl time.Duration) *DistributedLock {
	key := fmt.Sprintf("settlement:lock:%s", day.Format("2006-01-02"))
	return NewDistributedLock(client, key, owner, ttl)
}

// NewWithdrawalLock serializes withdrawal requests of one user.
func NewWithdrawalLock(client *redis.Client, userID int64, requestID string) *DistributedLock {
	key := fmt.Sprintf("withdrawal:lock:user:%d", userID)
	return NewDistributedLock(client, key, requestID, 30*time.Second)
}
