package idgen

import (
	"fmt"
	"sync"
	"time"
)

// Snowflake layout, 64 bits:
//
//	0 | 41 bits ms since epoch | 10 bits worker id | 12 bits sequence
//
// Business numbers (payments, withdrawals, journal entries) embed the low
// digits of an id after a timestamp prefix, so they sort by creation time and
// do not leak volume.
const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// NewSnowflake returns a generator for workerID in [0, 1023].
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("idgen: worker id must be within 0-%d, got %d", maxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init sets the process-wide generator. Only the first call has an effect.
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = NewSnowflake(workerID)
	})
	return err
}

func NextID() int64 {
	if defaultGenerator == nil {
		_ = Init(1)
	}
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// sequence exhausted within this millisecond
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

func businessNo(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s%010d", prefix, time.Now().UTC().Format("20060102150405"), id%10000000000)
}

// GeneratePaymentNo e.g. PAY202501151430520012345678
func GeneratePaymentNo() string {
	return businessNo("PAY")
}

// GenerateTransactionNo numbers ledger journal rows.
func GenerateTransactionNo() string {
	return businessNo("TXN")
}

func GenerateWithdrawalNo() string {
	return businessNo("WDR")
}

func GenerateSubscriptionNo() string {
	return businessNo("SUB")
}
