package broadcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Status is the broadcast flag shared by the running job and the cancel buttons.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
)

// StatusStore holds the single broadcast flag.
type StatusStore interface {
	Get(ctx context.Context) (Status, error)
	Set(ctx context.Context, s Status) error
	// TryStart flips idle to running and reports whether it did.
	TryStart(ctx context.Context) (bool, error)
}

const (
	defaultStatusKey = "ttt:broadcast:status"
	maxStatusTx      = 5
)

// RedisStatus stores the flag as a plain string key. A missing key reads as idle.
type RedisStatus struct {
	rdb *redis.Client
	key string
}

func NewRedisStatus(rdb *redis.Client) *RedisStatus {
	return &RedisStatus{rdb: rdb, key: defaultStatusKey}
}

func (s *RedisStatus) Get(ctx context.Context) (Status, error) {
	return s.get(ctx, s.rdb)
}

func (s *RedisStatus) get(ctx context.Context, c redis.Cmdable) (Status, error) {
	v, err := c.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return StatusIdle, nil
	}
	if err != nil {
		return "", fmt.Errorf("broadcast status: %w", err)
	}
	if Status(v) == StatusRunning {
		return StatusRunning, nil
	}
	return StatusIdle, nil
}

func (s *RedisStatus) Set(ctx context.Context, st Status) error {
	if err := s.rdb.Set(ctx, s.key, string(st), 0).Err(); err != nil {
		return fmt.Errorf("broadcast status set: %w", err)
	}
	return nil
}

func (s *RedisStatus) TryStart(ctx context.Context) (bool, error) {
	var started bool
	txf := func(tx *redis.Tx) error {
		cur, err := s.get(ctx, tx)
		if err != nil {
			return err
		}
		if cur == StatusRunning {
			started = false
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, s.key, string(StatusRunning), 0)
			return nil
		})
		started = err == nil
		return err
	}
	for i := 0; i < maxStatusTx; i++ {
		err := s.rdb.Watch(ctx, txf, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return started, err
	}
	return false, fmt.Errorf("broadcast status: too much contention")
}
