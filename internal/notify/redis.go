package notify

import (
	"context"
	"fmt"
	"time"

	"green-reward/pkg"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSignal keeps the signal slot as a Redis key and publishes each raise
// on a pub/sub channel so observers in other processes wake up.
type RedisSignal struct {
	client *redis.Client
	log    pkg.Logger
	now    func() time.Time
}

func NewRedisSignal(client *redis.Client, log pkg.Logger) *RedisSignal {
	return &RedisSignal{
		client: client,
		log:    log,
		now:    time.Now,
	}
}

func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisSignal) Raise(ctx context.Context, resident string) error {
	ev := LedgerChanged{Resident: resident, RaisedAt: r.now().UTC()}
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, SignalKey(resident), ev.RaisedAt.UnixMilli(), 0)
	pipe.Publish(ctx, Channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to raise ledger signal for %s: %w", resident, err)
	}
	return nil
}

func (r *RedisSignal) Observe(ctx context.Context, fn func(LedgerChanged)) error {
	sub := r.client.Subscribe(ctx, Channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", Channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			ev, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				r.log.Warn("dropping malformed ledger signal", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			fn(ev)
		}
	}
}

func (r *RedisSignal) Close() error {
	return r.client.Close()
}
