package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/chorus-backend/internal/platform/envutil"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

const defaultStopChannel = "chat-stop"

// redisBus relays stop signals between instances over a pub/sub channel.
type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
	now     func() time.Time
}

// NewRedisBus connects to REDIS_ADDR and publishes on REDIS_STOP_CHANNEL.
func NewRedisBus(log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.String("REDIS_PASSWORD", ""),
		DB:          envutil.Int("REDIS_DB", 0),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisBusWithClient(log, rdb, envutil.String("REDIS_STOP_CHANNEL", defaultStopChannel)), nil
}

func NewRedisBusWithClient(log *logger.Logger, rdb *goredis.Client, channel string) Bus {
	if channel == "" {
		channel = defaultStopChannel
	}
	return &redisBus{
		log:     log.With("service", "RedisStopBus", "channel", channel),
		rdb:     rdb,
		channel: channel,
		now:     time.Now,
	}
}

func (b *redisBus) Publish(ctx context.Context, sig StopSignal) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis stop bus not initialized")
	}
	if sig.RequestedAt.IsZero() {
		sig.RequestedAt = b.now().UTC()
	}
	raw, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode stop signal: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(sig StopSignal)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis stop bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				if sig, ok := b.decode(m); ok {
					onMsg(sig)
				}
			}
		}
	}()
	return nil
}

func (b *redisBus) decode(m *goredis.Message) (StopSignal, bool) {
	if m == nil {
		return StopSignal{}, false
	}
	var sig StopSignal
	if err := json.Unmarshal([]byte(m.Payload), &sig); err != nil {
		b.log.Warn("bad redis stop payload", "error", err)
		return StopSignal{}, false
	}
	if !sig.Actionable(b.now()) {
		b.log.Debug("stop signal dropped", "thread_id", sig.ThreadID, "requested_at", sig.RequestedAt)
		return StopSignal{}, false
	}
	return sig, true
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
