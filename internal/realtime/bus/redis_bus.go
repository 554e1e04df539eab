package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/flowmium/flowmium/internal/pkg/logger"
	"github.com/flowmium/flowmium/internal/realtime/events"
)

// redisRelay fans scheduler events out to other orchestrator/API-server
// replicas over a Redis pub/sub channel, adapted from the teacher's
// internal/realtime/bus.redisBus (same REDIS_ADDR/REDIS_CHANNEL env
// convention, same ping-on-construct and Subscribe+Channel forwarding
// loop) to carry events.Event instead of realtime.SSEMessage.
type redisRelay struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewRedisRelay(log *logger.Logger) (Relay, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_CHANNEL"))
	if ch == "" {
		ch = "flowmium-events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisRelay{
		log:     log.With("service", "RedisEventRelay"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (r *redisRelay) Publish(ctx context.Context, evt events.Event) error {
	if r == nil || r.rdb == nil {
		return fmt.Errorf("redis event relay not initialized")
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, raw).Err()
}

func (r *redisRelay) StartForwarder(ctx context.Context, onEvent func(events.Event)) error {
	if r == nil || r.rdb == nil {
		return fmt.Errorf("redis event relay not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var evt events.Event
				if err := json.Unmarshal([]byte(m.Payload), &evt); err != nil {
					r.log.Warn("bad redis event payload", "error", err)
					continue
				}
				onEvent(evt)
			}
		}
	}()

	return nil
}

func (r *redisRelay) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
