package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisPublisher sends events to a Redis pub/sub channel as JSON.
type RedisPublisher struct {
	rdb     *goredis.Client
	channel string
}

func NewRedisPublisher(addr, channel string) (*RedisPublisher, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "translation-jobs"
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

	return &RedisPublisher{rdb: rdb, channel: channel}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.rdb == nil {
		return fmt.Errorf("redis publisher not initialized")
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, raw).Err()
}

func (p *RedisPublisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
