// Package redis carries commit notices between processes over Redis pub/sub.
package redis

import (
	"assetcore/pkg/domain"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "assetcore:changes"

// Logger receives malformed-payload warnings.
type Logger interface {
	Warn(msg string, kv ...any)
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any) {}

// Config configures the Redis connection.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type client interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
	Close() error
}

// Bus publishes and forwards change notices.
type Bus struct {
	rdb     client
	channel string
	log     Logger
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config, log Logger) (*Bus, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newBus(rdb, cfg.Channel, log), nil
}

func newBus(rdb client, channel string, log Logger) *Bus {
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Bus{rdb: rdb, channel: channel, log: log}
}

// Channel returns the pub/sub channel name.
func (b *Bus) Channel() string {
	return b.channel
}

// Publish sends notice to every subscriber of the channel.
func (b *Bus) Publish(ctx context.Context, notice domain.ChangeNotice) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis change bus not initialized")
	}
	raw, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes to the channel and calls onNotice for each
// notice until ctx is done. It returns once the subscription is confirmed.
func (b *Bus) StartForwarder(ctx context.Context, onNotice func(domain.ChangeNotice)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis change bus not initialized")
	}
	if onNotice == nil {
		return fmt.Errorf("onNotice callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	go func() {
		defer sub.Close()
		b.forward(ctx, sub.Channel(), onNotice)
	}()
	return nil
}

func (b *Bus) forward(ctx context.Context, ch <-chan *goredis.Message, onNotice func(domain.ChangeNotice)) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok || m == nil {
				return
			}
			var notice domain.ChangeNotice
			if err := json.Unmarshal([]byte(m.Payload), &notice); err != nil {
				b.log.Warn("bad change notice payload", "channel", m.Channel, "error", err)
				continue
			}
			onNotice(notice)
		}
	}
}

// Close releases the Redis connection.
func (b *Bus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
