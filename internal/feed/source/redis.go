package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "grievd/pkg/logx"
)

type RedisConfig struct {
	URL      string
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Count    int64
}

// RedisStream consumes a Redis stream through a consumer group. Each entry
// carries the raw change JSON in its "payload" field.
type RedisStream struct {
	cfg    RedisConfig
	client redis.UniversalClient
	ing    Ingester
	log    logx.Logger
}

func NewRedisStream(cfg RedisConfig, ing Ingester, log logx.Logger) (*RedisStream, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.Stream) == "" {
		return nil, errors.New("redis source: url and stream are required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.Group == "" {
		cfg.Group = "grievd"
	}
	if cfg.Consumer == "" {
		host, _ := os.Hostname()
		cfg.Consumer = "grievd-" + host
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 64
	}
	return newRedisStream(cfg, redis.NewClient(opts), ing, log), nil
}

func newRedisStream(cfg RedisConfig, client redis.UniversalClient, ing Ingester, log logx.Logger) *RedisStream {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RedisStream{
		cfg:    cfg,
		client: client,
		ing:    ing,
		log:    log.With(logx.String("comp", "feed.redis"), logx.String("stream", cfg.Stream)),
	}
}

func (r *RedisStream) Name() string { return "feed.redis" }

func (r *RedisStream) Close() error { return r.client.Close() }

func (r *RedisStream) Run(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.cfg.Stream, r.cfg.Group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	r.log.Info("redis feed consumer started", logx.String("group", r.cfg.Group), logx.String("consumer", r.cfg.Consumer))

	// Drain our own pending entries first (crash recovery), then new ones.
	cursor := "0"
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			Streams:  []string{r.cfg.Stream, cursor},
			Count:    r.cfg.Count,
			Block:    r.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("xreadgroup: %w", err)
		}

		got := 0
		for _, s := range streams {
			for _, msg := range s.Messages {
				got++
				payload, ok := messagePayload(msg)
				if !ok {
					r.log.Warn("stream entry without payload", logx.String("id", msg.ID))
					r.ack(ctx, msg.ID)
					continue
				}
				if !handle(ctx, r.ing, r.log, payload) {
					// Left pending; redelivered from cursor 0 after restart.
					return fmt.Errorf("ingest entry %s failed", msg.ID)
				}
				r.ack(ctx, msg.ID)
			}
		}
		if cursor == "0" && got == 0 {
			cursor = ">"
		}
	}
}

func (r *RedisStream) ack(ctx context.Context, id string) {
	if err := r.client.XAck(ctx, r.cfg.Stream, r.cfg.Group, id).Err(); err != nil {
		r.log.Warn("xack failed", logx.String("id", id), logx.Err(err))
	}
}

func messagePayload(msg redis.XMessage) ([]byte, bool) {
	switch v := msg.Values["payload"].(type) {
	case string:
		return []byte(v), v != ""
	case []byte:
		return v, len(v) > 0
	}
	return nil, false
}
