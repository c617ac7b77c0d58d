package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	logx "grievd/pkg/logx"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Group   string
}

// Kafka consumes raw changes from a topic. Records are keyed by entity id
// upstream, so per-entity order follows partition order.
type Kafka struct {
	cfg    KafkaConfig
	client *kgo.Client
	ing    Ingester
	log    logx.Logger
}

func NewKafka(cfg KafkaConfig, ing Ingester, log logx.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka source: brokers and topic are required")
	}
	if cfg.Group == "" {
		cfg.Group = "grievd"
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.AutoCommitMarks(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Kafka{
		cfg:    cfg,
		client: cl,
		ing:    ing,
		log:    log.With(logx.String("comp", "feed.kafka"), logx.String("topic", cfg.Topic)),
	}, nil
}

func (k *Kafka) Name() string { return "feed.kafka" }

func (k *Kafka) Close() error {
	k.client.Close()
	return nil
}

func (k *Kafka) Run(ctx context.Context) error {
	k.log.Info("kafka feed consumer started", logx.String("group", k.cfg.Group))
	for {
		fetches := k.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var fetchErr error
		fetches.EachError(func(topic string, partition int32, err error) {
			if fetchErr == nil && !errors.Is(err, context.Canceled) {
				fetchErr = fmt.Errorf("fetch %s[%d]: %w", topic, partition, err)
			}
		})
		if fetchErr != nil {
			return fetchErr
		}

		var failed error
		fetches.EachRecord(func(rec *kgo.Record) {
			if failed != nil {
				return
			}
			if !handle(ctx, k.ing, k.log, rec.Value) {
				failed = fmt.Errorf("ingest offset %d failed", rec.Offset)
				return
			}
			k.client.MarkCommitRecords(rec)
		})
		if err := k.client.CommitMarkedOffsets(ctx); err != nil && ctx.Err() == nil {
			k.log.Warn("offset commit failed", logx.Err(err))
		}
		if failed != nil {
			return failed
		}
	}
}
