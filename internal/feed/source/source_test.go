package source

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"

	"grievd/internal/domain"
	logx "grievd/pkg/logx"
)

type fakeIngester struct {
	err   error
	calls int
}

func (f *fakeIngester) Ingest(ctx context.Context, payload []byte) (domain.ChangeEvent, error) {
	f.calls++
	return domain.ChangeEvent{}, f.err
}

func TestHandleAcksValidationFailures(t *testing.T) {
	t.Parallel()
	ing := &fakeIngester{err: domain.ErrValidation}
	if !handle(context.Background(), ing, logx.Nop(), []byte("{}")) {
		t.Fatal("malformed payload should be acknowledged")
	}

	ing.err = errors.New("hub unavailable")
	if handle(context.Background(), ing, logx.Nop(), []byte("{}")) {
		t.Fatal("transient ingest failure must not be acknowledged")
	}

	ing.err = nil
	if !handle(context.Background(), ing, logx.Nop(), []byte("{}")) {
		t.Fatal("successful ingest should be acknowledged")
	}
	if ing.calls != 3 {
		t.Fatalf("calls = %d, want 3", ing.calls)
	}
}

func TestMessagePayload(t *testing.T) {
	t.Parallel()
	if p, ok := messagePayload(redis.XMessage{Values: map[string]interface{}{"payload": `{"a":1}`}}); !ok || string(p) != `{"a":1}` {
		t.Fatalf("string payload = %q, %v", p, ok)
	}
	if _, ok := messagePayload(redis.XMessage{Values: map[string]interface{}{"other": "x"}}); ok {
		t.Fatal("missing payload reported present")
	}
	if _, ok := messagePayload(redis.XMessage{Values: map[string]interface{}{"payload": ""}}); ok {
		t.Fatal("empty payload reported present")
	}
}

func TestNewRedisStreamValidatesConfig(t *testing.T) {
	t.Parallel()
	if _, err := NewRedisStream(RedisConfig{}, &fakeIngester{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty config")
	}
	if _, err := NewRedisStream(RedisConfig{URL: "://bad", Stream: "changes"}, &fakeIngester{}, logx.Nop()); err == nil {
		t.Fatal("expected error for bad url")
	}
}

func TestNewKafkaValidatesConfig(t *testing.T) {
	t.Parallel()
	if _, err := NewKafka(KafkaConfig{Topic: "changes"}, &fakeIngester{}, logx.Nop()); err == nil {
		t.Fatal("expected error without brokers")
	}
}
