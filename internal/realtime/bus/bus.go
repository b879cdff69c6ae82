package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/storygraph-backend/internal/platform/envutil"
	"github.com/yungbote/storygraph-backend/internal/platform/logger"
	"github.com/yungbote/storygraph-backend/internal/realtime"
)

// Bus publishes analysis progress events. Publishing is best-effort: the
// pipeline never fails because an event could not be delivered.
type Bus interface {
	PublishAnalysisEvent(ctx context.Context, event realtime.AnalysisEvent)
	Close() error
}

type redisBus struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisBus connects to REDIS_ADDR. When the address is unset it returns
// a no-op bus, so deployments without Redis still work.
func NewRedisBus(baseLog *logger.Logger) (Bus, error) {
	log := baseLog.With("component", "RedisBus")
	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		log.Info("REDIS_ADDR not set, events disabled")
		return NopBus{}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: envutil.String("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisBus{client: client, log: log}, nil
}

func (b *redisBus) PublishAnalysisEvent(ctx context.Context, event realtime.AnalysisEvent) {
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := b.client.Publish(ctx, event.Channel(), raw).Err(); err != nil {
		b.log.Warn("event publish failed (continuing)",
			"document_id", event.DocumentID.String(),
			"stage", event.Stage,
			"error", err.Error(),
		)
	}
}

func (b *redisBus) Close() error {
	return b.client.Close()
}

// NopBus drops every event.
type NopBus struct{}

func (NopBus) PublishAnalysisEvent(context.Context, realtime.AnalysisEvent) {}

func (NopBus) Close() error { return nil }
