package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/dvbsched/internal/metrics"
)

const redisTransport = "redis"

// RedisConfig holds the fan-out target.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Channel is the pub/sub channel events are published on.
	Channel string
}

// RedisPublisher mirrors events onto a Redis pub/sub channel so other
// processes (dashboards, home automation) can follow the schedule.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "dvbsched:events"
	}
	logger.Info().Str("addr", cfg.Addr).Str("channel", channel).Msg("publishing schedule events to Redis")
	return &RedisPublisher{client: client, channel: channel, logger: logger}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		metrics.IncBusDrop(redisTransport, "encode")
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		metrics.IncBusDrop(redisTransport, "publish")
		p.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("redis publish failed")
		return fmt.Errorf("redis publish: %w", err)
	}
	metrics.IncBusPublished(redisTransport)
	return nil
}

// Close releases the connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
