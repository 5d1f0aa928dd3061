package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qaid/whispertalk/internal/session"
)

// RedisConfig contains transcript publishing configuration.
type RedisConfig struct {
	Address       string
	Password      string
	DB            int
	Channel       string
	TranscriptTTL time.Duration // zero disables expiry
}

// RedisPublisher pushes finalized transcripts to Redis: a pub/sub
// notification on the configured channel for live consumers, plus a keyed
// record downstream jobs can fetch later.
type RedisPublisher struct {
	client  *redis.Client
	logger  *slog.Logger
	channel string
	ttl     time.Duration
}

// transcriptRecord is the JSON document stored and published per session.
type transcriptRecord struct {
	SessionID   string            `json:"session_id"`
	FinalizedAt time.Time         `json:"finalized_at"`
	Transcript  string            `json:"transcript"`
	Timestamped string            `json:"timestamped"`
	Segments    []session.Segment `json:"segments"`
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, logger *slog.Logger, cfg RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	logger.Info("Connected to redis",
		slog.String("address", cfg.Address),
		slog.String("channel", cfg.Channel),
	)

	return &RedisPublisher{
		client:  client,
		logger:  logger,
		channel: cfg.Channel,
		ttl:     cfg.TranscriptTTL,
	}, nil
}

// PublishTranscript implements session.Publisher. The transcript is stored
// under transcript:{session_id} and announced on the pub/sub channel.
func (p *RedisPublisher) PublishTranscript(ctx context.Context, sessionID string, store *session.Store) error {
	record := transcriptRecord{
		SessionID:   sessionID,
		FinalizedAt: time.Now().UTC(),
		Transcript:  store.Transcript(),
		Timestamped: store.TimestampedTranscript(),
		Segments:    store.Segments(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	key := "transcript:" + sessionID
	if err := p.client.Set(ctx, key, data, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store transcript: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish transcript: %w", err)
	}

	p.logger.Info("Transcript published",
		slog.String("session_id", sessionID),
		slog.Int("segments", len(record.Segments)),
		slog.Int("bytes", len(data)),
	)

	return nil
}

// GetTranscript fetches a previously stored transcript record.
func (p *RedisPublisher) GetTranscript(ctx context.Context, sessionID string) (string, error) {
	data, err := p.client.Get(ctx, "transcript:"+sessionID).Result()
	if err != nil {
		return "", fmt.Errorf("failed to fetch transcript: %w", err)
	}
	return data, nil
}

// Close releases the redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
