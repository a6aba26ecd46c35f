package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"
	"patient-call-service/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// RedisChangeFeed carries patient change notifications over Redis pub/sub
type RedisChangeFeed struct {
	client  *redis.Client
	channel string
	logger  logger.Logger
}

// NewRedisChangeFeed creates a change feed on the given channel
func NewRedisChangeFeed(client *redis.Client, channel string, logger logger.Logger) repository.ChangeFeed {
	return &RedisChangeFeed{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

// Publish announces that a patient record changed
func (f *RedisChangeFeed) Publish(ctx context.Context, notification entity.ChangeNotification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal change notification: %w", err)
	}
	return f.client.Publish(ctx, f.channel, payload).Err()
}

// Subscribe streams notifications until ctx is cancelled.
// Malformed messages are logged and skipped.
func (f *RedisChangeFeed) Subscribe(ctx context.Context) (<-chan entity.ChangeNotification, error) {
	pubsub := f.client.Subscribe(ctx, f.channel)

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", f.channel, err)
	}

	out := make(chan entity.ChangeNotification)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var n entity.ChangeNotification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil || n.PatientID == "" {
					f.logger.Warn("Skipping malformed change notification", "payload", msg.Payload, "error", err)
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
