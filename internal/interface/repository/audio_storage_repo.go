package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"

	"github.com/go-redis/redis/v8"
)

const (
	audioKeyPrefix = "audio:"
	audioIndexKey  = "audio:index"
)

// RedisAudioStorage stores announcement audio in Redis. Every object is
// indexed in a sorted set scored by its write time so sweeps can list by age.
type RedisAudioStorage struct {
	client        *redis.Client
	publicBaseURL string
}

// NewRedisAudioStorage creates the audio object storage.
// publicBaseURL is where the HTTP layer serves stored objects.
func NewRedisAudioStorage(client *redis.Client, publicBaseURL string) repository.AudioStorage {
	return &RedisAudioStorage{
		client:        client,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Put writes the object and its index entry in one transaction
func (s *RedisAudioStorage) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, audioKeyPrefix+key, data, 0)
		pipe.ZAdd(ctx, audioIndexKey, &redis.Z{
			Score:  float64(time.Now().Unix()),
			Member: key,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store audio %s: %w", key, err)
	}
	return nil
}

// Get returns the stored bytes or entity.ErrNotFound
func (s *RedisAudioStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, audioKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("audio %s: %w", key, entity.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

// GetPublicURL returns the URL of a stored object
func (s *RedisAudioStorage) GetPublicURL(ctx context.Context, key string) (string, bool, error) {
	n, err := s.client.Exists(ctx, audioKeyPrefix+key).Result()
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		return "", false, nil
	}
	return s.publicBaseURL + "/" + key, true, nil
}

// List returns the entries whose key starts with prefix
func (s *RedisAudioStorage) List(ctx context.Context, prefix string) ([]entity.AudioEntry, error) {
	members, err := s.client.ZRangeWithScores(ctx, audioIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]entity.AudioEntry, 0, len(members))
	for _, m := range members {
		key, ok := m.Member.(string)
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		entries = append(entries, entity.AudioEntry{
			Key:       key,
			UpdatedAt: time.Unix(int64(m.Score), 0),
		})
	}
	return entries, nil
}

// Delete removes objects and their index entries
func (s *RedisAudioStorage) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	objectKeys := make([]string, len(keys))
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		objectKeys[i] = audioKeyPrefix + k
		members[i] = k
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, objectKeys...)
		pipe.ZRem(ctx, audioIndexKey, members...)
		return nil
	})
	return err
}
