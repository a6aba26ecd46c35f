package repository

import (
	"context"

	"patient-call-service/internal/domain/entity"
)

// AudioStorage defines the object storage used as the announcement audio cache
type AudioStorage interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// GetPublicURL returns false when nothing is stored under key
	GetPublicURL(ctx context.Context, key string) (string, bool, error)
	List(ctx context.Context, prefix string) ([]entity.AudioEntry, error)
	Delete(ctx context.Context, keys []string) error
}
