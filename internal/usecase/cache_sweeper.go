package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"patient-call-service/internal/domain/repository"
	"patient-call-service/pkg/logger"
)

// PermanentPrefix marks audio that time based cleanup never removes
const PermanentPrefix = "permanent/"

// CacheSweeper deletes cached audio older than the TTL
type CacheSweeper struct {
	storage repository.AudioStorage
	ttl     time.Duration
	logger  logger.Logger
	now     func() time.Time
}

// NewCacheSweeper creates a sweeper for storage
func NewCacheSweeper(storage repository.AudioStorage, ttl time.Duration, logger logger.Logger) *CacheSweeper {
	return &CacheSweeper{
		storage: storage,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// Sweep removes expired entries and returns how many were deleted
func (s *CacheSweeper) Sweep(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}

	entries, err := s.storage.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list audio cache: %w", err)
	}

	cutoff := s.now().Add(-s.ttl)
	var expired []string
	for _, e := range entries {
		if strings.HasPrefix(e.Key, PermanentPrefix) {
			continue
		}
		if e.UpdatedAt.Before(cutoff) {
			expired = append(expired, e.Key)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if err := s.storage.Delete(ctx, expired); err != nil {
		return 0, fmt.Errorf("failed to delete %d expired audio entries: %w", len(expired), err)
	}

	s.logger.Info("Audio cache swept", "deleted", len(expired), "scanned", len(entries))
	return len(expired), nil
}
