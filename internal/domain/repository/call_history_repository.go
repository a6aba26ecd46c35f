package repository

import (
	"context"
	"time"

	"patient-call-service/internal/domain/entity"
)

// CallHistoryRepository defines the append-only call ledger
type CallHistoryRepository interface {
	Append(ctx context.Context, event entity.CallEvent) error
	List(ctx context.Context) ([]entity.CallEvent, error)
	RecentByUnit(ctx context.Context, unit string, since time.Time) ([]entity.CallEvent, error)
	CountByNormalizedName(ctx context.Context, windowDays int) (map[string]entity.FrequentPatientRecord, error)
}
