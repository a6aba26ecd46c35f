package repository

import (
	"context"

	"patient-call-service/internal/domain/entity"
)

// ScheduledPhraseRepository is the read-only schedule configuration source
type ScheduledPhraseRepository interface {
	FindAll(ctx context.Context) ([]entity.ScheduledPhrase, error)
}
