package repository

import (
	"context"

	"patient-call-service/internal/domain/entity"
)

// PhraseTemplateRepository looks up the announcement template of a stage.
// An empty template with a nil error means none is configured.
type PhraseTemplateRepository interface {
	GetTemplate(ctx context.Context, stage entity.Stage) (string, error)
}
