package repository

import (
	"context"

	"patient-call-service/internal/domain/entity"
)

// PatientStore is the in-memory record store the call state machine owns
type PatientStore interface {
	Get(ctx context.Context, id string) (entity.Patient, error)
	Upsert(ctx context.Context, patient entity.Patient) error
	ListByStatus(ctx context.Context, status entity.Status) ([]entity.Patient, error)
	List(ctx context.Context) ([]entity.Patient, error)
	Remove(ctx context.Context, id string) error
}
