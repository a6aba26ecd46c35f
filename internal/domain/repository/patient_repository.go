package repository

import (
	"context"

	"patient-call-service/internal/domain/entity"
)

// PatientRepository defines the durable persistence collaborator for patients
type PatientRepository interface {
	Save(ctx context.Context, patient entity.Patient) error
	FindByID(ctx context.Context, id string) (*entity.Patient, error)
	FindAll(ctx context.Context, unit string) ([]entity.Patient, error)
	Delete(ctx context.Context, id string) error
}
