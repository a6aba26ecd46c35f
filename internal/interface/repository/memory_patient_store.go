package repository

import (
	"context"
	"fmt"
	"sync"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"
)

// MemoryPatientStore keeps every patient of the unit in memory.
// Listing follows first-insertion order so queue selection is deterministic.
type MemoryPatientStore struct {
	mu       sync.RWMutex
	patients map[string]entity.Patient
	order    []string
}

// NewMemoryPatientStore creates an empty patient store
func NewMemoryPatientStore() *MemoryPatientStore {
	return &MemoryPatientStore{
		patients: map[string]entity.Patient{},
	}
}

var _ repository.PatientStore = (*MemoryPatientStore)(nil)

// Get returns a copy of the patient or entity.ErrNotFound
func (s *MemoryPatientStore) Get(_ context.Context, id string) (entity.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[id]
	if !ok {
		return entity.Patient{}, fmt.Errorf("patient %s: %w", id, entity.ErrNotFound)
	}
	return p.Clone(), nil
}

// Upsert replaces the full record, last write wins
func (s *MemoryPatientStore) Upsert(_ context.Context, patient entity.Patient) error {
	if patient.ID == "" {
		return fmt.Errorf("patient id is required")
	}
	if !patient.Status.Valid() {
		return fmt.Errorf("patient %s has unknown status %q: %w", patient.ID, patient.Status, entity.ErrInvalidTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.patients[patient.ID]; !exists {
		s.order = append(s.order, patient.ID)
	}
	s.patients[patient.ID] = patient.Clone()
	return nil
}

// ListByStatus returns the patients in the given status in insertion order
func (s *MemoryPatientStore) ListByStatus(_ context.Context, status entity.Status) ([]entity.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.Patient, 0)
	for _, id := range s.order {
		if p := s.patients[id]; p.Status == status {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

// List returns every patient in insertion order
func (s *MemoryPatientStore) List(_ context.Context) ([]entity.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.Patient, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.patients[id].Clone())
	}
	return out, nil
}

// Remove deletes a patient, unknown ids are reported as entity.ErrNotFound
func (s *MemoryPatientStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patients[id]; !ok {
		return fmt.Errorf("patient %s: %w", id, entity.ErrNotFound)
	}
	delete(s.patients, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
